package providers

import (
	"context"
	"sync"

	"github.com/cohesix/root/internal/cas"
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/namespace"
)

// Updates serves /updates/<epoch>/{manifest.cbor,status(.cbor),chunks/<sha>}.
// manifest.cbor and status are host-populated, in-memory snapshots (there is
// no queen verb that produces an update epoch; the host operator pushes one
// out of band via SetManifest/SetStatus); chunks/<sha> writes go straight to
// the shared CAS store, which enforces the chunk-size/hash-mismatch-
// quarantine invariant on every Put.
type Updates struct {
	store *cas.Store

	mu     sync.RWMutex
	epochs map[string]*updateEpoch
}

type updateEpoch struct {
	manifest []byte
	status   []byte
}

// NewUpdates builds an /updates provider backed by store.
func NewUpdates(store *cas.Store) *Updates {
	return &Updates{store: store, epochs: make(map[string]*updateEpoch)}
}

// SetManifest installs epoch's manifest.cbor bytes, creating the epoch if
// it doesn't exist yet.
func (u *Updates) SetManifest(epoch string, cbor []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.epoch(epoch).manifest = cbor
}

// SetStatus installs epoch's status snapshot.
func (u *Updates) SetStatus(epoch string, status []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.epoch(epoch).status = status
}

// epoch returns (creating if needed) epoch's entry. Callers must hold mu.
func (u *Updates) epoch(epoch string) *updateEpoch {
	e, ok := u.epochs[epoch]
	if !ok {
		e = &updateEpoch{}
		u.epochs[epoch] = e
	}
	return e
}

func (u *Updates) Prefix() string { return "/updates" }

func (u *Updates) Describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return namespace.QidFor(codec.KindDir, "/updates"), nil
	}
	u.mu.RLock()
	_, ok := u.epochs[path[0]]
	u.mu.RUnlock()
	if !ok {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "unknown update epoch")
	}
	if len(path) == 1 {
		return namespace.QidFor(codec.KindDir, "/updates/"+path[0]), nil
	}
	if len(path) == 2 {
		switch path[1] {
		case "manifest.cbor", "status":
			return namespace.QidFor(codec.KindRegReadOnly, "/updates/"+path[0]+"/"+path[1]), nil
		case "chunks":
			return namespace.QidFor(codec.KindDir, "/updates/"+path[0]+"/chunks"), nil
		}
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
	}
	if len(path) == 3 && path[1] == "chunks" {
		return namespace.QidFor(codec.KindRegAppendOnly, "/updates/"+path[0]+"/chunks/"+path[2]), nil
	}
	return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
}

func (u *Updates) Open(path []string, mode codec.OpenMode) error { return nil }

func (u *Updates) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	if len(path) == 2 {
		u.mu.RLock()
		e, ok := u.epochs[path[0]]
		u.mu.RUnlock()
		if !ok {
			return nil, cerr.New(cerr.NotFound, "unknown update epoch")
		}
		switch path[1] {
		case "manifest.cbor":
			return windowBytes(e.manifest, offset, count), nil
		case "status":
			return windowBytes(e.status, offset, count), nil
		}
	}
	if len(path) == 3 && path[1] == "chunks" {
		data, err := u.store.Get(context.Background(), path[2])
		if err != nil {
			return nil, err
		}
		return windowBytes(data, offset, count), nil
	}
	return nil, cerr.New(cerr.Permission, "node is not readable")
}

func (u *Updates) Write(path []string, offset uint64, data []byte) (uint32, error) {
	if len(path) == 3 && path[1] == "chunks" {
		u.mu.Lock()
		u.epoch(path[0])
		u.mu.Unlock()
		if err := u.store.Put(path[2], data); err != nil {
			return 0, err
		}
		return uint32(len(data)), nil
	}
	return 0, cerr.New(cerr.Permission, "node is not writable")
}
