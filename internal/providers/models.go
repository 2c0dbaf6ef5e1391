package providers

import (
	"context"
	"sync"

	"github.com/cohesix/root/internal/cas"
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/namespace"
)

// Models serves /models/<sha>/{weights,schema,signature}: weights reads
// through the shared CAS store (a model's weights are just another CAS
// chunk, addressed by the same sha256 digest the /updates manifest names),
// while schema and signature are small host-populated side files the CAS
// store has no room to express as a single content-addressed blob each.
type Models struct {
	store *cas.Store

	mu   sync.RWMutex
	meta map[string]*modelMeta
}

type modelMeta struct {
	schema    []byte
	signature []byte
}

// NewModels builds a /models provider backed by store.
func NewModels(store *cas.Store) *Models {
	return &Models{store: store, meta: make(map[string]*modelMeta)}
}

// SetSchema installs sha's schema document.
func (m *Models) SetSchema(sha string, schema []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(sha).schema = schema
}

// SetSignature installs sha's signature blob.
func (m *Models) SetSignature(sha string, signature []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(sha).signature = signature
}

// entry returns (creating if needed) sha's metadata entry. Callers must
// hold mu.
func (m *Models) entry(sha string) *modelMeta {
	e, ok := m.meta[sha]
	if !ok {
		e = &modelMeta{}
		m.meta[sha] = e
	}
	return e
}

func (m *Models) Prefix() string { return "/models" }

func (m *Models) Describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return namespace.QidFor(codec.KindDir, "/models"), nil
	}
	m.mu.RLock()
	_, ok := m.meta[path[0]]
	m.mu.RUnlock()
	if !ok {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "unknown model")
	}
	if len(path) == 1 {
		return namespace.QidFor(codec.KindDir, "/models/"+path[0]), nil
	}
	if len(path) == 2 {
		switch path[1] {
		case "weights", "schema", "signature":
			return namespace.QidFor(codec.KindRegReadOnly, "/models/"+path[0]+"/"+path[1]), nil
		}
	}
	return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
}

func (m *Models) Open(path []string, mode codec.OpenMode) error { return nil }

func (m *Models) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	if len(path) != 2 {
		return nil, cerr.New(cerr.Permission, "node is not readable")
	}
	m.mu.RLock()
	e, ok := m.meta[path[0]]
	m.mu.RUnlock()
	if !ok {
		return nil, cerr.New(cerr.NotFound, "unknown model")
	}
	switch path[1] {
	case "weights":
		data, err := m.store.Get(context.Background(), path[0])
		if err != nil {
			return nil, err
		}
		return windowBytes(data, offset, count), nil
	case "schema":
		return windowBytes(e.schema, offset, count), nil
	case "signature":
		return windowBytes(e.signature, offset, count), nil
	}
	return nil, cerr.New(cerr.Permission, "node is not readable")
}

func (m *Models) Write(path []string, offset uint64, data []byte) (uint32, error) {
	return 0, cerr.New(cerr.Permission, "/models is read-only")
}
