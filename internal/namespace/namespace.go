// Package namespace implements NineDoor's node tree: a registry of
// per-root-prefix Providers (proc, queen, worker, log, gpu, host, policy,
// audit, updates, models, bus, lora) composed into the single tree a
// session.Session walks. Mount projection (which roots a ticket's Claims
// grant) and the role×path×mode access table are both enforced here,
// before any provider is touched.
//
// Grounded on dittofs's pkg/registry (named-backend registration, lookup
// by string key) generalized from store/cache/share registration to
// path-prefix-keyed namespace providers.
package namespace

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/policy"
)

// Provider serves one namespace root (e.g. "/queen"). Paths passed to a
// Provider's methods are relative to its own root: Describe(nil) is the
// provider's root node itself.
type Provider interface {
	// Prefix is the provider's mount point, e.g. "/queen".
	Prefix() string
	// Describe resolves path (relative to Prefix) to a QidMeta without
	// side effects. NotFound if path does not exist under this provider.
	Describe(path []string) (codec.QidMeta, error)
	// Open performs any provider-specific open bookkeeping (e.g.
	// resetting a tail cursor). Kind-vs-mode validation already happened
	// in Tree.Open before this is called.
	Open(path []string, mode codec.OpenMode) error
	Read(path []string, offset uint64, count uint32) ([]byte, error)
	Write(path []string, offset uint64, data []byte) (uint32, error)
}

// Tree composes all registered Providers into the namespace
// session.Session walks, applying mount projection and access policy.
type Tree struct {
	providers map[string]Provider
	policy    *policy.Table
}

// NewTree builds a Tree from providers, keyed by their own Prefix().
func NewTree(providers []Provider, policyTable *policy.Table) *Tree {
	t := &Tree{providers: make(map[string]Provider, len(providers)), policy: policyTable}
	for _, p := range providers {
		t.providers[p.Prefix()] = p
	}
	return t
}

// Root returns the synthetic root directory QidMeta. Mounts do not
// affect the root node itself, only which first-level names Walk exposes.
func (t *Tree) Root(mounts []string) (codec.QidMeta, error) {
	return qidFor(codec.KindDir, "/"), nil
}

// Walk resolves name from path (relative to the tree root). The first
// path segment selects a mount-projected provider; NotFound if the
// client's ticket does not mount it.
func (t *Tree) Walk(mounts, path []string, name string) (codec.QidMeta, []string, error) {
	newPath := append(append([]string{}, path...), name)

	if len(path) == 0 {
		if !mountsInclude(mounts, name) {
			return codec.QidMeta{}, nil, cerr.Newf(cerr.NotFound, "%q not in mount projection", name)
		}
		p, ok := t.providers["/"+name]
		if !ok {
			return codec.QidMeta{}, nil, cerr.Newf(cerr.NotFound, "no provider for /%s", name)
		}
		qid, err := p.Describe(nil)
		if err != nil {
			return codec.QidMeta{}, nil, err
		}
		return qid, newPath, nil
	}

	p, ok := t.providers["/"+path[0]]
	if !ok {
		return codec.QidMeta{}, nil, cerr.New(cerr.NotFound, "unknown namespace root")
	}
	qid, err := p.Describe(append(append([]string{}, path[1:]...), name))
	if err != nil {
		return codec.QidMeta{}, nil, err
	}
	return qid, newPath, nil
}

// describe resolves path to a QidMeta without mount/policy checks
// (those are applied by the caller); empty path is the tree root.
func (t *Tree) describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return qidFor(codec.KindDir, "/"), nil
	}
	p, ok := t.providers["/"+path[0]]
	if !ok {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "unknown namespace root")
	}
	return p.Describe(path[1:])
}

// Open validates mode against the node's kind and the role's policy,
// then delegates to the owning provider's Open for any side effects.
func (t *Tree) Open(role string, path []string, mode codec.OpenMode) (codec.QidMeta, error) {
	qid, err := t.describe(path)
	if err != nil {
		return codec.QidMeta{}, err
	}
	if err := kindAllowsMode(qid.Kind, mode); err != nil {
		return codec.QidMeta{}, err
	}
	if err := t.policy.Check(role, fullPath(path), mode); err != nil {
		return codec.QidMeta{}, err
	}
	if len(path) > 0 {
		p := t.providers["/"+path[0]]
		if err := p.Open(path[1:], mode); err != nil {
			return codec.QidMeta{}, err
		}
	}
	return qid, nil
}

// Read delegates to path's owning provider.
func (t *Tree) Read(role string, path []string, offset uint64, count uint32) ([]byte, error) {
	if len(path) == 0 {
		return nil, cerr.New(cerr.Invalid, "cannot read a directory")
	}
	p, ok := t.providers["/"+path[0]]
	if !ok {
		return nil, cerr.New(cerr.NotFound, "unknown namespace root")
	}
	return p.Read(path[1:], offset, count)
}

// Write delegates to path's owning provider.
func (t *Tree) Write(role string, path []string, offset uint64, data []byte) (uint32, error) {
	if len(path) == 0 {
		return 0, cerr.New(cerr.Invalid, "cannot write a directory")
	}
	p, ok := t.providers["/"+path[0]]
	if !ok {
		return 0, cerr.New(cerr.NotFound, "unknown namespace root")
	}
	return p.Write(path[1:], offset, data)
}

// Stat returns path's node metadata; deterministic size per spec.md §4.1.
func (t *Tree) Stat(role string, path []string) (codec.Stat, error) {
	qid, err := t.describe(path)
	if err != nil {
		return codec.Stat{}, err
	}
	return codec.Stat{Qid: qid}, nil
}

func mountsInclude(mounts []string, name string) bool {
	for _, m := range mounts {
		if m == name {
			return true
		}
	}
	return false
}

func kindAllowsMode(kind codec.NodeKind, mode codec.OpenMode) error {
	switch kind {
	case codec.KindDir:
		if mode != codec.ModeReadOnly && mode != codec.ModeNone {
			return cerr.New(cerr.Permission, "directories are read-only")
		}
	case codec.KindRegReadOnly:
		if mode != codec.ModeReadOnly {
			return cerr.New(cerr.Permission, "node is read-only")
		}
	case codec.KindRegAppendOnly:
		if mode != codec.ModeWriteOnlyAppend {
			return cerr.New(cerr.Permission, "node is append-only")
		}
	}
	return nil
}

func fullPath(path []string) string {
	if len(path) == 0 {
		return "/"
	}
	return "/" + strings.Join(path, "/")
}

// qidFor derives a stable Qid from a node's full path via xxhash, so
// nodes don't need a centrally allocated integer id — any provider can
// compute its children's Qids independently and deterministically.
func qidFor(kind codec.NodeKind, path string) codec.QidMeta {
	return codec.QidMeta{Qid: xxhash.Sum64String(path), Kind: kind, Version: 0}
}

// QidFor exposes qidFor to internal/providers implementations.
func QidFor(kind codec.NodeKind, path string) codec.QidMeta {
	return qidFor(kind, path)
}
