// Package providers implements the namespace.Provider instances that
// back each of NineDoor's namespace roots: /queen, /worker (+ /shard
// alias), /log, /gpu, the CAS-backed /updates and /models roots,
// /actions and /replay each have their own provider, and GenericProvider
// serves the snapshot-style roots built from a fixed file set (such as
// /proc, /host, /policy and /audit).
//
// Grounded on dittofs's pkg/registry Share/backend registration pattern,
// generalized from named store/cache lookup to a named file set per
// namespace root.
package providers

import (
	"strings"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/namespace"
)

// FileNode is one file-like child of a GenericProvider's root directory.
// Its key (in the map passed to NewGenericProvider) is a "/"-joined
// path relative to the provider's prefix — "boot" for a flat root,
// "lifecycle/state" for a one-level-deep node — so one provider can
// back a small nested tree (e.g. /proc/lifecycle/{state,reason,since})
// without a separate Provider per subdirectory. Any key that is a
// strict prefix of another (joined by "/") is served as an implicit
// KindDir on Describe.
type FileNode struct {
	Kind  codec.NodeKind
	Read  func(offset uint64, count uint32) ([]byte, error)
	Write func(offset uint64, data []byte) (uint32, error)
}

// GenericProvider serves a set of named FileNodes, possibly nested,
// under one prefix.
type GenericProvider struct {
	prefix string
	files  map[string]*FileNode
}

// NewGenericProvider builds a provider for prefix (e.g. "/proc") serving
// files by (possibly "/"-joined, possibly nested) name.
func NewGenericProvider(prefix string, files map[string]*FileNode) *GenericProvider {
	return &GenericProvider{prefix: prefix, files: files}
}

func (p *GenericProvider) Prefix() string { return p.prefix }

func (p *GenericProvider) Describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return namespace.QidFor(codec.KindDir, p.prefix), nil
	}
	key := strings.Join(path, "/")
	if f, ok := p.files[key]; ok {
		return namespace.QidFor(f.Kind, p.prefix+"/"+key), nil
	}
	if p.hasDescendant(key) {
		return namespace.QidFor(codec.KindDir, p.prefix+"/"+key), nil
	}
	return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
}

// hasDescendant reports whether any registered file key is a proper
// "/"-separated descendant of key, making key itself an implicit
// directory even though it has no FileNode of its own.
func (p *GenericProvider) hasDescendant(key string) bool {
	want := key + "/"
	for k := range p.files {
		if strings.HasPrefix(k, want) {
			return true
		}
	}
	return false
}

func (p *GenericProvider) Open(path []string, mode codec.OpenMode) error {
	return nil
}

func (p *GenericProvider) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	f, err := p.fileFor(path)
	if err != nil {
		return nil, err
	}
	if f.Read == nil {
		return nil, cerr.New(cerr.Permission, "node is not readable")
	}
	return f.Read(offset, count)
}

func (p *GenericProvider) Write(path []string, offset uint64, data []byte) (uint32, error) {
	f, err := p.fileFor(path)
	if err != nil {
		return 0, err
	}
	if f.Write == nil {
		return 0, cerr.New(cerr.Permission, "node is not writable")
	}
	return f.Write(offset, data)
}

func (p *GenericProvider) fileFor(path []string) (*FileNode, error) {
	if len(path) == 0 {
		return nil, cerr.New(cerr.NotFound, "no such node")
	}
	f, ok := p.files[strings.Join(path, "/")]
	if !ok {
		return nil, cerr.New(cerr.NotFound, "no such node")
	}
	return f, nil
}
