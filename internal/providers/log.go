package providers

import (
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/namespace"
)

type logRing struct {
	buf      []byte
	capacity int
	dropped  uint64
}

func (r *logRing) append(line []byte) {
	r.buf = append(r.buf, line...)
	if over := len(r.buf) - r.capacity; over > 0 {
		r.buf = r.buf[over:]
		r.dropped++
	}
}

// Log serves the /log root: a fixed set of named, bounded ring buffers
// (one per log source — e.g. "queen.log") that internal subsystems
// append to directly and Secure9P clients read as ordinary read-only
// files. Tread offsets index into the live buffer, so a client that
// falls behind simply sees the ring's current window rather than an
// unbounded backlog.
//
// Grounded on dittofs's pkg/cache ring-buffer-backed WAL idiom, without
// the durability layer: /log is diagnostic, not authoritative state.
type Log struct {
	rings map[string]*logRing
}

// NewLog builds a Log provider with one bounded ring per name in
// capacities (name -> ring size in bytes).
func NewLog(capacities map[string]int) *Log {
	l := &Log{rings: make(map[string]*logRing, len(capacities))}
	for name, size := range capacities {
		l.rings[name] = &logRing{capacity: size}
	}
	return l
}

// Append writes line to the named ring, evicting the oldest bytes if the
// ring is full. Unknown names are dropped silently; callers register
// rings for every source at construction.
func (l *Log) Append(name string, line []byte) {
	if r, ok := l.rings[name]; ok {
		r.append(line)
	}
}

func (l *Log) Prefix() string { return "/log" }

func (l *Log) Describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return namespace.QidFor(codec.KindDir, "/log"), nil
	}
	if len(path) != 1 {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
	}
	if _, ok := l.rings[path[0]]; !ok {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such log")
	}
	return namespace.QidFor(codec.KindRegReadOnly, "/log/"+path[0]), nil
}

func (l *Log) Open(path []string, mode codec.OpenMode) error {
	return nil
}

func (l *Log) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	if len(path) != 1 {
		return nil, cerr.New(cerr.NotFound, "no such node")
	}
	r, ok := l.rings[path[0]]
	if !ok {
		return nil, cerr.New(cerr.NotFound, "no such log")
	}
	if offset >= uint64(len(r.buf)) {
		return nil, nil
	}
	end := offset + uint64(count)
	if end > uint64(len(r.buf)) {
		end = uint64(len(r.buf))
	}
	return r.buf[offset:end], nil
}

func (l *Log) Write(path []string, offset uint64, data []byte) (uint32, error) {
	return 0, cerr.New(cerr.Permission, "log is read-only over 9P")
}
