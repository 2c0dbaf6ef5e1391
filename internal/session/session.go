// Package session implements Cohesix's per-transport session and fid
// table: the thing a Secure9P connection actually talks to. A Session is
// created on Tattach and destroyed on transport close or ticket
// revocation; exactly one attach is permitted per session, matching
// spec.md §4.2.
//
// Grounded on dittofs's internal/adapter/nfs/connection.go (per-connection
// pooled buffers, fragment framing) and the flat-integer-indexed-table
// pattern spec.md §9 calls for in place of a pointer graph: fid slots are
// a preallocated slice sized from the manifest, and the tag window is a
// map capped at the manifest's per-session tag count.
package session

import (
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/clock"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/ticket"
)

// Namespace is the subset of internal/namespace a Session needs: path
// resolution and node I/O keyed by a resolved path. Defined here (not in
// internal/namespace) so this package has no import-cycle dependency on
// the namespace/provider registry.
type Namespace interface {
	// Root returns the QidMeta for "/" as seen through mounts.
	Root(mounts []string) (codec.QidMeta, error)
	// Walk resolves name from the node at path, returning the child's
	// QidMeta and its full path.
	Walk(mounts []string, path []string, name string) (codec.QidMeta, []string, error)
	// Open validates mode against the node's kind and policy for role.
	Open(role string, path []string, mode codec.OpenMode) (codec.QidMeta, error)
	Read(role string, path []string, offset uint64, count uint32) ([]byte, error)
	Write(role string, path []string, offset uint64, data []byte) (uint32, error)
	Stat(role string, path []string) (codec.Stat, error)
}

// fidSlot is one entry of a Session's preallocated fid table.
type fidSlot struct {
	inUse bool
	path  []string
	qid   codec.QidMeta
	open  bool
	mode  codec.OpenMode
}

// Session is per-connection state created by Tattach. Not safe for
// concurrent use — the pump is single-threaded and every Session is only
// ever touched from its owning NineDoor IPC source.
type Session struct {
	ID       uint64
	Role     string
	Subject  string
	Mounts   []string
	Msize    uint32
	attached bool

	ns Namespace

	fids     []fidSlot
	fidsUsed int

	tagWindow map[uint16]struct{}
	maxTags   int

	deadline clock.Deadline
}

// New allocates a Session with fid/tag capacity from maxFids/maxTags.
// Capacity is fixed for the session's lifetime — no reallocation.
func New(id uint64, ns Namespace, maxFids, maxTags int) *Session {
	return &Session{
		ID:        id,
		ns:        ns,
		fids:      make([]fidSlot, maxFids),
		tagWindow: make(map[uint16]struct{}, maxTags),
		maxTags:   maxTags,
	}
}

// Attach binds claims to this session's root mount. Exactly one attach is
// permitted; a second attach on the same session is Invalid.
func (s *Session) Attach(claims ticket.Claims, msize uint32) (codec.QidMeta, error) {
	if s.attached {
		return codec.QidMeta{}, cerr.New(cerr.Invalid, "session already attached")
	}
	qid, err := s.ns.Root(claims.Mounts)
	if err != nil {
		return codec.QidMeta{}, err
	}
	s.Role = claims.Role
	s.Subject = claims.Subject
	s.Mounts = claims.Mounts
	s.Msize = msize
	s.attached = true
	return qid, nil
}

// BeginTag reserves tag in the session's tag window, failing Invalid on
// reuse before the matching response is produced (spec.md §4.1/§4.2's
// duplicate-in-batch-tag edge case) or Busy if the window is full.
func (s *Session) BeginTag(tag uint16) error {
	if _, dup := s.tagWindow[tag]; dup {
		return cerr.New(cerr.Invalid, "tag reused before response")
	}
	if len(s.tagWindow) >= s.maxTags {
		return cerr.New(cerr.Busy, "tag window exhausted")
	}
	s.tagWindow[tag] = struct{}{}
	return nil
}

// EndTag releases tag, permitting its reuse by a future request.
func (s *Session) EndTag(tag uint16) {
	delete(s.tagWindow, tag)
}

func (s *Session) slot(fid uint32) (*fidSlot, error) {
	if int(fid) >= len(s.fids) || !s.fids[fid].inUse {
		return nil, cerr.New(cerr.Closed, "fid not open")
	}
	return &s.fids[fid], nil
}

// BindRoot binds fid to the session's attached root node.
func (s *Session) BindRoot(fid uint32, qid codec.QidMeta) error {
	if int(fid) >= len(s.fids) {
		return cerr.New(cerr.Invalid, "fid out of range")
	}
	if s.fids[fid].inUse {
		return cerr.New(cerr.Invalid, "fid already in use")
	}
	s.fids[fid].inUse = true
	s.fids[fid].path = nil
	s.fids[fid].qid = qid
	s.fidsUsed++
	return nil
}

// Walk resolves names from fid through the namespace, binding the result
// to newFid. Depth is enforced by the caller (internal/codec already caps
// Twalk.Names at MaxWalkDepth); a partial resolution returns the qids
// collected so far with no error — the caller's Rwalk length signals how
// far the walk got, matching spec.md §4.2.
func (s *Session) Walk(fid, newFid uint32, names []string) ([]codec.QidMeta, error) {
	from, err := s.slot(fid)
	if err != nil {
		return nil, err
	}

	path := append([]string{}, from.path...)
	qid := from.qid
	qids := make([]codec.QidMeta, 0, len(names))
	for _, name := range names {
		var newPath []string
		qid, newPath, err = s.ns.Walk(s.Mounts, path, name)
		if err != nil {
			break
		}
		path = newPath
		qids = append(qids, qid)
	}
	if len(qids) == 0 && len(names) > 0 {
		return nil, err
	}

	if newFid == fid {
		s.fids[fid].path = path
		s.fids[fid].qid = qid
		return qids, nil
	}

	if int(newFid) >= len(s.fids) {
		return nil, cerr.New(cerr.Invalid, "new fid out of range")
	}
	if s.fids[newFid].inUse {
		return nil, cerr.New(cerr.Invalid, "new fid already in use")
	}
	s.fids[newFid].inUse = true
	s.fids[newFid].path = path
	s.fids[newFid].qid = qid
	s.fidsUsed++
	return qids, nil
}

// Open validates and opens fid at mode.
func (s *Session) Open(fid uint32, mode codec.OpenMode) (codec.QidMeta, error) {
	f, err := s.slot(fid)
	if err != nil {
		return codec.QidMeta{}, err
	}
	qid, err := s.ns.Open(s.Role, f.path, mode)
	if err != nil {
		return codec.QidMeta{}, err
	}
	f.open = true
	f.mode = mode
	f.qid = qid
	return qid, nil
}

// Read reads up to count bytes at offset from fid, which must be open
// for a read-capable mode.
func (s *Session) Read(fid uint32, offset uint64, count uint32) ([]byte, error) {
	f, err := s.slot(fid)
	if err != nil {
		return nil, err
	}
	if !f.open {
		return nil, cerr.New(cerr.Invalid, "fid not open")
	}
	if f.mode == codec.ModeWriteOnlyAppend {
		return nil, cerr.New(cerr.Permission, "fid not open for read")
	}
	if count > s.Msize {
		count = s.Msize
	}
	return s.ns.Read(s.Role, f.path, offset, count)
}

// Write writes data at offset to fid; append-only nodes discard offset
// (spec.md §4.2).
func (s *Session) Write(fid uint32, offset uint64, data []byte) (uint32, error) {
	f, err := s.slot(fid)
	if err != nil {
		return 0, err
	}
	if !f.open || f.mode == codec.ModeReadOnly {
		return 0, cerr.New(cerr.Permission, "fid not open for write")
	}
	return s.ns.Write(s.Role, f.path, offset, data)
}

// Stat returns fid's node metadata.
func (s *Session) Stat(fid uint32) (codec.Stat, error) {
	f, err := s.slot(fid)
	if err != nil {
		return codec.Stat{}, err
	}
	return s.ns.Stat(s.Role, f.path)
}

// Clunk releases fid. A second clunk of the same fid is Closed.
func (s *Session) Clunk(fid uint32) error {
	f, err := s.slot(fid)
	if err != nil {
		return err
	}
	*f = fidSlot{}
	s.fidsUsed--
	return nil
}

// SetDeadline records the session's idle/lease deadline; owned and
// compared by the pump's timer source, not by Session itself.
func (s *Session) SetDeadline(d clock.Deadline) { s.deadline = d }

// Deadline returns the session's current deadline.
func (s *Session) Deadline() clock.Deadline { return s.deadline }

// FidsInUse reports how many of the session's preallocated fid slots are
// currently bound, for telemetry and the /proc snapshot providers.
func (s *Session) FidsInUse() int { return s.fidsUsed }
