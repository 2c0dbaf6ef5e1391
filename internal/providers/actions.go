package providers

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/cohesix/root/internal/audit"
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/namespace"
)

type queuedAction struct {
	command string
	status  string
}

// Actions serves /actions/{queue,<id>/status}: a queue of control actions
// awaiting policy approval. Writing a line to queue enqueues it, assigns
// a sequential id, and audits the enqueue; <id>/status reports its
// current disposition. Approval/denial of a queued id is not itself a
// namespace operation spec.md names anywhere outside the audit record
// shape in §4.10 ("policy approvals" is one of the audited action kinds),
// so Actions stops at queuing + status — there is no queue-draining verb
// to wire until a later spec revision names one.
//
// Grounded on Queen's append-only line-buffering Write (same partial-
// line accumulation), generalized from a fixed dispatch target to a
// dynamically keyed id map, the same shape Models/Updates use for their
// runtime-discovered children.
type Actions struct {
	journal *audit.Journal

	mu      sync.Mutex
	buf     []byte
	next    uint64
	actions map[string]*queuedAction
}

// NewActions builds an empty /actions provider. journal receives one
// "action-queued" record per enqueued line.
func NewActions(journal *audit.Journal) *Actions {
	return &Actions{journal: journal, actions: make(map[string]*queuedAction)}
}

func (a *Actions) Prefix() string { return "/actions" }

func (a *Actions) Describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return namespace.QidFor(codec.KindDir, "/actions"), nil
	}
	if path[0] == "queue" && len(path) == 1 {
		return namespace.QidFor(codec.KindRegAppendOnly, "/actions/queue"), nil
	}
	if len(path) >= 1 && path[0] != "queue" {
		a.mu.Lock()
		_, ok := a.actions[path[0]]
		a.mu.Unlock()
		if !ok {
			return codec.QidMeta{}, cerr.New(cerr.NotFound, "unknown action id")
		}
		if len(path) == 1 {
			return namespace.QidFor(codec.KindDir, "/actions/"+path[0]), nil
		}
		if len(path) == 2 && path[1] == "status" {
			return namespace.QidFor(codec.KindRegReadOnly, "/actions/"+path[0]+"/status"), nil
		}
	}
	return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
}

func (a *Actions) Open(path []string, mode codec.OpenMode) error { return nil }

func (a *Actions) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	if len(path) != 2 || path[1] != "status" {
		return nil, cerr.New(cerr.Permission, "node is not readable")
	}
	a.mu.Lock()
	act, ok := a.actions[path[0]]
	a.mu.Unlock()
	if !ok {
		return nil, cerr.New(cerr.NotFound, "unknown action id")
	}
	return windowBytes([]byte(fmt.Sprintf("status=%s\n", act.status)), offset, count), nil
}

func (a *Actions) Write(path []string, offset uint64, data []byte) (uint32, error) {
	if len(path) != 1 || path[0] != "queue" {
		return 0, cerr.New(cerr.Permission, "node is not writable")
	}
	a.mu.Lock()
	a.buf = append(a.buf, data...)
	for {
		i := bytes.IndexByte(a.buf, '\n')
		if i < 0 {
			break
		}
		line := string(a.buf[:i])
		a.buf = a.buf[i+1:]
		if line == "" {
			continue
		}
		a.next++
		id := fmt.Sprintf("a%d", a.next)
		a.actions[id] = &queuedAction{command: line, status: "pending"}
		a.journal.Append(audit.Record{Verb: "action-queued", Subject: id, Detail: line})
	}
	a.mu.Unlock()
	return uint32(len(data)), nil
}
