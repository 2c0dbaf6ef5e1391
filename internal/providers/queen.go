package providers

import (
	"bytes"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/namespace"
)

// DispatchFunc handles one JSONL command line written to /queen/ctl.
// internal/dispatcher supplies the concrete implementation; Queen only
// owns the namespace-facing plumbing.
type DispatchFunc func(line []byte) error

// LifecycleFunc applies one single-token /queen/lifecycle/ctl command
// (e.g. "drain", "reset"). internal/providers.RootLifecycle supplies the
// concrete implementation.
type LifecycleFunc func(verb string) error

// Queen serves the /queen root: an append-only control file, /queen/ctl,
// whose writes are split on newlines and handed to a DispatchFunc one
// command at a time, plus an append-only /queen/lifecycle/ctl file for
// the node-lifecycle grammar (spec.md §4.4: cordon/drain/resume/quiesce/
// reset).
//
// Grounded on dittofs's pkg/controlplane/api command-router entrypoint,
// replacing its HTTP handler with a 9P append-only file as the transport.
type Queen struct {
	dispatch  DispatchFunc
	lifecycle LifecycleFunc
	buf       []byte
	lcBuf     []byte
}

// NewQueen builds a Queen provider that hands complete /queen/ctl lines
// to dispatch and complete /queen/lifecycle/ctl lines to lifecycleCtl.
func NewQueen(dispatch DispatchFunc, lifecycleCtl LifecycleFunc) *Queen {
	return &Queen{dispatch: dispatch, lifecycle: lifecycleCtl}
}

func (q *Queen) Prefix() string { return "/queen" }

func (q *Queen) Describe(path []string) (codec.QidMeta, error) {
	switch len(path) {
	case 0:
		return namespace.QidFor(codec.KindDir, "/queen"), nil
	case 1:
		switch path[0] {
		case "ctl":
			return namespace.QidFor(codec.KindRegAppendOnly, "/queen/ctl"), nil
		case "lifecycle":
			return namespace.QidFor(codec.KindDir, "/queen/lifecycle"), nil
		}
	case 2:
		if path[0] == "lifecycle" && path[1] == "ctl" {
			return namespace.QidFor(codec.KindRegAppendOnly, "/queen/lifecycle/ctl"), nil
		}
	}
	return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
}

func (q *Queen) Open(path []string, mode codec.OpenMode) error {
	return nil
}

func (q *Queen) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	return nil, cerr.New(cerr.Permission, "ctl is write-only")
}

// Write appends data to the pending-line buffer matching path and
// dispatches every complete (newline-terminated) command it contains. A
// partial trailing line is held until the next write completes it.
func (q *Queen) Write(path []string, offset uint64, data []byte) (uint32, error) {
	if len(path) == 1 && path[0] == "ctl" {
		return q.writeLines(&q.buf, data, q.dispatch)
	}
	if len(path) == 2 && path[0] == "lifecycle" && path[1] == "ctl" {
		return q.writeLines(&q.lcBuf, data, func(line []byte) error {
			return q.lifecycle(string(line))
		})
	}
	return 0, cerr.New(cerr.NotFound, "no such node")
}

func (q *Queen) writeLines(buf *[]byte, data []byte, handle func(line []byte) error) (uint32, error) {
	*buf = append(*buf, data...)
	for {
		i := bytes.IndexByte(*buf, '\n')
		if i < 0 {
			break
		}
		line := (*buf)[:i]
		*buf = (*buf)[i+1:]
		if len(line) == 0 {
			continue
		}
		if err := handle(line); err != nil {
			return 0, err
		}
	}
	return uint32(len(data)), nil
}
