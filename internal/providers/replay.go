package providers

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/cohesix/root/internal/audit"
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/namespace"
)

// Replay serves /replay/{ctl,status}: writing a trace id to ctl re-runs
// that audit record's control action through the same dispatch path that
// ran it originally, provided the record is still inside the journal's
// retention window and was itself a Cohesix-issued control verb
// ("queen-ctl" or "lifecycle-ctl") rather than a denial or a read. Any
// other record, or one already evicted, is rejected with no side
// effects, matching spec.md §4.10.
//
// Grounded on Queen's append-only line-buffering Write for the ctl
// surface, and on audit.Journal.Lookup for the window bound — the
// journal's own bounded ring IS the replay window, so there is no
// separate replay-eligibility table to maintain.
type Replay struct {
	journal   *audit.Journal
	dispatch  DispatchFunc
	lifecycle LifecycleFunc

	mu     sync.Mutex
	buf    []byte
	status string
}

// replayableVerbs are the audit.Record.Verb values Replay will re-run.
// Everything else (denials, telemetry-ring-wrap, action-queued, ...) is
// refused even if found within the window.
var replayableVerbs = map[string]bool{
	"queen-ctl":     true,
	"lifecycle-ctl": true,
}

// NewReplay builds a /replay provider. dispatch re-runs a replayed
// "queen-ctl" record's Detail through the JSONL command router;
// lifecycleCtl re-runs a replayed "lifecycle-ctl" record's Detail (the
// single-token verb) through RootLifecycle.Apply.
func NewReplay(journal *audit.Journal, dispatch DispatchFunc, lifecycleCtl LifecycleFunc) *Replay {
	return &Replay{journal: journal, dispatch: dispatch, lifecycle: lifecycleCtl, status: "idle"}
}

func (r *Replay) Prefix() string { return "/replay" }

func (r *Replay) Describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return namespace.QidFor(codec.KindDir, "/replay"), nil
	}
	if len(path) == 1 {
		switch path[0] {
		case "ctl":
			return namespace.QidFor(codec.KindRegAppendOnly, "/replay/ctl"), nil
		case "status":
			return namespace.QidFor(codec.KindRegReadOnly, "/replay/status"), nil
		}
	}
	return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
}

func (r *Replay) Open(path []string, mode codec.OpenMode) error { return nil }

func (r *Replay) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	if len(path) != 1 || path[0] != "status" {
		return nil, cerr.New(cerr.Permission, "node is not readable")
	}
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()
	return windowBytes([]byte(status+"\n"), offset, count), nil
}

func (r *Replay) Write(path []string, offset uint64, data []byte) (uint32, error) {
	if len(path) != 1 || path[0] != "ctl" {
		return 0, cerr.New(cerr.Permission, "node is not writable")
	}
	r.mu.Lock()
	r.buf = append(r.buf, data...)
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(r.buf[:i]))
		r.buf = r.buf[i+1:]
		if line == "" {
			continue
		}
		if err := r.replay(line); err != nil {
			r.status = fmt.Sprintf("denied trace_id=%s cause=%s", line, err)
			r.mu.Unlock()
			return 0, err
		}
		r.status = fmt.Sprintf("replayed trace_id=%s", line)
	}
	r.mu.Unlock()
	return uint32(len(data)), nil
}

// replay re-runs the control action recorded under traceID. Write calls
// it with r.mu held; it uses only the journal and the dispatch and
// lifecycle callbacks, never r's own mutable fields.
func (r *Replay) replay(traceID string) error {
	rec, ok := r.journal.Lookup(traceID)
	if !ok {
		return cerr.Newf(cerr.NotFound, "trace %s not in retained window", traceID)
	}
	if !replayableVerbs[rec.Verb] {
		return cerr.Newf(cerr.Invalid, "trace %s is not a replayable control action", traceID)
	}
	switch rec.Verb {
	case "queen-ctl":
		return r.dispatch([]byte(rec.Detail))
	case "lifecycle-ctl":
		return r.lifecycle(rec.Detail)
	default:
		return cerr.Newf(cerr.Invalid, "trace %s is not a replayable control action", traceID)
	}
}
