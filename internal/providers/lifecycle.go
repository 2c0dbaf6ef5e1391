package providers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cohesix/root/internal/audit"
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/clock"
	"github.com/cohesix/root/internal/lifecycle"
)

// RootLifecycle tracks the root task's own node-lifecycle state (spec.md
// §4.4's state machine and its /queen/lifecycle/ctl grammar) and backs
// the read side at /proc/lifecycle/{state,reason,since}. It is not a
// namespace.Provider itself — /queen and /proc already have one provider
// each registered against their prefix — instead its Apply method and
// State/Reason/SinceMs accessors are wired into Queen's "lifecycle/ctl"
// node and the proc GenericProvider's "lifecycle/*" FileNodes.
//
// Grounded on internal/lifecycle.Machine for the transition table itself;
// RootLifecycle adds the namespace-facing reason/since bookkeeping and
// the audit/log-line side effects spec.md §4.4 and its scenario 6 require
// on every attempted transition, denied or not.
type RootLifecycle struct {
	clk       *clock.NetworkClock
	journal   *audit.Journal
	logAppend func(line []byte)
	machine   *lifecycle.Machine
	reason    string
	since     clock.Deadline
}

// NewRootLifecycle builds a RootLifecycle starting in Booting. logAppend
// receives the exact "/log/queen.log" line spec.md's scenario 6 names
// for lifecycle denials (RootLifecycle holds no reference to the Log
// provider; the caller decides which ring the line goes to).
func NewRootLifecycle(clk *clock.NetworkClock, journal *audit.Journal, logAppend func(line []byte)) *RootLifecycle {
	return &RootLifecycle{
		clk:       clk,
		journal:   journal,
		logAppend: logAppend,
		machine:   lifecycle.New("root"),
		since:     clk.Now(),
	}
}

// lifecycleVerbs maps every /queen/lifecycle/ctl token except "reset"
// (handled separately, since it bypasses the forward-progression table)
// to the lifecycle.Machine transition it requests.
var lifecycleVerbs = map[string]lifecycle.State{
	"cordon":  lifecycle.Degraded,
	"drain":   lifecycle.Draining,
	"resume":  lifecycle.Online,
	"quiesce": lifecycle.Quiesced,
}

// Apply executes a single-token /queen/lifecycle/ctl command. Invalid
// transitions (including drain/quiesce/reset attempted with outstanding
// leases) leave the machine's state unchanged, append a denial line to
// both the audit journal and /log/queen.log, and return the error the
// caller should surface as the console/9P ERR response.
func (r *RootLifecycle) Apply(verb string) error {
	verb = strings.TrimSpace(verb)
	stateBefore := strings.ToUpper(r.machine.State().String())

	if verb == "reset" {
		if r.machine.Leases() > 0 {
			err := cerr.Newf(cerr.Busy, "%d leases still held, cannot reset", r.machine.Leases())
			r.deny("reset", stateBefore, err)
			return err
		}
		r.machine.Reset()
		r.apply("reset")
		return nil
	}

	next, ok := lifecycleVerbs[verb]
	if !ok {
		err := cerr.Newf(cerr.Invalid, "unknown lifecycle verb %q", verb)
		r.deny(verb, stateBefore, err)
		return err
	}
	// internal/lifecycle.Machine only gates Draining -> Quiesced on
	// outstanding leases; spec.md's scenario 6 requires drain itself to
	// refuse to leave Online while any lease is still held, so that gate
	// is enforced here rather than in the shared machine.
	if verb == "drain" && r.machine.Leases() > 0 {
		err := cerr.Newf(cerr.Busy, "%d leases still held, cannot drain", r.machine.Leases())
		r.deny(verb, stateBefore, err)
		return err
	}
	if err := r.machine.Transition(next); err != nil {
		r.deny(verb, stateBefore, err)
		return err
	}
	r.apply(verb)
	return nil
}

func (r *RootLifecycle) apply(verb string) {
	r.reason = verb
	r.since = r.clk.Now()
	r.journal.Append(audit.Record{Verb: "lifecycle-ctl", Detail: verb})
}

func (r *RootLifecycle) deny(verb, stateBefore string, cause error) {
	r.journal.Append(audit.Record{Verb: "lifecycle-ctl-denied", Detail: fmt.Sprintf("action=%s state=%s cause=%s", verb, stateBefore, cause)})
	if r.logAppend == nil {
		return
	}
	line := fmt.Sprintf("lifecycle denied action=%s state=%s reason=%s leases=%d\n",
		verb, stateBefore, denyReason(cause), r.machine.Leases())
	r.logAppend([]byte(line))
}

// denyReason maps a transition failure to spec.md's literal reason
// tokens: a Busy cause is always the leases==0 gate (the only source of
// Busy in lifecycle.Machine.Transition), anything else is a rejected
// edge in the transition table or an unrecognized verb.
func denyReason(cause error) string {
	if cerr.Is(cause, cerr.Busy) {
		return "outstanding-leases"
	}
	return "invalid-transition"
}

// State reports the current lifecycle state, upper-cased to match
// spec.md's console/log vocabulary ("ONLINE", "DRAINING", ...).
func (r *RootLifecycle) State() string { return strings.ToUpper(r.machine.State().String()) }

// Reason reports the verb (or "reset") that produced the current state;
// empty before the first successful transition out of Booting.
func (r *RootLifecycle) Reason() string { return r.reason }

// SinceMs reports the NetworkClock instant of the last successful
// transition, converted to whole milliseconds, formatted for
// /proc/lifecycle/since.
func (r *RootLifecycle) SinceMs() string { return strconv.FormatInt(int64(r.since)/1e6, 10) }

// AddLease and ReleaseLease track fleet-wide outstanding leases against
// the leases==0 gate drain/quiesce/reset all enforce. Wired to
// dispatcher.Dispatcher.OnLeaseChange so a GPU lease granted to any
// worker blocks the queen's own drain/quiesce/reset until released,
// matching spec.md's scenario 6 ("one active GPU lease" blocks drain).
func (r *RootLifecycle) AddLease() { r.machine.AddLease() }

func (r *RootLifecycle) ReleaseLease() { r.machine.ReleaseLease() }
