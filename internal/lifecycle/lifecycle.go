// Package lifecycle implements Cohesix's per-node state machine: the
// ordered progression a worker or queen node moves through from boot to
// shutdown, and the guard that keeps a node from leaving DRAINING while
// it still holds leases.
//
// Grounded on dittofs's pkg/controlplane/runtime/lifecycle.Service, which
// orchestrates DittoFS's own startup/shutdown ordering (load adapters,
// serve, flush, teardown) with an explicit sequence and logging at each
// step; Cohesix generalizes that ordered-sequencing idiom from a
// singleton server lifecycle to a named state machine with one instance
// per node.
package lifecycle

import (
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/logger"
)

// State is one of a node's lifecycle stages.
type State int

const (
	Booting State = iota
	Online
	Degraded
	Draining
	Quiesced
	Offline
)

func (s State) String() string {
	switch s {
	case Booting:
		return "booting"
	case Online:
		return "online"
	case Degraded:
		return "degraded"
	case Draining:
		return "draining"
	case Quiesced:
		return "quiesced"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// transitions maps each state to the set of states it may move to
// directly. Reset (any state back to Booting) is handled separately by
// Machine.Reset rather than listed here, since it bypasses the normal
// forward progression.
var transitions = map[State][]State{
	Booting:  {Online},
	Online:   {Degraded, Draining},
	Degraded: {Online, Draining},
	Draining: {Quiesced},
	Quiesced: {Offline, Online},
	Offline:  {},
}

// Machine tracks one node's lifecycle state and the lease count gating
// its exit from Draining.
type Machine struct {
	nodeID string
	state  State
	leases int
}

// New builds a Machine starting in Booting.
func New(nodeID string) *Machine {
	return &Machine{nodeID: nodeID, state: Booting}
}

// State reports the current state.
func (m *Machine) State() State { return m.state }

// AddLease records a lease held against this node (e.g. a worker
// assignment); Draining cannot complete to Quiesced while leases > 0.
func (m *Machine) AddLease() { m.leases++ }

// ReleaseLease removes one held lease. Releasing with no leases held is
// a no-op rather than an error: lease bookkeeping is best-effort cleanup,
// not a correctness-critical count a stray extra release should panic on.
func (m *Machine) ReleaseLease() {
	if m.leases > 0 {
		m.leases--
	}
}

// Leases reports the number of leases currently held.
func (m *Machine) Leases() int { return m.leases }

// Transition moves the node to next, validating the edge is legal and,
// for the Draining -> Quiesced edge, that no leases remain.
func (m *Machine) Transition(next State) error {
	if next == m.state {
		return nil
	}
	allowed := transitions[m.state]
	ok := false
	for _, s := range allowed {
		if s == next {
			ok = true
			break
		}
	}
	if !ok {
		return cerr.Newf(cerr.Invalid, "node %s: %s -> %s is not a legal transition", m.nodeID, m.state, next)
	}
	if m.state == Draining && next == Quiesced && m.leases > 0 {
		return cerr.Newf(cerr.Busy, "node %s: %d leases still held, cannot quiesce", m.nodeID, m.leases)
	}
	logger.Info("lifecycle transition", logger.WorkerID(m.nodeID), logger.Previous(m.state.String()), logger.State(next.String()))
	m.state = next
	return nil
}

// Reset forces the node back to Booting regardless of current state,
// clearing held leases. Used for RESET control commands, which are
// expected to be rare and always legal.
func (m *Machine) Reset() {
	logger.Info("lifecycle reset", logger.WorkerID(m.nodeID), logger.Previous(m.state.String()))
	m.state = Booting
	m.leases = 0
}
