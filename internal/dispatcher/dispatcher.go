// Package dispatcher parses the JSONL command stream written to
// /queen/ctl and routes each command to the subsystem that owns it:
// spawn/kill to the worker roster, lease to internal/lifecycle. There are
// no built-in bind/mount handlers; further verbs are added with Register.
//
// Grounded on dittofs's internal/adapter/nfs dispatch.go (a consolidated
// dispatch entry point routing by an opcode/version key to per-operation
// handlers) and pkg/controlplane/api's JSON-bodied command handlers,
// combined here into a single verb-keyed table instead of a large
// switch, since Register can add verbs at runtime.
package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/lifecycle"
	"github.com/cohesix/root/internal/logger"
	"github.com/cohesix/root/internal/rootrpc"
)

// Command is the decoded shape of one /queen/ctl JSONL line. Verb
// selects which fields are meaningful; unused fields are left zero.
type Command struct {
	Verb       string   `json:"verb"`
	NodeID     string   `json:"node_id"`
	Mounts     []string `json:"mounts,omitempty"`
	LeaseID    string   `json:"lease_id,omitempty"`
	Resource   string   `json:"resource,omitempty"`
	BudgetCPUs int      `json:"budget_cpus,omitempty"`
	BudgetMiB  int      `json:"budget_mib,omitempty"`
}

// WorkerRoster is the subset of providers.Worker the dispatcher needs.
type WorkerRoster interface {
	Register(workerID string) error
	Unregister(workerID string)
}

// Handler processes one decoded Command.
type Handler func(cmd Command) error

// Dispatcher routes decoded commands to verb handlers and owns the
// per-node lifecycle machines spawn/kill/lease commands act on.
type Dispatcher struct {
	roster    WorkerRoster
	root      rootrpc.RootTask
	machines  map[string]*lifecycle.Machine
	handlers  map[string]Handler
	leaseHook func(delta int)
}

// New builds a Dispatcher backed by roster for worker registration and
// root for the underlying seL4 spawn/kill/lease operations. root may be
// nil in tests that only exercise roster/lifecycle bookkeeping. The
// built-in verbs (spawn, kill, lease_add, lease_release, reset) are
// registered automatically; callers add bind/mount or other
// domain-specific verbs via Register.
func New(roster WorkerRoster, root rootrpc.RootTask) *Dispatcher {
	d := &Dispatcher{
		roster:   roster,
		root:     root,
		machines: make(map[string]*lifecycle.Machine),
		handlers: make(map[string]Handler),
	}
	d.handlers["spawn"] = d.handleSpawn
	d.handlers["kill"] = d.handleKill
	d.handlers["lease_add"] = d.handleLeaseAdd
	d.handlers["lease_release"] = d.handleLeaseRelease
	d.handlers["reset"] = d.handleReset
	return d
}

// Register installs or overrides the handler for verb.
func (d *Dispatcher) Register(verb string, h Handler) {
	d.handlers[verb] = h
}

// OnLeaseChange installs fn to be called with +1 on every successful
// lease_add and -1 on every successful lease_release, so a caller (the
// root task's own /queen/lifecycle/ctl gate) can track outstanding
// leases fleet-wide without duplicating this dispatcher's bookkeeping.
func (d *Dispatcher) OnLeaseChange(fn func(delta int)) {
	d.leaseHook = fn
}

// Machine returns the lifecycle machine for nodeID, creating it in the
// Booting state on first reference.
func (d *Dispatcher) Machine(nodeID string) *lifecycle.Machine {
	m, ok := d.machines[nodeID]
	if !ok {
		m = lifecycle.New(nodeID)
		d.machines[nodeID] = m
	}
	return m
}

// Dispatch decodes one JSONL line and routes it to its verb's handler.
// This is the DispatchFunc providers.Queen calls for every complete
// line written to /queen/ctl.
func (d *Dispatcher) Dispatch(line []byte) error {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return cerr.Wrap(cerr.Invalid, err)
	}
	h, ok := d.handlers[cmd.Verb]
	if !ok {
		return cerr.Newf(cerr.Invalid, "unknown control verb %q", cmd.Verb)
	}
	if err := h(cmd); err != nil {
		logger.Warn("control command failed", logger.Operation(cmd.Verb), logger.WorkerID(cmd.NodeID), logger.Err(err))
		return err
	}
	logger.Info("control command applied", logger.Operation(cmd.Verb), logger.WorkerID(cmd.NodeID))
	return nil
}

func (d *Dispatcher) handleSpawn(cmd Command) error {
	if cmd.NodeID == "" {
		return cerr.New(cerr.Invalid, "spawn requires node_id")
	}
	if d.root != nil {
		spec := rootrpc.WorkerSpec{Role: cmd.Resource, BudgetCPUs: cmd.BudgetCPUs, BudgetMiB: cmd.BudgetMiB}
		if err := d.root.Spawn(context.Background(), cmd.NodeID, spec); err != nil {
			return err
		}
	}
	if err := d.roster.Register(cmd.NodeID); err != nil {
		return err
	}
	return d.Machine(cmd.NodeID).Transition(lifecycle.Online)
}

func (d *Dispatcher) handleKill(cmd Command) error {
	if cmd.NodeID == "" {
		return cerr.New(cerr.Invalid, "kill requires node_id")
	}
	m := d.Machine(cmd.NodeID)
	if err := m.Transition(lifecycle.Draining); err != nil {
		return err
	}
	if err := m.Transition(lifecycle.Quiesced); err != nil {
		return err
	}
	if err := m.Transition(lifecycle.Offline); err != nil {
		return err
	}
	if d.root != nil {
		if err := d.root.Kill(context.Background(), cmd.NodeID); err != nil {
			return err
		}
	}
	d.roster.Unregister(cmd.NodeID)
	delete(d.machines, cmd.NodeID)
	return nil
}

func (d *Dispatcher) handleLeaseAdd(cmd Command) error {
	if cmd.NodeID == "" {
		return cerr.New(cerr.Invalid, "lease_add requires node_id")
	}
	if d.root != nil && cmd.LeaseID != "" {
		if err := d.root.LeaseGrant(context.Background(), cmd.LeaseID, cmd.Resource); err != nil {
			return err
		}
	}
	d.Machine(cmd.NodeID).AddLease()
	if d.leaseHook != nil {
		d.leaseHook(1)
	}
	return nil
}

func (d *Dispatcher) handleLeaseRelease(cmd Command) error {
	if cmd.NodeID == "" {
		return cerr.New(cerr.Invalid, "lease_release requires node_id")
	}
	if d.root != nil && cmd.LeaseID != "" {
		if err := d.root.LeaseRevoke(context.Background(), cmd.LeaseID); err != nil {
			return err
		}
	}
	d.Machine(cmd.NodeID).ReleaseLease()
	if d.leaseHook != nil {
		d.leaseHook(-1)
	}
	return nil
}

func (d *Dispatcher) handleReset(cmd Command) error {
	if cmd.NodeID == "" {
		return cerr.New(cerr.Invalid, "reset requires node_id")
	}
	d.Machine(cmd.NodeID).Reset()
	return nil
}
