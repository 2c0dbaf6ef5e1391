// Package rootrpc defines the root task's collaboration surface with
// the seL4 kernel primitives spec.md §1 names as out of scope:
// capability retype (to spawn a worker's VM/CSpace), endpoint teardown
// (to kill one), and notification-driven lease bookkeeping. Only the
// interface contract is specified here, per spec.md §6's "external
// interfaces, specified by contract only" treatment of seL4 itself.
//
// Grounded on dittofs's pkg/store/block.Store: an interface over a
// collaborator dittofs itself doesn't implement (object storage
// backends), with a small in-memory implementation
// (pkg/store/block/memory) for tests and local development standing in
// for the real thing.
package rootrpc

import (
	"context"

	"github.com/cohesix/root/internal/cerr"
)

// WorkerSpec describes the resources a spawn(role, WorkerSpec) call
// requests from the root task (spec.md §4.5).
type WorkerSpec struct {
	Role       string
	BudgetCPUs int
	BudgetMiB  int
}

// RootTask is the seL4 collaborator surface internal/dispatcher drives.
// A real implementation would perform the actual capability retype/
// endpoint teardown syscalls; that code sits outside this repo's scope
// (spec.md §1's "out of scope... with only their interface contracts
// specified").
type RootTask interface {
	// Spawn asks the root task to create a new worker VM/CSpace under
	// the given id, with the requested WorkerSpec.
	Spawn(ctx context.Context, id string, spec WorkerSpec) error
	// Kill tears down a previously spawned worker's capabilities.
	Kill(ctx context.Context, id string) error
	// LeaseGrant reserves one bridge-mediated external resource (e.g. a
	// GPU host bridge lease) under leaseID.
	LeaseGrant(ctx context.Context, leaseID string, resource string) error
	// LeaseRevoke releases a previously granted lease.
	LeaseRevoke(ctx context.Context, leaseID string) error
}

// MemoryRootTask is an in-memory RootTask standing in for the real
// seL4 collaborator in tests and local development — it tracks which
// ids/leases are live without performing any actual capability
// operations.
type MemoryRootTask struct {
	spawned map[string]WorkerSpec
	leases  map[string]string
}

// NewMemoryRootTask builds an empty MemoryRootTask.
func NewMemoryRootTask() *MemoryRootTask {
	return &MemoryRootTask{
		spawned: make(map[string]WorkerSpec),
		leases:  make(map[string]string),
	}
}

// Spawn records id as spawned with spec. Busy if id is already spawned.
func (m *MemoryRootTask) Spawn(ctx context.Context, id string, spec WorkerSpec) error {
	if _, ok := m.spawned[id]; ok {
		return cerr.Newf(cerr.Busy, "rootrpc: %q already spawned", id)
	}
	m.spawned[id] = spec
	return nil
}

// Kill removes id from the spawned set. NotFound if it was never spawned.
func (m *MemoryRootTask) Kill(ctx context.Context, id string) error {
	if _, ok := m.spawned[id]; !ok {
		return cerr.Newf(cerr.NotFound, "rootrpc: %q not spawned", id)
	}
	delete(m.spawned, id)
	return nil
}

// LeaseGrant records leaseID as holding resource. Busy if leaseID is
// already granted a (possibly different) resource.
func (m *MemoryRootTask) LeaseGrant(ctx context.Context, leaseID, resource string) error {
	if _, ok := m.leases[leaseID]; ok {
		return cerr.Newf(cerr.Busy, "rootrpc: lease %q already granted", leaseID)
	}
	m.leases[leaseID] = resource
	return nil
}

// LeaseRevoke releases leaseID. NotFound if it was never granted.
func (m *MemoryRootTask) LeaseRevoke(ctx context.Context, leaseID string) error {
	if _, ok := m.leases[leaseID]; !ok {
		return cerr.Newf(cerr.NotFound, "rootrpc: lease %q not granted", leaseID)
	}
	delete(m.leases, leaseID)
	return nil
}

// IsSpawned reports whether id is currently tracked as spawned.
func (m *MemoryRootTask) IsSpawned(id string) bool {
	_, ok := m.spawned[id]
	return ok
}
