package dispatcher

import (
	"context"
	"testing"

	"github.com/cohesix/root/internal/lifecycle"
	"github.com/cohesix/root/internal/rootrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoster struct {
	registered   []string
	unregistered []string
	failNext     bool
}

func (r *fakeRoster) Register(workerID string) error {
	if r.failNext {
		r.failNext = false
		return assert.AnError
	}
	r.registered = append(r.registered, workerID)
	return nil
}

func (r *fakeRoster) Unregister(workerID string) {
	r.unregistered = append(r.unregistered, workerID)
}

func TestDispatchSpawnRegistersAndGoesOnline(t *testing.T) {
	roster := &fakeRoster{}
	d := New(roster, nil)

	err := d.Dispatch([]byte(`{"verb":"spawn","node_id":"worker-1"}`))

	require.NoError(t, err)
	assert.Equal(t, []string{"worker-1"}, roster.registered)
	assert.Equal(t, lifecycle.Online, d.Machine("worker-1").State())
}

func TestDispatchKillDrainsAndUnregisters(t *testing.T) {
	roster := &fakeRoster{}
	d := New(roster, nil)
	require.NoError(t, d.Dispatch([]byte(`{"verb":"spawn","node_id":"worker-1"}`)))

	err := d.Dispatch([]byte(`{"verb":"kill","node_id":"worker-1"}`))

	require.NoError(t, err)
	assert.Equal(t, []string{"worker-1"}, roster.unregistered)
}

func TestDispatchUnknownVerbReturnsInvalid(t *testing.T) {
	d := New(&fakeRoster{}, nil)

	err := d.Dispatch([]byte(`{"verb":"bogus","node_id":"worker-1"}`))

	require.Error(t, err)
}

func TestDispatchMalformedJSONReturnsInvalid(t *testing.T) {
	d := New(&fakeRoster{}, nil)

	err := d.Dispatch([]byte(`not json`))

	require.Error(t, err)
}

func TestDispatchLeaseAddThenReleaseGatesDraining(t *testing.T) {
	roster := &fakeRoster{}
	d := New(roster, nil)
	require.NoError(t, d.Dispatch([]byte(`{"verb":"spawn","node_id":"worker-1"}`)))
	require.NoError(t, d.Dispatch([]byte(`{"verb":"lease_add","node_id":"worker-1","lease_id":"l1"}`)))

	require.NoError(t, d.Machine("worker-1").Transition(lifecycle.Draining))
	err := d.Machine("worker-1").Transition(lifecycle.Quiesced)
	require.Error(t, err)

	require.NoError(t, d.Dispatch([]byte(`{"verb":"lease_release","node_id":"worker-1","lease_id":"l1"}`)))
	require.NoError(t, d.Machine("worker-1").Transition(lifecycle.Quiesced))
}

func TestDispatchResetReturnsMachineToBooting(t *testing.T) {
	roster := &fakeRoster{}
	d := New(roster, nil)
	require.NoError(t, d.Dispatch([]byte(`{"verb":"spawn","node_id":"worker-1"}`)))

	err := d.Dispatch([]byte(`{"verb":"reset","node_id":"worker-1"}`))

	require.NoError(t, err)
	assert.Equal(t, lifecycle.Booting, d.Machine("worker-1").State())
}

func TestRegisterOverridesVerbHandler(t *testing.T) {
	d := New(&fakeRoster{}, nil)
	called := false
	d.Register("ping", func(cmd Command) error {
		called = true
		return nil
	})

	err := d.Dispatch([]byte(`{"verb":"ping","node_id":"worker-1"}`))

	require.NoError(t, err)
	assert.True(t, called)
}

func TestSpawnRequiresNodeID(t *testing.T) {
	d := New(&fakeRoster{}, nil)

	err := d.Dispatch([]byte(`{"verb":"spawn"}`))

	require.Error(t, err)
}

func TestSpawnCallsRootTaskBeforeRegisteringRoster(t *testing.T) {
	roster := &fakeRoster{}
	root := rootrpc.NewMemoryRootTask()
	d := New(roster, root)

	err := d.Dispatch([]byte(`{"verb":"spawn","node_id":"worker-1","resource":"worker-gpu"}`))

	require.NoError(t, err)
	assert.True(t, root.IsSpawned("worker-1"))
}

func TestKillTearsDownRootTaskSpawn(t *testing.T) {
	roster := &fakeRoster{}
	root := rootrpc.NewMemoryRootTask()
	d := New(roster, root)
	require.NoError(t, d.Dispatch([]byte(`{"verb":"spawn","node_id":"worker-1"}`)))

	err := d.Dispatch([]byte(`{"verb":"kill","node_id":"worker-1"}`))

	require.NoError(t, err)
	assert.False(t, root.IsSpawned("worker-1"))
}

func TestLeaseAddGrantsThenLeaseReleaseRevokesRootLease(t *testing.T) {
	roster := &fakeRoster{}
	root := rootrpc.NewMemoryRootTask()
	d := New(roster, root)
	require.NoError(t, d.Dispatch([]byte(`{"verb":"spawn","node_id":"worker-1"}`)))

	err := d.Dispatch([]byte(`{"verb":"lease_add","node_id":"worker-1","lease_id":"l1","resource":"gpu-0"}`))
	require.NoError(t, err)

	err = root.LeaseGrant(context.Background(), "l1", "gpu-0")
	assert.Error(t, err, "lease l1 should already be granted")

	require.NoError(t, d.Dispatch([]byte(`{"verb":"lease_release","node_id":"worker-1","lease_id":"l1"}`)))
	require.NoError(t, root.LeaseGrant(context.Background(), "l1", "gpu-0"))
}
