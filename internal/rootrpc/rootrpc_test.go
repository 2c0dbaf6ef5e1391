package rootrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnThenKillRoundTrips(t *testing.T) {
	rt := NewMemoryRootTask()
	ctx := context.Background()

	require.NoError(t, rt.Spawn(ctx, "worker-1", WorkerSpec{Role: "worker-gpu"}))
	assert.True(t, rt.IsSpawned("worker-1"))

	require.NoError(t, rt.Kill(ctx, "worker-1"))
	assert.False(t, rt.IsSpawned("worker-1"))
}

func TestSpawnDuplicateIDReturnsBusy(t *testing.T) {
	rt := NewMemoryRootTask()
	ctx := context.Background()
	require.NoError(t, rt.Spawn(ctx, "worker-1", WorkerSpec{}))

	err := rt.Spawn(ctx, "worker-1", WorkerSpec{})

	assert.Error(t, err)
}

func TestKillUnknownIDReturnsNotFound(t *testing.T) {
	rt := NewMemoryRootTask()

	err := rt.Kill(context.Background(), "ghost")

	assert.Error(t, err)
}

func TestLeaseGrantThenRevokeRoundTrips(t *testing.T) {
	rt := NewMemoryRootTask()
	ctx := context.Background()

	require.NoError(t, rt.LeaseGrant(ctx, "lease-1", "gpu-0"))
	err := rt.LeaseGrant(ctx, "lease-1", "gpu-0")
	assert.Error(t, err, "duplicate grant should be rejected")

	require.NoError(t, rt.LeaseRevoke(ctx, "lease-1"))
	assert.NoError(t, rt.LeaseGrant(ctx, "lease-1", "gpu-0"))
}

func TestLeaseRevokeUnknownReturnsNotFound(t *testing.T) {
	rt := NewMemoryRootTask()

	err := rt.LeaseRevoke(context.Background(), "ghost-lease")

	assert.Error(t, err)
}
