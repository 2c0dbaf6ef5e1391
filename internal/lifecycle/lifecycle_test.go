package lifecycle

import (
	"testing"

	"github.com/cohesix/root/internal/cerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootingTransitionsToOnline(t *testing.T) {
	m := New("worker-1")

	require.NoError(t, m.Transition(Online))

	assert.Equal(t, Online, m.State())
}

func TestIllegalTransitionReturnsInvalid(t *testing.T) {
	m := New("worker-1")

	err := m.Transition(Quiesced)

	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Invalid))
	assert.Equal(t, Booting, m.State())
}

func TestDrainingCannotQuiesceWithLeasesHeld(t *testing.T) {
	m := New("worker-1")
	require.NoError(t, m.Transition(Online))
	m.AddLease()
	require.NoError(t, m.Transition(Draining))

	err := m.Transition(Quiesced)

	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Busy))
	assert.Equal(t, Draining, m.State())
}

func TestDrainingQuiescesOnceLeasesReleased(t *testing.T) {
	m := New("worker-1")
	require.NoError(t, m.Transition(Online))
	m.AddLease()
	require.NoError(t, m.Transition(Draining))
	m.ReleaseLease()

	require.NoError(t, m.Transition(Quiesced))

	assert.Equal(t, Quiesced, m.State())
}

func TestQuiescedMayReturnOnline(t *testing.T) {
	m := New("worker-1")
	require.NoError(t, m.Transition(Online))
	require.NoError(t, m.Transition(Draining))
	require.NoError(t, m.Transition(Quiesced))

	require.NoError(t, m.Transition(Online))

	assert.Equal(t, Online, m.State())
}

func TestOfflineHasNoOutgoingTransitions(t *testing.T) {
	m := New("worker-1")
	require.NoError(t, m.Transition(Online))
	require.NoError(t, m.Transition(Draining))
	require.NoError(t, m.Transition(Quiesced))
	require.NoError(t, m.Transition(Offline))

	err := m.Transition(Online)

	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Invalid))
}

func TestResetReturnsToBootingAndClearsLeases(t *testing.T) {
	m := New("worker-1")
	require.NoError(t, m.Transition(Online))
	m.AddLease()

	m.Reset()

	assert.Equal(t, Booting, m.State())
	assert.Equal(t, 0, m.Leases())
}

func TestReleaseLeaseBelowZeroIsNoOp(t *testing.T) {
	m := New("worker-1")

	m.ReleaseLease()

	assert.Equal(t, 0, m.Leases())
}

func TestTransitionToSameStateIsNoOp(t *testing.T) {
	m := New("worker-1")

	require.NoError(t, m.Transition(Booting))

	assert.Equal(t, Booting, m.State())
}
