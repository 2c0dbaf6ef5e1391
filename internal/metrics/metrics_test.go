package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotIncludesRecordedCounters(t *testing.T) {
	m := New()
	m.RequestsTotal.WithLabelValues("Tread").Inc()
	m.BytesRead.Add(128)
	m.SessionsActive.Set(3)

	data, err := m.Snapshot()

	require.NoError(t, err)
	assert.Contains(t, string(data), "ninedoor_requests_total")
	assert.Contains(t, string(data), "ninedoor_bytes_read_total")
	assert.Contains(t, string(data), "ninedoor_sessions_active")
}

func TestTickOverBudgetTracksBySource(t *testing.T) {
	m := New()
	m.TickOverBudget.WithLabelValues("virtio_rx").Inc()
	m.TickOverBudget.WithLabelValues("virtio_rx").Inc()

	data, err := m.Snapshot()

	require.NoError(t, err)
	assert.Contains(t, string(data), `source="virtio_rx"`)
}
