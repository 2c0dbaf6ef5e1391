// Package metrics implements Cohesix's internal Prometheus registry: the
// counters and gauges backing /proc/9p/*, /proc/ingest/* and /proc/pressure/*.
// There is no HTTP scrape endpoint — per spec.md's no-in-VM-HTTP
// non-goal, the registry is rendered to the Prometheus text exposition
// format only on demand, as the content of a read-only namespace node.
//
// Grounded on the per-subsystem Metrics struct pattern used throughout
// dittofs (internal/adapter/nlm/metrics.go, internal/protocol/nfs/v4/
// state/session_metrics.go): a struct of prometheus.CounterVec/GaugeVec/
// Histogram fields built once in NewMetrics and registered against a
// caller-supplied prometheus.Registerer.
package metrics

import (
	"bytes"

	"github.com/cohesix/root/internal/cerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics tracks Secure9P operation counts and pump tick pressure.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestErrors   *prometheus.CounterVec
	BytesRead       prometheus.Counter
	BytesWritten    prometheus.Counter
	SessionsActive  prometheus.Gauge
	FidsInUse       prometheus.Gauge
	TickPressure    *prometheus.GaugeVec
	TickOverBudget  *prometheus.CounterVec
}

// New builds a Metrics instance backed by its own private registry, so
// /proc/9p and /proc/pressure snapshots are isolated from any other
// registry a future component might introduce.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ninedoor_requests_total", Help: "Total Secure9P requests by message type."},
			[]string{"msg_type"},
		),
		RequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ninedoor_request_errors_total", Help: "Total Secure9P requests resulting in Rerror, by kind."},
			[]string{"kind"},
		),
		BytesRead: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "ninedoor_bytes_read_total", Help: "Total bytes returned by Rread."},
		),
		BytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "ninedoor_bytes_written_total", Help: "Total bytes accepted by Twrite."},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "ninedoor_sessions_active", Help: "Currently attached Secure9P sessions."},
		),
		FidsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "ninedoor_fids_in_use", Help: "Currently bound fids across all sessions."},
		),
		TickPressure: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pump_tick_budget_remaining_bytes", Help: "Bytes remaining in the per-tick budget, by source."},
			[]string{"source"},
		),
		TickOverBudget: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pump_tick_over_budget_total", Help: "Ticks where a source exhausted its budget, by source."},
			[]string{"source"},
		),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestErrors, m.BytesRead, m.BytesWritten,
		m.SessionsActive, m.FidsInUse, m.TickPressure, m.TickOverBudget,
	)
	return m
}

// Snapshot renders the registry's current state in the Prometheus text
// exposition format, suitable as the body of a /proc read.
func (m *Metrics) Snapshot() ([]byte, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, f := range families {
		if err := enc.Encode(f); err != nil {
			return nil, cerr.Wrap(cerr.Invalid, err)
		}
	}
	return buf.Bytes(), nil
}
