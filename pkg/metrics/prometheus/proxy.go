package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/gatefs/pkg/metrics"
	"github.com/marmos91/gatefs/pkg/proxy"
)

// proxyMetrics is the Prometheus implementation of the proxy's metrics
// interface.
type proxyMetrics struct {
	ops        *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	heartbeats *prometheus.CounterVec
	heldLocks  prometheus.Gauge
	lostLocks  prometheus.Counter
}

// Verify proxyMetrics satisfies proxy.Metrics at compile time.
var _ proxy.Metrics = (*proxyMetrics)(nil)

// NewProxyMetrics creates a new Prometheus-backed proxy metrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called); the
// nil receiver methods are no-ops.
func NewProxyMetrics() *proxyMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &proxyMetrics{
		ops: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_proxy_operations_total",
				Help: "FUSE operations by name and outcome",
			},
			[]string{"op", "outcome"}, // outcome: ok, timeout, lost, error
		),
		opDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatefs_proxy_operation_seconds",
				Help:    "FUSE operation duration including the broker round-trip",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"op"},
		),
		heartbeats: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_proxy_heartbeats_total",
				Help: "Heartbeats sent by the proxy, by outcome",
			},
			[]string{"outcome"}, // ok, lost, unreachable
		),
		heldLocks: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatefs_proxy_held_locks",
				Help: "Locks currently held for open handles",
			},
		),
		lostLocks: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gatefs_proxy_lost_locks_total",
				Help: "Handles marked lost after lease expiry or not_held",
			},
		),
	}
}

// RecordOp records a completed FUSE operation.
func (m *proxyMetrics) RecordOp(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordHeartbeat records a proxy heartbeat outcome.
func (m *proxyMetrics) RecordHeartbeat(outcome string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(outcome).Inc()
}

// SetHeldLocks records the number of locks held for open handles.
func (m *proxyMetrics) SetHeldLocks(n int) {
	if m == nil {
		return
	}
	m.heldLocks.Set(float64(n))
}

// RecordLostLock records a handle transitioning to the lost state.
func (m *proxyMetrics) RecordLostLock() {
	if m == nil {
		return
	}
	m.lostLocks.Inc()
}
