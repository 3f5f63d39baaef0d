// Package prometheus provides the Prometheus-backed implementations of
// the broker and proxy metrics interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/gatefs/pkg/lock"
	"github.com/marmos91/gatefs/pkg/metrics"
)

// brokerMetrics is the Prometheus implementation of lock.Metrics.
type brokerMetrics struct {
	acquires    *prometheus.CounterVec
	acquireWait *prometheus.HistogramVec
	releases    *prometheus.CounterVec
	heartbeats  *prometheus.CounterVec
	expiries    *prometheus.CounterVec
	granted     prometheus.Gauge
	waiting     prometheus.Gauge
}

// Verify brokerMetrics satisfies lock.Metrics at compile time.
var _ lock.Metrics = (*brokerMetrics)(nil)

// NewBrokerMetrics creates a new Prometheus-backed broker metrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called); the
// nil receiver methods are no-ops.
func NewBrokerMetrics() *brokerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &brokerMetrics{
		acquires: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_broker_acquires_total",
				Help: "Total acquire requests by mode and outcome",
			},
			[]string{"mode", "outcome"}, // outcome: granted, reentrant, timeout, error
		),
		acquireWait: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatefs_broker_acquire_wait_seconds",
				Help:    "Time spent waiting for a lock grant",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"mode", "outcome"},
		),
		releases: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_broker_releases_total",
				Help: "Total release requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		heartbeats: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_broker_heartbeats_total",
				Help: "Total heartbeats by outcome",
			},
			[]string{"outcome"}, // ok, not_held, expired
		),
		expiries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatefs_broker_expiries_total",
				Help: "Entries reclaimed by the expiry sweep, by kind",
			},
			[]string{"kind"}, // lease, force, waiter
		),
		granted: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatefs_broker_granted_entries",
				Help: "Granted entries across all paths at the last sweep",
			},
		),
		waiting: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gatefs_broker_waiting_entries",
				Help: "Waiting entries across all paths at the last sweep",
			},
		),
	}
}

// RecordAcquire records a completed acquire.
func (m *brokerMetrics) RecordAcquire(mode lock.Mode, outcome string, wait time.Duration) {
	if m == nil {
		return
	}
	m.acquires.WithLabelValues(string(mode), outcome).Inc()
	m.acquireWait.WithLabelValues(string(mode), outcome).Observe(wait.Seconds())
}

// RecordRelease records a release.
func (m *brokerMetrics) RecordRelease(mode lock.Mode, outcome string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(string(mode), outcome).Inc()
}

// RecordHeartbeat records a heartbeat outcome.
func (m *brokerMetrics) RecordHeartbeat(outcome string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(outcome).Inc()
}

// RecordExpiry records a sweep reclamation.
func (m *brokerMetrics) RecordExpiry(kind string) {
	if m == nil {
		return
	}
	m.expiries.WithLabelValues(kind).Inc()
}

// ObserveQueues records broker-wide queue depths.
func (m *brokerMetrics) ObserveQueues(granted, waiting int) {
	if m == nil {
		return
	}
	m.granted.Set(float64(granted))
	m.waiting.Set(float64(waiting))
}
