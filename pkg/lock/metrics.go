package lock

import "time"

// Metrics provides observability for broker operations.
//
// Implementations collect grant latency, queue churn, and expiry counts.
// This interface is optional; NoOpMetrics disables collection with zero
// overhead.
type Metrics interface {
	// RecordAcquire records a completed acquire with its mode, outcome
	// ("granted", "reentrant", "timeout", "error"), and wait duration.
	RecordAcquire(mode Mode, outcome string, wait time.Duration)

	// RecordRelease records a release ("released" or "not_held").
	RecordRelease(mode Mode, outcome string)

	// RecordHeartbeat records a heartbeat outcome ("ok", "not_held",
	// "expired").
	RecordHeartbeat(outcome string)

	// RecordExpiry records a sweep reclamation ("lease", "force",
	// "waiter").
	RecordExpiry(kind string)

	// ObserveQueues records the broker-wide granted and waiting entry
	// counts after a sweep pass.
	ObserveQueues(granted, waiting int)
}

// NoOpMetrics is a Metrics implementation that discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordAcquire(Mode, string, time.Duration) {}
func (NoOpMetrics) RecordRelease(Mode, string)                {}
func (NoOpMetrics) RecordHeartbeat(string)                    {}
func (NoOpMetrics) RecordExpiry(string)                       {}
func (NoOpMetrics) ObserveQueues(int, int)                    {}
