package proxy

import "time"

// Metrics provides observability for proxy operations.
//
// This interface is optional; NoOpMetrics disables collection with zero
// overhead.
type Metrics interface {
	// RecordOp records a completed FUSE operation with its outcome
	// ("ok", "timeout", "lost", "error").
	RecordOp(op, outcome string, duration time.Duration)

	// RecordHeartbeat records a heartbeat outcome ("ok", "lost",
	// "unreachable").
	RecordHeartbeat(outcome string)

	// SetHeldLocks records the number of locks held for open handles.
	SetHeldLocks(n int)

	// RecordLostLock records a handle transitioning to the lost state.
	RecordLostLock()
}

// NoOpMetrics is a Metrics implementation that discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordOp(string, string, time.Duration) {}
func (NoOpMetrics) RecordHeartbeat(string)                 {}
func (NoOpMetrics) SetHeldLocks(int)                       {}
func (NoOpMetrics) RecordLostLock()                        {}
