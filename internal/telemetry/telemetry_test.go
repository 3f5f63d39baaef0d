package telemetry

import (
	"context"
	"testing"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init with disabled config failed: %v", err)
	}
	if IsEnabled() {
		t.Error("IsEnabled should be false when telemetry is disabled")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled telemetry failed: %v", err)
	}
}

func TestTracerAlwaysAvailable(t *testing.T) {
	// Tracer must return a usable (no-op) tracer even before Init
	tr := Tracer()
	if tr == nil {
		t.Fatal("Tracer returned nil")
	}

	ctx, span := StartSpan(context.Background(), SpanAcquire)
	defer span.End()

	// These must not panic on a no-op span
	AddEvent(ctx, "enqueued", LockPath("/f"), LockMode("write"))
	RecordError(ctx, nil)
	SetAttributes(ctx, LockOwner("o1"))

	if id := TraceID(ctx); id != "" && len(id) != 32 {
		t.Errorf("unexpected trace ID format: %q", id)
	}
}

func TestInitProfilingDisabled(t *testing.T) {
	shutdown, err := InitProfiling(ProfilingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitProfiling with disabled config failed: %v", err)
	}
	if IsProfilingEnabled() {
		t.Error("IsProfilingEnabled should be false when profiling is disabled")
	}
	if err := shutdown(); err != nil {
		t.Errorf("shutdown of disabled profiling failed: %v", err)
	}
}

func TestParseProfileType(t *testing.T) {
	valid := []string{
		"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space",
		"goroutines", "mutex_count", "mutex_duration", "block_count", "block_duration",
	}
	for _, pt := range valid {
		if _, err := parseProfileType(pt); err != nil {
			t.Errorf("parseProfileType(%q) failed: %v", pt, err)
		}
	}

	if _, err := parseProfileType("heap"); err == nil {
		t.Error("parseProfileType should reject unknown types")
	}
}
