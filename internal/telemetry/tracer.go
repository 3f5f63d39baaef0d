package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for lock and filesystem operations.
// Lock-related keys use the "lock." prefix, FUSE operations "fuse.",
// durable store operations "store.".
const (
	// Client attributes
	AttrClientAddr = "client.address"

	// Lock attributes
	AttrLockPath      = "lock.path"
	AttrLockMode      = "lock.mode"
	AttrLockOwner     = "lock.owner"
	AttrLockState     = "lock.state"
	AttrLockRequestID = "lock.request_id"
	AttrLockHoldCount = "lock.hold_count"
	AttrLockStatus    = "lock.status"

	// FUSE attributes
	AttrFuseOp     = "fuse.op"
	AttrFusePath   = "fuse.path"
	AttrFuseHandle = "fuse.handle"
	AttrFuseFlags  = "fuse.flags"

	// Store attributes
	AttrStoreOp  = "store.op"
	AttrStoreKey = "store.key"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanAcquire   = "broker.acquire"
	SpanRelease   = "broker.release"
	SpanHeartbeat = "broker.heartbeat"
	SpanStatus    = "broker.status"
	SpanSweep     = "broker.sweep"
	SpanRecover   = "broker.recover"

	SpanStorePut    = "store.put"
	SpanStoreDelete = "store.delete"
	SpanStoreLoad   = "store.load"
	SpanStoreAudit  = "store.audit"
)

// ClientAddr returns an attribute for the API client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// LockPath returns an attribute for a lock path
func LockPath(path string) attribute.KeyValue {
	return attribute.String(AttrLockPath, path)
}

// LockMode returns an attribute for a lock mode
func LockMode(mode string) attribute.KeyValue {
	return attribute.String(AttrLockMode, mode)
}

// LockOwner returns an attribute for an owner token
func LockOwner(owner string) attribute.KeyValue {
	return attribute.String(AttrLockOwner, owner)
}

// LockState returns an attribute for a queue entry state
func LockState(state string) attribute.KeyValue {
	return attribute.String(AttrLockState, state)
}

// LockRequestID returns an attribute for the monotonic request ID
func LockRequestID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrLockRequestID, int64(id))
}

// LockHoldCount returns an attribute for a re-entrant hold count
func LockHoldCount(n int) attribute.KeyValue {
	return attribute.Int(AttrLockHoldCount, n)
}

// LockStatus returns an attribute for the wire status of a lock operation
func LockStatus(status string) attribute.KeyValue {
	return attribute.String(AttrLockStatus, status)
}

// FuseOp returns an attribute for a FUSE operation name
func FuseOp(op string) attribute.KeyValue {
	return attribute.String(AttrFuseOp, op)
}

// FusePath returns an attribute for a path seen at the mount
func FusePath(path string) attribute.KeyValue {
	return attribute.String(AttrFusePath, path)
}

// FuseHandle returns an attribute for a FUSE file handle
func FuseHandle(fh uint64) attribute.KeyValue {
	return attribute.Int64(AttrFuseHandle, int64(fh))
}

// StartLockSpan starts a span for a broker lock operation with common
// attributes pre-populated.
func StartLockSpan(ctx context.Context, name, path, mode, owner string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		LockPath(path),
		LockOwner(owner),
	}
	if mode != "" {
		allAttrs = append(allAttrs, LockMode(mode))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartFuseSpan starts a span for a FUSE operation.
func StartFuseSpan(ctx context.Context, op, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		FuseOp(op),
		FusePath(path),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "fuse."+op, trace.WithAttributes(allAttrs...))
}

// StartStoreSpan starts a span for a durable store operation.
func StartStoreSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		attribute.String(AttrStoreOp, op),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "store."+op, trace.WithAttributes(allAttrs...))
}
