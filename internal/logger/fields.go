package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across broker, proxy, and CLI so that the
// audit trail, request logs, and FUSE operation logs can be correlated.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Lock lifecycle
	KeyPath      = "path"       // Canonical lock path
	KeyOwner     = "owner"      // Owner token holding or requesting the lock
	KeyMode      = "mode"       // Lock mode: read, write
	KeyState     = "state"      // Queue entry state: waiting, granted
	KeyRequestID = "request_id" // Monotonic broker request ID
	KeyEntryID   = "entry_id"   // Queue entry UUID
	KeyHoldCount = "hold_count" // Re-entrant hold count
	KeyEvent     = "event"      // Audit event name

	// VFS / proxy
	KeyOp      = "op"       // VFS operation name: open, rename, unlink, ...
	KeyHandle  = "fh"       // FUSE file handle number
	KeyOldPath = "old_path" // Source path for rename
	KeyNewPath = "new_path" // Destination path for rename
	KeyFlags   = "flags"    // Open flags

	// Transport
	KeyClientAddr = "client_addr" // Remote address of the API client
	KeyStatus     = "status"      // HTTP status or wire status string
	KeyErrorKind  = "error_kind"  // Wire error kind

	// Timing
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyLeaseMs    = "lease_ms"    // Lease duration
	KeyError      = "error"       // Error message
)

// Type-safe field constructors for the keys above.

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Path returns a slog.Attr for the canonical lock path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Owner returns a slog.Attr for an owner token
func Owner(o string) slog.Attr {
	return slog.String(KeyOwner, o)
}

// Mode returns a slog.Attr for a lock mode
func Mode(m string) slog.Attr {
	return slog.String(KeyMode, m)
}

// State returns a slog.Attr for a queue entry state
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// RequestID returns a slog.Attr for the monotonic broker request ID
func RequestID(id uint64) slog.Attr {
	return slog.Uint64(KeyRequestID, id)
}

// HoldCount returns a slog.Attr for a re-entrant hold count
func HoldCount(n int) slog.Attr {
	return slog.Int(KeyHoldCount, n)
}

// Event returns a slog.Attr for an audit event name
func Event(e string) slog.Attr {
	return slog.String(KeyEvent, e)
}

// Op returns a slog.Attr for a VFS operation name
func Op(name string) slog.Attr {
	return slog.String(KeyOp, name)
}

// Handle returns a slog.Attr for a FUSE file handle number
func Handle(fh uint64) slog.Attr {
	return slog.Uint64(KeyHandle, fh)
}

// OldPath returns a slog.Attr for the source path of a rename
func OldPath(p string) slog.Attr {
	return slog.String(KeyOldPath, p)
}

// NewPath returns a slog.Attr for the destination path of a rename
func NewPath(p string) slog.Attr {
	return slog.String(KeyNewPath, p)
}

// ClientAddr returns a slog.Attr for an API client address
func ClientAddr(addr string) slog.Attr {
	return slog.String(KeyClientAddr, addr)
}

// Status returns a slog.Attr for a wire status string
func Status(s string) slog.Attr {
	return slog.String(KeyStatus, s)
}

// ErrorKind returns a slog.Attr for a wire error kind
func ErrorKind(k string) slog.Attr {
	return slog.String(KeyErrorKind, k)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
