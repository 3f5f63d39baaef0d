package lock

import (
	"errors"
	"fmt"
)

// ErrorCode classifies broker errors so that transports can map them to
// wire statuses and the proxy can map them to errnos.
type ErrorCode string

const (
	// CodeQueueTimeout means an acquire did not succeed within the
	// caller's timeout. Not fatal to a handle.
	CodeQueueTimeout ErrorCode = "queue_timeout"

	// CodeNotHeld means release or heartbeat referenced an owner/path
	// with no granted entry.
	CodeNotHeld ErrorCode = "not_held"

	// CodeLeaseExpired means the sweep reclaimed the entry after its
	// lease lapsed without heartbeats.
	CodeLeaseExpired ErrorCode = "lease_expired"

	// CodeForceExpired means the entry hit the absolute hold cap and was
	// reclaimed regardless of heartbeats.
	CodeForceExpired ErrorCode = "force_expired"

	// CodeStoreFailure means the durable store rejected the transition;
	// the in-memory state is unchanged.
	CodeStoreFailure ErrorCode = "store_failure"

	// CodeInvalidArgument means the request was malformed (bad mode,
	// empty path or owner).
	CodeInvalidArgument ErrorCode = "invalid_argument"

	// CodeModeConflict means a re-entrant acquire asked for write while
	// the owner's granted entry holds read. Lock upgrades are not
	// supported: granting them would let a write proceed under an entry
	// other readers can still coalesce onto.
	CodeModeConflict ErrorCode = "mode_conflict"

	// CodeQueueFull means the per-path waiter limit was reached.
	CodeQueueFull ErrorCode = "queue_full"

	// CodeClosed means the broker is shutting down.
	CodeClosed ErrorCode = "closed"
)

// Error is a typed broker error.
type Error struct {
	Code    ErrorCode
	Path    string
	Owner   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err, or "" if err is not a broker
// error.
func CodeOf(err error) ErrorCode {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsTimeout reports whether err is an acquire timeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == CodeQueueTimeout
}

// IsNotHeld reports whether err indicates no matching granted entry.
func IsNotHeld(err error) bool {
	return CodeOf(err) == CodeNotHeld
}

// IsExpired reports whether err indicates the entry was reclaimed by the
// sweep, either by lease lapse or the hold cap.
func IsExpired(err error) bool {
	code := CodeOf(err)
	return code == CodeLeaseExpired || code == CodeForceExpired
}

// IsStoreFailure reports whether err is a durable store failure.
func IsStoreFailure(err error) bool {
	return CodeOf(err) == CodeStoreFailure
}

// IsModeConflict reports whether err is a refused read-to-write
// re-entrant acquire.
func IsModeConflict(err error) bool {
	return CodeOf(err) == CodeModeConflict
}

func storeFailure(path, owner string, err error) *Error {
	return &Error{
		Code:    CodeStoreFailure,
		Path:    path,
		Owner:   owner,
		Message: "durable store rejected transition",
		Err:     err,
	}
}
