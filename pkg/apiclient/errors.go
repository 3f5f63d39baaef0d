package apiclient

import (
	"errors"
	"fmt"
)

// Error kinds mirrored from the broker's wire protocol, plus the
// client-side transport kind.
const (
	KindQueueTimeout    = "queue_timeout"
	KindNotHeld         = "not_held"
	KindLeaseExpired    = "lease_expired"
	KindForceExpired    = "force_expired"
	KindStoreFailure    = "store_failure"
	KindInvalidArgument = "invalid_argument"
	KindQueueFull       = "queue_full"
	KindModeConflict    = "mode_conflict"

	// KindUnreachable is assigned locally when the broker cannot be
	// reached at all (dial failure, connection reset, bad response).
	KindUnreachable = "broker_unreachable"
)

// BrokerError is an error response from the broker, or a transport
// failure talking to it.
type BrokerError struct {
	// Kind is the wire error_kind, or KindUnreachable for transport
	// failures.
	Kind string

	// Status is the wire status string ("timeout", "not_held", ...).
	Status string

	// HTTPStatus is the HTTP status code, zero for transport failures.
	HTTPStatus int

	// Message is the human-readable error.
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind
}

// Unwrap returns the underlying transport error, if any.
func (e *BrokerError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from err, or "" if err is not a broker
// error.
func KindOf(err error) string {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsTimeout reports whether err is an acquire timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindQueueTimeout
}

// IsNotHeld reports whether err means no matching granted entry exists.
func IsNotHeld(err error) bool {
	return KindOf(err) == KindNotHeld
}

// IsExpired reports whether err means the sweep reclaimed the lock.
func IsExpired(err error) bool {
	kind := KindOf(err)
	return kind == KindLeaseExpired || kind == KindForceExpired
}

// IsLost reports whether err is fatal to the handle holding the lock:
// the broker no longer recognizes the hold.
func IsLost(err error) bool {
	return IsNotHeld(err) || IsExpired(err)
}

// IsUnreachable reports whether err is a transport failure.
func IsUnreachable(err error) bool {
	return KindOf(err) == KindUnreachable
}

func unreachable(err error) *BrokerError {
	return &BrokerError{Kind: KindUnreachable, Err: err}
}
