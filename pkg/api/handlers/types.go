package handlers

import (
	"time"

	"github.com/marmos91/gatefs/pkg/lock"
)

// Wire statuses carried in the "status" field of lock responses.
const (
	StatusGranted  = "granted"
	StatusTimeout  = "timeout"
	StatusReleased = "released"
	StatusOK       = "ok"
	StatusNotHeld  = "not_held"
	StatusExpired  = "expired"
	StatusError    = "error"
)

// AcquireRequest asks the broker for a lock.
type AcquireRequest struct {
	Path      string `json:"path"`
	Mode      string `json:"mode"`
	Owner     string `json:"owner"`
	RequestID string `json:"request_id,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

// Timeout converts the client's timeout to a duration; zero selects the
// broker default.
func (r *AcquireRequest) Timeout() time.Duration {
	if r.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// ReleaseRequest releases one hold on a lock.
type ReleaseRequest struct {
	Path  string `json:"path"`
	Owner string `json:"owner"`
}

// HeartbeatRequest refreshes a granted lock's lease.
type HeartbeatRequest struct {
	Path  string `json:"path"`
	Owner string `json:"owner"`
}

// EntryPayload is the wire form of a queue entry.
type EntryPayload struct {
	ID            string    `json:"id"`
	Path          string    `json:"path"`
	Owner         string    `json:"owner"`
	Mode          string    `json:"mode"`
	RequestID     uint64    `json:"request_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	State         string    `json:"state"`
	GrantedAt     time.Time `json:"granted_at,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	HoldCount     int       `json:"hold_count,omitempty"`
}

// LockResponse is the uniform response of the lock endpoints.
type LockResponse struct {
	Status    string        `json:"status"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Entry     *EntryPayload `json:"entry,omitempty"`
}

// PathStatusPayload is the wire form of one path's queue.
type PathStatusPayload struct {
	Path    string         `json:"path"`
	Entries []EntryPayload `json:"entries"`
}

// StatusResponse is the response of the status endpoint.
type StatusResponse struct {
	Status string              `json:"status"`
	Paths  []PathStatusPayload `json:"paths"`
}

// AuditPayload is the wire form of one audit record.
type AuditPayload struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Path      string    `json:"path"`
	Owner     string    `json:"owner"`
	Mode      string    `json:"mode"`
	RequestID uint64    `json:"request_id"`
}

// AuditResponse is the response of the audit endpoint.
type AuditResponse struct {
	Status  string         `json:"status"`
	Records []AuditPayload `json:"records"`
}

// entryPayload converts a broker entry to its wire form.
func entryPayload(e *lock.Entry) *EntryPayload {
	if e == nil {
		return nil
	}
	return &EntryPayload{
		ID:            e.ID.String(),
		Path:          e.Path,
		Owner:         e.Owner,
		Mode:          string(e.Mode),
		RequestID:     e.RequestID,
		EnqueuedAt:    e.EnqueuedAt,
		State:         string(e.State),
		GrantedAt:     e.GrantedAt,
		LastHeartbeat: e.LastHeartbeat,
		HoldCount:     e.HoldCount,
	}
}
