package apiclient

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// Entry is the wire form of a broker queue entry.
type Entry struct {
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

// PathStatus is one path's queue in a status response.
type PathStatus struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

type lockResponse struct {
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Entry     *Entry `json:"entry,omitempty"`
}

type statusResponse struct {
	Status string       `json:"status"`
	Paths  []PathStatus `json:"paths"`
}

type acquireRequest struct {
	Path      string `json:"path"`
	Mode      string `json:"mode"`
	Owner     string `json:"owner"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

type ownerRequest struct {
	Path  string `json:"path"`
	Owner string `json:"owner"`
}

// Acquire requests a lock, blocking until the broker grants it or the
// timeout elapses. A zero timeout selects the broker's default; the
// transport deadline always exceeds the acquire timeout so the broker,
// not the client, decides the outcome.
func (c *Client) Acquire(ctx context.Context, path, mode, owner string, timeout time.Duration) (*Entry, error) {
	req := acquireRequest{Path: path, Mode: mode, Owner: owner}
	if timeout > 0 {
		req.TimeoutMs = timeout.Milliseconds()
	}

	var transportTimeout time.Duration
	if timeout > 0 {
		transportTimeout = timeout + acquireGrace
	} else {
		// Unknown broker default; allow a generous long poll.
		transportTimeout = 10 * time.Minute
	}

	var resp lockResponse
	if err := c.post(ctx, "/v1/locks/acquire", transportTimeout, req, &resp); err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

// Release releases one hold of owner's lock on path.
func (c *Client) Release(ctx context.Context, path, owner string) error {
	var resp lockResponse
	return c.post(ctx, "/v1/locks/release", defaultRequestTimeout, ownerRequest{Path: path, Owner: owner}, &resp)
}

// Heartbeat refreshes the lease on owner's granted lock on path.
func (c *Client) Heartbeat(ctx context.Context, path, owner string) error {
	var resp lockResponse
	return c.post(ctx, "/v1/locks/heartbeat", defaultRequestTimeout, ownerRequest{Path: path, Owner: owner}, &resp)
}

// Status returns the broker's queue snapshot, optionally filtered to a
// single path.
func (c *Client) Status(ctx context.Context, path string) ([]PathStatus, error) {
	endpoint := "/v1/locks/status"
	if path != "" {
		endpoint += "?path=" + url.QueryEscape(path)
	}
	var resp statusResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// AuditRecord is one audit log line from the broker.
type AuditRecord struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Path      string    `json:"path"`
	Owner     string    `json:"owner"`
	Mode      string    `json:"mode"`
	RequestID uint64    `json:"request_id"`
}

type auditResponse struct {
	Status  string        `json:"status"`
	Records []AuditRecord `json:"records"`
}

// Audit returns up to limit audit records, newest first.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditRecord, error) {
	endpoint := "/v1/locks/audit"
	if limit > 0 {
		endpoint += "?limit=" + url.QueryEscape(strconv.Itoa(limit))
	}
	var resp auditResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Healthy reports whether the broker answers its readiness probe.
func (c *Client) Healthy(ctx context.Context) error {
	return c.get(ctx, "/health/ready", nil)
}
