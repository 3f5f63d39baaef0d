// Package handlers implements the broker's HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/lock"
)

// LockService is the slice of the broker the handlers need.
// *lock.Broker satisfies it; tests substitute fakes.
type LockService interface {
	Acquire(ctx context.Context, path string, mode lock.Mode, owner string, timeout time.Duration) (*lock.Entry, error)
	Release(ctx context.Context, path, owner string) error
	Heartbeat(ctx context.Context, path, owner string) error
	Status(ctx context.Context, path string) ([]lock.PathStatus, error)
	Audit(ctx context.Context, limit int) ([]lock.AuditRecord, error)
}

// LockHandler serves the /v1/locks endpoints.
type LockHandler struct {
	svc LockService
}

// NewLockHandler creates a lock handler over the given service.
func NewLockHandler(svc LockService) *LockHandler {
	return &LockHandler{svc: svc}
}

// Acquire handles POST /v1/locks/acquire.
//
// The request is held open until the broker grants the lock or the
// acquire timeout elapses (long poll). Client disconnects propagate
// through the request context and drop the waiter on the broker side.
func (h *LockHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	var req AcquireRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" || req.Owner == "" || !lock.Mode(req.Mode).Valid() {
		writeInvalid(w, "path, owner, and a valid mode are required")
		return
	}

	entry, err := h.svc.Acquire(r.Context(), req.Path, lock.Mode(req.Mode), req.Owner, req.Timeout())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away; nothing useful to write.
			return
		}
		writeLockError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LockResponse{
		Status: StatusGranted,
		Entry:  entryPayload(entry),
	})
}

// Release handles POST /v1/locks/release.
func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" || req.Owner == "" {
		writeInvalid(w, "path and owner are required")
		return
	}

	if err := h.svc.Release(r.Context(), req.Path, req.Owner); err != nil {
		writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LockResponse{Status: StatusReleased})
}

// Heartbeat handles POST /v1/locks/heartbeat.
func (h *LockHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" || req.Owner == "" {
		writeInvalid(w, "path and owner are required")
		return
	}

	if err := h.svc.Heartbeat(r.Context(), req.Path, req.Owner); err != nil {
		writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LockResponse{Status: StatusOK})
}

// Status handles GET /v1/locks/status[?path=P].
func (h *LockHandler) Status(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	statuses, err := h.svc.Status(r.Context(), path)
	if err != nil {
		writeLockError(w, err)
		return
	}

	resp := StatusResponse{Status: StatusOK, Paths: make([]PathStatusPayload, 0, len(statuses))}
	for _, st := range statuses {
		payload := PathStatusPayload{Path: st.Path, Entries: make([]EntryPayload, 0, len(st.Entries))}
		for _, e := range st.Entries {
			payload.Entries = append(payload.Entries, *entryPayload(e))
		}
		resp.Paths = append(resp.Paths, payload)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Audit handles GET /v1/locks/audit[?limit=N]. Records come back newest
// first.
func (h *LockHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeInvalid(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.svc.Audit(r.Context(), limit)
	if err != nil {
		writeLockError(w, err)
		return
	}

	resp := AuditResponse{Status: StatusOK, Records: make([]AuditPayload, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, AuditPayload{
			Seq:       rec.Seq,
			Timestamp: rec.Timestamp,
			Event:     string(rec.Event),
			Path:      rec.Path,
			Owner:     rec.Owner,
			Mode:      string(rec.Mode),
			RequestID: rec.RequestID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody decodes the JSON request body into dst, writing a 400 on
// malformed input. Returns false when the response has been written.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeInvalid(w, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		logger.Debug("malformed request body", logger.KeyError, err)
		writeInvalid(w, "malformed JSON body")
		return false
	}
	return true
}
