package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/gatefs/pkg/lock"
)

// fakeService is a canned LockService for handler tests.
type fakeService struct {
	acquireEntry *lock.Entry
	acquireErr   error
	releaseErr   error
	heartbeatErr error
	statuses     []lock.PathStatus
	statusErr    error
	auditRecs    []lock.AuditRecord

	gotLimit   int
	gotPath    string
	gotMode    lock.Mode
	gotOwner   string
	gotTimeout time.Duration
}

func (f *fakeService) Acquire(_ context.Context, path string, mode lock.Mode, owner string, timeout time.Duration) (*lock.Entry, error) {
	f.gotPath, f.gotMode, f.gotOwner, f.gotTimeout = path, mode, owner, timeout
	return f.acquireEntry, f.acquireErr
}

func (f *fakeService) Release(_ context.Context, path, owner string) error {
	f.gotPath, f.gotOwner = path, owner
	return f.releaseErr
}

func (f *fakeService) Heartbeat(_ context.Context, path, owner string) error {
	f.gotPath, f.gotOwner = path, owner
	return f.heartbeatErr
}

func (f *fakeService) Status(_ context.Context, path string) ([]lock.PathStatus, error) {
	f.gotPath = path
	return f.statuses, f.statusErr
}

func (f *fakeService) Audit(_ context.Context, limit int) ([]lock.AuditRecord, error) {
	f.gotLimit = limit
	return f.auditRecs, nil
}

func grantedEntry(path, owner string) *lock.Entry {
	now := time.Now().UTC()
	return &lock.Entry{
		ID:            uuid.New(),
		Path:          path,
		Owner:         owner,
		Mode:          lock.ModeWrite,
		RequestID:     7,
		EnqueuedAt:    now,
		State:         lock.StateGranted,
		GrantedAt:     now,
		LastHeartbeat: now,
		HoldCount:     1,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeLockResponse(t *testing.T, rec *httptest.ResponseRecorder) LockResponse {
	t.Helper()
	var resp LockResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestAcquireGranted(t *testing.T) {
	t.Parallel()
	svc := &fakeService{acquireEntry: grantedEntry("/f", "o1")}
	h := NewLockHandler(svc)

	rec := postJSON(t, h.Acquire, AcquireRequest{Path: "/f", Mode: "write", Owner: "o1", TimeoutMs: 500})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeLockResponse(t, rec)
	if resp.Status != StatusGranted || resp.Entry == nil || resp.Entry.Owner != "o1" {
		t.Errorf("response = %+v, want granted entry for o1", resp)
	}
	if svc.gotTimeout != 500*time.Millisecond {
		t.Errorf("timeout forwarded = %v, want 500ms", svc.gotTimeout)
	}
}

func TestAcquireTimeout(t *testing.T) {
	t.Parallel()
	svc := &fakeService{acquireErr: &lock.Error{Code: lock.CodeQueueTimeout, Path: "/f"}}
	h := NewLockHandler(svc)

	rec := postJSON(t, h.Acquire, AcquireRequest{Path: "/f", Mode: "read", Owner: "o1"})

	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("status = %d, want 408", rec.Code)
	}
	resp := decodeLockResponse(t, rec)
	if resp.Status != StatusTimeout || resp.ErrorKind != string(lock.CodeQueueTimeout) {
		t.Errorf("response = %+v, want timeout/queue_timeout", resp)
	}
}

func TestAcquireRejectsBadRequests(t *testing.T) {
	t.Parallel()
	h := NewLockHandler(&fakeService{})

	cases := []AcquireRequest{
		{Mode: "read", Owner: "o"},           // missing path
		{Path: "/f", Owner: "o"},             // missing mode
		{Path: "/f", Mode: "excl", Owner: "o"}, // bad mode
		{Path: "/f", Mode: "read"},           // missing owner
	}
	for _, req := range cases {
		rec := postJSON(t, h.Acquire, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("request %+v: status = %d, want 400", req, rec.Code)
		}
	}
}

func TestAcquireMalformedBody(t *testing.T) {
	t.Parallel()
	h := NewLockHandler(&fakeService{})

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Acquire(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReleaseNotHeld(t *testing.T) {
	t.Parallel()
	svc := &fakeService{releaseErr: &lock.Error{Code: lock.CodeNotHeld, Path: "/f", Owner: "o1"}}
	h := NewLockHandler(svc)

	rec := postJSON(t, h.Release, ReleaseRequest{Path: "/f", Owner: "o1"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	resp := decodeLockResponse(t, rec)
	if resp.Status != StatusNotHeld || resp.ErrorKind != string(lock.CodeNotHeld) {
		t.Errorf("response = %+v, want not_held", resp)
	}
}

func TestReleaseOK(t *testing.T) {
	t.Parallel()
	h := NewLockHandler(&fakeService{})

	rec := postJSON(t, h.Release, ReleaseRequest{Path: "/f", Owner: "o1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeLockResponse(t, rec); resp.Status != StatusReleased {
		t.Errorf("status field = %q, want released", resp.Status)
	}
}

func TestHeartbeatExpired(t *testing.T) {
	t.Parallel()
	svc := &fakeService{heartbeatErr: &lock.Error{Code: lock.CodeForceExpired, Path: "/f", Owner: "o1"}}
	h := NewLockHandler(svc)

	rec := postJSON(t, h.Heartbeat, HeartbeatRequest{Path: "/f", Owner: "o1"})

	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
	resp := decodeLockResponse(t, rec)
	if resp.Status != StatusExpired || resp.ErrorKind != string(lock.CodeForceExpired) {
		t.Errorf("response = %+v, want expired/force_expired", resp)
	}
}

func TestHeartbeatOK(t *testing.T) {
	t.Parallel()
	h := NewLockHandler(&fakeService{})

	rec := postJSON(t, h.Heartbeat, HeartbeatRequest{Path: "/f", Owner: "o1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	svc := &fakeService{statuses: []lock.PathStatus{
		{Path: "/f", Entries: []*lock.Entry{grantedEntry("/f", "o1")}},
	}}
	h := NewLockHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/?path=/f", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp.Paths) != 1 || resp.Paths[0].Path != "/f" || len(resp.Paths[0].Entries) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if svc.gotPath != "/f" {
		t.Errorf("path filter forwarded = %q, want /f", svc.gotPath)
	}
}

func TestAuditEndpoint(t *testing.T) {
	t.Parallel()
	svc := &fakeService{auditRecs: []lock.AuditRecord{
		{Seq: 2, Event: lock.EventGrant, Path: "/f", Owner: "o1", Mode: lock.ModeWrite},
		{Seq: 1, Event: lock.EventEnqueue, Path: "/f", Owner: "o1", Mode: lock.ModeWrite},
	}}
	h := NewLockHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/?limit=2", nil)
	rec := httptest.NewRecorder()
	h.Audit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp AuditResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp.Records) != 2 || resp.Records[0].Event != "grant" {
		t.Errorf("records = %+v", resp.Records)
	}
	if svc.gotLimit != 2 {
		t.Errorf("limit forwarded = %d, want 2", svc.gotLimit)
	}

	// Bad limit is rejected.
	req = httptest.NewRequest(http.MethodGet, "/?limit=zero", nil)
	rec = httptest.NewRecorder()
	h.Audit(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	h := NewHealthHandler(&fakeService{})
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readiness = %d, want 200", rec.Code)
	}

	// Without a broker, readiness reports unhealthy.
	h = NewHealthHandler(nil)
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness without broker = %d, want 503", rec.Code)
	}
}
