package apiclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// newTestClient points a Client at an httptest server.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to parse test server address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return New(host, port)
}

func TestAcquireGranted(t *testing.T) {
	t.Parallel()

	var gotReq acquireRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/locks/acquire" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(lockResponse{
			Status: "granted",
			Entry:  &Entry{Path: gotReq.Path, Owner: gotReq.Owner, Mode: gotReq.Mode, State: "granted", HoldCount: 1},
		})
	}))

	entry, err := client.Acquire(context.Background(), "/f", "write", "o1", 250*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if entry == nil || entry.State != "granted" {
		t.Errorf("entry = %+v, want granted", entry)
	}
	if gotReq.TimeoutMs != 250 {
		t.Errorf("timeout_ms sent = %d, want 250", gotReq.TimeoutMs)
	}
}

func TestAcquireTimeoutKind(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusRequestTimeout)
		_ = json.NewEncoder(w).Encode(lockResponse{Status: "timeout", ErrorKind: "queue_timeout"})
	}))

	_, err := client.Acquire(context.Background(), "/f", "write", "o1", 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want queue_timeout", err)
	}
}

func TestReleaseNotHeldKind(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(lockResponse{Status: "not_held", ErrorKind: "not_held"})
	}))

	err := client.Release(context.Background(), "/f", "o1")
	if !IsNotHeld(err) {
		t.Fatalf("err = %v, want not_held", err)
	}
	if !IsLost(err) {
		t.Error("not_held must count as a lost hold")
	}
}

func TestHeartbeatExpiredKind(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		_ = json.NewEncoder(w).Encode(lockResponse{Status: "expired", ErrorKind: "lease_expired"})
	}))

	err := client.Heartbeat(context.Background(), "/f", "o1")
	if !IsExpired(err) || !IsLost(err) {
		t.Fatalf("err = %v, want lease_expired", err)
	}
}

func TestStatusQuery(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("path"); got != "/f" {
			t.Errorf("path query = %q, want /f", got)
		}
		_ = json.NewEncoder(w).Encode(statusResponse{
			Status: "ok",
			Paths:  []PathStatus{{Path: "/f", Entries: []Entry{{Path: "/f", Owner: "o1", State: "granted"}}}},
		})
	}))

	paths, err := client.Status(context.Background(), "/f")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(paths) != 1 || paths[0].Path != "/f" {
		t.Errorf("paths = %+v", paths)
	}
}

func TestUnreachableBroker(t *testing.T) {
	t.Parallel()

	// Nothing listens on this port.
	client := New("127.0.0.1", 1)

	err := client.Release(context.Background(), "/f", "o1")
	if !IsUnreachable(err) {
		t.Fatalf("err = %v, want broker_unreachable", err)
	}
}

func TestUnixSocketClient(t *testing.T) {
	t.Parallel()

	socket := t.TempDir() + "/broker.sock"
	ln, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("failed to listen on socket: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(lockResponse{Status: "ok"})
	})}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	client := NewUnix(socket)
	if err := client.Heartbeat(context.Background(), "/f", "o1"); err != nil {
		t.Fatalf("heartbeat over unix socket failed: %v", err)
	}
}
