package api_test

import (
	"context"
	"net"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/gatefs/pkg/api"
	"github.com/marmos91/gatefs/pkg/apiclient"
	"github.com/marmos91/gatefs/pkg/lock"
	lockbadger "github.com/marmos91/gatefs/pkg/lock/badger"
)

// startStack runs a real broker (badger-backed) behind the real router
// and returns a client pointed at it. This covers the wire protocol end
// to end: broker semantics, handler mapping, and client decoding.
func startStack(t *testing.T) *apiclient.Client {
	t.Helper()

	store, err := lockbadger.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker, err := lock.NewBroker(store, lock.Config{
		Lease:          500 * time.Millisecond,
		MaxHold:        time.Minute,
		AcquireTimeout: 2 * time.Second,
		SweepInterval:  20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })

	ts := httptest.NewServer(api.NewRouter(broker))
	t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return apiclient.New(host, port)
}

func TestEndToEndAcquireReleaseCycle(t *testing.T) {
	t.Parallel()
	client := startStack(t)
	ctx := context.Background()

	entry, err := client.Acquire(ctx, "/src/main.go", "write", "owner-a", time.Second)
	require.NoError(t, err)
	require.Equal(t, "granted", entry.State)
	require.Equal(t, 1, entry.HoldCount)

	// A competing writer times out at the wire level with the right kind.
	_, err = client.Acquire(ctx, "/src/main.go", "write", "owner-b", 100*time.Millisecond)
	require.True(t, apiclient.IsTimeout(err), "got %v", err)

	require.NoError(t, client.Heartbeat(ctx, "/src/main.go", "owner-a"))

	paths, err := client.Status(ctx, "/src/main.go")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Len(t, paths[0].Entries, 1)

	require.NoError(t, client.Release(ctx, "/src/main.go", "owner-a"))

	// Now the competitor gets through.
	entry, err = client.Acquire(ctx, "/src/main.go", "write", "owner-b", time.Second)
	require.NoError(t, err)
	require.Equal(t, "owner-b", entry.Owner)

	// The audit trail recorded the whole exchange, newest first.
	records, err := client.Audit(ctx, 50)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	require.Equal(t, "grant", records[0].Event)
}

func TestEndToEndFIFOOverWire(t *testing.T) {
	t.Parallel()
	client := startStack(t)
	ctx := context.Background()

	_, err := client.Acquire(ctx, "/f", "write", "a", time.Second)
	require.NoError(t, err)

	const holdFor = 250 * time.Millisecond
	go func() {
		time.Sleep(holdFor)
		_ = client.Release(context.Background(), "/f", "a")
	}()

	start := time.Now()
	_, err = client.Acquire(ctx, "/f", "read", "b", 2*time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), holdFor-50*time.Millisecond,
		"reader must block until the writer releases")
}

func TestEndToEndLeaseExpiryOverWire(t *testing.T) {
	t.Parallel()
	client := startStack(t)
	ctx := context.Background()

	_, err := client.Acquire(ctx, "/f", "write", "dead-owner", time.Second)
	require.NoError(t, err)

	// No heartbeats: the sweep reclaims the grant and the next writer
	// gets in.
	_, err = client.Acquire(ctx, "/f", "write", "live-owner", 3*time.Second)
	require.NoError(t, err)

	err = client.Heartbeat(ctx, "/f", "dead-owner")
	require.True(t, apiclient.IsExpired(err), "got %v", err)
}

func TestEndToEndReleaseNotHeld(t *testing.T) {
	t.Parallel()
	client := startStack(t)

	err := client.Release(context.Background(), "/f", "nobody")
	require.True(t, apiclient.IsNotHeld(err), "got %v", err)
}

func TestEndToEndHealth(t *testing.T) {
	t.Parallel()
	client := startStack(t)

	require.NoError(t, client.Healthy(context.Background()))
}
