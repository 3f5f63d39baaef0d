package badger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/gatefs/pkg/lock"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEntry(path, owner string, reqID uint64) *lock.Entry {
	return &lock.Entry{
		ID:         uuid.New(),
		Path:       path,
		Owner:      owner,
		Mode:       lock.ModeWrite,
		RequestID:  reqID,
		EnqueuedAt: time.Now().UTC().Truncate(time.Millisecond),
		State:      lock.StateWaiting,
	}
}

func TestPutLoadDelete(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntry("/f", "o1", 1)
	if err := s.PutEntry(ctx, e, nil); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}

	entries, err := s.LoadEntries(ctx)
	if err != nil {
		t.Fatalf("LoadEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("loaded %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.ID != e.ID || got.Path != e.Path || got.Owner != e.Owner || got.RequestID != e.RequestID {
		t.Errorf("loaded entry = %+v, want %+v", got, e)
	}

	if err := s.DeleteEntry(ctx, e, nil); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	entries, _ = s.LoadEntries(ctx)
	if len(entries) != 0 {
		t.Errorf("entries after delete = %d, want 0", len(entries))
	}
}

func TestUpsertOverwrites(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntry("/f", "o1", 1)
	if err := s.PutEntry(ctx, e, nil); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}

	e.State = lock.StateGranted
	e.HoldCount = 3
	e.GrantedAt = time.Now().UTC().Truncate(time.Millisecond)
	if err := s.PutEntry(ctx, e, nil); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	entries, _ := s.LoadEntries(ctx)
	if len(entries) != 1 {
		t.Fatalf("loaded %d entries, want 1", len(entries))
	}
	if entries[0].State != lock.StateGranted || entries[0].HoldCount != 3 {
		t.Errorf("upsert not applied: %+v", entries[0])
	}
}

func TestDeleteMissingEntryIsNotAnError(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.DeleteEntry(context.Background(), testEntry("/f", "o", 9), nil); err != nil {
		t.Errorf("deleting a missing entry should be a no-op, got %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	e := testEntry("/f", "o1", 7)
	e.State = lock.StateGranted
	e.GrantedAt = time.Now().UTC().Truncate(time.Millisecond)
	e.HoldCount = 2
	if err := s1.PutEntry(ctx, e, nil); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	id1, err := s1.NextRequestID(ctx)
	if err != nil {
		t.Fatalf("NextRequestID failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = s2.Close() }()

	entries, err := s2.LoadEntries(ctx)
	if err != nil {
		t.Fatalf("LoadEntries after reopen failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("loaded %d entries after reopen, want 1", len(entries))
	}
	got := entries[0]
	if got.Owner != "o1" || got.State != lock.StateGranted || got.HoldCount != 2 {
		t.Errorf("entry after reopen = %+v", got)
	}
	if !got.GrantedAt.Equal(e.GrantedAt) {
		t.Errorf("GrantedAt after reopen = %v, want %v", got.GrantedAt, e.GrantedAt)
	}

	// Request IDs stay monotonic across restarts (gaps allowed).
	id2, err := s2.NextRequestID(ctx)
	if err != nil {
		t.Fatalf("NextRequestID after reopen failed: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("request IDs regressed across reopen: %d then %d", id1, id2)
	}
}

func TestAuditAppendAndQuery(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntry("/f", "o1", 1)
	events := []lock.AuditEvent{lock.EventEnqueue, lock.EventGrant, lock.EventRelease}
	for _, ev := range events {
		seq, err := s.NextAuditSeq(ctx)
		if err != nil {
			t.Fatalf("NextAuditSeq failed: %v", err)
		}
		rec := &lock.AuditRecord{
			Seq:       seq,
			Timestamp: time.Now().UTC(),
			Event:     ev,
			Path:      e.Path,
			Owner:     e.Owner,
			Mode:      e.Mode,
			RequestID: e.RequestID,
		}
		if err := s.PutEntry(ctx, e, rec); err != nil {
			t.Fatalf("PutEntry with audit failed: %v", err)
		}
	}

	recs, err := s.Audit(ctx, 10)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("audit records = %d, want 3", len(recs))
	}
	// Newest first.
	if recs[0].Event != lock.EventRelease || recs[2].Event != lock.EventEnqueue {
		t.Errorf("audit order = [%v %v %v], want newest first", recs[0].Event, recs[1].Event, recs[2].Event)
	}

	limited, _ := s.Audit(ctx, 2)
	if len(limited) != 2 || limited[0].Event != lock.EventRelease {
		t.Errorf("limited audit = %+v", limited)
	}
}

func TestPruneAudit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntry("/f", "o1", 1)
	for i := 0; i < 10; i++ {
		seq, _ := s.NextAuditSeq(ctx)
		rec := &lock.AuditRecord{Seq: seq, Timestamp: time.Now().UTC(), Event: lock.EventHeartbeat, Path: e.Path, Owner: e.Owner}
		if err := s.PutEntry(ctx, e, rec); err != nil {
			t.Fatalf("PutEntry failed: %v", err)
		}
	}

	if err := s.PruneAudit(ctx, 4); err != nil {
		t.Fatalf("PruneAudit failed: %v", err)
	}
	recs, _ := s.Audit(ctx, 100)
	if len(recs) != 4 {
		t.Errorf("records after prune = %d, want 4", len(recs))
	}

	// Pruning below the retention is a no-op.
	if err := s.PruneAudit(ctx, 100); err != nil {
		t.Fatalf("no-op prune failed: %v", err)
	}
	recs, _ = s.Audit(ctx, 100)
	if len(recs) != 4 {
		t.Errorf("records after no-op prune = %d, want 4", len(recs))
	}
}
