package lock

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func qe(owner string, mode Mode, reqID uint64, state State) *Entry {
	e := &Entry{
		ID:         uuid.New(),
		Path:       "/f",
		Owner:      owner,
		Mode:       mode,
		RequestID:  reqID,
		EnqueuedAt: time.Now(),
		State:      state,
	}
	if state == StateGranted {
		e.GrantedAt = time.Now()
		e.LastHeartbeat = e.GrantedAt
		e.HoldCount = 1
	}
	return e
}

func TestHeadGrantable_WriteNeedsEmptyPrefix(t *testing.T) {
	t.Parallel()

	q := newPathQueue("/f")
	q.entries = []*Entry{qe("w1", ModeWrite, 1, StateWaiting)}
	if !q.headGrantable() {
		t.Error("lone waiting writer should be grantable")
	}

	q.entries = []*Entry{
		qe("r1", ModeRead, 1, StateGranted),
		qe("w1", ModeWrite, 2, StateWaiting),
	}
	if q.headGrantable() {
		t.Error("writer must wait for the granted reader")
	}
}

func TestHeadGrantable_ReadBehindGrantedReads(t *testing.T) {
	t.Parallel()

	q := newPathQueue("/f")
	q.entries = []*Entry{
		qe("r1", ModeRead, 1, StateGranted),
		qe("r2", ModeRead, 2, StateGranted),
		qe("r3", ModeRead, 3, StateWaiting),
	}
	if !q.headGrantable() {
		t.Error("reader behind granted readers should be grantable")
	}
}

func TestHeadGrantable_ReadBlockedByGrantedWriter(t *testing.T) {
	t.Parallel()

	q := newPathQueue("/f")
	q.entries = []*Entry{
		qe("w1", ModeWrite, 1, StateGranted),
		qe("r1", ModeRead, 2, StateWaiting),
	}
	if q.headGrantable() {
		t.Error("reader must wait for the granted writer")
	}
}

func TestHeadGrantable_ReadNeverPassesQueuedWriter(t *testing.T) {
	t.Parallel()

	// The FIFO headline property: only the head of the waiting suffix
	// is considered, so a reader behind a queued writer is not
	// grantable even though the granted prefix is all reads.
	q := newPathQueue("/f")
	q.entries = []*Entry{
		qe("r1", ModeRead, 1, StateGranted),
		qe("w1", ModeWrite, 2, StateWaiting),
		qe("r2", ModeRead, 3, StateWaiting),
	}
	if q.headGrantable() {
		t.Error("head (writer) must not be grantable while a reader holds")
	}
	if head := q.firstWaiting(); head == nil || head.Mode != ModeWrite {
		t.Fatal("head of waiting suffix should be the writer")
	}
}

func TestGrantedCountAndWriter(t *testing.T) {
	t.Parallel()

	q := newPathQueue("/f")
	if q.grantedCount() != 0 || q.grantedWriter() {
		t.Error("empty queue should have no granted prefix")
	}

	q.entries = []*Entry{
		qe("w1", ModeWrite, 1, StateGranted),
		qe("r1", ModeRead, 2, StateWaiting),
	}
	if q.grantedCount() != 1 {
		t.Errorf("grantedCount = %d, want 1", q.grantedCount())
	}
	if !q.grantedWriter() {
		t.Error("expected granted writer")
	}
	if q.waitingCount() != 1 {
		t.Errorf("waitingCount = %d, want 1", q.waitingCount())
	}
}

func TestFindGrantedStopsAtWaiting(t *testing.T) {
	t.Parallel()

	q := newPathQueue("/f")
	q.entries = []*Entry{
		qe("r1", ModeRead, 1, StateGranted),
		qe("r2", ModeRead, 2, StateWaiting),
	}
	if q.findGranted("r1") == nil {
		t.Error("r1 should be found in granted prefix")
	}
	if q.findGranted("r2") != nil {
		t.Error("waiting r2 must not be reported as granted")
	}
}

func TestRemoveKeepsOrder(t *testing.T) {
	t.Parallel()

	q := newPathQueue("/f")
	q.entries = []*Entry{
		qe("a", ModeRead, 1, StateGranted),
		qe("b", ModeWrite, 2, StateWaiting),
		qe("c", ModeRead, 3, StateWaiting),
	}

	removed := q.remove(2)
	if removed == nil || removed.Owner != "b" {
		t.Fatalf("remove(2) = %v, want entry b", removed)
	}
	if len(q.entries) != 2 || q.entries[0].Owner != "a" || q.entries[1].Owner != "c" {
		t.Errorf("unexpected queue after removal: %v", q.entries)
	}
	if q.remove(99) != nil {
		t.Error("removing a missing request should return nil")
	}
}
