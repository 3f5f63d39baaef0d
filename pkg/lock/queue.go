package lock

// pathQueue is the in-memory queue for a single path.
//
// entries is ordered by RequestID. The granted entries always form a
// contiguous prefix: grants only ever promote the first waiting entry,
// and removals splice the slice without reordering. The prefix is either
// empty, a single write entry, or one or more read entries.
type pathQueue struct {
	path    string
	entries []*Entry

	// waiters maps RequestID to the channel a blocked Acquire call is
	// parked on. Entries restored from the durable store after a crash
	// have no waiter until their client retries.
	waiters map[uint64]chan waitResult
}

// waitResult is delivered to a parked Acquire when its entry is granted
// or dropped.
type waitResult struct {
	entry *Entry // granted entry snapshot, nil when dropped
	err   error
}

func newPathQueue(path string) *pathQueue {
	return &pathQueue{
		path:    path,
		waiters: make(map[uint64]chan waitResult),
	}
}

// grantedCount returns the length of the granted prefix.
func (q *pathQueue) grantedCount() int {
	n := 0
	for _, e := range q.entries {
		if e.State != StateGranted {
			break
		}
		n++
	}
	return n
}

// grantedWriter reports whether the granted prefix contains a writer.
// By the queue invariant a granted writer is alone in the prefix.
func (q *pathQueue) grantedWriter() bool {
	return len(q.entries) > 0 &&
		q.entries[0].State == StateGranted &&
		q.entries[0].Mode == ModeWrite
}

// firstWaiting returns the head of the waiting suffix, or nil.
func (q *pathQueue) firstWaiting() *Entry {
	if n := q.grantedCount(); n < len(q.entries) {
		return q.entries[n]
	}
	return nil
}

// waitingCount returns the length of the waiting suffix.
func (q *pathQueue) waitingCount() int {
	return len(q.entries) - q.grantedCount()
}

// findGranted returns the granted entry held by owner, or nil.
func (q *pathQueue) findGranted(owner string) *Entry {
	for _, e := range q.entries {
		if e.State != StateGranted {
			break
		}
		if e.Owner == owner {
			return e
		}
	}
	return nil
}

// remove splices the entry with the given RequestID out of the queue.
// Returns the removed entry, or nil if absent.
func (q *pathQueue) remove(requestID uint64) *Entry {
	for i, e := range q.entries {
		if e.RequestID == requestID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e
		}
	}
	return nil
}

// headGrantable reports whether the first waiting entry can be granted
// under the FIFO rules:
//
//   - a write is grantable when the granted prefix is empty;
//   - a read is grantable when the granted prefix is empty or contains
//     only reads.
//
// Readers behind a queued writer are never grantable because only the
// head of the waiting suffix is ever considered; this is the strict FIFO
// property that prevents writer starvation.
func (q *pathQueue) headGrantable() bool {
	head := q.firstWaiting()
	if head == nil {
		return false
	}
	switch head.Mode {
	case ModeWrite:
		return q.grantedCount() == 0
	case ModeRead:
		return !q.grantedWriter()
	default:
		return false
	}
}

// empty reports whether the queue has no entries and no parked waiters.
func (q *pathQueue) empty() bool {
	return len(q.entries) == 0 && len(q.waiters) == 0
}
