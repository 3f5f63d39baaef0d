package proxy

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/gatefs/pkg/lock"
)

// handle tracks one open file and the lock it holds.
//
// Handle lifecycle: opening -> open (lock held, reads/writes served,
// heartbeats flowing) -> closing (lock released) or lost (lease expired
// or broker reported not_held; every subsequent operation fails with
// EIO so the editor observes the loss instead of writing on silently).
type handle struct {
	path  string // canonical lock key
	owner string // owner token minted at open
	mode  lock.Mode

	mu       sync.Mutex
	lost     bool
	released bool
	lastBeat time.Time
}

// markLost transitions the handle to the lost state. Idempotent.
func (h *handle) markLost() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return false
	}
	h.lost = true
	return true
}

// isLost reports whether the lock backing this handle is gone.
func (h *handle) isLost() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lost
}

// markReleased flags the handle's lock as released. Returns false if it
// already was (flush-then-release double call).
func (h *handle) markReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.released = true
	return true
}

// needsBeat reports whether a write-path heartbeat is due, and stamps
// the time when it is. Write-triggered heartbeats are rate-limited so a
// tight write loop does not turn into a broker flood.
func (h *handle) needsBeat(now time.Time, interval time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost || h.released {
		return false
	}
	if now.Sub(h.lastBeat) < interval {
		return false
	}
	h.lastBeat = now
	return true
}

// heldLock identifies one (path, owner) pair to heartbeat.
type heldLock struct {
	path  string
	owner string
}

// handleTable tracks open handles and indexes them by lock path so that
// metadata operations on an open path can reuse its owner token.
type handleTable struct {
	mu     sync.Mutex
	byPath map[string][]*handle
}

func newHandleTable() *handleTable {
	return &handleTable{
		byPath: make(map[string][]*handle),
	}
}

// mintOwner allocates a fresh owner token. Every open gets its own so
// that unrelated writers stay mutually exclusive.
func mintOwner() string {
	return uuid.NewString()
}

// add registers an open handle.
func (t *handleTable) add(h *handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPath[h.path] = append(t.byPath[h.path], h)
}

// remove unregisters a handle.
func (t *handleTable) remove(h *handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.byPath[h.path]
	for i, cur := range list {
		if cur == h {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.byPath, h.path)
	} else {
		t.byPath[h.path] = list
	}
}

// ownerForPath returns the owner token of an open handle on path whose
// hold can absorb an acquire in the given mode, so a metadata operation
// from the same editor re-enters the same hold instead of deadlocking
// against it.
//
// A write handle's owner serves either mode (exclusivity subsumes a
// read). A read handle's owner serves read acquires only: reusing it
// for a write would ask the broker for an upgrade, which it refuses
// with mode_conflict — the write must queue under a fresh owner and
// wait its turn behind the read handles. Fresh owners are never
// fabricated here.
func (t *handleTable) ownerForPath(path string, mode lock.Mode) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var readOwner string
	for _, h := range t.byPath[path] {
		if h.isLost() {
			continue
		}
		if h.mode == lock.ModeWrite {
			return h.owner, true
		}
		if readOwner == "" {
			readOwner = h.owner
		}
	}
	if mode == lock.ModeRead && readOwner != "" {
		return readOwner, true
	}
	return "", false
}

// held snapshots every live (path, owner) pair for the heartbeater.
func (t *handleTable) held() []heldLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []heldLock
	seen := make(map[heldLock]struct{})
	for path, list := range t.byPath {
		for _, h := range list {
			if h.isLost() {
				continue
			}
			h.mu.Lock()
			released := h.released
			h.mu.Unlock()
			if released {
				continue
			}
			key := heldLock{path: path, owner: h.owner}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

// markLostOwner marks every handle holding (path, owner) as lost.
// Returns the number of handles newly lost.
func (t *handleTable) markLostOwner(path, owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, h := range t.byPath[path] {
		if h.owner == owner && h.markLost() {
			n++
		}
	}
	return n
}

// size returns the number of open handles.
func (t *handleTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, list := range t.byPath {
		n += len(list)
	}
	return n
}
