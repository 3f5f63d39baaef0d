package lock

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/internal/telemetry"
)

// numShards is the size of the shard-by-path-hash mutex set. Sharding
// only affects contention; every observable property is identical to a
// single global mutex.
const numShards = 32

// Broker arbitrates read/write access to paths in strict FIFO order.
//
// Every state transition is written to the durable store before it is
// acknowledged, so a crashed broker restarts with its queues intact:
// granted entries resume with a fresh heartbeat grace period and waiting
// entries keep their positions until their clients retry or the sweep
// reclaims them.
type Broker struct {
	cfg     Config
	store   Store
	metrics Metrics
	shards  [numShards]*shard

	// now is the clock; replaced in tests.
	now func() time.Time

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// shard guards a subset of path queues. All state transitions for a path
// happen under its shard mutex, which linearizes them.
type shard struct {
	mu     sync.Mutex
	queues map[string]*pathQueue

	// reclaimed records entries recently removed by the sweep, keyed by
	// path+"\x00"+owner, so a late heartbeat can be answered with
	// lease_expired/force_expired rather than not_held.
	reclaimed map[string]reclaimRecord
}

type reclaimRecord struct {
	code ErrorCode
	at   time.Time
}

func reclaimKey(path, owner string) string {
	return path + "\x00" + owner
}

// Option customizes a Broker.
type Option func(*Broker)

// WithMetrics attaches a metrics implementation.
func WithMetrics(m Metrics) Option {
	return func(b *Broker) {
		if m != nil {
			b.metrics = m
		}
	}
}

// NewBroker creates a broker over the given durable store, recovers any
// persisted queue state, and starts the expiry sweep.
//
// Recovery semantics: granted entries keep their persisted GrantedAt (the
// hold cap keeps counting across the restart) and get LastHeartbeat reset
// to now as a grace period for clients to reconnect. Waiting entries keep
// their queue positions and get a fresh waiter TTL; their clients either
// retry or the sweep drops them.
func NewBroker(store Store, cfg Config, opts ...Option) (*Broker, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Broker{
		cfg:     cfg,
		store:   store,
		metrics: NoOpMetrics{},
		now:     time.Now,
		closed:  make(chan struct{}),
	}
	for i := range b.shards {
		b.shards[i] = &shard{
			queues:    make(map[string]*pathQueue),
			reclaimed: make(map[string]reclaimRecord),
		}
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.recover(); err != nil {
		return nil, err
	}

	b.wg.Add(1)
	go b.runSweep()

	return b, nil
}

// Close stops the expiry sweep. In-flight acquires are failed with
// CodeClosed. The durable store is owned by the caller and is not closed.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
		for _, sh := range b.shards {
			sh.mu.Lock()
			for _, q := range sh.queues {
				for id, ch := range q.waiters {
					delete(q.waiters, id)
					select {
					case ch <- waitResult{err: &Error{Code: CodeClosed, Message: "broker shutting down"}}:
					default:
						// A grant already landed in the buffer; the
						// waiter keeps it.
					}
				}
			}
			sh.mu.Unlock()
		}
	})
	b.wg.Wait()
	return nil
}

func (b *Broker) shardFor(path string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return b.shards[h.Sum32()%numShards]
}

// recover loads persisted entries and rebuilds the in-memory queues.
func (b *Broker) recover() error {
	ctx, span := telemetry.StartSpan(context.Background(), telemetry.SpanRecover)
	defer span.End()

	entries, err := b.store.LoadEntries(ctx)
	if err != nil {
		return storeFailure("", "", err)
	}

	now := b.now()
	byPath := make(map[string][]*Entry)
	for _, e := range entries {
		byPath[e.Path] = append(byPath[e.Path], e)
	}

	granted, waiting := 0, 0
	for path, list := range byPath {
		sort.Slice(list, func(i, j int) bool {
			return list[i].RequestID < list[j].RequestID
		})
		q := newPathQueue(path)
		for _, e := range list {
			switch e.State {
			case StateGranted:
				e.LastHeartbeat = now // reconnection grace
				granted++
			case StateWaiting:
				e.Deadline = now.Add(b.cfg.AcquireTimeout)
				waiting++
			}
			q.entries = append(q.entries, e)
		}
		sh := b.shardFor(path)
		sh.queues[path] = q
	}

	if granted > 0 || waiting > 0 {
		logger.Info("recovered lock state",
			"granted", granted,
			"waiting", waiting,
			"paths", len(byPath))
	}
	return nil
}

// Acquire requests a lock on path in the given mode for owner, blocking
// until the lock is granted, the timeout elapses, or ctx is cancelled.
//
// A zero timeout selects the configured default; timeouts are always
// finite. If owner already holds a granted entry on path the hold count
// is incremented and the entry returned immediately (re-entrancy).
func (b *Broker) Acquire(ctx context.Context, path string, mode Mode, owner string, timeout time.Duration) (*Entry, error) {
	start := b.now()

	path, err := CanonicalPath(path)
	if err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, &Error{Code: CodeInvalidArgument, Path: path, Message: "invalid mode"}
	}
	if owner == "" {
		return nil, &Error{Code: CodeInvalidArgument, Path: path, Message: "empty owner"}
	}
	if timeout <= 0 {
		timeout = b.cfg.AcquireTimeout
	}

	ctx, span := telemetry.StartLockSpan(ctx, telemetry.SpanAcquire, path, string(mode), owner)
	defer span.End()

	sh := b.shardFor(path)
	sh.mu.Lock()

	q, ok := sh.queues[path]
	if !ok {
		q = newPathQueue(path)
		sh.queues[path] = q
	}

	// Re-entrant acquire: same owner, same path, already granted.
	// Same mode bumps the hold count, as does a read acquire over a
	// held write (exclusivity subsumes it). A write acquire over a held
	// read is refused: the entry would stay mode read, other readers
	// could still coalesce onto it, and the caller would mutate without
	// exclusivity.
	if held := q.findGranted(owner); held != nil {
		if mode == ModeWrite && held.Mode == ModeRead {
			sh.mu.Unlock()
			b.metrics.RecordAcquire(mode, "error", b.now().Sub(start))
			return nil, &Error{
				Code:    CodeModeConflict,
				Path:    path,
				Owner:   owner,
				Message: "owner holds a read lock; upgrades are not supported",
			}
		}
		held.HoldCount++
		rec := b.auditRecord(EventGrant, held)
		if err := b.store.PutEntry(ctx, held, rec); err != nil {
			held.HoldCount--
			sh.mu.Unlock()
			b.metrics.RecordAcquire(mode, "error", b.now().Sub(start))
			return nil, storeFailure(path, owner, err)
		}
		out := held.Clone()
		sh.mu.Unlock()
		logger.DebugCtx(ctx, "re-entrant acquire",
			logger.KeyPath, path, logger.KeyOwner, owner, logger.KeyHoldCount, out.HoldCount)
		b.metrics.RecordAcquire(mode, "reentrant", b.now().Sub(start))
		return out, nil
	}

	if q.waitingCount() >= b.cfg.MaxWaitersPerPath {
		b.maybeDropQueueLocked(sh, q)
		sh.mu.Unlock()
		b.metrics.RecordAcquire(mode, "error", b.now().Sub(start))
		return nil, &Error{Code: CodeQueueFull, Path: path, Owner: owner, Message: "waiter limit reached"}
	}

	reqID, err := b.store.NextRequestID(ctx)
	if err != nil {
		b.maybeDropQueueLocked(sh, q)
		sh.mu.Unlock()
		b.metrics.RecordAcquire(mode, "error", b.now().Sub(start))
		return nil, storeFailure(path, owner, err)
	}

	now := b.now()
	e := &Entry{
		ID:         uuid.New(),
		Path:       path,
		Owner:      owner,
		Mode:       mode,
		RequestID:  reqID,
		EnqueuedAt: now,
		State:      StateWaiting,
		Deadline:   now.Add(timeout),
	}
	if err := b.store.PutEntry(ctx, e, b.auditRecord(EventEnqueue, e)); err != nil {
		b.maybeDropQueueLocked(sh, q)
		sh.mu.Unlock()
		b.metrics.RecordAcquire(mode, "error", b.now().Sub(start))
		return nil, storeFailure(path, owner, err)
	}
	q.entries = append(q.entries, e)
	delete(sh.reclaimed, reclaimKey(path, owner))

	b.promoteLocked(ctx, q)

	if e.State == StateGranted {
		out := e.Clone()
		sh.mu.Unlock()
		b.metrics.RecordAcquire(mode, "granted", b.now().Sub(start))
		return out, nil
	}

	// Not immediately grantable: park until promotion, timeout, or
	// cancellation.
	ch := make(chan waitResult, 1)
	q.waiters[e.RequestID] = ch
	sh.mu.Unlock()

	logger.DebugCtx(ctx, "acquire queued",
		logger.KeyPath, path, logger.KeyOwner, owner,
		logger.KeyMode, string(mode), logger.KeyRequestID, reqID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cancelCause error
	select {
	case res := <-ch:
		if res.err != nil {
			b.metrics.RecordAcquire(mode, "timeout", b.now().Sub(start))
			return nil, res.err
		}
		b.metrics.RecordAcquire(mode, "granted", b.now().Sub(start))
		return res.entry, nil
	case <-timer.C:
		cancelCause = &Error{Code: CodeQueueTimeout, Path: path, Owner: owner, Message: "acquire timed out"}
	case <-ctx.Done():
		cancelCause = ctx.Err()
	case <-b.closed:
		cancelCause = &Error{Code: CodeClosed, Message: "broker shutting down"}
	}

	// Timed out or cancelled. The entry may have been granted between
	// the select firing and us reacquiring the shard mutex; accept the
	// grant in that case rather than leaking it.
	sh.mu.Lock()
	select {
	case res := <-ch:
		sh.mu.Unlock()
		if res.err != nil {
			b.metrics.RecordAcquire(mode, "timeout", b.now().Sub(start))
			return nil, res.err
		}
		b.metrics.RecordAcquire(mode, "granted", b.now().Sub(start))
		return res.entry, nil
	default:
	}
	delete(q.waiters, e.RequestID)

	// On shutdown the waiting entry stays durable so a restarted broker
	// restores the queue position; only a real timeout or cancellation
	// withdraws the request.
	if lockErr, ok := cancelCause.(*Error); !ok || lockErr.Code != CodeClosed {
		if removed := q.remove(e.RequestID); removed != nil {
			if err := b.store.DeleteEntry(ctx, removed, b.auditRecord(EventTimeout, removed)); err != nil {
				logger.ErrorCtx(ctx, "failed to persist waiter removal", logger.KeyError, err)
			}
			// Dropping a waiter can unblock its successors.
			b.promoteLocked(ctx, q)
		}
		b.maybeDropQueueLocked(sh, q)
	}
	sh.mu.Unlock()

	b.metrics.RecordAcquire(mode, "timeout", b.now().Sub(start))
	return nil, cancelCause
}

// Release decrements the hold count of owner's granted entry on path,
// removing the entry and promoting successors when it reaches zero.
func (b *Broker) Release(ctx context.Context, path, owner string) error {
	path, err := CanonicalPath(path)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartLockSpan(ctx, telemetry.SpanRelease, path, "", owner)
	defer span.End()

	sh := b.shardFor(path)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	q := sh.queues[path]
	if q == nil {
		b.metrics.RecordRelease("", "not_held")
		return &Error{Code: CodeNotHeld, Path: path, Owner: owner}
	}
	e := q.findGranted(owner)
	if e == nil {
		b.metrics.RecordRelease("", "not_held")
		return &Error{Code: CodeNotHeld, Path: path, Owner: owner}
	}

	if e.HoldCount > 1 {
		e.HoldCount--
		if err := b.store.PutEntry(ctx, e, b.auditRecord(EventRelease, e)); err != nil {
			e.HoldCount++
			return storeFailure(path, owner, err)
		}
		b.metrics.RecordRelease(e.Mode, "released")
		logger.DebugCtx(ctx, "release decremented hold",
			logger.KeyPath, path, logger.KeyOwner, owner, logger.KeyHoldCount, e.HoldCount)
		return nil
	}

	if err := b.store.DeleteEntry(ctx, e, b.auditRecord(EventRelease, e)); err != nil {
		return storeFailure(path, owner, err)
	}
	q.remove(e.RequestID)
	b.metrics.RecordRelease(e.Mode, "released")
	logger.DebugCtx(ctx, "released",
		logger.KeyPath, path, logger.KeyOwner, owner, logger.KeyMode, string(e.Mode))

	b.promoteLocked(ctx, q)
	b.maybeDropQueueLocked(sh, q)
	return nil
}

// Heartbeat refreshes the lease of owner's granted entry on path.
//
// Returns nil on success, CodeNotHeld if no such entry exists, or
// CodeLeaseExpired/CodeForceExpired if the sweep reclaimed the entry
// since the holder's last contact.
func (b *Broker) Heartbeat(ctx context.Context, path, owner string) error {
	path, err := CanonicalPath(path)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartLockSpan(ctx, telemetry.SpanHeartbeat, path, "", owner)
	defer span.End()

	sh := b.shardFor(path)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if q := sh.queues[path]; q != nil {
		if e := q.findGranted(owner); e != nil {
			e.LastHeartbeat = b.now()
			if err := b.store.PutEntry(ctx, e, b.auditRecord(EventHeartbeat, e)); err != nil {
				return storeFailure(path, owner, err)
			}
			b.metrics.RecordHeartbeat("ok")
			return nil
		}
	}

	if rec, ok := sh.reclaimed[reclaimKey(path, owner)]; ok {
		b.metrics.RecordHeartbeat("expired")
		return &Error{Code: rec.code, Path: path, Owner: owner, Message: "entry reclaimed by expiry sweep"}
	}

	b.metrics.RecordHeartbeat("not_held")
	return &Error{Code: CodeNotHeld, Path: path, Owner: owner}
}

// Status returns the queue contents for one path, or for every path when
// path is empty. Entries are snapshots ordered by RequestID; paths are
// sorted.
func (b *Broker) Status(ctx context.Context, path string) ([]PathStatus, error) {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanStatus)
	defer span.End()

	if path != "" {
		p, err := CanonicalPath(path)
		if err != nil {
			return nil, err
		}
		sh := b.shardFor(p)
		sh.mu.Lock()
		defer sh.mu.Unlock()
		q := sh.queues[p]
		if q == nil || len(q.entries) == 0 {
			return nil, nil
		}
		return []PathStatus{snapshotQueue(q)}, nil
	}

	var out []PathStatus
	for _, sh := range b.shards {
		sh.mu.Lock()
		for _, q := range sh.queues {
			if len(q.entries) > 0 {
				out = append(out, snapshotQueue(q))
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Audit returns up to limit audit records, newest first.
func (b *Broker) Audit(ctx context.Context, limit int) ([]AuditRecord, error) {
	recs, err := b.store.Audit(ctx, limit)
	if err != nil {
		return nil, storeFailure("", "", err)
	}
	return recs, nil
}

func snapshotQueue(q *pathQueue) PathStatus {
	st := PathStatus{Path: q.path, Entries: make([]*Entry, 0, len(q.entries))}
	for _, e := range q.entries {
		st.Entries = append(st.Entries, e.Clone())
	}
	return st
}

// promoteLocked grants as many waiting entries as the FIFO rules permit:
// either the single writer at the head of the waiting suffix, or the run
// of consecutive readers up to the next writer. Callers hold the shard
// mutex.
//
// A store failure during promotion leaves the entry waiting and stops
// the pass; the next transition on the path retries.
func (b *Broker) promoteLocked(ctx context.Context, q *pathQueue) {
	now := b.now()
	for q.headGrantable() {
		e := q.firstWaiting()
		e.State = StateGranted
		e.GrantedAt = now
		e.LastHeartbeat = now
		e.HoldCount = 1
		if err := b.store.PutEntry(ctx, e, b.auditRecord(EventGrant, e)); err != nil {
			e.State = StateWaiting
			e.GrantedAt = time.Time{}
			e.LastHeartbeat = time.Time{}
			e.HoldCount = 0
			logger.ErrorCtx(ctx, "failed to persist grant",
				logger.KeyPath, q.path, logger.KeyOwner, e.Owner, logger.KeyError, err)
			return
		}

		logger.DebugCtx(ctx, "granted",
			logger.KeyPath, q.path, logger.KeyOwner, e.Owner,
			logger.KeyMode, string(e.Mode), logger.KeyRequestID, e.RequestID)

		if ch, ok := q.waiters[e.RequestID]; ok {
			delete(q.waiters, e.RequestID)
			ch <- waitResult{entry: e.Clone()}
		}
	}
}

// maybeDropQueueLocked frees the per-path queue once it is fully drained.
func (b *Broker) maybeDropQueueLocked(sh *shard, q *pathQueue) {
	if q.empty() {
		delete(sh.queues, q.path)
	}
}

func (b *Broker) auditRecord(event AuditEvent, e *Entry) *AuditRecord {
	seq, err := b.store.NextAuditSeq(context.Background())
	if err != nil {
		// The audit log is best effort relative to the entry write;
		// losing a sequence number must not fail the lock operation.
		logger.Error("failed to allocate audit sequence", logger.KeyError, err)
		return nil
	}
	return &AuditRecord{
		Seq:       seq,
		Timestamp: b.now(),
		Event:     event,
		Path:      e.Path,
		Owner:     e.Owner,
		Mode:      e.Mode,
		RequestID: e.RequestID,
	}
}
