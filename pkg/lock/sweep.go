package lock

import (
	"context"
	"time"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/internal/telemetry"
)

// reclaimRetention bounds how long a reclaimed-entry tombstone answers
// late heartbeats with lease_expired/force_expired before decaying to
// not_held.
const reclaimRetention = 10 * time.Minute

// runSweep drives the periodic expiry sweep until the broker closes.
func (b *Broker) runSweep() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.closed:
			return
		case <-ticker.C:
			b.sweepOnce()
		}
	}
}

// sweepOnce walks every queue and reclaims stale entries:
//
//   - granted entries whose lease lapsed without a heartbeat are
//     released as if the client had released them;
//   - granted entries past the absolute hold cap are force-released
//     regardless of heartbeats;
//   - waiting entries past their deadline with no parked waiter are
//     dropped (orphans left by a crashed client or broker restart).
//
// Returns the number of entries reclaimed.
func (b *Broker) sweepOnce() int {
	ctx, span := telemetry.StartSpan(context.Background(), telemetry.SpanSweep)
	defer span.End()

	now := b.now()
	reclaimedTotal := 0
	granted, waiting := 0, 0

	for _, sh := range b.shards {
		sh.mu.Lock()

		for key, rec := range sh.reclaimed {
			if now.Sub(rec.at) > reclaimRetention {
				delete(sh.reclaimed, key)
			}
		}

		for _, q := range sh.queues {
			reclaimedTotal += b.sweepQueueLocked(ctx, sh, q, now)
			granted += q.grantedCount()
			waiting += q.waitingCount()
			b.maybeDropQueueLocked(sh, q)
		}
		sh.mu.Unlock()
	}

	b.metrics.ObserveQueues(granted, waiting)

	if b.cfg.AuditRetention > 0 {
		if err := b.store.PruneAudit(ctx, b.cfg.AuditRetention); err != nil {
			logger.Warn("audit prune failed", logger.KeyError, err)
		}
	}

	return reclaimedTotal
}

// sweepQueueLocked reclaims stale entries on a single queue. Caller
// holds the shard mutex.
func (b *Broker) sweepQueueLocked(ctx context.Context, sh *shard, q *pathQueue, now time.Time) int {
	reclaimed := 0

	// Granted prefix first: lease lapse takes precedence over the hold
	// cap so the audit trail distinguishes a dead client from a stuck
	// one. Collect first, then remove, to avoid mutating while ranging.
	var stale []*Entry
	var staleCodes []ErrorCode
	var staleEvents []AuditEvent
	for _, e := range q.entries {
		if e.State != StateGranted {
			break
		}
		switch {
		case now.Sub(e.LastHeartbeat) > b.cfg.Lease:
			stale = append(stale, e)
			staleCodes = append(staleCodes, CodeLeaseExpired)
			staleEvents = append(staleEvents, EventExpire)
		case now.Sub(e.GrantedAt) > b.cfg.MaxHold:
			stale = append(stale, e)
			staleCodes = append(staleCodes, CodeForceExpired)
			staleEvents = append(staleEvents, EventForceExpire)
		}
	}
	for i, e := range stale {
		if err := b.store.DeleteEntry(ctx, e, b.auditRecord(staleEvents[i], e)); err != nil {
			logger.ErrorCtx(ctx, "failed to persist expiry",
				logger.KeyPath, e.Path, logger.KeyOwner, e.Owner, logger.KeyError, err)
			continue
		}
		q.remove(e.RequestID)
		sh.reclaimed[reclaimKey(e.Path, e.Owner)] = reclaimRecord{code: staleCodes[i], at: now}
		reclaimed++

		kind := "lease"
		if staleCodes[i] == CodeForceExpired {
			kind = "force"
		}
		b.metrics.RecordExpiry(kind)
		logger.WarnCtx(ctx, "reclaimed stale grant",
			logger.KeyPath, e.Path, logger.KeyOwner, e.Owner,
			logger.KeyMode, string(e.Mode), logger.KeyEvent, string(staleEvents[i]))
	}

	// Waiting suffix: drop orphaned waiters past their deadline. A
	// parked Acquire enforces its own timeout, so only entries without
	// a live waiter are swept here.
	var dead []*Entry
	for _, e := range q.entries {
		if e.State != StateWaiting {
			continue
		}
		if _, live := q.waiters[e.RequestID]; live {
			continue
		}
		if now.After(e.Deadline) {
			dead = append(dead, e)
		}
	}
	for _, e := range dead {
		if err := b.store.DeleteEntry(ctx, e, b.auditRecord(EventTimeout, e)); err != nil {
			logger.ErrorCtx(ctx, "failed to persist waiter expiry",
				logger.KeyPath, e.Path, logger.KeyOwner, e.Owner, logger.KeyError, err)
			continue
		}
		q.remove(e.RequestID)
		reclaimed++
		b.metrics.RecordExpiry("waiter")
		logger.InfoCtx(ctx, "dropped orphaned waiter",
			logger.KeyPath, e.Path, logger.KeyOwner, e.Owner, logger.KeyMode, string(e.Mode))
	}

	if reclaimed > 0 {
		b.promoteLocked(ctx, q)
	}
	return reclaimed
}
