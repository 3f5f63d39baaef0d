package proxy

import (
	"time"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/apiclient"
)

// heartbeater is the single background task that keeps every held lock
// alive. It ticks at a third of the lease, so two consecutive beats can
// be lost before the broker's sweep reclaims a lock.
type heartbeater struct {
	fs       *GateFS
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func newHeartbeater(fs *GateFS) *heartbeater {
	return &heartbeater{
		fs:       fs,
		interval: fs.cfg.heartbeatInterval(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start launches the heartbeat loop.
func (hb *heartbeater) start() {
	go hb.run()
}

// close stops the loop and waits for it to drain.
func (hb *heartbeater) close() {
	close(hb.stop)
	<-hb.done
}

func (hb *heartbeater) run() {
	defer close(hb.done)

	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.stop:
			return
		case <-ticker.C:
			hb.beatAll()
		}
	}
}

// beatAll heartbeats every held lock. A heartbeat answered with
// not_held or expired is fatal to the handles on that lock: they are
// marked lost, and every subsequent operation on them fails with EIO so
// the editor observes the loss rather than writing on unprotected.
func (hb *heartbeater) beatAll() {
	held := hb.fs.handles.held()
	hb.fs.metrics.SetHeldLocks(hb.fs.handles.size())

	for _, hl := range held {
		err := hb.fs.broker.Heartbeat(hb.fs.ctx(), hl.path, hl.owner)
		switch {
		case err == nil:
			hb.fs.metrics.RecordHeartbeat("ok")
		case apiclient.IsLost(err):
			if hb.fs.handles.markLostOwner(hl.path, hl.owner) > 0 {
				hb.fs.metrics.RecordLostLock()
			}
			hb.fs.metrics.RecordHeartbeat("lost")
			logger.Error("lock lost",
				logger.KeyPath, hl.path, logger.KeyOwner, hl.owner, logger.KeyError, err)
		default:
			// Transient transport trouble: keep the handle alive and
			// retry next tick; the lease gives us slack for two misses.
			hb.fs.metrics.RecordHeartbeat("unreachable")
			logger.Warn("heartbeat failed",
				logger.KeyPath, hl.path, logger.KeyOwner, hl.owner, logger.KeyError, err)
		}
	}
}
