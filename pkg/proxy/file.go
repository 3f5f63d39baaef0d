package proxy

import (
	"context"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/apiclient"
)

// ctx returns the context for broker calls made from FUSE callbacks.
// FUSE callbacks have no caller context; cancellation is handled by the
// broker's acquire timeout and the client's transport deadlines.
func (fs *GateFS) ctx() context.Context {
	return context.Background()
}

// releasePath releases one hold of owner's lock on key, logging failures.
func (fs *GateFS) releasePath(key, owner string) {
	if err := fs.broker.Release(fs.ctx(), key, owner); err != nil {
		logger.Warn("lock release failed",
			logger.KeyPath, key, logger.KeyOwner, owner, logger.KeyError, err)
	}
}

// releaseHandleLock releases the lock backing h, once.
func (fs *GateFS) releaseHandleLock(h *handle) {
	if !h.markReleased() {
		return
	}
	fs.releasePath(h.path, h.owner)
}

// heartbeatHandle refreshes h's lease if one is due. A lost lease marks
// the handle lost so the editor sees the failure on its next operation.
func (fs *GateFS) heartbeatHandle(h *handle) {
	if !h.needsBeat(time.Now(), fs.cfg.heartbeatInterval()) {
		return
	}
	err := fs.broker.Heartbeat(fs.ctx(), h.path, h.owner)
	switch {
	case err == nil:
		fs.metrics.RecordHeartbeat("ok")
	case apiclient.IsLost(err):
		if fs.handles.markLostOwner(h.path, h.owner) > 0 {
			fs.metrics.RecordLostLock()
		}
		fs.metrics.RecordHeartbeat("lost")
		logger.Error("lock lost",
			logger.KeyPath, h.path, logger.KeyOwner, h.owner, logger.KeyError, err)
	default:
		fs.metrics.RecordHeartbeat("unreachable")
		logger.Warn("heartbeat failed",
			logger.KeyPath, h.path, logger.KeyOwner, h.owner, logger.KeyError, err)
	}
}

// lockedFile wraps the loopback file with the handle's lock lifecycle:
// reads and writes fail once the lock is lost, writes refresh the lease,
// and close (or flush, in the legacy mode) releases the lock.
type lockedFile struct {
	nodefs.File
	fs *GateFS
	h  *handle
}

func newLockedFile(file nodefs.File, fs *GateFS, h *handle) nodefs.File {
	return &lockedFile{File: file, fs: fs, h: h}
}

func (f *lockedFile) String() string {
	return "lockedFile(" + f.File.String() + ")"
}

// Read serves reads from the backing file. No new lock is taken: the
// handle already holds one.
func (f *lockedFile) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	if f.h.isLost() {
		return nil, fuse.EIO
	}
	return f.File.Read(dest, off)
}

// Write serves writes from the backing file, refreshing the lease as a
// side effect so an actively-writing editor never loses its lock to the
// sweep.
func (f *lockedFile) Write(data []byte, off int64) (uint32, fuse.Status) {
	if f.h.isLost() {
		return 0, fuse.EIO
	}
	f.fs.heartbeatHandle(f.h)
	return f.File.Write(data, off)
}

// Flush handles close() of one descriptor. In the legacy release-on-
// flush mode this drops the lock; otherwise it just refreshes the lease.
func (f *lockedFile) Flush() fuse.Status {
	if f.fs.cfg.ReleaseOnFlush {
		f.finalize("flush")
	} else if !f.h.isLost() {
		f.fs.heartbeatHandle(f.h)
	}
	return f.File.Flush()
}

// Fsync persists the backing file and refreshes the lease.
func (f *lockedFile) Fsync(flags int) fuse.Status {
	if f.h.isLost() {
		return fuse.EIO
	}
	f.fs.heartbeatHandle(f.h)
	return f.File.Fsync(flags)
}

// Release drops the handle's lock when the kernel closes the last
// descriptor.
func (f *lockedFile) Release() {
	f.finalize("release")
	f.File.Release()
}

// finalize removes the handle from the table and releases its lock.
// Idempotent: flush-then-release and duplicated descriptors both funnel
// through here.
func (f *lockedFile) finalize(reason string) {
	if !f.h.markReleased() {
		return
	}
	f.fs.handles.remove(f.h)
	f.fs.metrics.SetHeldLocks(f.fs.handles.size())

	if f.h.isLost() {
		// Nothing to release; the sweep already reclaimed it.
		return
	}
	logger.Debug("handle finalized",
		logger.KeyOp, reason, logger.KeyPath, f.h.path, logger.KeyOwner, f.h.owner)
	f.fs.releasePath(f.h.path, f.h.owner)
}
