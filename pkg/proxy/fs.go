// Package proxy implements the FUSE passthrough filesystem that routes
// every access through the lock broker.
//
// The mount mirrors a backing directory tree. Each VFS operation maps to
// a broker acquire/release pair: read-only metadata takes a shared lock,
// mutations take exclusive locks, and open handles hold their lock until
// close (or flush, in the legacy mode). Multi-path operations acquire
// their locks in lexicographic order and release in reverse, which gives
// a total order on acquisition and rules out cross-rename deadlock.
package proxy

import (
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/lock"
)

// writeFlags are the open flags that demand an exclusive lock.
const writeFlags = uint32(syscall.O_WRONLY | syscall.O_RDWR | syscall.O_TRUNC | syscall.O_APPEND)

// GateFS is the lock-brokered passthrough filesystem.
//
// It embeds the loopback filesystem for the raw backing I/O and wraps
// the operations that require arbitration. Operations not listed here
// (Access, StatFs) pass through unlocked: they read no state the broker
// guards.
type GateFS struct {
	pathfs.FileSystem

	cfg     Config
	broker  brokerClient
	handles *handleTable
	metrics Metrics
}

// NewGateFS creates the filesystem over a broker client. The metrics
// parameter may be nil.
func NewGateFS(cfg Config, broker brokerClient, metrics Metrics) *GateFS {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	return &GateFS{
		FileSystem: pathfs.NewLoopbackFileSystem(cfg.Root),
		cfg:        cfg,
		broker:     broker,
		handles:    newHandleTable(),
		metrics:    metrics,
	}
}

// String identifies the filesystem in /proc/mounts and debug output.
func (fs *GateFS) String() string {
	return "gatefs"
}

// isWriteOpen reports whether the open flags require an exclusive lock.
func isWriteOpen(flags uint32) bool {
	return flags&writeFlags != 0
}

// ============================================================================
// Read-only metadata: shared locks held for the call only
// ============================================================================

// GetAttr stats a path under a shared lock.
func (fs *GateFS) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	var attr *fuse.Attr
	status := fs.withLock("getattr", name, lock.ModeRead, func() fuse.Status {
		var st fuse.Status
		attr, st = fs.FileSystem.GetAttr(name, context)
		return st
	})
	return attr, status
}

// OpenDir lists a directory under a shared lock.
func (fs *GateFS) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	var stream []fuse.DirEntry
	status := fs.withLock("opendir", name, lock.ModeRead, func() fuse.Status {
		var st fuse.Status
		stream, st = fs.FileSystem.OpenDir(name, context)
		return st
	})
	return stream, status
}

// Readlink resolves a symlink under a shared lock.
func (fs *GateFS) Readlink(name string, context *fuse.Context) (string, fuse.Status) {
	var target string
	status := fs.withLock("readlink", name, lock.ModeRead, func() fuse.Status {
		var st fuse.Status
		target, st = fs.FileSystem.Readlink(name, context)
		return st
	})
	return target, status
}

// GetXAttr reads an extended attribute under a shared lock.
func (fs *GateFS) GetXAttr(name string, attribute string, context *fuse.Context) ([]byte, fuse.Status) {
	var data []byte
	status := fs.withLock("getxattr", name, lock.ModeRead, func() fuse.Status {
		var st fuse.Status
		data, st = fs.FileSystem.GetXAttr(name, attribute, context)
		return st
	})
	return data, status
}

// ListXAttr lists extended attributes under a shared lock.
func (fs *GateFS) ListXAttr(name string, context *fuse.Context) ([]string, fuse.Status) {
	var attrs []string
	status := fs.withLock("listxattr", name, lock.ModeRead, func() fuse.Status {
		var st fuse.Status
		attrs, st = fs.FileSystem.ListXAttr(name, context)
		return st
	})
	return attrs, status
}

// ============================================================================
// Metadata mutations: exclusive lock held for the call only
// ============================================================================

// Chmod changes permissions under an exclusive lock.
func (fs *GateFS) Chmod(name string, mode uint32, context *fuse.Context) fuse.Status {
	return fs.withLock("chmod", name, lock.ModeWrite, func() fuse.Status {
		return fs.FileSystem.Chmod(name, mode, context)
	})
}

// Chown changes ownership under an exclusive lock.
func (fs *GateFS) Chown(name string, uid uint32, gid uint32, context *fuse.Context) fuse.Status {
	return fs.withLock("chown", name, lock.ModeWrite, func() fuse.Status {
		return fs.FileSystem.Chown(name, uid, gid, context)
	})
}

// Utimens updates timestamps under an exclusive lock.
func (fs *GateFS) Utimens(name string, atime *time.Time, mtime *time.Time, context *fuse.Context) fuse.Status {
	return fs.withLock("utimens", name, lock.ModeWrite, func() fuse.Status {
		return fs.FileSystem.Utimens(name, atime, mtime, context)
	})
}

// Truncate shortens a file under an exclusive lock.
func (fs *GateFS) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	return fs.withLock("truncate", name, lock.ModeWrite, func() fuse.Status {
		return fs.FileSystem.Truncate(name, size, context)
	})
}

// SetXAttr writes an extended attribute under an exclusive lock.
func (fs *GateFS) SetXAttr(name string, attr string, data []byte, flags int, context *fuse.Context) fuse.Status {
	return fs.withLock("setxattr", name, lock.ModeWrite, func() fuse.Status {
		return fs.FileSystem.SetXAttr(name, attr, data, flags, context)
	})
}

// RemoveXAttr removes an extended attribute under an exclusive lock.
func (fs *GateFS) RemoveXAttr(name string, attr string, context *fuse.Context) fuse.Status {
	return fs.withLock("removexattr", name, lock.ModeWrite, func() fuse.Status {
		return fs.FileSystem.RemoveXAttr(name, attr, context)
	})
}

// ============================================================================
// Namespace mutations: exclusive locks on parent and target
// ============================================================================

// Mkdir creates a directory, locking the parent and the new path.
func (fs *GateFS) Mkdir(name string, mode uint32, context *fuse.Context) fuse.Status {
	return fs.withPathLocks("mkdir", []string{parentKey(name), name}, func() fuse.Status {
		return fs.FileSystem.Mkdir(name, mode, context)
	})
}

// Mknod creates a device node, locking the parent and the new path.
func (fs *GateFS) Mknod(name string, mode uint32, dev uint32, context *fuse.Context) fuse.Status {
	return fs.withPathLocks("mknod", []string{parentKey(name), name}, func() fuse.Status {
		return fs.FileSystem.Mknod(name, mode, dev, context)
	})
}

// Symlink creates a symlink, locking the parent and the new path.
func (fs *GateFS) Symlink(value string, linkName string, context *fuse.Context) fuse.Status {
	return fs.withPathLocks("symlink", []string{parentKey(linkName), linkName}, func() fuse.Status {
		return fs.FileSystem.Symlink(value, linkName, context)
	})
}

// Link creates a hard link, locking the new path's parent, the new
// path, and the existing path (its link count changes).
func (fs *GateFS) Link(oldName string, newName string, context *fuse.Context) fuse.Status {
	return fs.withPathLocks("link", []string{parentKey(newName), newName, oldName}, func() fuse.Status {
		return fs.FileSystem.Link(oldName, newName, context)
	})
}

// Unlink removes a file, locking the parent and the path.
func (fs *GateFS) Unlink(name string, context *fuse.Context) fuse.Status {
	return fs.withPathLocks("unlink", []string{parentKey(name), name}, func() fuse.Status {
		return fs.FileSystem.Unlink(name, context)
	})
}

// Rmdir removes a directory, locking the parent and the path.
func (fs *GateFS) Rmdir(name string, context *fuse.Context) fuse.Status {
	return fs.withPathLocks("rmdir", []string{parentKey(name), name}, func() fuse.Status {
		return fs.FileSystem.Rmdir(name, context)
	})
}

// Rename locks both parents and both endpoints before moving.
func (fs *GateFS) Rename(oldName string, newName string, context *fuse.Context) fuse.Status {
	names := []string{parentKey(oldName), parentKey(newName), oldName, newName}
	return fs.withPathLocks("rename", names, func() fuse.Status {
		return fs.FileSystem.Rename(oldName, newName, context)
	})
}

// ============================================================================
// Handles: lock held for the handle lifetime
// ============================================================================

// Open acquires a lock for the handle lifetime and opens the backing
// file. Read-only opens take a shared lock, anything that can mutate
// takes an exclusive one. Each open mints a fresh owner token.
func (fs *GateFS) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	start := time.Now()
	mode := lock.ModeRead
	if isWriteOpen(flags) {
		mode = lock.ModeWrite
	}

	key := lockKey(name)
	h := &handle{path: key, owner: mintOwner(), mode: mode}

	if _, err := fs.broker.Acquire(fs.ctx(), key, string(mode), h.owner, fs.cfg.AcquireTimeout); err != nil {
		logger.Warn("open: lock acquire failed",
			logger.KeyPath, key, logger.KeyMode, string(mode), logger.KeyError, err)
		fs.metrics.RecordOp("open", outcomeFromBrokerErr(err), time.Since(start))
		return nil, statusFromBrokerErr(err)
	}

	file, status := fs.FileSystem.Open(name, flags, context)
	if !status.Ok() {
		fs.releaseHandleLock(h)
		fs.metrics.RecordOp("open", "error", time.Since(start))
		return nil, status
	}

	fs.handles.add(h)
	fs.metrics.SetHeldLocks(fs.handles.size())
	fs.metrics.RecordOp("open", "ok", time.Since(start))
	logger.Debug("opened",
		logger.KeyPath, key, logger.KeyMode, string(mode), logger.KeyOwner, h.owner)
	return newLockedFile(file, fs, h), fuse.OK
}

// Create locks the parent for the creation itself and the new path for
// the handle lifetime.
func (fs *GateFS) Create(name string, flags uint32, mode uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	start := time.Now()
	key := lockKey(name)
	parent := parentKey(name)
	h := &handle{path: key, owner: mintOwner(), mode: lock.ModeWrite}

	// Parent before child: the parent key is a strict prefix, so this
	// is the lexicographic order every other multi-path op uses.
	if _, err := fs.broker.Acquire(fs.ctx(), parent, string(lock.ModeWrite), h.owner, fs.cfg.AcquireTimeout); err != nil {
		fs.metrics.RecordOp("create", outcomeFromBrokerErr(err), time.Since(start))
		return nil, statusFromBrokerErr(err)
	}
	if _, err := fs.broker.Acquire(fs.ctx(), key, string(lock.ModeWrite), h.owner, fs.cfg.AcquireTimeout); err != nil {
		fs.releasePath(parent, h.owner)
		fs.metrics.RecordOp("create", outcomeFromBrokerErr(err), time.Since(start))
		return nil, statusFromBrokerErr(err)
	}

	file, status := fs.FileSystem.Create(name, flags, mode, context)

	// The parent lock covered the directory mutation only.
	fs.releasePath(parent, h.owner)

	if !status.Ok() {
		fs.releaseHandleLock(h)
		fs.metrics.RecordOp("create", "error", time.Since(start))
		return nil, status
	}

	fs.handles.add(h)
	fs.metrics.SetHeldLocks(fs.handles.size())
	fs.metrics.RecordOp("create", "ok", time.Since(start))
	logger.Debug("created", logger.KeyPath, key, logger.KeyOwner, h.owner)
	return newLockedFile(file, fs, h), fuse.OK
}
