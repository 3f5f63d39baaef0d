package proxy

import (
	"context"
	"path"
	"sort"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/apiclient"
	"github.com/marmos91/gatefs/pkg/lock"
)

// brokerClient is the slice of the broker API the proxy uses.
// *apiclient.Client satisfies it; tests substitute fakes.
type brokerClient interface {
	Acquire(ctx context.Context, path, mode, owner string, timeout time.Duration) (*apiclient.Entry, error)
	Release(ctx context.Context, path, owner string) error
	Heartbeat(ctx context.Context, path, owner string) error
}

// lockKey converts a pathfs-relative name to the canonical broker key:
// absolute, cleaned, no trailing slash, "/" for the mount root.
func lockKey(name string) string {
	if name == "" {
		return "/"
	}
	return path.Clean("/" + name)
}

// parentKey returns the lock key of name's parent directory.
func parentKey(name string) string {
	return path.Dir(lockKey(name))
}

// acquireOwner resolves the owner token for a lock on key: an open
// handle's token when one can absorb an acquire in this mode (so the
// operation re-enters that hold) or a fresh ephemeral token otherwise.
func (fs *GateFS) acquireOwner(key string, mode lock.Mode) string {
	if owner, ok := fs.handles.ownerForPath(key, mode); ok {
		return owner
	}
	return mintOwner()
}

// withLock acquires a single lock around fn, releasing it when fn
// returns. fn receives nothing; it closes over the paths it needs.
func (fs *GateFS) withLock(op, name string, mode lock.Mode, fn func() fuse.Status) fuse.Status {
	start := time.Now()
	key := lockKey(name)
	owner := fs.acquireOwner(key, mode)
	ctx := context.Background()

	if _, err := fs.broker.Acquire(ctx, key, string(mode), owner, fs.cfg.AcquireTimeout); err != nil {
		logger.Warn("lock acquire failed",
			logger.KeyOp, op, logger.KeyPath, key,
			logger.KeyMode, string(mode), logger.KeyError, err)
		fs.metrics.RecordOp(op, outcomeFromBrokerErr(err), time.Since(start))
		return statusFromBrokerErr(err)
	}

	status := fn()

	if err := fs.broker.Release(ctx, key, owner); err != nil {
		// The backing operation already happened; the lease will
		// reclaim the hold if this release was lost.
		logger.Warn("lock release failed",
			logger.KeyOp, op, logger.KeyPath, key, logger.KeyError, err)
	}

	fs.metrics.RecordOp(op, outcomeLabel(status), time.Since(start))
	return status
}

// withPathLocks acquires write locks on every given name in canonical
// (lexicographic) key order, runs fn, and releases in reverse order.
//
// The total order on acquisition eliminates AB/BA deadlock between
// concurrent multi-path operations (cross-renames touching overlapping
// parents).
func (fs *GateFS) withPathLocks(op string, names []string, fn func() fuse.Status) fuse.Status {
	start := time.Now()
	ctx := context.Background()

	// Dedupe keys: rename within a directory names the same parent
	// twice, and a lock key must be acquired once per operation.
	keySet := make(map[string]struct{}, len(names))
	for _, name := range names {
		keySet[lockKey(name)] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	type held struct {
		key   string
		owner string
	}
	acquired := make([]held, 0, len(keys))

	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			if err := fs.broker.Release(ctx, acquired[i].key, acquired[i].owner); err != nil {
				logger.Warn("lock release failed",
					logger.KeyOp, op, logger.KeyPath, acquired[i].key, logger.KeyError, err)
			}
		}
	}

	for _, key := range keys {
		owner := fs.acquireOwner(key, lock.ModeWrite)
		if _, err := fs.broker.Acquire(ctx, key, string(lock.ModeWrite), owner, fs.cfg.AcquireTimeout); err != nil {
			logger.Warn("lock acquire failed",
				logger.KeyOp, op, logger.KeyPath, key, logger.KeyError, err)
			release()
			fs.metrics.RecordOp(op, outcomeFromBrokerErr(err), time.Since(start))
			return statusFromBrokerErr(err)
		}
		acquired = append(acquired, held{key: key, owner: owner})
	}

	status := fn()
	release()

	fs.metrics.RecordOp(op, outcomeLabel(status), time.Since(start))
	return status
}

// outcomeLabel maps a FUSE status to a metrics outcome.
func outcomeLabel(status fuse.Status) string {
	if status.Ok() {
		return "ok"
	}
	return "error"
}
