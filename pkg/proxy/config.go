package proxy

import (
	"fmt"
	"os"
	"time"

	"github.com/marmos91/gatefs/pkg/lock"
)

// Config controls the FUSE proxy.
type Config struct {
	// Root is the backing directory mirrored at the mount point.
	Root string

	// Mountpoint is where the gated view is mounted.
	Mountpoint string

	// BrokerHost/BrokerPort locate the broker's TCP listener.
	BrokerHost string
	BrokerPort int

	// Socket is the broker's Unix domain socket; takes precedence over
	// host/port when set.
	Socket string

	// AllowOther passes allow_other to the kernel so users other than
	// the mounting one can access the mount.
	AllowOther bool

	// ReleaseOnFlush selects the legacy policy of releasing a handle's
	// lock on flush rather than on close. Flush fires on every close of
	// a duplicated descriptor, so the default is hold-until-close.
	ReleaseOnFlush bool

	// Lease mirrors the broker's lease and paces the heartbeater at a
	// third of it.
	Lease time.Duration

	// AcquireTimeout bounds every lock acquisition; zero selects the
	// broker's default.
	AcquireTimeout time.Duration

	// Debug enables FUSE request tracing.
	Debug bool
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.BrokerHost == "" {
		c.BrokerHost = "127.0.0.1"
	}
	if c.BrokerPort == 0 {
		c.BrokerPort = 8787
	}
	if c.Lease <= 0 {
		c.Lease = lock.DefaultLease
	}
}

// Validate checks that the directories exist.
func (c *Config) Validate() error {
	if c.Root == "" || c.Mountpoint == "" {
		return fmt.Errorf("proxy: root and mountpoint are required")
	}
	for _, dir := range []string{c.Root, c.Mountpoint} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("proxy: %q is not a directory", dir)
		}
	}
	return nil
}

// heartbeatInterval is the heartbeat cadence: a third of the lease, so
// two heartbeats can be lost before the sweep reclaims the lock.
func (c *Config) heartbeatInterval() time.Duration {
	interval := c.Lease / 3
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
