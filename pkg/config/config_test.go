package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/gatefs/pkg/lock"
)

func TestDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, "stderr", cfg.Logging.Output)

	require.Equal(t, DefaultStateDir, cfg.Broker.StateDir)
	require.Equal(t, DefaultBrokerHost, cfg.Broker.API.Host)
	require.Equal(t, DefaultBrokerPort, cfg.Broker.API.Port)
	require.Equal(t, lock.DefaultLease, cfg.Broker.Lease)
	require.Equal(t, lock.DefaultMaxHold, cfg.Broker.MaxHold)
	require.Equal(t, lock.DefaultAcquireTimeout, cfg.Broker.AcquireTimeout)

	require.Equal(t, DefaultBrokerHost, cfg.Mount.BrokerHost)
	require.Equal(t, DefaultBrokerPort, cfg.Mount.BrokerPort)
	require.False(t, cfg.Mount.ReleaseOnFlush)

	require.NoError(t, Validate(cfg))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: json
  output: stderr
broker:
  state_dir: /tmp/gate-state
  api:
    host: 0.0.0.0
    port: 9999
  lease: 30s
  max_hold: 10m
  acquire_timeout: 5s
mount:
  broker_host: 10.0.0.1
  broker_port: 9999
  release_on_flush: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "DEBUG", cfg.Logging.Level) // normalized
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "/tmp/gate-state", cfg.Broker.StateDir)
	require.Equal(t, "0.0.0.0", cfg.Broker.API.Host)
	require.Equal(t, 9999, cfg.Broker.API.Port)
	require.Equal(t, 30*time.Second, cfg.Broker.Lease)
	require.Equal(t, 10*time.Minute, cfg.Broker.MaxHold)
	require.Equal(t, 5*time.Second, cfg.Broker.AcquireTimeout)
	require.Equal(t, "10.0.0.1", cfg.Mount.BrokerHost)
	require.True(t, cfg.Mount.ReleaseOnFlush)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultStateDir, cfg.Broker.StateDir)
}

func TestLegacyEnvOverrides(t *testing.T) {
	t.Setenv("GATE_STATE_DIR", "/srv/gate")
	t.Setenv("GATE_BROKER_HOST", "192.168.1.5")
	t.Setenv("GATE_BROKER_PORT", "7000")
	t.Setenv("GATE_LEASE_MS", "120000")
	t.Setenv("GATE_MAX_HOLD_MS", "600000")
	t.Setenv("GATE_ACQUIRE_TIMEOUT_MS", "15000")
	t.Setenv("GATE_RELEASE_ON_FLUSH", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	require.Equal(t, "/srv/gate", cfg.Broker.StateDir)
	require.Equal(t, "192.168.1.5", cfg.Broker.API.Host)
	require.Equal(t, 7000, cfg.Broker.API.Port)
	require.Equal(t, "192.168.1.5", cfg.Mount.BrokerHost)
	require.Equal(t, 7000, cfg.Mount.BrokerPort)
	require.Equal(t, 2*time.Minute, cfg.Broker.Lease)
	require.Equal(t, 10*time.Minute, cfg.Broker.MaxHold)
	require.Equal(t, 15*time.Second, cfg.Broker.AcquireTimeout)
	require.Equal(t, 15*time.Second, cfg.Mount.AcquireTimeout)
	require.True(t, cfg.Mount.ReleaseOnFlush)
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "VERBOSE"
	require.Error(t, Validate(cfg))
}

func TestInitConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, InitConfigToPath(path, false))

	// The generated sample must load cleanly.
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/gatefs", cfg.Broker.StateDir)
	require.Equal(t, time.Hour, cfg.Broker.Lease)

	// Refuses to overwrite without force.
	require.Error(t, InitConfigToPath(path, false))
	require.NoError(t, InitConfigToPath(path, true))
}
