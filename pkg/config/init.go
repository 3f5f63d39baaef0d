package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration written by `gatefs init`.
const sampleConfig = `# gatefs configuration
#
# The broker section configures the lock broker (gatefs broker); the
# mount section configures the FUSE proxy (gatefs mount). Both commands
# read this same file.
#
# Every value can be overridden with GATEFS_<SECTION>_<KEY> environment
# variables (e.g. GATEFS_LOGGING_LEVEL=DEBUG). The legacy GATE_* names
# (GATE_STATE_DIR, GATE_BROKER_HOST, GATE_BROKER_PORT, GATE_LEASE_MS,
# GATE_MAX_HOLD_MS, GATE_ACQUIRE_TIMEOUT_MS, GATE_RELEASE_ON_FLUSH)
# take precedence over both.

logging:
  level: INFO       # DEBUG, INFO, WARN, ERROR
  format: text      # text, json
  output: stderr    # stdout, stderr, or a file path

telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  sample_rate: 1.0
  profiling:
    enabled: false
    endpoint: http://localhost:4040

metrics:
  enabled: false
  port: 9090

broker:
  state_dir: /var/lib/gatefs
  api:
    host: 127.0.0.1
    port: 8787
    # socket: /run/gatefs/broker.sock   # Unix socket; overrides host/port
  lease: 1h             # grant survives this long without heartbeats
  max_hold: 1h          # absolute cap per grant, heartbeats or not
  acquire_timeout: 60s  # default wait bound for acquires without one
  audit_retention: 10000

mount:
  root: ""              # backing directory (required for gatefs mount)
  mountpoint: ""        # mount target (required for gatefs mount)
  broker_host: 127.0.0.1
  broker_port: 8787
  # socket: /run/gatefs/broker.sock
  allow_other: false
  release_on_flush: false   # legacy hold-until-flush policy

shutdown_timeout: 30s
`

// InitConfig writes the sample configuration to the default location.
// Returns the path written.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the sample configuration to the given path.
// Refuses to overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
