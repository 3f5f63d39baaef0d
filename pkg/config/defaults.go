package config

import (
	"strings"
	"time"

	"github.com/marmos91/gatefs/pkg/lock"
)

// Default values not derived from other packages.
const (
	DefaultStateDir       = "/var/lib/gatefs"
	DefaultBrokerHost     = "127.0.0.1"
	DefaultBrokerPort     = 8787
	DefaultMetricsPort    = 9090
	DefaultShutdownWindow = 30 * time.Second
)

// GetDefaultConfig returns a fully-defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyBrokerDefaults(&cfg.Broker)
	applyMountDefaults(&cfg.Mount)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownWindow
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_space",
			"inuse_space",
			"goroutines",
			"mutex_duration",
		}
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// applyBrokerDefaults sets broker defaults. Timing defaults come from
// the lock package so broker and library agree.
func applyBrokerDefaults(cfg *BrokerConfig) {
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.API.Host == "" {
		cfg.API.Host = DefaultBrokerHost
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = DefaultBrokerPort
	}
	if cfg.Lease == 0 {
		cfg.Lease = lock.DefaultLease
	}
	if cfg.MaxHold == 0 {
		cfg.MaxHold = lock.DefaultMaxHold
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = lock.DefaultAcquireTimeout
	}
	if cfg.AuditRetention == 0 {
		cfg.AuditRetention = lock.DefaultAuditRetention
	}
}

// applyMountDefaults sets proxy defaults.
func applyMountDefaults(cfg *MountConfig) {
	if cfg.BrokerHost == "" {
		cfg.BrokerHost = DefaultBrokerHost
	}
	if cfg.BrokerPort == 0 {
		cfg.BrokerPort = DefaultBrokerPort
	}
}
