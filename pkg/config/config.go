// Package config loads and validates the gatefs configuration.
//
// Configuration sources, highest precedence first:
//  1. CLI flags (applied by the commands after Load)
//  2. GATE_* legacy environment variables (deployment contract)
//  3. GATEFS_* environment variables (read only when a configuration
//     file is found, and only for keys that file contains)
//  4. Configuration file (YAML)
//  5. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/gatefs/pkg/api"
)

// Config is the gatefs configuration shared by the broker and mount
// commands.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Broker configures the lock broker
	Broker BrokerConfig `mapstructure:"broker" yaml:"broker"`

	// Mount configures the FUSE proxy
	Mount MountConfig `mapstructure:"mount" yaml:"mount"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// BrokerConfig configures the lock broker.
type BrokerConfig struct {
	// StateDir is the directory holding the durable lock store.
	// Override: GATE_STATE_DIR
	StateDir string `mapstructure:"state_dir" validate:"required" yaml:"state_dir"`

	// API configures the broker's HTTP listener.
	// Overrides: GATE_BROKER_HOST, GATE_BROKER_PORT
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Lease is how long a grant survives without heartbeats.
	// Override: GATE_LEASE_MS (milliseconds)
	Lease time.Duration `mapstructure:"lease" validate:"gt=0" yaml:"lease"`

	// MaxHold is the absolute cap on any grant.
	// Override: GATE_MAX_HOLD_MS (milliseconds)
	MaxHold time.Duration `mapstructure:"max_hold" validate:"gt=0" yaml:"max_hold"`

	// AcquireTimeout is the default acquire timeout applied to requests
	// that carry none. Always finite.
	// Override: GATE_ACQUIRE_TIMEOUT_MS (milliseconds)
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" validate:"gt=0" yaml:"acquire_timeout"`

	// SweepInterval is the expiry sweep cadence. Zero derives it from
	// the lease.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval,omitempty"`

	// AuditRetention is the number of audit records retained.
	AuditRetention int `mapstructure:"audit_retention" yaml:"audit_retention"`
}

// MountConfig configures the FUSE proxy.
type MountConfig struct {
	// Root is the backing directory mirrored at the mount point.
	Root string `mapstructure:"root" yaml:"root"`

	// Mountpoint is where the gated view is mounted.
	Mountpoint string `mapstructure:"mountpoint" yaml:"mountpoint"`

	// BrokerHost/BrokerPort locate the broker.
	// Overrides: GATE_BROKER_HOST, GATE_BROKER_PORT
	BrokerHost string `mapstructure:"broker_host" yaml:"broker_host"`
	BrokerPort int    `mapstructure:"broker_port" validate:"omitempty,min=1,max=65535" yaml:"broker_port"`

	// Socket is the broker's Unix domain socket; takes precedence over
	// host/port when set.
	Socket string `mapstructure:"socket" yaml:"socket,omitempty"`

	// AllowOther permits access by users other than the mounting one.
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// ReleaseOnFlush selects the legacy release-on-flush hold policy.
	// Override: GATE_RELEASE_ON_FLUSH=1
	ReleaseOnFlush bool `mapstructure:"release_on_flush" yaml:"release_on_flush"`

	// AcquireTimeout bounds each lock acquisition from the mount; zero
	// defers to the broker default.
	// Override: GATE_ACQUIRE_TIMEOUT_MS (milliseconds)
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	applyLegacyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration using struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures environment variables and config file search.
func setupViper(v *viper.Viper, configPath string) {
	// GATEFS_BROKER_LEASE=30m style overrides
	v.SetEnvPrefix("GATEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// applyLegacyEnv applies the GATE_* environment contract. These names
// predate the GATEFS_ prefix and are what deployment tooling exports, so
// they override both file and GATEFS_* values.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("GATE_STATE_DIR"); v != "" {
		cfg.Broker.StateDir = v
	}
	if v := os.Getenv("GATE_BROKER_HOST"); v != "" {
		cfg.Broker.API.Host = v
		cfg.Mount.BrokerHost = v
	}
	if v := envInt("GATE_BROKER_PORT"); v > 0 {
		cfg.Broker.API.Port = v
		cfg.Mount.BrokerPort = v
	}
	if d := envMillis("GATE_LEASE_MS"); d > 0 {
		cfg.Broker.Lease = d
	}
	if d := envMillis("GATE_MAX_HOLD_MS"); d > 0 {
		cfg.Broker.MaxHold = d
	}
	if d := envMillis("GATE_ACQUIRE_TIMEOUT_MS"); d > 0 {
		cfg.Broker.AcquireTimeout = d
		cfg.Mount.AcquireTimeout = d
	}
	if v := os.Getenv("GATE_RELEASE_ON_FLUSH"); v == "1" {
		cfg.Mount.ReleaseOnFlush = true
	}
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0
	}
	return n
}

func envMillis(name string) time.Duration {
	return time.Duration(envInt(name)) * time.Millisecond
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gatefs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "gatefs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for
// the init command).
func GetConfigDir() string {
	return getConfigDir()
}
