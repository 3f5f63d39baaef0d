package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/internal/telemetry"
	"github.com/marmos91/gatefs/pkg/api"
	"github.com/marmos91/gatefs/pkg/lock"
	lockbadger "github.com/marmos91/gatefs/pkg/lock/badger"
	"github.com/marmos91/gatefs/pkg/metrics"
	promMetrics "github.com/marmos91/gatefs/pkg/metrics/prometheus"
)

var brokerFlags struct {
	stateDir         string
	host             string
	port             int
	socket           string
	leaseMs          int64
	maxHoldMs        int64
	acquireTimeoutMs int64
	sweepInterval    time.Duration
}

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the lock broker",
	Long: `Run the lock broker.

The broker owns the durable per-path FIFO queues, grants and expires
locks, and serves the lock protocol over HTTP on a loopback address or
a Unix domain socket. State survives restarts: granted locks resume
with a heartbeat grace period and waiting requests keep their
positions.`,
	RunE: runBroker,
}

func init() {
	brokerCmd.Flags().StringVar(&brokerFlags.stateDir, "state-dir", "", "durable state directory (env GATE_STATE_DIR)")
	brokerCmd.Flags().StringVar(&brokerFlags.host, "host", "", "listen address (env GATE_BROKER_HOST)")
	brokerCmd.Flags().IntVar(&brokerFlags.port, "port", 0, "listen port (env GATE_BROKER_PORT)")
	brokerCmd.Flags().StringVar(&brokerFlags.socket, "socket", "", "Unix domain socket path (overrides host/port)")
	brokerCmd.Flags().Int64Var(&brokerFlags.leaseMs, "lease-ms", 0, "lease duration in milliseconds (env GATE_LEASE_MS)")
	brokerCmd.Flags().Int64Var(&brokerFlags.maxHoldMs, "max-hold-ms", 0, "absolute hold cap in milliseconds (env GATE_MAX_HOLD_MS)")
	brokerCmd.Flags().Int64Var(&brokerFlags.acquireTimeoutMs, "acquire-timeout-ms", 0, "default acquire timeout in milliseconds (env GATE_ACQUIRE_TIMEOUT_MS)")
	brokerCmd.Flags().DurationVar(&brokerFlags.sweepInterval, "sweep-interval", 0, "expiry sweep cadence (default: lease/4)")
}

func runBroker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// CLI flags override file and environment.
	if brokerFlags.stateDir != "" {
		cfg.Broker.StateDir = brokerFlags.stateDir
	}
	if brokerFlags.host != "" {
		cfg.Broker.API.Host = brokerFlags.host
	}
	if brokerFlags.port != 0 {
		cfg.Broker.API.Port = brokerFlags.port
	}
	if brokerFlags.socket != "" {
		cfg.Broker.API.Socket = brokerFlags.socket
	}
	if brokerFlags.leaseMs > 0 {
		cfg.Broker.Lease = time.Duration(brokerFlags.leaseMs) * time.Millisecond
	}
	if brokerFlags.maxHoldMs > 0 {
		cfg.Broker.MaxHold = time.Duration(brokerFlags.maxHoldMs) * time.Millisecond
	}
	if brokerFlags.acquireTimeoutMs > 0 {
		cfg.Broker.AcquireTimeout = time.Duration(brokerFlags.acquireTimeoutMs) * time.Millisecond
	}
	if brokerFlags.sweepInterval > 0 {
		cfg.Broker.SweepInterval = brokerFlags.sweepInterval
	}

	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry and profiling are opt-in ambient infrastructure.
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "gatefs-broker",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "gatefs-broker",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	// Metrics registry must exist before the broker metrics are built.
	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsSrv = metrics.NewServer(cfg.Metrics.Port)
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	store, err := lockbadger.Open(cfg.Broker.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open lock store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	broker, err := lock.NewBroker(store, lock.Config{
		Lease:          cfg.Broker.Lease,
		MaxHold:        cfg.Broker.MaxHold,
		AcquireTimeout: cfg.Broker.AcquireTimeout,
		SweepInterval:  cfg.Broker.SweepInterval,
		AuditRetention: cfg.Broker.AuditRetention,
	}, lock.WithMetrics(promMetrics.NewBrokerMetrics()))
	if err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Error("broker close error", "error", err)
		}
	}()

	logger.Info("broker starting",
		"state_dir", cfg.Broker.StateDir,
		"lease", cfg.Broker.Lease,
		"max_hold", cfg.Broker.MaxHold,
		"acquire_timeout", cfg.Broker.AcquireTimeout)

	apiSrv := api.NewServer(cfg.Broker.API, broker)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiSrv.Start(ctx)
	}()

	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.Start(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("broker stopped gracefully")
		return nil

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("broker stopped")
		return nil
	}
}
