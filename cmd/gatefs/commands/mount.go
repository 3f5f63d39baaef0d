package commands

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/metrics"
	promMetrics "github.com/marmos91/gatefs/pkg/metrics/prometheus"
	"github.com/marmos91/gatefs/pkg/proxy"
)

var mountFlags struct {
	root             string
	mountpoint       string
	brokerHost       string
	brokerPort       int
	socket           string
	foreground       bool
	allowOther       bool
	acquireTimeoutMs int64
	maxHoldMs        int64
	debug            bool
}

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the gated filesystem",
	Long: `Mount the gated filesystem.

The mount mirrors the backing directory; every open, write, rename, and
metadata operation acquires the matching lock from the broker before the
backing I/O happens. Locks for open handles are held until close and
kept alive by a background heartbeat. Set GATE_RELEASE_ON_FLUSH=1 to
select the legacy hold-until-flush policy.`,
	RunE: runMount,
}

func init() {
	mountCmd.Flags().StringVar(&mountFlags.root, "root", "", "backing directory (required)")
	mountCmd.Flags().StringVar(&mountFlags.mountpoint, "mount", "", "mount point (required)")
	mountCmd.Flags().StringVar(&mountFlags.brokerHost, "broker-host", "", "broker address (env GATE_BROKER_HOST)")
	mountCmd.Flags().IntVar(&mountFlags.brokerPort, "broker-port", 0, "broker port (env GATE_BROKER_PORT)")
	mountCmd.Flags().StringVar(&mountFlags.socket, "socket", "", "broker Unix domain socket (overrides host/port)")
	mountCmd.Flags().BoolVar(&mountFlags.foreground, "foreground", false, "stay attached to the terminal")
	mountCmd.Flags().BoolVar(&mountFlags.allowOther, "allow-other", false, "allow access by other users")
	mountCmd.Flags().Int64Var(&mountFlags.acquireTimeoutMs, "acquire-timeout-ms", 0, "lock acquire timeout in milliseconds (env GATE_ACQUIRE_TIMEOUT_MS)")
	mountCmd.Flags().Int64Var(&mountFlags.maxHoldMs, "max-hold-ms", 0, "accepted for compatibility; the hold cap is enforced by the broker")
	mountCmd.Flags().BoolVar(&mountFlags.debug, "debug", false, "trace FUSE requests")

	_ = mountCmd.MarkFlagRequired("root")
	_ = mountCmd.MarkFlagRequired("mount")
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if mountFlags.root != "" {
		cfg.Mount.Root = mountFlags.root
	}
	if mountFlags.mountpoint != "" {
		cfg.Mount.Mountpoint = mountFlags.mountpoint
	}
	if mountFlags.brokerHost != "" {
		cfg.Mount.BrokerHost = mountFlags.brokerHost
	}
	if mountFlags.brokerPort != 0 {
		cfg.Mount.BrokerPort = mountFlags.brokerPort
	}
	if mountFlags.socket != "" {
		cfg.Mount.Socket = mountFlags.socket
	}
	if mountFlags.allowOther {
		cfg.Mount.AllowOther = true
	}
	if mountFlags.acquireTimeoutMs > 0 {
		cfg.Mount.AcquireTimeout = time.Duration(mountFlags.acquireTimeoutMs) * time.Millisecond
	}
	if mountFlags.maxHoldMs > 0 {
		logger.Warn("--max-hold-ms is enforced by the broker; configure it there", "max_hold_ms", mountFlags.maxHoldMs)
	}

	if !mountFlags.foreground {
		return daemonize()
	}

	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	var proxyMetrics proxy.Metrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		proxyMetrics = promMetrics.NewProxyMetrics()
	}

	srv, err := proxy.Mount(proxy.Config{
		Root:           cfg.Mount.Root,
		Mountpoint:     cfg.Mount.Mountpoint,
		BrokerHost:     cfg.Mount.BrokerHost,
		BrokerPort:     cfg.Mount.BrokerPort,
		Socket:         cfg.Mount.Socket,
		AllowOther:     cfg.Mount.AllowOther,
		ReleaseOnFlush: cfg.Mount.ReleaseOnFlush,
		Lease:          cfg.Broker.Lease,
		AcquireTimeout: cfg.Mount.AcquireTimeout,
		Debug:          mountFlags.debug,
	}, proxyMetrics)
	if err != nil {
		return err
	}

	if err := srv.WaitMount(); err != nil {
		return fmt.Errorf("mount did not complete: %w", err)
	}

	// Unmount on SIGINT/SIGTERM; Serve returns once the kernel detaches.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("signal received, unmounting")
		if err := srv.Unmount(); err != nil {
			logger.Error("unmount failed", "error", err)
		}
	}()

	srv.Serve()
	return nil
}

// daemonize re-executes the mount command detached from the terminal.
// The child runs with --foreground in a new session; the parent prints
// its PID and returns.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	args := append([]string{}, os.Args[1:]...)
	args = append(args, "--foreground")

	child := exec.Command(exe, args...)
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start background mount: %w", err)
	}

	fmt.Printf("gatefs mount running in background (pid %d)\n", child.Process.Pid)
	return nil
}
