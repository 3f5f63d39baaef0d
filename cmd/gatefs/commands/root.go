// Package commands implements the CLI commands for gatefs.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gatefs",
	Short: "GateFS - brokered filesystem gateway",
	Long: `GateFS serializes concurrent access to the files under a mount point.

A central lock broker grants read/write locks per path in strict FIFO
order, and a FUSE proxy routes every filesystem operation through the
broker before touching the backing tree. Queued writers cannot be
bypassed by later readers, and unrelated writers never interleave
unobserved.

Use "gatefs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
// Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/gatefs/config.yaml)")

	rootCmd.AddCommand(brokerCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// setupLogging initializes the structured logger from config.
func setupLogging(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}
