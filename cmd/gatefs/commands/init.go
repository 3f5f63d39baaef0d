package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/marmos91/gatefs/pkg/config"
)

var initFlags struct {
	force bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.force, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.GetDefaultConfigPath()
	if cfgFile != "" {
		path = cfgFile
	}

	force := initFlags.force
	if !force {
		if _, err := os.Stat(path); err == nil {
			prompt := promptui.Prompt{
				Label:     fmt.Sprintf("Config file %s exists, overwrite", path),
				IsConfirm: true,
			}
			if _, err := prompt.Run(); err != nil {
				if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
					fmt.Println("aborted")
					return nil
				}
				return err
			}
			force = true
		}
	}

	if err := config.InitConfigToPath(path, force); err != nil {
		return err
	}

	fmt.Printf("Configuration file created at: %s\n\n", path)
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the configuration (state_dir, broker address)")
	fmt.Println("  2. Start the broker:  gatefs broker")
	fmt.Println("  3. Mount a tree:      gatefs mount --root DIR --mount DIR --foreground")
	return nil
}
