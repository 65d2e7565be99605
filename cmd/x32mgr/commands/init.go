package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stagelink/x32mgr/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample x32mgr configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/x32mgr/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  x32mgr init

  # Initialize with custom path
  x32mgr init --config /etc/x32mgr/config.yaml

  # Force overwrite existing config
  x32mgr init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set console.ip to your mixer's address (or use x32mgr discover)")
	fmt.Println("  2. Start the server with: x32mgr start")
	fmt.Printf("  3. Or specify custom config: x32mgr start --config %s\n", configPath)

	return nil
}
