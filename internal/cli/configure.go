package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/mira/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file with default values.
Edit it afterwards to add provider credentials and the gateway secret.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration written to: %s\n", loader.GetConfigPath())
	fmt.Println("Add provider api keys and gateway.shared_secret, then run: mira serve")

	return nil
}
