package commands

// Root command for the Cobra CLI. Registers run, status and scan and the
// configuration flags shared by all of them.

import (
	"fmt"

	"github.com/spf13/cobra"

	"nft-sales-monitor/internal/infra/config"
	logging "nft-sales-monitor/internal/infra/log"
)

var rootCmd = &cobra.Command{
	Use:   "nft-sales-monitor",
	Short: "TON NFT collection purchase monitor with Telegram notifications",
	Long: `nft-sales-monitor polls a TON indexer for the transactions of an NFT collection contract,
detects purchases and posts each one to a Telegram group exactly once across restarts.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (default ./config.yaml if present)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a .env file")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scanCmd)
}

// loadConfig reads configuration for cmd and sets up file logging.
func loadConfig(cmd *cobra.Command, offline bool, console bool) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.LoadConfig(config.LoadOptions{
		ConfigFile: configFile,
		EnvFile:    envFile,
		Flags:      cmd.Flags(),
		Offline:    offline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logging.Setup(logging.Options{
		Dir:     cfg.App.LogDir,
		Level:   cfg.App.LogLevel,
		Console: console,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
