package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/tokengate/pkg/cli"
	"mercator-hq/tokengate/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tokengate",
	Short: "tokengate - admission control for LLM API calls",
	Long: `tokengate keeps LLM API traffic under provider rate limits.

Each provider gets a controller that:
  - Reserves estimated tokens before a call is sent
  - Waits while the rolling one-minute window is at its TPM or RPM ceiling
  - Caps concurrent in-flight calls
  - Replaces estimates with measured usage once the call returns
  - Retries transient failures with exponential backoff`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code for its error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}

// loadConfig loads cfgFile with environment overrides and installs it as the
// process configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	config.SetConfig(cfg)
	return cfg, nil
}
