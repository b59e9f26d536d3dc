package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/tokengate/pkg/cli"
	"mercator-hq/tokengate/pkg/config"
	"mercator-hq/tokengate/pkg/limits"
)

var validateFormat string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration with environment overrides, validate it and print
the effective limits for each provider.

Exit code 2 means the configuration is invalid.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateFormat, "output", "o", "text", "output format: text, json, csv")
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(validateFormat)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if format == cli.FormatText {
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s is valid\n\n", cfgFile)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), newProviderTable(cfg))
}

type providerRow struct {
	Name          string `json:"name"`
	Model         string `json:"model"`
	TPM           int64  `json:"tokens_per_minute"`
	RPM           int64  `json:"requests_per_minute"`
	MaxConcurrent int    `json:"max_concurrent"`
	MaxAttempts   int    `json:"max_attempts"`
	BackoffBase   string `json:"backoff_base"`
}

type providerTable []providerRow

func newProviderTable(cfg *config.Config) providerTable {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	table := make(providerTable, 0, len(names))
	for _, name := range names {
		p := cfg.Providers[name]
		retry := limits.RetryPolicyFromConfig(p.Retry)
		table = append(table, providerRow{
			Name:          name,
			Model:         p.Model,
			TPM:           p.Limits.TokensPerMinute,
			RPM:           p.Limits.RequestsPerMinute,
			MaxConcurrent: p.Limits.MaxConcurrent,
			MaxAttempts:   retry.MaxAttempts,
			BackoffBase:   retry.BackoffBase.String(),
		})
	}
	return table
}

func (t providerTable) Header() []string {
	return []string{"NAME", "MODEL", "TPM", "RPM", "CONCURRENT", "ATTEMPTS", "BACKOFF"}
}

func (t providerTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, p := range t {
		rows = append(rows, []string{
			p.Name,
			p.Model,
			strconv.FormatInt(p.TPM, 10),
			strconv.FormatInt(p.RPM, 10),
			strconv.Itoa(p.MaxConcurrent),
			strconv.Itoa(p.MaxAttempts),
			p.BackoffBase,
		})
	}
	return rows
}
