package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tokengate/pkg/cli"
	"mercator-hq/tokengate/pkg/limits/storage"
)

var usageFlags struct {
	since    time.Duration
	provider string
	records  bool
	limit    int
	prune    bool
	format   string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report recorded token usage",
	Long: `Summarize measured usage from the configured usage backend.

By default one row per provider is printed with call counts, estimated
tokens and measured tokens since --since ago. The ESTIMATE_ERROR column is
measured minus estimated tokens; a large negative value means admission is
reserving more than calls use.

The memory backend lives only as long as the process that recorded into
it, so this command is useful with the sqlite or redis backends.

Examples:
  # Usage over the last day
  tokengate usage

  # Individual records for one provider
  tokengate usage --records --provider openai --limit 20

  # Apply the retention period now
  tokengate usage --prune`,
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	f := usageCmd.Flags()
	f.DurationVar(&usageFlags.since, "since", 24*time.Hour, "report usage recorded within this duration")
	f.StringVar(&usageFlags.provider, "provider", "", "restrict records to one provider")
	f.BoolVar(&usageFlags.records, "records", false, "list individual records instead of summaries")
	f.IntVar(&usageFlags.limit, "limit", 100, "maximum records to list")
	f.BoolVar(&usageFlags.prune, "prune", false, "delete records older than the retention period before reporting")
	f.StringVarP(&usageFlags.format, "output", "o", "text", "output format: text, json, csv")
}

func runUsage(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(usageFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	backend, err := storage.Open(ctx, storage.FromConfig(&cfg.Usage))
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	defer backend.Close()

	if cfg.Usage.Backend == "" || cfg.Usage.Backend == storage.BackendMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "Note: the memory usage backend does not persist between runs")
	}

	if usageFlags.prune {
		scheduler := storage.NewRetentionScheduler(backend, storage.RetentionConfig{
			Period:   cfg.Usage.Retention.Period,
			Schedule: cfg.Usage.Retention.Schedule,
		})
		deleted, err := scheduler.Prune(ctx)
		if err != nil {
			return cli.NewCommandError("usage", fmt.Errorf("prune failed: %w", err))
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Pruned %d records\n", deleted)
	}

	since := time.Now().Add(-usageFlags.since)
	formatter := cli.NewFormatter(format)

	if usageFlags.records {
		records, err := backend.Query(ctx, storage.Filter{
			Provider: usageFlags.provider,
			Since:    since,
			Limit:    usageFlags.limit,
		})
		if err != nil {
			return cli.NewCommandError("usage", err)
		}
		return formatter.FormatTo(cmd.OutOrStdout(), usageRecords(records))
	}

	summaries, err := backend.Summarize(ctx, since)
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	if usageFlags.provider != "" {
		filtered := summaries[:0]
		for _, s := range summaries {
			if s.Provider == usageFlags.provider {
				filtered = append(filtered, s)
			}
		}
		summaries = filtered
	}
	return formatter.FormatTo(cmd.OutOrStdout(), usageSummaries(summaries))
}

type usageSummaries []storage.Summary

func (u usageSummaries) Header() []string {
	return []string{"PROVIDER", "CALLS", "ESTIMATED", "INPUT", "OUTPUT", "TOTAL", "ESTIMATE_ERROR", "LAST"}
}

func (u usageSummaries) Rows() [][]string {
	rows := make([][]string, 0, len(u))
	for _, s := range u {
		rows = append(rows, []string{
			s.Provider,
			strconv.FormatInt(s.Calls, 10),
			strconv.FormatInt(s.EstimatedTokens, 10),
			strconv.FormatInt(s.InputTokens, 10),
			strconv.FormatInt(s.OutputTokens, 10),
			strconv.FormatInt(s.TotalTokens(), 10),
			strconv.FormatInt(s.EstimateError(), 10),
			s.Last.Format(time.RFC3339),
		})
	}
	return rows
}

type usageRecords []*storage.UsageRecord

func (u usageRecords) Header() []string {
	return []string{"TIMESTAMP", "PROVIDER", "MODEL", "REQUEST_ID", "ATTEMPT", "ESTIMATED", "INPUT", "OUTPUT"}
}

func (u usageRecords) Rows() [][]string {
	rows := make([][]string, 0, len(u))
	for _, r := range u {
		rows = append(rows, []string{
			r.Timestamp.Format(time.RFC3339),
			r.Provider,
			r.Model,
			r.RequestID,
			strconv.Itoa(r.Attempt),
			strconv.FormatInt(r.EstimatedTokens, 10),
			strconv.FormatInt(r.InputTokens, 10),
			strconv.FormatInt(r.OutputTokens, 10),
		})
	}
	return rows
}
