package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/tokengate/pkg/cli"
	"mercator-hq/tokengate/pkg/config"
	"mercator-hq/tokengate/pkg/providers"
	"mercator-hq/tokengate/pkg/providers/openai"
)

var runFlags struct {
	provider    string
	prompts     string
	maxTokens   int64
	concurrency int
	output      string
	logLevel    string
	serve       bool
	watch       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Complete prompts through a rate-limited provider",
	Long: `Read prompts (one per line) and complete them concurrently through the
configured provider. Every call is admitted by the provider's controller, so
the configured TPM, RPM and concurrency ceilings are never exceeded.

While running, metrics and health endpoints are served on
telemetry.listen_address and the config file is watched: edits to
tokens_per_minute or requests_per_minute apply to the live controller.
SIGHUP forces a reload.

Examples:
  # Complete prompts from a file
  tokengate run --prompts prompts.txt

  # Read prompts from stdin, JSON output
  cat prompts.txt | tokengate run --output json

  # Use a specific provider and keep serving metrics afterwards
  tokengate run --provider azure --prompts prompts.txt --serve`,
	RunE: runPrompts,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.provider, "provider", "p", "", "provider to use (default: first configured provider)")
	runCmd.Flags().StringVar(&runFlags.prompts, "prompts", "-", "prompt file, one prompt per line (- for stdin)")
	runCmd.Flags().Int64Var(&runFlags.maxTokens, "max-tokens", 256, "completion token budget per prompt")
	runCmd.Flags().IntVar(&runFlags.concurrency, "concurrency", 0, "prompts submitted at once (default: provider max_concurrent)")
	runCmd.Flags().StringVarP(&runFlags.output, "output", "o", "text", "output format: text, json, csv")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.serve, "serve", false, "keep serving telemetry after all prompts complete")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "apply config file changes to live controllers")
}

func runPrompts(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(runFlags.output)
	if err != nil {
		return err
	}
	if runFlags.maxTokens < 0 {
		return cli.NewConfigError("max-tokens", "must not be negative")
	}

	cfg, err := loadConfig()
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	name, err := selectProvider(cfg, runFlags.provider)
	if err != nil {
		return err
	}

	prompts, err := readPrompts(cmd.InOrStdin(), runFlags.prompts)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			a.logger.Error("shutdown failed", "error", err)
		}
	}()

	if err := a.telemetry.Start(); err != nil {
		return cli.NewCommandError("run", err)
	}

	client, err := openai.New(name, cfg.Providers[name])
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	ctrl, err := a.manager.Get(name)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	gated := providers.NewGated(client, ctrl, a.telemetry.Metrics())

	bgCtx, cancelBackground := context.WithCancel(ctx)
	background, bgCtx := errgroup.WithContext(bgCtx)
	if runFlags.watch {
		startReloaders(bgCtx, background, a)
	}

	concurrency := runFlags.concurrency
	if concurrency <= 0 {
		concurrency = cfg.Providers[name].Limits.MaxConcurrent
	}

	a.logger.Info("completing prompts",
		"provider", name,
		"prompts", len(prompts),
		"concurrency", concurrency,
	)

	results := completeAll(ctx, gated, prompts, runFlags.maxTokens, concurrency)

	if runFlags.serve && ctx.Err() == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving telemetry on %s, press Ctrl+C to stop\n", a.telemetry.Addr())
		<-ctx.Done()
	}
	cancelBackground()
	if err := background.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("config reloader stopped", "error", err)
	}

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	return results.Err()
}

// selectProvider returns the requested provider, or the first configured
// provider in name order.
func selectProvider(cfg *config.Config, requested string) (string, error) {
	if requested != "" {
		if _, ok := cfg.Providers[requested]; !ok {
			return "", cli.NewConfigError("provider", fmt.Sprintf("provider %q is not configured", requested))
		}
		return requested, nil
	}

	var first string
	for name := range cfg.Providers {
		if first == "" || name < first {
			first = name
		}
	}
	if first == "" {
		return "", cli.NewConfigError("providers", "no providers configured")
	}
	return first, nil
}

// startReloaders watches the config file and SIGHUP, applying each valid
// reload to the running controllers.
func startReloaders(ctx context.Context, g *errgroup.Group, a *app) {
	watcher, err := config.NewWatcher(cfgFile, 0, a.logger)
	if err != nil {
		a.logger.Warn("config watching disabled", "error", err)
	} else {
		g.Go(func() error {
			return watcher.Watch(ctx, a.applyConfig)
		})
	}

	hup, stopHUP := cli.NotifyReload()
	g.Go(func() error {
		defer stopHUP()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				cfg, err := config.ReloadConfig(cfgFile)
				if err != nil {
					a.logger.Error("reload on SIGHUP failed, keeping current limits", "error", err)
					continue
				}
				a.logger.Info("configuration reloaded on SIGHUP")
				a.applyConfig(cfg)
			}
		}
	})
}

// readPrompts reads non-empty lines from path, or from stdin when path is
// "-".
func readPrompts(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open prompts: %w", err)
		}
		defer f.Close()
		r = f
	}

	var prompts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompts: %w", err)
	}
	if len(prompts) == 0 {
		return nil, errors.New("no prompts to run")
	}
	return prompts, nil
}

// promptResult is the outcome of one prompt.
type promptResult struct {
	Index        int           `json:"index"`
	Prompt       string        `json:"prompt"`
	Content      string        `json:"content,omitempty"`
	Model        string        `json:"model,omitempty"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	Attempt      int           `json:"attempt,omitempty"`
	Waited       time.Duration `json:"waited"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`

	err error
}

type promptResults []promptResult

func (r promptResults) Header() []string {
	return []string{"#", "ATTEMPT", "INPUT", "OUTPUT", "WAITED", "LATENCY", "RESULT"}
}

func (r promptResults) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, res := range r {
		outcome := res.Content
		if res.err != nil {
			outcome = "error: " + res.Error
		}
		rows[i] = []string{
			strconv.Itoa(res.Index),
			strconv.Itoa(res.Attempt),
			strconv.FormatInt(res.InputTokens, 10),
			strconv.FormatInt(res.OutputTokens, 10),
			res.Waited.Round(time.Millisecond).String(),
			res.Latency.Round(time.Millisecond).String(),
			oneLine(outcome, 80),
		}
	}
	return rows
}

// Err summarizes failed prompts, wrapping the first failure.
func (r promptResults) Err() error {
	var failed int
	var first error
	for _, res := range r {
		if res.err != nil {
			failed++
			if first == nil {
				first = res.err
			}
		}
	}
	if first == nil {
		return nil
	}
	return cli.NewCommandError("run", fmt.Errorf("%d of %d prompts failed: %w", failed, len(r), first))
}

// completeAll runs every prompt through gated with at most concurrency calls
// submitted at once. Results keep input order.
func completeAll(ctx context.Context, gated *providers.Gated, prompts []string, maxTokens int64, concurrency int) promptResults {
	results := make(promptResults, len(prompts))

	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))
	for i, prompt := range prompts {
		g.Go(func() error {
			start := time.Now()
			res := promptResult{Index: i + 1, Prompt: prompt}

			resp, err := gated.Complete(ctx, &providers.Request{Prompt: prompt, MaxTokens: maxTokens})
			res.Latency = time.Since(start)
			if err != nil {
				res.err = err
				res.Error = err.Error()
			} else {
				res.Content = resp.Content
				res.Model = resp.Model
				res.InputTokens = resp.Usage.InputTokens
				res.OutputTokens = resp.Usage.OutputTokens
				res.Attempt = resp.Attempt
				res.Waited = resp.Waited
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}
