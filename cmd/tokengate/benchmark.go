package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/tokengate/pkg/cli"
	"mercator-hq/tokengate/pkg/limits"
	"mercator-hq/tokengate/pkg/limits/ratelimit"
	"mercator-hq/tokengate/pkg/providers"
	"mercator-hq/tokengate/pkg/telemetry/logging"
	"mercator-hq/tokengate/pkg/telemetry/metrics"
)

var benchmarkFlags struct {
	requests    int
	workers     int
	tpm         int64
	rpm         int64
	concurrent  int
	window      time.Duration
	promptChars int
	maxTokens   int64
	latency     time.Duration
	jitter      time.Duration
	failureRate float64
	attempts    int
	backoff     time.Duration
	seed        uint64
	format      string
	progress    bool
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Load test a controller against a simulated provider",
	Long: `Drive synthetic calls through a real controller backed by a simulated
provider and report throughput, latency, admission wait and how close the
window came to its ceilings.

The simulated provider sleeps for --latency plus up to --jitter, fails with
a 503 at --failure-rate, and reports usage near the admission estimate.

Metrics Collected:
  - Throughput (requests/sec, tokens/min)
  - Latency and admission wait percentiles (p50, p95, p99, max)
  - Peak window tokens, requests and in-flight calls
  - Admitted, confirmed, aborted, retried and exhausted counts

Examples:
  # Basic benchmark
  tokengate benchmark

  # Saturate a small TPM budget with a short window
  tokengate benchmark --tpm 5000 --window 5s --requests 200

  # Flaky provider with retries
  tokengate benchmark --failure-rate 0.2 --attempts 4 --backoff 50ms`,
	RunE: runBenchmark,
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)

	f := benchmarkCmd.Flags()
	f.IntVar(&benchmarkFlags.requests, "requests", 200, "total calls")
	f.IntVar(&benchmarkFlags.workers, "workers", 50, "callers submitting at once")
	f.Int64Var(&benchmarkFlags.tpm, "tpm", 90000, "tokens per minute ceiling")
	f.Int64Var(&benchmarkFlags.rpm, "rpm", 3500, "requests per minute ceiling")
	f.IntVar(&benchmarkFlags.concurrent, "max-concurrent", 10, "concurrent in-flight ceiling")
	f.DurationVar(&benchmarkFlags.window, "window", time.Minute, "accounting window")
	f.IntVar(&benchmarkFlags.promptChars, "prompt-chars", 400, "prompt length in characters")
	f.Int64Var(&benchmarkFlags.maxTokens, "max-tokens", 128, "completion token budget per call")
	f.DurationVar(&benchmarkFlags.latency, "latency", 50*time.Millisecond, "simulated provider latency")
	f.DurationVar(&benchmarkFlags.jitter, "jitter", 50*time.Millisecond, "extra random latency up to this value")
	f.Float64Var(&benchmarkFlags.failureRate, "failure-rate", 0.05, "fraction of calls failing with a retryable 503")
	f.IntVar(&benchmarkFlags.attempts, "attempts", 3, "attempts per call, including the first")
	f.DurationVar(&benchmarkFlags.backoff, "backoff", 100*time.Millisecond, "base retry backoff")
	f.Uint64Var(&benchmarkFlags.seed, "seed", 1, "random seed for the simulated provider")
	f.StringVarP(&benchmarkFlags.format, "output", "o", "text", "output format: text, json, csv")
	f.BoolVar(&benchmarkFlags.progress, "progress", false, "show a progress bar on stderr")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(benchmarkFlags.format)
	if err != nil {
		return err
	}
	if benchmarkFlags.requests <= 0 {
		return cli.NewConfigError("requests", "must be positive")
	}
	if benchmarkFlags.failureRate < 0 || benchmarkFlags.failureRate > 1 {
		return cli.NewConfigError("failure-rate", "must be between 0 and 1")
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "text", Writer: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	collector := metrics.NewCollector(nil, nil)
	ctrl, err := limits.NewController(limits.Config{
		Provider: "simulated",
		Limits: ratelimit.Limits{
			TokensPerMinute:   benchmarkFlags.tpm,
			RequestsPerMinute: benchmarkFlags.rpm,
			MaxConcurrent:     benchmarkFlags.concurrent,
		},
		Window: benchmarkFlags.window,
		Retry: limits.RetryPolicy{
			MaxAttempts: benchmarkFlags.attempts,
			BackoffBase: benchmarkFlags.backoff,
		},
	},
		limits.WithLogger(logger.Logger),
		limits.WithMetrics(limits.NewMetrics(collector.Registry())),
	)
	if err != nil {
		return cli.NewConfigError("limits", err.Error())
	}
	defer ctrl.Close()

	sim := newSimulatedProvider(benchmarkFlags.latency, benchmarkFlags.jitter, benchmarkFlags.failureRate, benchmarkFlags.seed)
	gated := providers.NewGated(sim, ctrl, collector)

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	var progress cli.ProgressReporter
	if benchmarkFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr())
		progress.Start(int64(benchmarkFlags.requests))
		defer progress.Finish()
	}

	report := runLoad(ctx, ctrl, gated, progress)
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), report)
}

// benchmarkReport is the outcome of a load run.
type benchmarkReport struct {
	Requests  int           `json:"requests"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`

	RequestsPerSecond float64 `json:"requests_per_second"`
	TokensPerMinute   float64 `json:"tokens_per_minute"`

	Latency percentiles `json:"latency"`
	Wait    percentiles `json:"admission_wait"`

	TPMLimit          int64 `json:"tpm_limit"`
	RPMLimit          int64 `json:"rpm_limit"`
	ConcurrentLimit   int   `json:"concurrent_limit"`
	PeakWindowTokens  int64 `json:"peak_window_tokens"`
	PeakWindowReqs    int64 `json:"peak_window_requests"`
	PeakInFlight      int64 `json:"peak_in_flight"`
	CeilingsRespected bool  `json:"ceilings_respected"`

	Stats limits.Stats `json:"controller"`
}

type percentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
	Max time.Duration `json:"max"`
}

func (r *benchmarkReport) Header() []string {
	return []string{"METRIC", "VALUE"}
}

func (r *benchmarkReport) Rows() [][]string {
	ms := func(d time.Duration) string { return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000) }
	pct := func(p percentiles) string {
		return strings.Join([]string{"p50=" + ms(p.P50), "p95=" + ms(p.P95), "p99=" + ms(p.P99), "max=" + ms(p.Max)}, " ")
	}
	return [][]string{
		{"requests", strconv.Itoa(r.Requests)},
		{"succeeded", strconv.Itoa(r.Succeeded)},
		{"failed", strconv.Itoa(r.Failed)},
		{"duration", r.Duration.Round(time.Millisecond).String()},
		{"throughput", fmt.Sprintf("%.2f req/s, %.0f tok/min", r.RequestsPerSecond, r.TokensPerMinute)},
		{"latency", pct(r.Latency)},
		{"admission_wait", pct(r.Wait)},
		{"peak_window_tokens", fmt.Sprintf("%d / %d", r.PeakWindowTokens, r.TPMLimit)},
		{"peak_window_requests", fmt.Sprintf("%d / %d", r.PeakWindowReqs, r.RPMLimit)},
		{"peak_in_flight", fmt.Sprintf("%d / %d", r.PeakInFlight, r.ConcurrentLimit)},
		{"ceilings_respected", strconv.FormatBool(r.CeilingsRespected)},
		{"admitted", strconv.FormatInt(r.Stats.Admitted, 10)},
		{"confirmed", strconv.FormatInt(r.Stats.Confirmed, 10)},
		{"aborted", strconv.FormatInt(r.Stats.Aborted, 10)},
		{"retried", strconv.FormatInt(r.Stats.Retried, 10)},
		{"exhausted", strconv.FormatInt(r.Stats.Exhausted, 10)},
	}
}

// runLoad submits the configured number of calls from a bounded set of
// workers while a sampler tracks the controller's peak window load.
func runLoad(ctx context.Context, ctrl *limits.Controller, gated *providers.Gated, progress cli.ProgressReporter) *benchmarkReport {
	prompt := strings.Repeat("x", benchmarkFlags.promptChars)
	limitsInForce := ctrl.Limits()

	var (
		mu        sync.Mutex
		latencies []time.Duration
		waits     []time.Duration
		tokens    int64
		failed    int
	)

	sampleCtx, stopSampling := context.WithCancel(ctx)
	var peak limits.Stats
	var sampler errgroup.Group
	sampler.Go(func() error {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			s := ctrl.Stats()
			peak.Load.Tokens = max(peak.Load.Tokens, s.Load.Tokens)
			peak.Load.Requests = max(peak.Load.Requests, s.Load.Requests)
			peak.PermitsInUse = max(peak.PermitsInUse, s.PermitsInUse)
			select {
			case <-sampleCtx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	start := time.Now()
	var workers errgroup.Group
	workers.SetLimit(max(benchmarkFlags.workers, 1))
	for i := 0; i < benchmarkFlags.requests; i++ {
		if ctx.Err() != nil {
			break
		}
		workers.Go(func() error {
			callStart := time.Now()
			resp, err := gated.Complete(ctx, &providers.Request{Prompt: prompt, MaxTokens: benchmarkFlags.maxTokens})
			latency := time.Since(callStart)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				if progress != nil {
					progress.Error(err)
				}
				return nil
			}
			latencies = append(latencies, latency)
			waits = append(waits, resp.Waited)
			tokens += resp.Usage.Total()
			if progress != nil {
				progress.Done(resp.Usage.Total())
			}
			return nil
		})
	}
	_ = workers.Wait()
	elapsed := time.Since(start)
	stopSampling()
	_ = sampler.Wait()

	report := &benchmarkReport{
		Requests:         len(latencies) + failed,
		Succeeded:        len(latencies),
		Failed:           failed,
		Duration:         elapsed,
		Latency:          calculatePercentiles(latencies),
		Wait:             calculatePercentiles(waits),
		TPMLimit:         limitsInForce.TokensPerMinute,
		RPMLimit:         limitsInForce.RequestsPerMinute,
		ConcurrentLimit:  limitsInForce.MaxConcurrent,
		PeakWindowTokens: peak.Load.Tokens,
		PeakWindowReqs:   peak.Load.Requests,
		PeakInFlight:     peak.PermitsInUse,
		Stats:            ctrl.Stats(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		report.RequestsPerSecond = float64(report.Succeeded) / secs
		report.TokensPerMinute = float64(tokens) / secs * 60
	}
	report.CeilingsRespected = report.PeakWindowTokens <= report.TPMLimit &&
		report.PeakWindowReqs <= report.RPMLimit &&
		report.PeakInFlight <= int64(report.ConcurrentLimit)

	return report
}

func calculatePercentiles(samples []time.Duration) percentiles {
	if len(samples) == 0 {
		return percentiles{}
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	at := func(q float64) time.Duration {
		return sorted[min(int(float64(len(sorted))*q), len(sorted)-1)]
	}
	return percentiles{
		P50: at(0.50),
		P95: at(0.95),
		P99: at(0.99),
		Max: sorted[len(sorted)-1],
	}
}
