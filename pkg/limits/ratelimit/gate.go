package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/tokengate/pkg/limits/ledger"
)

// DefaultPollInterval is how often a waiting caller re-checks capacity.
const DefaultPollInterval = 50 * time.Millisecond

// GateConfig configures a Gate.
type GateConfig struct {
	// PollInterval is the re-check interval while waiting.
	// Default: 50ms
	PollInterval time.Duration

	// WaitLogInterval throttles the "waiting for capacity" debug line.
	// Default: 1s
	WaitLogInterval time.Duration

	// Logger receives gate diagnostics.
	Logger *slog.Logger

	// OnSweep is called after a poll's sweep expired entries, with the load
	// that remained.
	OnSweep func(ledger.Load)
}

// Gate blocks callers until their estimate fits under the TPM and RPM
// ceilings, then reserves it in the ledger.
type Gate struct {
	ledger   *ledger.Ledger
	limits   atomic.Pointer[Limits]
	interval time.Duration
	logger   *slog.Logger
	waitLog  *rate.Sometimes
	onSweep  func(ledger.Load)
	now      func() time.Time
}

// NewGate creates a gate over l enforcing limits.
func NewGate(l *ledger.Ledger, limits Limits, cfg GateConfig) *Gate {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WaitLogInterval <= 0 {
		cfg.WaitLogInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "ratelimit.gate")
	}

	g := &Gate{
		ledger:   l,
		interval: cfg.PollInterval,
		logger:   cfg.Logger,
		waitLog:  &rate.Sometimes{Interval: cfg.WaitLogInterval},
		onSweep:  cfg.OnSweep,
		now:      time.Now,
	}
	g.limits.Store(&limits)
	return g
}

// Limits returns the ceilings currently enforced.
func (g *Gate) Limits() Limits {
	return *g.limits.Load()
}

// SetLimits replaces the TPM and RPM ceilings. Waiters pick up the new values
// on their next poll. MaxConcurrent is carried for reporting only; the
// concurrency pool is sized once at construction.
func (g *Gate) SetLimits(limits Limits) {
	g.limits.Store(&limits)
}

// PollInterval returns the re-check interval.
func (g *Gate) PollInterval() time.Duration {
	return g.interval
}

// AwaitCapacity waits until entry fits and appends it to the ledger. Each
// poll sweeps expired entries before checking. It returns ctx.Err() if the
// context is canceled while waiting, or an error matching both
// ErrCapacityTimeout and context.DeadlineExceeded if its deadline expires.
func (g *Gate) AwaitCapacity(ctx context.Context, entry ledger.Entry) (Admission, error) {
	start := g.now()
	required := entry.Tokens()

	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for polls := 1; ; polls++ {
		if err := ctx.Err(); err != nil {
			return Admission{Waited: g.now().Sub(start), Polls: polls - 1}, WaitError(err)
		}

		limits := g.Limits()
		if required > limits.TokensPerMinute {
			return Admission{}, fmt.Errorf("%w: request %s needs %d tokens, ceiling is %d",
				ErrRequestTooLarge, entry.ID, required, limits.TokensPerMinute)
		}

		if res := g.ledger.Sweep(g.now()); res.Removed > 0 {
			g.logger.DebugContext(ctx, "expired usage swept",
				"removed", res.Removed,
				"released_tokens", res.Tokens,
				"retained_estimates", res.RetainedEstimates,
			)
			if g.onSweep != nil {
				g.onSweep(g.ledger.Load())
			}
		}

		load, ok, err := g.ledger.TryAppend(entry, limits.Ceiling())
		if err != nil {
			return Admission{}, err
		}
		if ok {
			return Admission{Waited: g.now().Sub(start), Polls: polls, Load: load}, nil
		}

		g.waitLog.Do(func() {
			g.logger.DebugContext(ctx, "waiting for capacity",
				"request_id", entry.ID,
				"required_tokens", required,
				"tpm", load.Tokens,
				"tpm_limit", limits.TokensPerMinute,
				"rpm", load.Requests,
				"rpm_limit", limits.RequestsPerMinute,
				"tpm_exceeded", load.Tokens+required > limits.TokensPerMinute,
				"rpm_exceeded", load.Requests >= limits.RequestsPerMinute,
			)
		})

		if ticker == nil {
			ticker = time.NewTicker(g.interval)
		}
		select {
		case <-ctx.Done():
			return Admission{Waited: g.now().Sub(start), Polls: polls}, WaitError(ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitError maps a context error seen while waiting for capacity. An expired
// deadline matches both ErrCapacityTimeout and context.DeadlineExceeded;
// anything else is returned unchanged.
func WaitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCapacityTimeout, err)
	}
	return err
}
