package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tokengate/pkg/limits/ledger"
	"mercator-hq/tokengate/pkg/limits/ratelimit"
	"mercator-hq/tokengate/pkg/limits/storage"
	"mercator-hq/tokengate/pkg/processing/tokens"
	"mercator-hq/tokengate/pkg/telemetry/logging"
	"mercator-hq/tokengate/pkg/telemetry/tracing"
)

// Config configures a Controller.
type Config struct {
	// Provider names the controller in logs, metrics and usage records.
	// Default: "default"
	Provider string

	// Limits are the TPM, RPM and concurrency ceilings.
	Limits ratelimit.Limits

	// Window is the accounting window.
	// Default: 60s
	Window time.Duration

	// PollInterval is how often waiting callers re-check capacity.
	// Default: 50ms
	PollInterval time.Duration

	// Retry is the default policy for AcquireSlot.
	Retry RetryPolicy
}

// UsageRecorder receives one record per confirmed call. storage.Backend
// satisfies it.
type UsageRecorder interface {
	Record(ctx context.Context, rec *storage.UsageRecord) error
}

// Work is a unit of work run inside an admitted slot. It must call
// rc.SetResult before returning nil.
type Work func(ctx context.Context, rc *RequestContext) error

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEstimator replaces the default prompt token estimator.
func WithEstimator(e tokens.Estimator) Option {
	return func(c *Controller) { c.estimator = e }
}

// WithRecorder sets the usage recorder for confirmed calls.
func WithRecorder(r UsageRecorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithTracer sets the tracer used for attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// Controller admits LLM calls under TPM, RPM and concurrency ceilings.
//
// Every admitted slot reserves its estimate in the ledger and holds one
// permit until it is confirmed with measured usage or aborted. AcquireSlot
// wraps the lifecycle and guarantees one of the two on every exit path.
//
// # Example
//
//	ctrl, err := limits.NewController(limits.Config{
//	    Provider: "openai",
//	    Limits:   ratelimit.Limits{TokensPerMinute: 90000, RequestsPerMinute: 500, MaxConcurrent: 8},
//	})
//
//	rc, err := ctrl.AcquireSlot(ctx, prompt, 256, func(ctx context.Context, rc *limits.RequestContext) error {
//	    resp, err := client.Complete(ctx, rc.Prompt, rc.MaxOutputTokens)
//	    if err != nil {
//	        return limits.Retryable(err)
//	    }
//	    return rc.SetResult(resp.PromptTokens, resp.CompletionTokens, resp.Text)
//	})
type Controller struct {
	provider  string
	ledger    *ledger.Ledger
	gate      *ratelimit.Gate
	permits   *ratelimit.ConcurrentLimiter
	estimator tokens.Estimator
	retry     RetryPolicy

	logger   *slog.Logger
	metrics  *Metrics
	recorder UsageRecorder
	tracer   trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	closed atomic.Bool

	admitted  atomic.Int64
	confirmed atomic.Int64
	aborted   atomic.Int64
	retried   atomic.Int64
	exhausted atomic.Int64
}

// NewController creates a controller. It fails if the ceilings or the retry
// policy are invalid.
func NewController(cfg Config, opts ...Option) (*Controller, error) {
	if cfg.Provider == "" {
		cfg.Provider = "default"
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Provider, err)
	}
	retry := cfg.Retry.withDefaults()
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("provider %s: invalid retry policy: %w", cfg.Provider, err)
	}

	c := &Controller{
		provider:  cfg.Provider,
		ledger:    ledger.New(cfg.Window),
		permits:   ratelimit.NewConcurrentLimiter(cfg.Limits.MaxConcurrent),
		estimator: tokens.Default,
		retry:     retry,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "limits.controller", "provider", c.provider)
	if c.tracer == nil {
		c.tracer = otel.Tracer("mercator-hq/tokengate/pkg/limits")
	}

	c.gate = ratelimit.NewGate(c.ledger, cfg.Limits, ratelimit.GateConfig{
		PollInterval: cfg.PollInterval,
		Logger:       c.logger,
		OnSweep: func(load ledger.Load) {
			c.metrics.ObserveLoad(c.provider, load)
		},
	})

	c.logger.Info("token controller initialized",
		"tpm_limit", cfg.Limits.TokensPerMinute,
		"rpm_limit", cfg.Limits.RequestsPerMinute,
		"max_concurrent", cfg.Limits.MaxConcurrent,
		"window", c.ledger.Window(),
		"max_attempts", retry.MaxAttempts,
	)

	return c, nil
}

// Provider returns the controller's provider name.
func (c *Controller) Provider() string {
	return c.provider
}

// Estimate returns the estimated prompt tokens for text.
func (c *Controller) Estimate(text string) int64 {
	return int64(c.estimator.Estimate(text))
}

// Admit waits until the estimate for prompt plus maxOutputTokens fits under
// the ceilings, reserves it and acquires a permit. The returned context must
// be released with Confirm or Abort.
//
// The estimate is reserved as soon as it fits, before the permit is taken,
// so callers queued on the concurrency pool already count against the TPM
// and RPM ceilings.
//
// If ctx is canceled while waiting the error is ctx.Err(); if its deadline
// expires the error matches ErrCapacityTimeout. Nothing stays reserved on
// failure.
func (c *Controller) Admit(ctx context.Context, prompt string, maxOutputTokens int64) (*RequestContext, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if maxOutputTokens < 0 {
		return nil, fmt.Errorf("%w: max output tokens must not be negative, got %d", ErrInvalidRequest, maxOutputTokens)
	}

	start := c.now()
	estimate := c.Estimate(prompt)
	id := uuid.NewString()

	adm, err := c.gate.AwaitCapacity(ctx, ledger.Estimate(id, estimate, maxOutputTokens, start))
	if err != nil {
		c.metrics.RecordAdmission(c.provider, admissionResult(err), c.now().Sub(start))
		return nil, err
	}

	if err := c.permits.Acquire(ctx); err != nil {
		c.ledger.Remove(id)
		err = ratelimit.WaitError(err)
		c.metrics.RecordAdmission(c.provider, admissionResult(err), c.now().Sub(start))
		return nil, err
	}

	if err := c.ledger.Hold(id); err != nil {
		c.permits.Release()
		c.ledger.Remove(id)
		return nil, err
	}

	waited := c.now().Sub(start)
	c.admitted.Add(1)
	c.metrics.RecordAdmission(c.provider, "admitted", waited)
	c.metrics.ObserveLoad(c.provider, c.ledger.Load())

	c.logger.DebugContext(ctx, "slot admitted",
		"request_id", id,
		"estimated_input_tokens", estimate,
		"max_output_tokens", maxOutputTokens,
		"window_tokens", adm.Load.Tokens+estimate+maxOutputTokens,
		"window_requests", adm.Load.Requests+1,
		"waited", waited,
		"polls", adm.Polls,
	)

	return &RequestContext{
		ID:                   id,
		Provider:             c.provider,
		Prompt:               prompt,
		MaxOutputTokens:      maxOutputTokens,
		EstimatedInputTokens: estimate,
		AdmittedAt:           c.now(),
		Waited:               waited,
	}, nil
}

// Confirm replaces the estimate for id with measured usage and releases its
// permit. It returns an error matching ErrRecordNotFound if id has no
// estimate, for example after Abort.
func (c *Controller) Confirm(ctx context.Context, id string, inputTokens, outputTokens int64) error {
	return c.confirm(ctx, &RequestContext{ID: id, Provider: c.provider},
		Usage{InputTokens: inputTokens, OutputTokens: outputTokens})
}

func (c *Controller) confirm(ctx context.Context, rc *RequestContext, usage Usage) error {
	if usage.InputTokens < 0 || usage.OutputTokens < 0 {
		return fmt.Errorf("%w: negative token count for %s", ErrInvalidRequest, rc.ID)
	}

	delta, held, err := c.ledger.Replace(rc.ID,
		ledger.Confirmed(rc.ID, usage.InputTokens, usage.OutputTokens, c.now()))
	if err != nil {
		return fmt.Errorf("confirm %s: %w", rc.ID, err)
	}
	if held {
		c.permits.Release()
	}

	estimated := usage.Total() - delta
	c.confirmed.Add(1)
	c.metrics.RecordConfirm(c.provider, usage, delta)
	c.metrics.ObserveLoad(c.provider, c.ledger.Load())

	c.logger.DebugContext(ctx, "usage confirmed",
		"request_id", rc.ID,
		"estimated_tokens", estimated,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"delta", delta,
	)

	if c.recorder != nil {
		rec := &storage.UsageRecord{
			RequestID:       rc.ID,
			Provider:        c.provider,
			Model:           rc.Model,
			EstimatedTokens: estimated,
			InputTokens:     usage.InputTokens,
			OutputTokens:    usage.OutputTokens,
			Attempt:         rc.Attempt,
		}
		if err := c.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
			c.logger.WarnContext(ctx, "failed to record usage", "request_id", rc.ID, "error", err)
		}
	}

	return nil
}

// Abort drops every ledger entry for id and releases its permit. It reports
// whether anything was released; a second call is a no-op.
func (c *Controller) Abort(id string) bool {
	removed, held := c.ledger.Remove(id)
	if held {
		c.permits.Release()
	}
	if len(removed) == 0 && !held {
		return false
	}

	var released int64
	for _, e := range removed {
		released += e.Tokens()
	}

	c.aborted.Add(1)
	c.metrics.RecordAbort(c.provider)
	c.metrics.ObserveLoad(c.provider, c.ledger.Load())
	c.logger.Debug("slot aborted", "request_id", id, "released_tokens", released)
	return true
}

// SlotOption adjusts a single AcquireSlot call.
type SlotOption func(*slotOptions)

type slotOptions struct {
	retry RetryPolicy
	model string
}

// WithRetryPolicy overrides the controller's retry policy for one call.
func WithRetryPolicy(p RetryPolicy) SlotOption {
	return func(o *slotOptions) { o.retry = p.withDefaults() }
}

// WithModel labels the call's usage records with a model name.
func WithModel(model string) SlotOption {
	return func(o *slotOptions) { o.model = model }
}

// AcquireSlot admits a slot, runs fn inside it and confirms the usage fn
// reported. Each failed attempt is aborted before the next one is admitted.
// Errors matching the retry policy are retried after an exponential backoff;
// other errors, including cancellation of ctx, are returned immediately.
//
// When the last attempt fails with a retryable error the returned
// *ExhaustedError wraps that attempt's error. On success the returned
// context carries fn's result.
func (c *Controller) AcquireSlot(ctx context.Context, prompt string, maxOutputTokens int64, fn Work, opts ...SlotOption) (*RequestContext, error) {
	o := slotOptions{retry: c.retry}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.retry.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		rc, err := c.attempt(ctx, prompt, maxOutputTokens, fn, attempt, o.model)
		if err == nil {
			return rc, nil
		}
		lastErr = err

		if ctx.Err() != nil || !o.retry.IsRetryable(err) {
			return nil, err
		}
		if attempt == o.retry.MaxAttempts {
			break
		}

		delay := o.retry.delay(attempt, err)
		c.retried.Add(1)
		c.metrics.RecordRetry(c.provider)
		c.logger.WarnContext(ctx, "attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", o.retry.MaxAttempts,
			"backoff", delay,
			"error", err,
		)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	c.exhausted.Add(1)
	c.metrics.RecordExhausted(c.provider)
	c.logger.ErrorContext(ctx, "retries exhausted",
		"attempts", o.retry.MaxAttempts,
		"error", lastErr,
	)
	return nil, &ExhaustedError{Attempts: o.retry.MaxAttempts, Err: lastErr}
}

// attempt runs one admit, work, confirm cycle. The slot is aborted on every
// path that does not confirm, including a panic in fn.
func (c *Controller) attempt(ctx context.Context, prompt string, maxOutputTokens int64, fn Work, attempt int, model string) (_ *RequestContext, err error) {
	rc, err := c.Admit(ctx, prompt, maxOutputTokens)
	if err != nil {
		return nil, err
	}
	rc.Attempt = attempt
	rc.Model = model

	confirmed := false
	defer func() {
		if !confirmed {
			c.Abort(rc.ID)
		}
		rc.release()
	}()

	ctx = logging.WithRequestID(ctx, rc.ID)
	ctx = logging.WithProvider(ctx, c.provider)
	ctx = logging.WithAttempt(ctx, attempt)
	if model != "" {
		ctx = logging.WithModel(ctx, model)
	}

	ctx, span := c.tracer.Start(ctx, "tokengate.attempt", trace.WithAttributes(
		tracing.AttemptAttributes(c.provider, rc.ID, attempt, rc.EstimatedTokens())...,
	))
	tracing.SetModelAttribute(span, model)
	defer func() {
		if err != nil {
			tracing.SetErrorAttributes(span, err, admissionResult(err))
		}
		span.End()
	}()

	if err := fn(ctx, rc); err != nil {
		return nil, err
	}

	usage, ok := rc.Usage()
	if !ok {
		return nil, fmt.Errorf("%w: request %s", ErrResultNotSet, rc.ID)
	}
	if err := c.confirm(ctx, rc, usage); err != nil {
		return nil, err
	}
	confirmed = true

	tracing.SetTokenAttributes(span, usage.InputTokens, usage.OutputTokens)
	return rc, nil
}

// SetLimits replaces the TPM and RPM ceilings. The concurrency ceiling is
// fixed for the controller's lifetime and the MaxConcurrent field is ignored.
func (c *Controller) SetLimits(limits ratelimit.Limits) error {
	current := c.gate.Limits()
	limits.MaxConcurrent = current.MaxConcurrent
	if err := limits.Validate(); err != nil {
		return err
	}
	c.gate.SetLimits(limits)

	c.logger.Info("limits updated",
		"tpm_limit", limits.TokensPerMinute,
		"rpm_limit", limits.RequestsPerMinute,
		"previous_tpm_limit", current.TokensPerMinute,
		"previous_rpm_limit", current.RequestsPerMinute,
	)
	return nil
}

// Limits returns the ceilings in force.
func (c *Controller) Limits() ratelimit.Limits {
	return c.gate.Limits()
}

// Stats is a point-in-time view of a controller.
type Stats struct {
	Provider     string           `json:"provider"`
	Limits       ratelimit.Limits `json:"limits"`
	Load         ledger.Load      `json:"load"`
	PermitsInUse int64            `json:"permits_in_use"`
	Admitted     int64            `json:"admitted"`
	Confirmed    int64            `json:"confirmed"`
	Aborted      int64            `json:"aborted"`
	Retried      int64            `json:"retried"`
	Exhausted    int64            `json:"exhausted"`
}

// Stats returns current ceilings, window load and lifetime counters. The
// window is swept first so expired usage is not reported, and the window
// gauges are refreshed with the result.
func (c *Controller) Stats() Stats {
	c.ledger.Sweep(c.now())
	load := c.ledger.Load()
	c.metrics.ObserveLoad(c.provider, load)
	return Stats{
		Provider:     c.provider,
		Limits:       c.gate.Limits(),
		Load:         load,
		PermitsInUse: c.permits.Current(),
		Admitted:     c.admitted.Load(),
		Confirmed:    c.confirmed.Load(),
		Aborted:      c.aborted.Load(),
		Retried:      c.retried.Load(),
		Exhausted:    c.exhausted.Load(),
	}
}

// Close stops new admissions. Slots already admitted can still be confirmed
// or aborted.
func (c *Controller) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.logger.Info("token controller closed", "in_flight", c.permits.Current())
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	return c.closed.Load()
}

func admissionResult(err error) string {
	switch {
	case errors.Is(err, ErrCapacityTimeout):
		return "timeout"
	case errors.Is(err, ErrRequestTooLarge):
		return "too_large"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
