package limits

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryPolicy controls how AcquireSlot retries failed attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BackoffBase is the delay after the first failure. The delay after
	// failure k is BackoffBase * 2^(k-1).
	// Default: 1s
	BackoffBase time.Duration

	// MaxBackoff caps a single delay. Zero means uncapped.
	MaxBackoff time.Duration

	// Retryable lists the errors that trigger a retry, matched with
	// errors.Is. An empty list retries only ErrRetryable.
	Retryable []error

	// RetryAll retries every error except programming faults and
	// cancellation. Intended for tests and prototypes.
	RetryAll bool
}

// DefaultRetryPolicy returns three attempts with a one second base backoff,
// retrying only errors wrapped with Retryable.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		Retryable:   []error{ErrRetryable},
	}
}

// withDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BackoffBase == 0 {
		p.BackoffBase = def.BackoffBase
	}
	if len(p.Retryable) == 0 {
		p.Retryable = def.Retryable
	}
	return p
}

// Validate checks the policy after defaults are applied.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BackoffBase < 0 {
		return fmt.Errorf("backoff_base must not be negative, got %s", p.BackoffBase)
	}
	if p.MaxBackoff < 0 {
		return fmt.Errorf("max_backoff must not be negative, got %s", p.MaxBackoff)
	}
	return nil
}

// Backoff returns the delay after the given 1-based failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// delay is Backoff raised to any RetryAfter hint carried by err.
func (p RetryPolicy) delay(attempt int, err error) time.Duration {
	d := p.Backoff(attempt)
	var re *RetryableError
	if errors.As(err, &re) && re.RetryAfter > d {
		d = re.RetryAfter
	}
	return d
}

// IsRetryable reports whether err should trigger another attempt. Programming
// faults and context cancellation are never retried.
func (p RetryPolicy) IsRetryable(err error) bool {
	if err == nil || isFault(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.RetryAll {
		return true
	}
	for _, target := range p.Retryable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
