package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/tokengate/pkg/limits/ledger"
)

var (
	// ErrCapacityTimeout is returned when the caller's deadline expires while
	// waiting for capacity.
	ErrCapacityTimeout = errors.New("capacity wait timed out")

	// ErrRequestTooLarge is returned when a request needs more tokens than the
	// TPM ceiling can ever provide.
	ErrRequestTooLarge = errors.New("request exceeds tokens-per-minute ceiling")

	// ErrInvalidLimits is returned for non-positive ceilings.
	ErrInvalidLimits = errors.New("invalid rate limits")
)

// Limits are the ceilings enforced for a single provider.
type Limits struct {
	// TokensPerMinute caps estimated plus confirmed tokens in the window.
	TokensPerMinute int64

	// RequestsPerMinute caps admitted requests in the window.
	RequestsPerMinute int64

	// MaxConcurrent caps simultaneous in-flight calls.
	MaxConcurrent int
}

// Validate checks that every ceiling is positive.
func (l Limits) Validate() error {
	if l.TokensPerMinute <= 0 {
		return fmt.Errorf("%w: tokens_per_minute must be positive, got %d", ErrInvalidLimits, l.TokensPerMinute)
	}
	if l.RequestsPerMinute <= 0 {
		return fmt.Errorf("%w: requests_per_minute must be positive, got %d", ErrInvalidLimits, l.RequestsPerMinute)
	}
	if l.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: max_concurrent must be positive, got %d", ErrInvalidLimits, l.MaxConcurrent)
	}
	return nil
}

// Ceiling converts the window ceilings for the ledger.
func (l Limits) Ceiling() ledger.Ceiling {
	return ledger.Ceiling{
		Tokens:   l.TokensPerMinute,
		Requests: l.RequestsPerMinute,
	}
}

// Admission describes a successful pass through the gate.
type Admission struct {
	// Waited is the time spent in the gate.
	Waited time.Duration

	// Polls is the number of capacity checks performed.
	Polls int

	// Load is the ledger view the admission was decided on, before the
	// reservation was added.
	Load ledger.Load
}
