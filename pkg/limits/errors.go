package limits

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/tokengate/pkg/limits/ledger"
	"mercator-hq/tokengate/pkg/limits/ratelimit"
)

var (
	// ErrCapacityTimeout is returned when the caller's deadline expires while
	// waiting for capacity or a permit. It also matches
	// context.DeadlineExceeded.
	ErrCapacityTimeout = ratelimit.ErrCapacityTimeout

	// ErrRequestTooLarge is returned when a request needs more tokens than
	// the tokens-per-minute ceiling.
	ErrRequestTooLarge = ratelimit.ErrRequestTooLarge

	// ErrRecordNotFound is returned by Confirm when no estimate exists for the
	// id, for example after Abort or a previous Confirm.
	ErrRecordNotFound = ledger.ErrNotFound

	// ErrResultNotSet is returned when a unit of work returns without calling
	// SetResult.
	ErrResultNotSet = errors.New("limits: unit of work returned without setting a result")

	// ErrResultAlreadySet is returned by a second SetResult call.
	ErrResultAlreadySet = errors.New("limits: result already set")

	// ErrContextClosed is returned by SetResult after the slot was released.
	ErrContextClosed = errors.New("limits: request context already released")

	// ErrRetryable marks a transient provider failure. Wrap provider errors
	// with Retryable to opt them into the default retry policy.
	ErrRetryable = errors.New("limits: retryable provider error")

	// ErrExhaustedRetries is matched by the error returned once every attempt
	// failed with a retryable error.
	ErrExhaustedRetries = errors.New("limits: retries exhausted")

	// ErrClosed is returned by Admit after Close.
	ErrClosed = errors.New("limits: controller closed")

	// ErrUnknownProvider is returned by Manager lookups for unconfigured
	// providers.
	ErrUnknownProvider = errors.New("limits: unknown provider")

	// ErrInvalidRequest is returned for malformed admission arguments.
	ErrInvalidRequest = errors.New("limits: invalid request")
)

// RetryableError marks a provider error as transient.
type RetryableError struct {
	// Err is the provider error.
	Err error

	// RetryAfter is a provider hint for the minimum delay before the next
	// attempt. Zero means no hint.
	RetryAfter time.Duration
}

// Retryable wraps err so it matches ErrRetryable. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// RetryableAfter is Retryable with a retry-after hint.
func RetryableAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, RetryAfter: after}
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Is reports ErrRetryable as a match.
func (e *RetryableError) Is(target error) bool {
	return target == ErrRetryable
}

// ExhaustedError is returned when the final attempt failed with a retryable
// error. It matches ErrExhaustedRetries and unwraps to the provider error, so
// errors.Is and errors.As reach the original cause.
type ExhaustedError struct {
	// Attempts is the number of attempts made.
	Attempts int

	// Err is the error of the final attempt.
	Err error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v (gave up after %d attempts)", e.Err, e.Attempts)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{e.Err, ErrExhaustedRetries}
}

// isFault reports errors that indicate a programming or configuration fault
// and must never be retried.
func isFault(err error) bool {
	return errors.Is(err, ErrResultNotSet) ||
		errors.Is(err, ErrResultAlreadySet) ||
		errors.Is(err, ErrContextClosed) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrRequestTooLarge) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrClosed)
}
