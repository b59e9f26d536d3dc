package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/tokengate/pkg/limits"
)

// ProviderError is a non-success HTTP status returned by a provider.
type ProviderError struct {
	// Provider is the name of the provider that returned the error
	Provider string

	// StatusCode is the HTTP status code (0 if not applicable)
	StatusCode int

	// Message is the error message
	Message string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// AuthError is an HTTP 401 or 403.
type AuthError struct {
	Provider string
	Message  string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %q authentication failed: %s", e.Provider, e.Message)
}

// RateLimitError is an HTTP 429, with the Retry-After hint if one was sent.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Message    string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %q rate limit exceeded (retry after %s): %s",
			e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("provider %q rate limit exceeded: %s", e.Provider, e.Message)
}

// TimeoutError is a call that exceeded the provider's per-call timeout.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
	Cause    error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %q request timeout after %s", e.Provider, e.Timeout)
}

// Unwrap returns the underlying error for error chain support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Error type labels used in metrics.
const (
	ErrorTypeRateLimit = "rate_limit"
	ErrorTypeAuth      = "auth"
	ErrorTypeTimeout   = "timeout"
	ErrorTypeServer    = "server_error"
	ErrorTypeClient    = "client_error"
	ErrorTypeNetwork   = "network"
	ErrorTypeCanceled  = "canceled"
	ErrorTypeUnknown   = "unknown"
)

// ErrorType returns the metrics label for err.
func ErrorType(err error) string {
	var (
		rl   *RateLimitError
		auth *AuthError
		to   *TimeoutError
		pe   *ProviderError
		ne   net.Error
	)
	switch {
	case errors.As(err, &rl):
		return ErrorTypeRateLimit
	case errors.As(err, &auth):
		return ErrorTypeAuth
	case errors.As(err, &to):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.As(err, &pe):
		if pe.StatusCode >= 500 {
			return ErrorTypeServer
		}
		return ErrorTypeClient
	case errors.As(err, &ne):
		return ErrorTypeNetwork
	default:
		return ErrorTypeUnknown
	}
}

// Classify marks transient provider failures as retryable: rate limits,
// timeouts, 5xx responses and network errors. Everything else is returned
// unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return limits.RetryableAfter(err, rl.RetryAfter)
	}

	switch ErrorType(err) {
	case ErrorTypeTimeout, ErrorTypeServer, ErrorTypeNetwork:
		return limits.Retryable(err)
	default:
		return err
	}
}

// FromStatus builds the typed error for a non-2xx status.
func FromStatus(provider string, status int, message string, retryAfter time.Duration) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider, RetryAfter: retryAfter, Message: message}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Provider: provider, Message: message}
	default:
		return &ProviderError{Provider: provider, StatusCode: status, Message: message}
	}
}

// ParseRetryAfter parses a Retry-After header value in delay-seconds or
// HTTP-date form.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}
