package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/tokengate/pkg/limits"
	"mercator-hq/tokengate/pkg/limits/ratelimit"
	"mercator-hq/tokengate/pkg/telemetry/metrics"
)

// fakeProvider returns the queued errors in order, then succeeds.
type fakeProvider struct {
	errs  []error
	calls int
	seen  []*Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	f.calls++
	f.seen = append(f.seen, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &Response{Model: "fake-1", Content: "ok", Usage: limits.Usage{InputTokens: 20, OutputTokens: 10}}, nil
}

func newController(t *testing.T) *limits.Controller {
	t.Helper()
	ctrl, err := limits.NewController(limits.Config{
		Provider: "fake",
		Limits:   ratelimit.Limits{TokensPerMinute: 5000, RequestsPerMinute: 50, MaxConcurrent: 1},
		Retry:    limits.RetryPolicy{MaxAttempts: 2, BackoffBase: time.Millisecond},
	}, limits.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

// ============================================================================
// Errors
// ============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"rate limit", &RateLimitError{Provider: "p", RetryAfter: time.Second}, true, ErrorTypeRateLimit},
		{"server", &ProviderError{Provider: "p", StatusCode: 502}, true, ErrorTypeServer},
		{"client", &ProviderError{Provider: "p", StatusCode: 422}, false, ErrorTypeClient},
		{"auth", &AuthError{Provider: "p"}, false, ErrorTypeAuth},
		{"timeout", &TimeoutError{Provider: "p", Timeout: time.Second}, true, ErrorTypeTimeout},
		{"network", fmt.Errorf("dial: %w", &net.OpError{Op: "dial", Err: errors.New("refused")}), true, ErrorTypeNetwork},
		{"canceled", context.Canceled, false, ErrorTypeCanceled},
		{"plain", errors.New("boom"), false, ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorType(tt.err); got != tt.errType {
				t.Errorf("Expected error type %s, got %s", tt.errType, got)
			}
			classified := Classify(tt.err)
			if got := errors.Is(classified, limits.ErrRetryable); got != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, got)
			}
			if !errors.Is(classified, tt.err) {
				t.Error("Expected classified error to wrap the original")
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Expected nil to stay nil")
	}
}

func TestClassify_RetryAfterHint(t *testing.T) {
	err := Classify(&RateLimitError{Provider: "p", RetryAfter: 3 * time.Second})

	var re *limits.RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("Expected RetryableError, got %T", err)
	}
	if re.RetryAfter != 3*time.Second {
		t.Errorf("Expected 3s hint, got %v", re.RetryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		if got := ParseRetryAfter(tt.header, now); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

// ============================================================================
// Request
// ============================================================================

func TestRequest_PromptText(t *testing.T) {
	req := &Request{Prompt: "hello"}
	if req.PromptText() != "hello" {
		t.Errorf("Expected prompt text, got %q", req.PromptText())
	}
	if msgs := req.ChatMessages(); len(msgs) != 1 || msgs[0].Role != "user" {
		t.Errorf("Expected single user message, got %+v", msgs)
	}

	req = &Request{Messages: []limits.Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}}}
	if got := req.PromptText(); got != "system: be brief\nuser: hi" {
		t.Errorf("Expected flattened messages, got %q", got)
	}
}

// ============================================================================
// Gated
// ============================================================================

func TestGated_Success(t *testing.T) {
	collector := metrics.NewCollector(nil, prometheus.NewRegistry())
	fake := &fakeProvider{}
	ctrl := newController(t)

	resp, err := NewGated(fake, ctrl, collector).Complete(context.Background(), &Request{Prompt: "hello", MaxTokens: 50})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Attempt != 1 || resp.RequestID == "" {
		t.Errorf("Expected attempt metadata, got %+v", resp)
	}
	if got := ctrl.Stats().Load.Tokens; got != 30 {
		t.Errorf("Expected measured 30 tokens in window, got %d", got)
	}

	exposition, err := testutil.GatherAndCount(collector.Registry(), "tokengate_provider_requests_total")
	if err != nil || exposition != 1 {
		t.Errorf("Expected one request series, got %d (%v)", exposition, err)
	}
}

func TestGated_RetriesClassifiedErrors(t *testing.T) {
	fake := &fakeProvider{errs: []error{&ProviderError{Provider: "fake", StatusCode: 503, Message: "overloaded"}}}
	ctrl := newController(t)

	if _, err := NewGated(fake, ctrl, nil).Complete(context.Background(), &Request{Prompt: "hello"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("Expected 2 calls, got %d", fake.calls)
	}
}

func TestGated_Exhausted(t *testing.T) {
	fake := &fakeProvider{errs: []error{
		&ProviderError{Provider: "fake", StatusCode: 503},
		&ProviderError{Provider: "fake", StatusCode: 500, Message: "last"},
	}}
	ctrl := newController(t)

	_, err := NewGated(fake, ctrl, nil).Complete(context.Background(), &Request{Prompt: "hello"})
	if !errors.Is(err, limits.ErrExhaustedRetries) {
		t.Fatalf("Expected exhausted retries, got %v", err)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Message != "last" {
		t.Errorf("Expected last provider error, got %v", err)
	}
	if load := ctrl.Stats().Load; load.Tokens != 0 || load.Requests != 0 {
		t.Errorf("Expected empty window after exhaustion, got %+v", load)
	}
}

func TestGated_RejectsNegativeMaxTokens(t *testing.T) {
	fake := &fakeProvider{}
	_, err := NewGated(fake, newController(t), nil).Complete(context.Background(), &Request{Prompt: "x", MaxTokens: -1})
	if !errors.Is(err, limits.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
	if fake.calls != 0 {
		t.Errorf("Expected no provider call, got %d", fake.calls)
	}
}
