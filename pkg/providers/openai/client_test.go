package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/tokengate/pkg/config"
	"mercator-hq/tokengate/pkg/limits"
	"mercator-hq/tokengate/pkg/limits/ratelimit"
	"mercator-hq/tokengate/pkg/providers"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello, world!"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

const rateLimitBody = `{"error": {"message": "Rate limit reached", "type": "requests"}}`

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	client, err := New("openai", config.ProviderConfig{
		BaseURL: url + "/v1",
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: timeout,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func newTestController(t *testing.T) *limits.Controller {
	t.Helper()
	ctrl, err := limits.NewController(limits.Config{
		Provider: "openai",
		Limits:   ratelimit.Limits{TokensPerMinute: 10000, RequestsPerMinute: 100, MaxConcurrent: 2},
		Retry:    limits.RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond},
	}, limits.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

// ============================================================================
// Client
// ============================================================================

func TestNew_RequiresKeyAndModel(t *testing.T) {
	if _, err := New("openai", config.ProviderConfig{Model: "gpt-4o"}); err == nil {
		t.Error("Expected error without api key")
	}
	if _, err := New("openai", config.ProviderConfig{APIKey: "k"}); err == nil {
		t.Error("Expected error without model")
	}
}

func TestClient_Complete(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)
	resp, err := client.Complete(context.Background(), &providers.Request{Prompt: "Hello", MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != "Hello, world!" || resp.FinishReason != "stop" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 5 {
		t.Errorf("Expected usage 12/5, got %+v", resp.Usage)
	}
	if auth != "Bearer test-key" {
		t.Errorf("Expected bearer auth, got %q", auth)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 64 {
		t.Errorf("Expected configured model and max tokens, got %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "Hello" {
		t.Errorf("Expected prompt as single user message, got %+v", got.Messages)
	}
}

func TestClient_RateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, rateLimitBody)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, time.Second).Complete(context.Background(), &providers.Request{Prompt: "hi"})

	var rl *providers.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("Expected RateLimitError, got %T: %v", err, err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("Expected retry after 7s, got %v", rl.RetryAfter)
	}
	if !errors.Is(providers.Classify(err), limits.ErrRetryable) {
		t.Error("Expected rate limit to classify as retryable")
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		errType   string
	}{
		{http.StatusUnauthorized, false, providers.ErrorTypeAuth},
		{http.StatusBadRequest, false, providers.ErrorTypeClient},
		{http.StatusServiceUnavailable, true, providers.ErrorTypeServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"error": {"message": "nope", "type": "server"}}`)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, time.Second).Complete(context.Background(), &providers.Request{Prompt: "hi"})
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := providers.ErrorType(err); got != tt.errType {
				t.Errorf("Expected error type %s, got %s", tt.errType, got)
			}
			if got := errors.Is(providers.Classify(err), limits.ErrRetryable); got != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, got)
			}
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient(t, srv.URL, 50*time.Millisecond).Complete(context.Background(), &providers.Request{Prompt: "hi"})

	var to *providers.TimeoutError
	if !errors.As(err, &to) {
		t.Fatalf("Expected TimeoutError, got %T: %v", err, err)
	}
	if !errors.Is(providers.Classify(err), limits.ErrRetryable) {
		t.Error("Expected timeout to classify as retryable")
	}
}

// ============================================================================
// Gated
// ============================================================================

func TestGated_RetriesThenConfirms(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, rateLimitBody)
			return
		}
		io.WriteString(w, completionBody)
	}))
	defer srv.Close()

	ctrl := newTestController(t)
	gated := providers.NewGated(newTestClient(t, srv.URL, time.Second), ctrl, nil)

	resp, err := gated.Complete(context.Background(), &providers.Request{Prompt: "Hello", MaxTokens: 32})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Attempt != 2 {
		t.Errorf("Expected success on attempt 2, got %d", resp.Attempt)
	}

	stats := ctrl.Stats()
	if stats.Aborted != 1 || stats.Confirmed != 1 || stats.Retried != 1 {
		t.Errorf("Expected 1 abort, 1 confirm, 1 retry, got %+v", stats)
	}
	if stats.Load.Tokens != 17 {
		t.Errorf("Expected window to hold measured 17 tokens, got %d", stats.Load.Tokens)
	}
	if stats.PermitsInUse != 0 {
		t.Errorf("Expected all permits released, got %d", stats.PermitsInUse)
	}
}

func TestGated_AuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": {"message": "bad key", "type": "auth"}}`)
	}))
	defer srv.Close()

	ctrl := newTestController(t)
	gated := providers.NewGated(newTestClient(t, srv.URL, time.Second), ctrl, nil)

	_, err := gated.Complete(context.Background(), &providers.Request{Prompt: "Hello"})
	var auth *providers.AuthError
	if !errors.As(err, &auth) {
		t.Fatalf("Expected AuthError, got %T: %v", err, err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single call, got %d", calls.Load())
	}
	if stats := ctrl.Stats(); stats.Load.Tokens != 0 || stats.Load.Requests != 0 {
		t.Errorf("Expected aborted slot to leave the window empty, got %+v", stats.Load)
	}
}
