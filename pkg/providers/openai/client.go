package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"mercator-hq/tokengate/pkg/config"
	"mercator-hq/tokengate/pkg/limits"
	"mercator-hq/tokengate/pkg/providers"
	"mercator-hq/tokengate/pkg/telemetry/tracing"
)

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	name    string
	model   string
	timeout time.Duration
	client  *goopenai.Client
}

// New creates a client for the named provider. Outgoing requests carry the
// W3C trace context of the caller's span.
func New(name string, cfg config.ProviderConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key is required", name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", name)
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Transport: &retryAfterTransport{base: &tracing.Transport{}},
	}

	return &Client{
		name:    name,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  goopenai.NewClientWithConfig(clientCfg),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Complete sends one chat completion. The configured timeout bounds the
// call; exceeding it returns a *providers.TimeoutError.
func (c *Client) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: toChatMessages(req.ChatMessages()),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}

	parent := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	hint := &retryHint{}
	ctx = context.WithValue(ctx, retryHintKey{}, hint)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	latency := time.Since(start)
	if err != nil {
		return nil, c.convertError(parent, err, hint.get())
	}
	if len(resp.Choices) == 0 {
		return nil, &providers.ProviderError{Provider: c.name, Message: "response has no choices"}
	}

	return &providers.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: limits.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
		Latency: latency,
	}, nil
}

// convertError maps go-openai errors to the typed provider errors. A
// deadline that expired on the per-call timeout, rather than on the
// caller's context, becomes a TimeoutError.
func (c *Client) convertError(parent context.Context, err error, retryAfter time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return &providers.TimeoutError{Provider: c.name, Timeout: c.timeout, Cause: err}
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return wrapCause(providers.FromStatus(c.name, apiErr.HTTPStatusCode, apiErr.Message, retryAfter), err)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return wrapCause(providers.FromStatus(c.name, reqErr.HTTPStatusCode, reqErr.Error(), retryAfter), err)
	}

	return err
}

func wrapCause(err, cause error) error {
	var pe *providers.ProviderError
	if errors.As(err, &pe) {
		pe.Cause = cause
	}
	return err
}

func toChatMessages(messages []limits.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

type retryHintKey struct{}

// retryHint carries the Retry-After header of a 429 out of the transport,
// since go-openai does not expose response headers on errors.
type retryHint struct {
	mu    sync.Mutex
	after time.Duration
}

func (h *retryHint) set(d time.Duration) {
	h.mu.Lock()
	h.after = d
	h.mu.Unlock()
}

func (h *retryHint) get() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.after
}

type retryAfterTransport struct {
	base http.RoundTripper
}

func (t *retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if hint, ok := req.Context().Value(retryHintKey{}).(*retryHint); ok {
		hint.set(providers.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}
	return resp, nil
}
