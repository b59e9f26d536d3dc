// Package providers defines the LLM provider abstraction gated by tokengate.
//
// A Provider performs one chat completion and reports the prompt and
// completion token counts the upstream measured. Gated wraps a Provider with
// a limits.Controller so every call is admitted under the provider's TPM,
// RPM and concurrency ceilings, retried on transient failures and confirmed
// with its measured usage:
//
//	client, _ := openai.New("openai", cfg.Providers["openai"])
//	ctrl, _ := manager.Get("openai")
//	gated := providers.NewGated(client, ctrl, tel.Metrics())
//
//	resp, err := gated.Complete(ctx, &providers.Request{
//	    Messages: []limits.Message{
//	        {Role: "system", Content: "Answer briefly."},
//	        {Role: "user", Content: question},
//	    },
//	    MaxTokens: 256,
//	})
//
// # Error Handling
//
// Providers return typed errors:
//
//   - RateLimitError: HTTP 429, with the Retry-After hint
//   - AuthError: HTTP 401 or 403
//   - TimeoutError: the per-call timeout expired
//   - ProviderError: any other non-success status
//
// Classify marks rate limits, timeouts, 5xx responses and network errors as
// retryable; a Retry-After hint lengthens the controller's backoff.
package providers
