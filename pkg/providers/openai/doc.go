// Package openai implements providers.Provider for OpenAI-compatible chat
// completion APIs using github.com/sashabaranov/go-openai.
//
// # Basic Usage
//
//	client, err := openai.New("openai", cfg.Providers["openai"])
//	if err != nil {
//	    return err
//	}
//
//	gated := providers.NewGated(client, ctrl, collector)
//	resp, err := gated.Complete(ctx, &providers.Request{Prompt: "Hello!", MaxTokens: 256})
//
// # Error Handling
//
// HTTP errors are mapped to the typed errors of package providers:
//
//   - 429 -> RateLimitError (includes retry-after)
//   - 401/403 -> AuthError
//   - other statuses -> ProviderError
//   - per-call timeout -> TimeoutError
//
// providers.Classify decides which of these are retried.
package openai
