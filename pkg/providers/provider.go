package providers

import "context"

// Provider is implemented by every LLM backend tokengate can gate.
//
// Complete performs exactly one call with no retries of its own. Admission
// and retries belong to the controller that wraps it (see Gated), which
// decides what is transient with Classify, so failures should be returned
// as the typed errors of this package.
type Provider interface {
	// Name returns the provider name used for metrics and usage records.
	Name() string

	// Complete sends one chat completion and reports measured usage.
	Complete(ctx context.Context, req *Request) (*Response, error)
}
