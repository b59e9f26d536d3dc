package providers

import (
	"time"

	"mercator-hq/tokengate/pkg/limits"
)

// Request is a provider-agnostic chat completion request.
type Request struct {
	// Model overrides the provider's configured model when set.
	Model string

	// Messages is the conversation. Prompt is used when empty.
	Messages []limits.Message

	// Prompt is a single user message.
	Prompt string

	// MaxTokens is the completion budget reserved at admission.
	MaxTokens int64

	// Temperature is passed through when set.
	Temperature *float32
}

// ChatMessages returns Messages, or Prompt as a single user message.
func (r *Request) ChatMessages() []limits.Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	return []limits.Message{{Role: "user", Content: r.Prompt}}
}

// PromptText returns the text the admission estimate is computed from.
func (r *Request) PromptText() string {
	if len(r.Messages) == 0 {
		return r.Prompt
	}
	return limits.PromptText(r.Messages)
}

// Response is a provider-agnostic chat completion response.
type Response struct {
	ID           string        `json:"id,omitempty"`
	Model        string        `json:"model"`
	Content      string        `json:"content"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        limits.Usage  `json:"usage"`
	Latency      time.Duration `json:"latency"`

	// Attempt is the controller attempt that produced the response.
	Attempt int `json:"attempt,omitempty"`

	// RequestID is the controller request id of that attempt.
	RequestID string `json:"request_id,omitempty"`

	// Waited is the time that attempt spent waiting for capacity.
	Waited time.Duration `json:"waited"`
}
