package limits

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Usage is the measured token consumption of one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// RequestContext is the handle a unit of work receives for one admitted
// attempt. The work reads Prompt and MaxOutputTokens, performs its call and
// reports measured usage with SetResult exactly once.
type RequestContext struct {
	// ID is the ledger id of this attempt.
	ID string

	// Provider is the controller the slot was admitted by.
	Provider string

	// Model is an optional model label carried into usage records.
	Model string

	// Prompt is the text the estimate was computed from.
	Prompt string

	// MaxOutputTokens is the requested completion budget.
	MaxOutputTokens int64

	// EstimatedInputTokens is the estimator's forecast for Prompt.
	EstimatedInputTokens int64

	// Attempt is the 1-based attempt number.
	Attempt int

	// AdmittedAt is when the slot was granted.
	AdmittedAt time.Time

	// Waited is the time spent waiting for capacity and a permit.
	Waited time.Duration

	mu        sync.Mutex
	usage     Usage
	result    any
	hasResult bool
	released  bool
}

// EstimatedTokens returns the reservation made for this attempt.
func (r *RequestContext) EstimatedTokens() int64 {
	return r.EstimatedInputTokens + r.MaxOutputTokens
}

// SetResult records measured usage and the call's result. It may be called
// once, before the unit of work returns.
func (r *RequestContext) SetResult(inputTokens, outputTokens int64, result any) error {
	if inputTokens < 0 || outputTokens < 0 {
		return fmt.Errorf("%w: negative token count (%d, %d)", ErrInvalidRequest, inputTokens, outputTokens)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return fmt.Errorf("%w: %s", ErrContextClosed, r.ID)
	}
	if r.hasResult {
		return fmt.Errorf("%w: %s", ErrResultAlreadySet, r.ID)
	}
	r.usage = Usage{InputTokens: inputTokens, OutputTokens: outputTokens}
	r.result = result
	r.hasResult = true
	return nil
}

// Result returns the value passed to SetResult.
func (r *RequestContext) Result() (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.hasResult
}

// Usage returns the measured usage passed to SetResult.
func (r *RequestContext) Usage() (Usage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage, r.hasResult
}

// HasResult reports whether SetResult succeeded.
func (r *RequestContext) HasResult() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasResult
}

// release freezes the context; later SetResult calls fail.
func (r *RequestContext) release() {
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
}

// Message is one chat message used to build a prompt.
type Message struct {
	Role    string
	Content string
}

// PromptText flattens chat messages into the text the estimator sees, one
// "role: content" line per message.
func PromptText(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
