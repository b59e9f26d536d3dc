package ledger

import (
	"fmt"
	"time"
)

// Kind is the lifecycle state of an Entry.
type Kind uint8

const (
	// KindEstimate marks a reservation recorded before the call runs.
	KindEstimate Kind = iota + 1

	// KindConfirmed marks measured usage reported after the call completed.
	KindConfirmed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEstimate:
		return "estimate"
	case KindConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is a single consumption record.
type Entry struct {
	// ID is the request identifier that owns this entry.
	ID string

	// InputTokens is the prompt token count (estimated or measured).
	InputTokens int64

	// OutputTokens is the completion token count. For estimates this is the
	// requested output budget.
	OutputTokens int64

	// Timestamp is when the entry was recorded. Values from time.Now carry a
	// monotonic reading, which window comparisons use.
	Timestamp time.Time

	// Kind is the lifecycle state.
	Kind Kind
}

// Estimate builds an estimate entry.
func Estimate(id string, inputTokens, outputTokens int64, at time.Time) Entry {
	return Entry{
		ID:           id,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Timestamp:    at,
		Kind:         KindEstimate,
	}
}

// Confirmed builds a confirmed entry.
func Confirmed(id string, inputTokens, outputTokens int64, at time.Time) Entry {
	return Entry{
		ID:           id,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Timestamp:    at,
		Kind:         KindConfirmed,
	}
}

// Tokens returns the total token contribution of the entry.
func (e Entry) Tokens() int64 {
	return e.InputTokens + e.OutputTokens
}

// IsEstimate reports whether the entry is still a reservation.
func (e Entry) IsEstimate() bool {
	return e.Kind == KindEstimate
}

func (e Entry) validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEntry)
	}
	if e.InputTokens < 0 || e.OutputTokens < 0 {
		return fmt.Errorf("%w: negative token count for %s", ErrInvalidEntry, e.ID)
	}
	switch e.Kind {
	case KindEstimate, KindConfirmed:
	default:
		return fmt.Errorf("%w: unknown %s for %s", ErrInvalidEntry, e.Kind, e.ID)
	}
	return nil
}
