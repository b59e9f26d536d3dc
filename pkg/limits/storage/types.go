package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRecord is returned for records missing required fields.
	ErrInvalidRecord = errors.New("storage: invalid usage record")

	// ErrUnknownBackend is returned by Open for unsupported backend names.
	ErrUnknownBackend = errors.New("storage: unknown backend")
)

// Backend defines the interface for usage history persistence.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Record persists a single usage record. Missing ID and Timestamp are
	// filled in.
	Record(ctx context.Context, rec *UsageRecord) error

	// Query returns records matching the filter, oldest first.
	Query(ctx context.Context, filter Filter) ([]*UsageRecord, error)

	// Summarize aggregates records at or after since, one Summary per
	// provider, sorted by provider name.
	Summarize(ctx context.Context, since time.Time) ([]Summary, error)

	// Cleanup removes records older than the cutoff.
	// Returns the number of records deleted and any error.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// UsageRecord is the measured usage of one confirmed call.
type UsageRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// RequestID is the controller request id the usage belongs to.
	RequestID string `json:"request_id"`

	// Provider is the provider whose ceilings the call counted against.
	Provider string `json:"provider"`

	// Model is the model reported for the call, if any.
	Model string `json:"model,omitempty"`

	// EstimatedTokens is the reservation made at admission.
	EstimatedTokens int64 `json:"estimated_tokens"`

	// InputTokens is the measured prompt token count.
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens is the measured completion token count.
	OutputTokens int64 `json:"output_tokens"`

	// Attempt is the 1-based attempt that produced the result.
	Attempt int `json:"attempt"`

	// Timestamp is when the call was confirmed.
	Timestamp time.Time `json:"timestamp"`
}

// TotalTokens returns input plus output tokens.
func (r *UsageRecord) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

func (r *UsageRecord) validate() error {
	if r == nil {
		return fmt.Errorf("%w: record cannot be nil", ErrInvalidRecord)
	}
	if r.RequestID == "" {
		return fmt.Errorf("%w: request id cannot be empty", ErrInvalidRecord)
	}
	if r.Provider == "" {
		return fmt.Errorf("%w: provider cannot be empty", ErrInvalidRecord)
	}
	if r.InputTokens < 0 || r.OutputTokens < 0 || r.EstimatedTokens < 0 {
		return fmt.Errorf("%w: negative token count for %s", ErrInvalidRecord, r.RequestID)
	}
	return nil
}

// prepare validates r and fills in ID and Timestamp when missing.
func (r *UsageRecord) prepare() error {
	if err := r.validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return nil
}

// Filter selects usage records.
type Filter struct {
	// Provider restricts results to one provider. Empty matches all.
	Provider string

	// Since is the inclusive lower bound. Zero means unbounded.
	Since time.Time

	// Until is the exclusive upper bound. Zero means unbounded.
	Until time.Time

	// Limit caps the number of records returned. Zero means no limit.
	Limit int
}

func (f Filter) matches(r *UsageRecord) bool {
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Summary aggregates usage for one provider.
type Summary struct {
	Provider        string    `json:"provider"`
	Calls           int64     `json:"calls"`
	EstimatedTokens int64     `json:"estimated_tokens"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	First           time.Time `json:"first"`
	Last            time.Time `json:"last"`
}

// TotalTokens returns input plus output tokens.
func (s Summary) TotalTokens() int64 {
	return s.InputTokens + s.OutputTokens
}

// EstimateError is the measured minus the estimated token total.
func (s Summary) EstimateError() int64 {
	return s.TotalTokens() - s.EstimatedTokens
}

// summarize folds records into per-provider summaries.
func summarize(records []*UsageRecord) []Summary {
	byProvider := make(map[string]*Summary)
	for _, r := range records {
		s, ok := byProvider[r.Provider]
		if !ok {
			s = &Summary{Provider: r.Provider, First: r.Timestamp, Last: r.Timestamp}
			byProvider[r.Provider] = s
		}
		s.Calls++
		s.EstimatedTokens += r.EstimatedTokens
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		if r.Timestamp.Before(s.First) {
			s.First = r.Timestamp
		}
		if r.Timestamp.After(s.Last) {
			s.Last = r.Timestamp
		}
	}

	out := make([]Summary, 0, len(byProvider))
	for _, s := range byProvider {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
