package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-memory storage.
// This is the default backend and provides fast access with no persistence.
// All data is lost when the process exits.
//
// Records are kept in timestamp order. When MaxEntries is reached the oldest
// record is evicted.
type MemoryBackend struct {
	// records is ordered by Timestamp.
	records []*UsageRecord

	// mu protects access to records.
	mu sync.RWMutex

	maxEntries      int
	cleanupInterval time.Duration
	retention       time.Duration

	// done signals the cleanup goroutine to stop.
	done      chan struct{}
	closeOnce sync.Once
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxEntries is the maximum number of records to store.
	// Oldest records are evicted when this limit is reached.
	// Default: 100,000
	MaxEntries int

	// CleanupInterval is how often to drop records past the retention period.
	// Default: 1 minute
	CleanupInterval time.Duration

	// RetentionPeriod is how long to keep records.
	// Default: 24 hours
	RetentionPeriod time.Duration
}

// NewMemoryBackend creates a new in-memory storage backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a new in-memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}

	backend := &MemoryBackend{
		maxEntries:      cfg.MaxEntries,
		cleanupInterval: cfg.CleanupInterval,
		retention:       cfg.RetentionPeriod,
		done:            make(chan struct{}),
	}

	go backend.cleanupLoop()

	return backend
}

// Record stores a usage record.
func (m *MemoryBackend) Record(ctx context.Context, rec *UsageRecord) error {
	if err := rec.prepare(); err != nil {
		return err
	}
	stored := *rec

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.records) >= m.maxEntries {
		m.records[0] = nil
		m.records = m.records[1:]
	}

	// Records almost always arrive in order; walk back from the tail.
	i := len(m.records)
	for i > 0 && m.records[i-1].Timestamp.After(stored.Timestamp) {
		i--
	}
	m.records = append(m.records, nil)
	copy(m.records[i+1:], m.records[i:])
	m.records[i] = &stored

	return nil
}

// Query returns records matching the filter, oldest first.
func (m *MemoryBackend) Query(ctx context.Context, filter Filter) ([]*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*UsageRecord
	for _, r := range m.records {
		if !filter.matches(r) {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Summarize aggregates records at or after since per provider.
func (m *MemoryBackend) Summarize(ctx context.Context, since time.Time) ([]Summary, error) {
	records, err := m.Query(ctx, Filter{Since: since})
	if err != nil {
		return nil, err
	}
	return summarize(records), nil
}

// Cleanup removes records older than the cutoff.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for n < len(m.records) && m.records[n].Timestamp.Before(olderThan) {
		m.records[n] = nil
		n++
	}
	m.records = m.records[n:]
	return n, nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Size returns the current number of stored records.
// This is useful for monitoring and testing.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// cleanupLoop runs periodic cleanup of expired records.
func (m *MemoryBackend) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Cleanup(context.Background(), time.Now().Add(-m.retention))
		case <-m.done:
			return
		}
	}
}
