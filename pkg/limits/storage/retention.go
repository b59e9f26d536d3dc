package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig configures usage pruning.
type RetentionConfig struct {
	// Period is how long records are kept. Zero disables pruning.
	Period time.Duration

	// Schedule is a standard cron expression for pruning runs.
	// Default: "0 * * * *" (hourly)
	Schedule string

	// Logger receives scheduler diagnostics.
	Logger *slog.Logger
}

// RetentionScheduler prunes usage records older than the retention period on
// a cron schedule.
type RetentionScheduler struct {
	backend Backend
	config  RetentionConfig
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
	now     func() time.Time
}

// NewRetentionScheduler creates a scheduler for backend.
func NewRetentionScheduler(backend Backend, cfg RetentionConfig) *RetentionScheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 * * * *"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "storage.retention")
	}
	return &RetentionScheduler{
		backend: backend,
		config:  cfg,
		cron:    cron.New(),
		logger:  logger,
		now:     time.Now,
	}
}

// Start registers the pruning job and starts the cron runner. The scheduler
// stops when ctx is done. A zero retention period leaves it idle.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Period <= 0 {
		s.logger.Info("usage retention not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.runPruning(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("usage retention scheduler started",
		"schedule", s.config.Schedule,
		"retention", s.config.Period,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Prune deletes records older than the retention period now.
func (s *RetentionScheduler) Prune(ctx context.Context) (int, error) {
	if s.config.Period <= 0 {
		return 0, nil
	}
	return s.backend.Cleanup(ctx, s.now().Add(-s.config.Period))
}

func (s *RetentionScheduler) runPruning(ctx context.Context) {
	deleted, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled usage pruning failed", "error", err)
		return
	}

	if deleted > 0 {
		s.logger.Info("scheduled usage pruning completed", "deleted_count", deleted)
	} else {
		s.logger.Debug("scheduled usage pruning completed, no records deleted")
	}
}

// Stop stops the scheduler and waits for a running job to complete.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("usage retention scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is running.
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled pruning time, or nil when idle.
func (s *RetentionScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
