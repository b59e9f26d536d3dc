package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver ("sqlite3")
	_ "modernc.org/sqlite"          // pure-Go SQLite driver ("sqlite")
)

const (
	// DriverModernc selects the pure-Go modernc.org/sqlite driver.
	DriverModernc = "sqlite"

	// DriverMattn selects the cgo github.com/mattn/go-sqlite3 driver.
	DriverMattn = "sqlite3"
)

// SQLiteBackend implements Backend using SQLite for persistence.
// This backend provides durable storage with periodic WAL checkpoints and is
// suitable for single-instance deployments where usage history must survive
// restarts.
type SQLiteBackend struct {
	db               *sql.DB
	dbPath           string
	driver           string
	snapshotInterval time.Duration
	done             chan struct{}
	mu               sync.RWMutex
	closeOnce        sync.Once

	// preparedStatements contains pre-compiled SQL statements for performance
	insertStmt    *sql.Stmt
	queryStmt     *sql.Stmt
	summarizeStmt *sql.Stmt
	cleanupStmt   *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Driver is the database/sql driver name: "sqlite" (modernc, default) or
	// "sqlite3" (mattn, requires cgo).
	Driver string

	// SnapshotInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q (want %q or %q)", cfg.Driver, DriverModernc, DriverMattn)
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open(cfg.Driver, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:               db,
		dbPath:           cfg.DBPath,
		driver:           cfg.Driver,
		snapshotInterval: cfg.SnapshotInterval,
		done:             make(chan struct{}),
	}

	// Pragmas are per connection; the pool holds exactly one.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		estimated_tokens INTEGER NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_ts ON usage_records(ts);
	CREATE INDEX IF NOT EXISTS idx_usage_provider_ts ON usage_records(provider, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO usage_records (id, request_id, provider, model, estimated_tokens,
			input_tokens, output_tokens, attempt, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	// Zero bounds are passed as the int64 extremes; limit -1 is unbounded.
	s.queryStmt, err = s.db.Prepare(`
		SELECT id, request_id, provider, model, estimated_tokens, input_tokens,
			output_tokens, attempt, ts
		FROM usage_records
		WHERE (? = '' OR provider = ?) AND ts >= ? AND ts < ?
		ORDER BY ts ASC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare query statement: %w", err)
	}

	s.summarizeStmt, err = s.db.Prepare(`
		SELECT provider, COUNT(*), SUM(estimated_tokens), SUM(input_tokens),
			SUM(output_tokens), MIN(ts), MAX(ts)
		FROM usage_records
		WHERE ts >= ?
		GROUP BY provider
		ORDER BY provider ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare summarize statement: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`
		DELETE FROM usage_records
		WHERE ts < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

// Record persists a usage record.
func (s *SQLiteBackend) Record(ctx context.Context, rec *UsageRecord) error {
	if err := rec.prepare(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.insertStmt.ExecContext(ctx,
		rec.ID,
		rec.RequestID,
		rec.Provider,
		rec.Model,
		rec.EstimatedTokens,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Attempt,
		rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

// Query returns records matching the filter, oldest first.
func (s *SQLiteBackend) Query(ctx context.Context, filter Filter) ([]*UsageRecord, error) {
	since, until := int64(math.MinInt64), int64(math.MaxInt64)
	if !filter.Since.IsZero() {
		since = filter.Since.UnixNano()
	}
	if !filter.Until.IsZero() {
		until = filter.Until.UnixNano()
	}
	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.queryStmt.QueryContext(ctx, filter.Provider, filter.Provider, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		var (
			r  UsageRecord
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Provider, &r.Model, &r.EstimatedTokens,
			&r.InputTokens, &r.OutputTokens, &r.Attempt, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Timestamp = time.Unix(0, ts)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// Summarize aggregates records at or after since per provider.
func (s *SQLiteBackend) Summarize(ctx context.Context, since time.Time) ([]Summary, error) {
	from := int64(math.MinInt64)
	if !since.IsZero() {
		from = since.UnixNano()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.summarizeStmt.QueryContext(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			sum         Summary
			first, last int64
		)
		if err := rows.Scan(&sum.Provider, &sum.Calls, &sum.EstimatedTokens, &sum.InputTokens,
			&sum.OutputTokens, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.First = time.Unix(0, first)
		sum.Last = time.Unix(0, last)
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return summaries, nil
}

// Cleanup removes records older than the cutoff.
func (s *SQLiteBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.cleanupStmt.ExecContext(ctx, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(deleted), nil
}

// Driver returns the database/sql driver in use.
func (s *SQLiteBackend) Driver() string {
	return s.driver
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.insertStmt, s.queryStmt, s.summarizeStmt, s.cleanupStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
