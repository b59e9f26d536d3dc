// Package storage persists confirmed LLM usage records.
//
// # Overview
//
// The admission controller only keeps a sixty second window in memory. Every
// confirmed call is also handed to a usage Backend so per-provider history
// survives the window and can be summarized later:
//
//   - Memory: bounded in-process history (default, no persistence)
//   - SQLite: file-backed history through modernc.org/sqlite or mattn/go-sqlite3
//   - Redis: shared history in a sorted set keyed by timestamp
//
// A RetentionScheduler prunes old records on a cron schedule.
//
// # Usage
//
//	backend, err := storage.Open(storage.Config{Backend: storage.BackendSQLite,
//	    SQLite: storage.SQLiteBackendConfig{DBPath: "usage.db"}})
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	err = backend.Record(ctx, &storage.UsageRecord{
//	    RequestID:    "req-1",
//	    Provider:     "openai",
//	    InputTokens:  120,
//	    OutputTokens: 48,
//	})
//
//	summaries, err := backend.Summarize(ctx, time.Now().Add(-24*time.Hour))
//
// # Thread Safety
//
// All storage backends are thread-safe and support concurrent access
// from multiple goroutines. Locking is handled internally by each backend.
package storage
