package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"mercator-hq/tokengate/pkg/config"
)

// backendFactories builds every backend the conformance tests run against.
func backendFactories() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			b := NewMemoryBackend()
			t.Cleanup(func() { b.Close() })
			return b
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "usage.db"))
			if err != nil {
				t.Fatalf("NewSQLiteBackend failed: %v", err)
			}
			t.Cleanup(func() { b.Close() })
			return b
		},
		"sqlite3": func(t *testing.T) Backend {
			b, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
				DBPath: filepath.Join(t.TempDir(), "usage.db"),
				Driver: DriverMattn,
			})
			if err != nil {
				t.Skipf("mattn/go-sqlite3 unavailable: %v", err)
			}
			t.Cleanup(func() { b.Close() })
			return b
		},
		"redis": func(t *testing.T) Backend {
			mr := miniredis.RunT(t)
			client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisBackend(client, WithKeyPrefix("test:"+t.Name()+":"))
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	for name, factory := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

// ============================================================================
// Conformance Tests
// ============================================================================

func TestBackend_RecordAndQuery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

		records := []*UsageRecord{
			{RequestID: "r1", Provider: "openai", Model: "gpt-4o", EstimatedTokens: 150, InputTokens: 90, OutputTokens: 40, Attempt: 1, Timestamp: base},
			{RequestID: "r2", Provider: "anthropic", EstimatedTokens: 80, InputTokens: 50, OutputTokens: 20, Attempt: 2, Timestamp: base.Add(time.Minute)},
			{RequestID: "r3", Provider: "openai", EstimatedTokens: 60, InputTokens: 30, OutputTokens: 10, Attempt: 1, Timestamp: base.Add(2 * time.Minute)},
		}
		for _, r := range records {
			if err := b.Record(ctx, r); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
			if r.ID == "" {
				t.Error("Expected Record to assign an ID")
			}
		}

		all, err := b.Query(ctx, Filter{})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("Expected 3 records, got %d", len(all))
		}
		if all[0].RequestID != "r1" || all[2].RequestID != "r3" {
			t.Errorf("Expected records oldest first, got %s..%s", all[0].RequestID, all[2].RequestID)
		}
		if all[0].Model != "gpt-4o" || all[0].Attempt != 1 || all[0].EstimatedTokens != 150 {
			t.Errorf("Expected stored fields to round trip, got %+v", all[0])
		}
		if !all[0].Timestamp.Equal(base) {
			t.Errorf("Expected timestamp %v, got %v", base, all[0].Timestamp)
		}

		openai, err := b.Query(ctx, Filter{Provider: "openai"})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(openai) != 2 {
			t.Errorf("Expected 2 openai records, got %d", len(openai))
		}

		windowed, err := b.Query(ctx, Filter{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute)})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(windowed) != 1 || windowed[0].RequestID != "r2" {
			t.Errorf("Expected only r2 in [since, until), got %d records", len(windowed))
		}

		limited, err := b.Query(ctx, Filter{Limit: 2})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("Expected limit to cap results at 2, got %d", len(limited))
		}
	})
}

func TestBackend_Summarize(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		now := time.Now().Truncate(time.Millisecond)

		_ = b.Record(ctx, &UsageRecord{RequestID: "old", Provider: "openai", InputTokens: 1000, Timestamp: now.Add(-48 * time.Hour)})
		_ = b.Record(ctx, &UsageRecord{RequestID: "a", Provider: "openai", EstimatedTokens: 200, InputTokens: 100, OutputTokens: 50, Timestamp: now.Add(-time.Minute)})
		_ = b.Record(ctx, &UsageRecord{RequestID: "b", Provider: "openai", EstimatedTokens: 100, InputTokens: 60, OutputTokens: 20, Timestamp: now})
		_ = b.Record(ctx, &UsageRecord{RequestID: "c", Provider: "anthropic", EstimatedTokens: 10, InputTokens: 5, OutputTokens: 5, Timestamp: now})

		summaries, err := b.Summarize(ctx, now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("Summarize failed: %v", err)
		}
		if len(summaries) != 2 {
			t.Fatalf("Expected 2 providers, got %d", len(summaries))
		}
		if summaries[0].Provider != "anthropic" || summaries[1].Provider != "openai" {
			t.Errorf("Expected providers sorted by name, got %s, %s", summaries[0].Provider, summaries[1].Provider)
		}

		oa := summaries[1]
		if oa.Calls != 2 {
			t.Errorf("Expected 2 openai calls, got %d", oa.Calls)
		}
		if oa.TotalTokens() != 230 {
			t.Errorf("Expected 230 openai tokens, got %d", oa.TotalTokens())
		}
		if oa.EstimatedTokens != 300 {
			t.Errorf("Expected 300 estimated tokens, got %d", oa.EstimatedTokens)
		}
		if oa.EstimateError() != -70 {
			t.Errorf("Expected estimate error -70, got %d", oa.EstimateError())
		}
		if !oa.First.Equal(now.Add(-time.Minute)) || !oa.Last.Equal(now) {
			t.Errorf("Expected first/last %v/%v, got %v/%v", now.Add(-time.Minute), now, oa.First, oa.Last)
		}
	})
}

func TestBackend_Cleanup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		now := time.Now()

		_ = b.Record(ctx, &UsageRecord{RequestID: "old1", Provider: "p", Timestamp: now.Add(-3 * time.Hour)})
		_ = b.Record(ctx, &UsageRecord{RequestID: "old2", Provider: "p", Timestamp: now.Add(-2 * time.Hour)})
		_ = b.Record(ctx, &UsageRecord{RequestID: "new", Provider: "p", Timestamp: now})

		deleted, err := b.Cleanup(ctx, now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("Cleanup failed: %v", err)
		}
		if deleted != 2 {
			t.Errorf("Expected 2 deleted, got %d", deleted)
		}

		remaining, _ := b.Query(ctx, Filter{})
		if len(remaining) != 1 || remaining[0].RequestID != "new" {
			t.Errorf("Expected only the new record to remain, got %d", len(remaining))
		}
	})
}

func TestBackend_RejectsInvalidRecords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		tests := []struct {
			name string
			rec  *UsageRecord
		}{
			{"nil", nil},
			{"no request id", &UsageRecord{Provider: "p"}},
			{"no provider", &UsageRecord{RequestID: "r"}},
			{"negative tokens", &UsageRecord{RequestID: "r", Provider: "p", InputTokens: -1}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := b.Record(ctx, tt.rec); !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("Expected ErrInvalidRecord, got %v", err)
				}
			})
		}
	})
}

// ============================================================================
// Backend-specific Tests
// ============================================================================

func TestMemoryBackend_EvictsOldest(t *testing.T) {
	b := NewMemoryBackendWithConfig(MemoryBackendConfig{MaxEntries: 2})
	defer b.Close()

	ctx := context.Background()
	now := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		_ = b.Record(ctx, &UsageRecord{RequestID: id, Provider: "p", Timestamp: now.Add(time.Duration(i) * time.Second)})
	}

	if b.Size() != 2 {
		t.Fatalf("Expected 2 records, got %d", b.Size())
	}
	records, _ := b.Query(ctx, Filter{})
	if records[0].RequestID != "b" {
		t.Errorf("Expected oldest record to be evicted, first is %s", records[0].RequestID)
	}
}

func TestMemoryBackend_KeepsTimestampOrder(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	ctx := context.Background()
	now := time.Now()
	_ = b.Record(ctx, &UsageRecord{RequestID: "late", Provider: "p", Timestamp: now})
	_ = b.Record(ctx, &UsageRecord{RequestID: "early", Provider: "p", Timestamp: now.Add(-time.Minute)})

	records, _ := b.Query(ctx, Filter{})
	if records[0].RequestID != "early" {
		t.Errorf("Expected out-of-order record to be placed first, got %s", records[0].RequestID)
	}
}

func TestMemoryBackend_QueryReturnsCopies(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	ctx := context.Background()
	_ = b.Record(ctx, &UsageRecord{RequestID: "r", Provider: "p", InputTokens: 5})

	records, _ := b.Query(ctx, Filter{})
	records[0].InputTokens = 999

	again, _ := b.Query(ctx, Filter{})
	if again[0].InputTokens != 5 {
		t.Errorf("Expected stored record to be unchanged, got %d", again[0].InputTokens)
	}
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	if err := b.Record(ctx, &UsageRecord{RequestID: "r", Provider: "p", InputTokens: 7}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}

	reopened, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	records, err := reopened.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 || records[0].InputTokens != 7 {
		t.Errorf("Expected persisted record, got %d records", len(records))
	}
}

func TestSQLiteBackend_RejectsBadConfig(t *testing.T) {
	if _, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{}); err == nil {
		t.Error("Expected error for empty path")
	}
	if _, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: "x.db", Driver: "postgres"}); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Config{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := b.(*MemoryBackend); !ok {
		t.Errorf("Expected memory backend by default, got %T", b)
	}
	b.Close()

	mr := miniredis.RunT(t)
	b, err = Open(ctx, Config{Backend: BackendRedis, Redis: RedisBackendConfig{Addr: mr.Addr()}})
	if err != nil {
		t.Fatalf("Open redis failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if _, err := Open(ctx, Config{Backend: "cassandra"}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	usage := config.NewDefaultConfig().Usage
	usage.Backend = BackendSQLite
	usage.SQLite.Path = filepath.Join(t.TempDir(), "usage.db")

	cfg := FromConfig(&usage)
	if cfg.SQLite.DBPath != usage.SQLite.Path || cfg.SQLite.Driver != "sqlite" {
		t.Errorf("Unexpected sqlite config: %+v", cfg.SQLite)
	}
	if cfg.Memory.RetentionPeriod != usage.Retention.Period {
		t.Errorf("Expected retention %v, got %v", usage.Retention.Period, cfg.Memory.RetentionPeriod)
	}

	b, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*SQLiteBackend); !ok {
		t.Errorf("Expected sqlite backend, got %T", b)
	}
}
