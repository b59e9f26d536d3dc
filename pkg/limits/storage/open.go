package storage

import (
	"context"
	"fmt"

	"mercator-hq/tokengate/pkg/config"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a usage backend.
type Config struct {
	// Backend is one of "memory", "sqlite" or "redis".
	// Default: memory
	Backend string

	Memory MemoryBackendConfig
	SQLite SQLiteBackendConfig
	Redis  RedisBackendConfig
}

// Open creates the configured backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryBackendWithConfig(cfg.Memory), nil
	case BackendSQLite:
		b, err := NewSQLiteBackendWithConfig(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendRedis:
		b, err := NewRedisBackendWithConfig(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// FromConfig converts the usage section of the configuration.
func FromConfig(cfg *config.UsageConfig) Config {
	return Config{
		Backend: cfg.Backend,
		Memory: MemoryBackendConfig{
			MaxEntries:      cfg.Memory.MaxEntries,
			CleanupInterval: cfg.Memory.CleanupInterval,
			RetentionPeriod: cfg.Retention.Period,
		},
		SQLite: SQLiteBackendConfig{
			DBPath:           cfg.SQLite.Path,
			Driver:           cfg.SQLite.Driver,
			SnapshotInterval: cfg.SQLite.SnapshotInterval,
			BusyTimeout:      cfg.SQLite.BusyTimeout,
		},
		Redis: RedisBackendConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		},
	}
}
