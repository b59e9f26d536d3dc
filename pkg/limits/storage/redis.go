package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on a Redis sorted set scored by the record
// timestamp in milliseconds. Several processes sharing one Redis see a single
// usage history.
type RedisBackend struct {
	client    goredis.Cmdable
	closer    func() error
	keyPrefix string
}

// RedisBackendConfig configures a RedisBackend that owns its client.
type RedisBackendConfig struct {
	// Addr is the Redis address.
	// Default: localhost:6379
	Addr string

	// Password is the optional AUTH password.
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix namespaces every key.
	// Default: "tokengate:usage:"
	KeyPrefix string
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithKeyPrefix sets the Redis key prefix (default "tokengate:usage:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisBackend) { r.keyPrefix = prefix }
}

// NewRedisBackend wraps an existing client. The caller keeps ownership of the
// client; Close does not close it.
func NewRedisBackend(client goredis.Cmdable, opts ...RedisOption) *RedisBackend {
	r := &RedisBackend{
		client:    client,
		keyPrefix: "tokengate:usage:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisBackendWithConfig dials Redis and verifies the connection.
func NewRedisBackendWithConfig(ctx context.Context, cfg RedisBackendConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	var opts []RedisOption
	if cfg.KeyPrefix != "" {
		opts = append(opts, WithKeyPrefix(cfg.KeyPrefix))
	}
	r := NewRedisBackend(client, opts...)
	r.closer = client.Close
	return r, nil
}

func (r *RedisBackend) recordsKey() string {
	return r.keyPrefix + "records"
}

// Record adds the record to the sorted set.
func (r *RedisBackend) Record(ctx context.Context, rec *UsageRecord) error {
	if err := rec.prepare(); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	err = r.client.ZAdd(ctx, r.recordsKey(), goredis.Z{
		Score:  float64(rec.Timestamp.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store usage record: %w", err)
	}
	return nil
}

// Query returns records matching the filter, oldest first.
func (r *RedisBackend) Query(ctx context.Context, filter Filter) ([]*UsageRecord, error) {
	rng := &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.Since.IsZero() {
		rng.Min = strconv.FormatInt(filter.Since.UnixMilli(), 10)
	}
	if !filter.Until.IsZero() {
		// Scores are truncated to milliseconds; the exact bound is applied below.
		rng.Max = strconv.FormatInt(filter.Until.UnixMilli(), 10)
	}

	members, err := r.client.ZRangeByScore(ctx, r.recordsKey(), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}

	var records []*UsageRecord
	for _, m := range members {
		var rec UsageRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode usage record: %w", err)
		}
		if !filter.matches(&rec) {
			continue
		}
		records = append(records, &rec)
		if filter.Limit > 0 && len(records) >= filter.Limit {
			break
		}
	}
	return records, nil
}

// Summarize aggregates records at or after since per provider.
func (r *RedisBackend) Summarize(ctx context.Context, since time.Time) ([]Summary, error) {
	records, err := r.Query(ctx, Filter{Since: since})
	if err != nil {
		return nil, err
	}
	return summarize(records), nil
}

// Cleanup removes records scored before the cutoff.
func (r *RedisBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := r.client.ZRemRangeByScore(ctx, r.recordsKey(),
		"-inf", "("+strconv.FormatInt(olderThan.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}
	return int(n), nil
}

// Close closes the client if the backend created it.
func (r *RedisBackend) Close() error {
	if r.closer == nil {
		return nil
	}
	closer := r.closer
	r.closer = nil
	return closer()
}
