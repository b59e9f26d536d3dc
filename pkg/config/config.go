package config

import "time"

// Config is the root configuration structure for tokengate.
type Config struct {
	// Providers contains one entry per upstream provider. Each provider gets
	// its own controller with independent ceilings.
	// Keys are provider names (e.g., "openai", "azure").
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Gate contains capacity gate tuning shared by all controllers.
	Gate GateConfig `yaml:"gate"`

	// Processing contains token estimation configuration.
	Processing ProcessingConfig `yaml:"processing"`

	// Usage contains configuration for the usage history backend.
	Usage UsageConfig `yaml:"usage"`

	// Telemetry contains configuration for logging, metrics, tracing and
	// health endpoints.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProviderConfig contains configuration for a single provider.
type ProviderConfig struct {
	// BaseURL is the OpenAI-compatible API endpoint.
	// Default: "https://api.openai.com/v1"
	BaseURL string `yaml:"base_url"`

	// APIKey is the credential sent to the provider. Usually supplied as
	// "${OPENAI_API_KEY}" or through TOKENGATE_PROVIDERS_<NAME>_API_KEY.
	APIKey string `yaml:"api_key"`

	// Model is the default model for completions.
	// Default: "gpt-4o-mini"
	Model string `yaml:"model"`

	// Timeout bounds a single upstream call.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// Limits are the ceilings enforced for this provider.
	Limits LimitsConfig `yaml:"limits"`

	// Retry controls the retry orchestrator for this provider.
	Retry RetryConfig `yaml:"retry"`
}

// LimitsConfig contains the admission ceilings for one provider.
type LimitsConfig struct {
	// TokensPerMinute is the token ceiling over the rolling window.
	// Default: 90000
	TokensPerMinute int64 `yaml:"tokens_per_minute"`

	// RequestsPerMinute is the request ceiling over the rolling window.
	// Default: 3500
	RequestsPerMinute int64 `yaml:"requests_per_minute"`

	// MaxConcurrent is the number of calls allowed in flight at once.
	// Default: 10
	MaxConcurrent int `yaml:"max_concurrent"`
}

// RetryConfig contains retry settings for one provider.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the delay before the second attempt. Later delays
	// double.
	// Default: 1s
	BackoffBase time.Duration `yaml:"backoff_base"`

	// MaxBackoff caps a single delay. Zero means uncapped.
	// Default: 30s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// RetryAll retries every failure kind except faults. Off by default so
	// that only errors marked retryable are retried.
	// Default: false
	RetryAll bool `yaml:"retry_all"`
}

// GateConfig contains capacity gate tuning.
type GateConfig struct {
	// PollInterval is how often a waiting caller re-checks capacity.
	// Default: 50ms
	PollInterval time.Duration `yaml:"poll_interval"`

	// Window is the rolling accounting window.
	// Default: 60s
	Window time.Duration `yaml:"window"`
}

// ProcessingConfig contains request processing configuration.
type ProcessingConfig struct {
	// Tokens contains token estimation configuration.
	Tokens TokensConfig `yaml:"tokens"`
}

// TokensConfig contains token estimation configuration.
type TokensConfig struct {
	// Estimator selects the estimation strategy.
	// Options: "simple", "tiktoken"
	// Default: "simple"
	Estimator string `yaml:"estimator"`

	// CharsPerToken is the divisor used by the simple estimator.
	// Default: 4
	CharsPerToken float64 `yaml:"chars_per_token"`

	// Overhead is added to every estimate.
	// Default: 10
	Overhead int `yaml:"overhead"`

	// Model selects the tiktoken encoding by model name when set.
	Model string `yaml:"model"`

	// Encoding is the tiktoken encoding used when Model is unset or unknown.
	// Default: "cl100k_base"
	Encoding string `yaml:"encoding"`
}

// UsageConfig contains configuration for usage history.
type UsageConfig struct {
	// Enabled controls whether confirmed calls are recorded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend selects the storage backend.
	// Options: "memory", "sqlite", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Memory contains in-memory backend settings.
	Memory MemoryUsageConfig `yaml:"memory"`

	// SQLite contains SQLite backend settings.
	SQLite SQLiteUsageConfig `yaml:"sqlite"`

	// Redis contains Redis backend settings.
	Redis RedisUsageConfig `yaml:"redis"`

	// Retention controls pruning of old records.
	Retention RetentionConfig `yaml:"retention"`
}

// MemoryUsageConfig contains in-memory backend settings.
type MemoryUsageConfig struct {
	// MaxEntries bounds the number of stored records. Oldest are evicted.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`

	// CleanupInterval is how often expired records are dropped.
	// Default: 5m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// SQLiteUsageConfig contains SQLite backend settings.
type SQLiteUsageConfig struct {
	// Path is the database file path.
	// Default: "data/usage.db"
	Path string `yaml:"path"`

	// Driver selects the database/sql driver.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// SnapshotInterval is how often the WAL is checkpointed. Zero disables
	// periodic checkpoints.
	// Default: 5m
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// RedisUsageConfig contains Redis backend settings.
type RedisUsageConfig struct {
	// Addr is the Redis server address.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password is the Redis password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// KeyPrefix namespaces the sorted set keys.
	// Default: "tokengate:usage:"
	KeyPrefix string `yaml:"key_prefix"`
}

// RetentionConfig controls pruning of usage history.
type RetentionConfig struct {
	// Period is how long records are kept. Zero keeps records forever.
	// Default: 720h (30 days)
	Period time.Duration `yaml:"period"`

	// Schedule is the cron expression for pruning runs.
	// Default: "0 * * * *"
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// ListenAddress is where the metrics and health endpoints are served.
	// Empty disables the HTTP listener.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "text"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// File additionally writes logs to this path when set.
	File string `yaml:"file"`

	// RedactSecrets masks API keys and bearer tokens in log output.
	// Default: true
	RedactSecrets bool `yaml:"redact_secrets"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the collector connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout bounds a single export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service name attached to spans.
	// Default: "tokengate"
	ServiceName string `yaml:"service_name"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health endpoints are served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the liveness probe path.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness probe path.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout bounds each component check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
