package config

import "time"

// Default values for configuration fields.
const (
	// Provider defaults
	DefaultProviderBaseURL = "https://api.openai.com/v1"
	DefaultProviderModel   = "gpt-4o-mini"
	DefaultProviderTimeout = 60 * time.Second

	// Limits defaults
	DefaultTokensPerMinute   = int64(90000)
	DefaultRequestsPerMinute = int64(3500)
	DefaultMaxConcurrent     = 10

	// Retry defaults
	DefaultRetryMaxAttempts = 3
	DefaultRetryBackoffBase = time.Second
	DefaultRetryMaxBackoff  = 30 * time.Second

	// Gate defaults
	DefaultGatePollInterval = 50 * time.Millisecond
	DefaultGateWindow       = 60 * time.Second

	// Token estimation defaults
	DefaultTokenEstimator     = "simple"
	DefaultTokenCharsPerToken = 4.0
	DefaultTokenOverhead      = 10
	DefaultTokenEncoding      = "cl100k_base"

	// Usage defaults
	DefaultUsageEnabled           = true
	DefaultUsageBackend           = "memory"
	DefaultUsageMemoryMaxEntries  = 100000
	DefaultUsageMemoryCleanup     = 5 * time.Minute
	DefaultUsageSQLitePath        = "data/usage.db"
	DefaultUsageSQLiteDriver      = "sqlite"
	DefaultUsageSQLiteBusyTimeout = 5 * time.Second
	DefaultUsageSQLiteSnapshot    = 5 * time.Minute
	DefaultUsageRedisAddr         = "localhost:6379"
	DefaultUsageRedisKeyPrefix    = "tokengate:usage:"
	DefaultUsageRetentionPeriod   = 30 * 24 * time.Hour
	DefaultUsageRetentionSchedule = "0 * * * *"

	// Telemetry defaults
	DefaultTelemetryListenAddress = "127.0.0.1:9090"
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
	DefaultLogRedactSecrets       = true
	DefaultMetricsEnabled         = true
	DefaultMetricsPath            = "/metrics"
	DefaultTracingEnabled         = false
	DefaultTracingSampler         = "ratio"
	DefaultTracingSampleRatio     = 0.1
	DefaultTracingEndpoint        = "localhost:4317"
	DefaultTracingInsecure        = true
	DefaultTracingTimeout         = 10 * time.Second
	DefaultTracingServiceName     = "tokengate"
	DefaultHealthEnabled          = true
	DefaultHealthLivenessPath     = "/health"
	DefaultHealthReadinessPath    = "/ready"
	DefaultHealthCheckTimeout     = 5 * time.Second
)

// NewDefaultConfig returns a configuration with every default applied and
// no providers. Boolean switches that default to true and fields where zero
// is a meaningful setting, such as the token overhead, are set here; YAML
// decoded on top of it only overrides the keys present in the file.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
		Processing: ProcessingConfig{
			Tokens: TokensConfig{
				Overhead: DefaultTokenOverhead,
			},
		},
		Usage: UsageConfig{
			Enabled: DefaultUsageEnabled,
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				RedactSecrets: DefaultLogRedactSecrets,
			},
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
			},
			Tracing: TracingConfig{
				Enabled:  DefaultTracingEnabled,
				Insecure: DefaultTracingInsecure,
			},
			Health: HealthConfig{
				Enabled: DefaultHealthEnabled,
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values, except fields where
// zero is a valid setting; those are seeded by NewDefaultConfig.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for name, p := range cfg.Providers {
		applyProviderDefaults(&p)
		cfg.Providers[name] = p
	}

	// Gate defaults
	if cfg.Gate.PollInterval == 0 {
		cfg.Gate.PollInterval = DefaultGatePollInterval
	}
	if cfg.Gate.Window == 0 {
		cfg.Gate.Window = DefaultGateWindow
	}

	applyProcessingDefaults(cfg)
	applyUsageDefaults(cfg)
	applyTelemetryDefaults(cfg)
}

func applyProviderDefaults(p *ProviderConfig) {
	if p.BaseURL == "" {
		p.BaseURL = DefaultProviderBaseURL
	}
	if p.Model == "" {
		p.Model = DefaultProviderModel
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultProviderTimeout
	}

	if p.Limits.TokensPerMinute == 0 {
		p.Limits.TokensPerMinute = DefaultTokensPerMinute
	}
	if p.Limits.RequestsPerMinute == 0 {
		p.Limits.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if p.Limits.MaxConcurrent == 0 {
		p.Limits.MaxConcurrent = DefaultMaxConcurrent
	}

	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if p.Retry.BackoffBase == 0 {
		p.Retry.BackoffBase = DefaultRetryBackoffBase
	}
	if p.Retry.MaxBackoff == 0 {
		p.Retry.MaxBackoff = DefaultRetryMaxBackoff
	}
}

func applyProcessingDefaults(cfg *Config) {
	t := &cfg.Processing.Tokens
	if t.Estimator == "" {
		t.Estimator = DefaultTokenEstimator
	}
	if t.CharsPerToken == 0 {
		t.CharsPerToken = DefaultTokenCharsPerToken
	}
	if t.Encoding == "" {
		t.Encoding = DefaultTokenEncoding
	}
}

func applyUsageDefaults(cfg *Config) {
	u := &cfg.Usage
	if u.Backend == "" {
		u.Backend = DefaultUsageBackend
	}
	if u.Memory.MaxEntries == 0 {
		u.Memory.MaxEntries = DefaultUsageMemoryMaxEntries
	}
	if u.Memory.CleanupInterval == 0 {
		u.Memory.CleanupInterval = DefaultUsageMemoryCleanup
	}
	if u.SQLite.Path == "" {
		u.SQLite.Path = DefaultUsageSQLitePath
	}
	if u.SQLite.Driver == "" {
		u.SQLite.Driver = DefaultUsageSQLiteDriver
	}
	if u.SQLite.BusyTimeout == 0 {
		u.SQLite.BusyTimeout = DefaultUsageSQLiteBusyTimeout
	}
	if u.SQLite.SnapshotInterval == 0 {
		u.SQLite.SnapshotInterval = DefaultUsageSQLiteSnapshot
	}
	if u.Redis.Addr == "" {
		u.Redis.Addr = DefaultUsageRedisAddr
	}
	if u.Redis.KeyPrefix == "" {
		u.Redis.KeyPrefix = DefaultUsageRedisKeyPrefix
	}
	if u.Retention.Period == 0 {
		u.Retention.Period = DefaultUsageRetentionPeriod
	}
	if u.Retention.Schedule == "" {
		u.Retention.Schedule = DefaultUsageRetentionSchedule
	}
}

func applyTelemetryDefaults(cfg *Config) {
	t := &cfg.Telemetry
	if t.ListenAddress == "" {
		t.ListenAddress = DefaultTelemetryListenAddress
	}

	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}

	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}

	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}

	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultHealthLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultHealthReadinessPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
