package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

const minimalConfig = `
providers:
  openai:
    api_key: "test-key"
`

// ============================================================================
// Loading
// ============================================================================

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    base_url: "https://api.openai.com/v1"
    api_key: "test-key-123"
    model: "gpt-4o"
    timeout: "30s"
    limits:
      tokens_per_minute: 1000
      requests_per_minute: 20
      max_concurrent: 2
    retry:
      max_attempts: 5
      backoff_base: "500ms"
      retry_all: true

gate:
  poll_interval: "25ms"
  window: "30s"

usage:
  backend: "sqlite"
  sqlite:
    path: "./usage.db"
    driver: "sqlite3"

telemetry:
  logging:
    level: "debug"
    format: "json"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	p := cfg.Providers["openai"]
	if p.APIKey != "test-key-123" {
		t.Errorf("Expected api key test-key-123, got %q", p.APIKey)
	}
	if p.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", p.Timeout)
	}
	if p.Limits.TokensPerMinute != 1000 || p.Limits.RequestsPerMinute != 20 || p.Limits.MaxConcurrent != 2 {
		t.Errorf("Unexpected limits: %+v", p.Limits)
	}
	if p.Retry.MaxAttempts != 5 || p.Retry.BackoffBase != 500*time.Millisecond || !p.Retry.RetryAll {
		t.Errorf("Unexpected retry config: %+v", p.Retry)
	}
	if p.Retry.MaxBackoff != DefaultRetryMaxBackoff {
		t.Errorf("Expected default max backoff, got %v", p.Retry.MaxBackoff)
	}
	if cfg.Gate.PollInterval != 25*time.Millisecond {
		t.Errorf("Expected poll interval 25ms, got %v", cfg.Gate.PollInterval)
	}
	if cfg.Usage.SQLite.Driver != "sqlite3" {
		t.Errorf("Expected sqlite3 driver, got %q", cfg.Usage.SQLite.Driver)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	p := cfg.Providers["openai"]
	if p.BaseURL != DefaultProviderBaseURL {
		t.Errorf("Expected default base URL, got %q", p.BaseURL)
	}
	if p.Limits.TokensPerMinute != DefaultTokensPerMinute {
		t.Errorf("Expected default TPM, got %d", p.Limits.TokensPerMinute)
	}
	if p.Retry.MaxAttempts != DefaultRetryMaxAttempts {
		t.Errorf("Expected default max attempts, got %d", p.Retry.MaxAttempts)
	}
	if p.Retry.RetryAll {
		t.Error("Expected retry_all to default to false")
	}
	if cfg.Gate.PollInterval != DefaultGatePollInterval {
		t.Errorf("Expected default poll interval, got %v", cfg.Gate.PollInterval)
	}
	if cfg.Gate.Window != DefaultGateWindow {
		t.Errorf("Expected default window, got %v", cfg.Gate.Window)
	}
	if cfg.Processing.Tokens.CharsPerToken != 4 || cfg.Processing.Tokens.Overhead != 10 {
		t.Errorf("Expected chars_per_token 4 and overhead 10, got %+v", cfg.Processing.Tokens)
	}
	if !cfg.Usage.Enabled || cfg.Usage.Backend != "memory" {
		t.Errorf("Expected usage enabled on memory, got %+v", cfg.Usage)
	}
	if !cfg.Telemetry.Metrics.Enabled || !cfg.Telemetry.Health.Enabled || cfg.Telemetry.Tracing.Enabled {
		t.Errorf("Unexpected telemetry switches: %+v", cfg.Telemetry)
	}
	if !cfg.Telemetry.Logging.RedactSecrets {
		t.Error("Expected secret redaction on by default")
	}
}

func TestLoadConfig_ExplicitFalseOverridesDefault(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
usage:
  enabled: false
telemetry:
  metrics:
    enabled: false
`))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Usage.Enabled {
		t.Error("Expected usage disabled")
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("Expected metrics disabled")
	}
}

func TestLoadConfig_TokenEstimatorSettings(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
processing:
  tokens:
    chars_per_token: 3.5
    overhead: 0
`))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Processing.Tokens.CharsPerToken != 3.5 {
		t.Errorf("Expected chars_per_token 3.5, got %v", cfg.Processing.Tokens.CharsPerToken)
	}
	if cfg.Processing.Tokens.Overhead != 0 {
		t.Errorf("Expected explicit overhead 0 to be kept, got %d", cfg.Processing.Tokens.Overhead)
	}

	// Reapplying defaults must not resurrect the overhead.
	ApplyDefaults(cfg)
	if cfg.Processing.Tokens.Overhead != 0 {
		t.Errorf("Expected overhead 0 after ApplyDefaults, got %d", cfg.Processing.Tokens.Overhead)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("Expected read error, got %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "providers: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestLoadConfig_ExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_TOKENGATE_KEY", "sk-from-env")

	cfg, err := LoadConfig(writeConfig(t, `
providers:
  openai:
    api_key: "${TEST_TOKENGATE_KEY}"
usage:
  redis:
    password: "literal$dollar"
`))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if got := cfg.Providers["openai"].APIKey; got != "sk-from-env" {
		t.Errorf("Expected expanded key, got %q", got)
	}
	if got := cfg.Usage.Redis.Password; got != "literal$dollar" {
		t.Errorf("Expected bare $ left alone, got %q", got)
	}
}

func TestLoadConfig_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
providers:
  openai:
    api_key: "${TEST_TOKENGATE_DOTENV_KEY}"
`), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_TOKENGATE_DOTENV_KEY=sk-dotenv\n"), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("TEST_TOKENGATE_DOTENV_KEY") })

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if got := cfg.Providers["openai"].APIKey; got != "sk-dotenv" {
		t.Errorf("Expected key from .env, got %q", got)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	t.Setenv("TOKENGATE_PROVIDERS_OPENAI_TOKENS_PER_MINUTE", "5000")
	t.Setenv("TOKENGATE_PROVIDERS_OPENAI_API_KEY", "sk-override")
	t.Setenv("TOKENGATE_PROVIDERS_OPENAI_RETRY_ALL", "true")
	t.Setenv("TOKENGATE_GATE_POLL_INTERVAL", "10ms")
	t.Setenv("TOKENGATE_USAGE_BACKEND", "redis")
	t.Setenv("TOKENGATE_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("TOKENGATE_GATE_WINDOW", "not-a-duration")

	cfg, err := LoadConfigWithEnvOverrides(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	p := cfg.Providers["openai"]
	if p.Limits.TokensPerMinute != 5000 {
		t.Errorf("Expected TPM 5000, got %d", p.Limits.TokensPerMinute)
	}
	if p.APIKey != "sk-override" {
		t.Errorf("Expected overridden key, got %q", p.APIKey)
	}
	if !p.Retry.RetryAll {
		t.Error("Expected retry_all override")
	}
	if cfg.Gate.PollInterval != 10*time.Millisecond {
		t.Errorf("Expected poll interval 10ms, got %v", cfg.Gate.PollInterval)
	}
	if cfg.Gate.Window != DefaultGateWindow {
		t.Errorf("Expected unparseable override to be ignored, got %v", cfg.Gate.Window)
	}
	if cfg.Usage.Backend != "redis" {
		t.Errorf("Expected redis backend, got %q", cfg.Usage.Backend)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("Expected warn level, got %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfigWithEnvOverrides_RevalidatesOverrides(t *testing.T) {
	t.Setenv("TOKENGATE_PROVIDERS_OPENAI_MAX_CONCURRENT", "-1")

	_, err := LoadConfigWithEnvOverrides(writeConfig(t, minimalConfig))
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

// ============================================================================
// Validation
// ============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no providers", func(c *Config) { c.Providers = nil }, "providers"},
		{"bad base url", func(c *Config) {
			p := c.Providers["openai"]
			p.BaseURL = "not a url"
			c.Providers["openai"] = p
		}, "providers.openai.base_url"},
		{"zero tpm", func(c *Config) {
			p := c.Providers["openai"]
			p.Limits.TokensPerMinute = -5
			c.Providers["openai"] = p
		}, "providers.openai.limits.tokens_per_minute"},
		{"zero attempts", func(c *Config) {
			p := c.Providers["openai"]
			p.Retry.MaxAttempts = -1
			c.Providers["openai"] = p
		}, "providers.openai.retry.max_attempts"},
		{"poll longer than window", func(c *Config) { c.Gate.PollInterval = 2 * time.Minute }, "gate.poll_interval"},
		{"unknown estimator", func(c *Config) { c.Processing.Tokens.Estimator = "magic" }, "processing.tokens.estimator"},
		{"unknown backend", func(c *Config) { c.Usage.Backend = "postgres" }, "usage.backend"},
		{"bad sqlite driver", func(c *Config) {
			c.Usage.Backend = "sqlite"
			c.Usage.SQLite.Driver = "pgx"
		}, "usage.sqlite.driver"},
		{"bad redis addr", func(c *Config) {
			c.Usage.Backend = "redis"
			c.Usage.Redis.Addr = "no-port"
		}, "usage.redis.addr"},
		{"bad cron", func(c *Config) { c.Usage.Retention.Schedule = "every hour" }, "usage.retention.schedule"},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "verbose" }, "telemetry.logging.level"},
		{"bad sampler", func(c *Config) {
			c.Telemetry.Tracing.Enabled = true
			c.Telemetry.Tracing.Sampler = "sometimes"
		}, "telemetry.tracing.sampler"},
		{"bad listen address", func(c *Config) { c.Telemetry.ListenAddress = "9090" }, "telemetry.listen_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Providers["openai"] = ProviderConfig{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected error on %s, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidate_DisabledUsageSkipsBackendChecks(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Providers["openai"] = ProviderConfig{}
	ApplyDefaults(cfg)
	cfg.Usage.Enabled = false
	cfg.Usage.Backend = "postgres"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected disabled usage to skip backend validation, got %v", err)
	}
}

func TestValidationError_Format(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "gate.window", Message: "must be positive"}}}
	if got := single.Error(); got != "configuration validation failed: gate.window: must be positive" {
		t.Errorf("Unexpected single error message: %q", got)
	}

	multi := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "x"},
		{Field: "b", Message: "y"},
	}}
	if got := multi.Error(); !strings.Contains(got, "2 errors") || !strings.Contains(got, "  - b: y") {
		t.Errorf("Unexpected multi error message: %q", got)
	}
}

// ============================================================================
// Singleton
// ============================================================================

func resetGlobal() {
	SetConfig(nil)
	initOnce = sync.Once{}
}

func TestInitialize(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	if err := Initialize(writeConfig(t, minimalConfig)); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}
	if cfg := GetConfig(); cfg == nil || cfg.Providers["openai"].APIKey != "test-key" {
		t.Errorf("Expected initialized config, got %+v", cfg)
	}

	other := writeConfig(t, strings.ReplaceAll(minimalConfig, "test-key", "other-key"))
	if err := Initialize(other); err != nil {
		t.Fatalf("second Initialize returned error: %v", err)
	}
	if got := MustGetConfig().Providers["openai"].APIKey; got != "test-key" {
		t.Errorf("Expected second Initialize to be ignored, got %q", got)
	}
}

func TestReloadConfig_KeepsPreviousOnError(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	path := writeConfig(t, minimalConfig)
	if _, err := ReloadConfig(path); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	before := GetConfig()

	if err := os.WriteFile(path, []byte("providers: {}"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	if _, err := ReloadConfig(path); err == nil {
		t.Fatal("Expected reload of invalid config to fail")
	}
	if GetConfig() != before {
		t.Error("Expected previous configuration to remain after failed reload")
	}
}

func TestMustGetConfig_PanicsWhenUninitialized(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic")
		}
	}()
	MustGetConfig()
}
