package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "TOKENGATE_"

// envRef matches ${VAR} references in the configuration text.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadConfig loads configuration from a YAML file at the specified path.
// A .env file next to the configuration (or in the working directory) is
// loaded first without overriding variables already set, and ${VAR}
// references in the file are expanded from the environment. Defaults are
// applied and the result is validated.
func LoadConfig(path string) (*Config, error) {
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults and applies defaults to any
// provider sections it introduced. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TOKENGATE_SECTION_FIELD (e.g., TOKENGATE_GATE_POLL_INTERVAL).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load .env and YAML, expanding ${VAR} references
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads .env files beside the configuration file and in the
// working directory. Missing files are ignored.
func loadDotEnv(path string) error {
	candidates := []string{filepath.Join(filepath.Dir(path), ".env"), ".env"}
	seen := make(map[string]bool)
	for _, c := range candidates {
		abs, err := filepath.Abs(c)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", abs, err)
		}
	}
	return nil
}

// expandEnv replaces ${VAR} with the variable's value. Unset variables
// expand to the empty string. Bare $VAR is left alone.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for name, p := range cfg.Providers {
		applyProviderEnvOverrides(&p, name)
		cfg.Providers[name] = p
	}

	// Gate overrides
	envDuration("GATE_POLL_INTERVAL", &cfg.Gate.PollInterval)
	envDuration("GATE_WINDOW", &cfg.Gate.Window)

	// Processing overrides
	envString("PROCESSING_TOKENS_ESTIMATOR", &cfg.Processing.Tokens.Estimator)
	envString("PROCESSING_TOKENS_ENCODING", &cfg.Processing.Tokens.Encoding)
	envString("PROCESSING_TOKENS_MODEL", &cfg.Processing.Tokens.Model)

	// Usage overrides
	envBool("USAGE_ENABLED", &cfg.Usage.Enabled)
	envString("USAGE_BACKEND", &cfg.Usage.Backend)
	envString("USAGE_SQLITE_PATH", &cfg.Usage.SQLite.Path)
	envString("USAGE_SQLITE_DRIVER", &cfg.Usage.SQLite.Driver)
	envString("USAGE_REDIS_ADDR", &cfg.Usage.Redis.Addr)
	envString("USAGE_REDIS_PASSWORD", &cfg.Usage.Redis.Password)
	envInt("USAGE_REDIS_DB", &cfg.Usage.Redis.DB)
	envDuration("USAGE_RETENTION_PERIOD", &cfg.Usage.Retention.Period)
	envString("USAGE_RETENTION_SCHEDULE", &cfg.Usage.Retention.Schedule)

	// Telemetry overrides
	envString("TELEMETRY_LISTEN_ADDRESS", &cfg.Telemetry.ListenAddress)
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envString("TELEMETRY_LOGGING_FILE", &cfg.Telemetry.Logging.File)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envBool("TELEMETRY_HEALTH_ENABLED", &cfg.Telemetry.Health.Enabled)
}

// applyProviderEnvOverrides applies TOKENGATE_PROVIDERS_<NAME>_* overrides.
// Dashes in the provider name become underscores.
func applyProviderEnvOverrides(p *ProviderConfig, name string) {
	prefix := "PROVIDERS_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"

	envString(prefix+"BASE_URL", &p.BaseURL)
	envString(prefix+"API_KEY", &p.APIKey)
	envString(prefix+"MODEL", &p.Model)
	envDuration(prefix+"TIMEOUT", &p.Timeout)
	envInt64(prefix+"TOKENS_PER_MINUTE", &p.Limits.TokensPerMinute)
	envInt64(prefix+"REQUESTS_PER_MINUTE", &p.Limits.RequestsPerMinute)
	envInt(prefix+"MAX_CONCURRENT", &p.Limits.MaxConcurrent)
	envInt(prefix+"MAX_ATTEMPTS", &p.Retry.MaxAttempts)
	envDuration(prefix+"BACKOFF_BASE", &p.Retry.BackoffBase)
	envBool(prefix+"RETRY_ALL", &p.Retry.RetryAll)
}

// The env helpers leave dst untouched when the variable is unset or does
// not parse.

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(key string, dst *int64) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}
