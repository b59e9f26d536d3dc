package limits

import (
	"errors"
	"testing"
	"time"

	"mercator-hq/tokengate/pkg/config"
)

func TestConfigsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Providers = map[string]config.ProviderConfig{
		"openai": {
			Limits: config.LimitsConfig{TokensPerMinute: 1000, RequestsPerMinute: 10, MaxConcurrent: 2},
			Retry:  config.RetryConfig{MaxAttempts: 5, BackoffBase: 10 * time.Millisecond},
		},
	}

	configs := ConfigsFromConfig(cfg)
	got, ok := configs["openai"]
	if !ok {
		t.Fatal("Expected openai controller config")
	}
	if got.Limits.TokensPerMinute != 1000 || got.Limits.MaxConcurrent != 2 {
		t.Errorf("Unexpected limits: %+v", got.Limits)
	}
	if got.Window != cfg.Gate.Window || got.PollInterval != cfg.Gate.PollInterval {
		t.Errorf("Expected gate settings to carry over, got window=%v poll=%v", got.Window, got.PollInterval)
	}
	if got.Retry.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", got.Retry.MaxAttempts)
	}

	m, err := NewManager(configs, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()
	if _, err := m.Get("openai"); err != nil {
		t.Errorf("Expected openai controller, got %v", err)
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.RetryConfig{})
	if p.MaxAttempts != 3 || p.BackoffBase != time.Second {
		t.Errorf("Expected defaults, got %+v", p)
	}
	if p.IsRetryable(errors.New("plain")) {
		t.Error("Expected plain errors not to be retried by default")
	}

	p = RetryPolicyFromConfig(config.RetryConfig{RetryAll: true})
	if !p.IsRetryable(errors.New("plain")) {
		t.Error("Expected retry_all to retry plain errors")
	}
}
