package limits

import (
	"mercator-hq/tokengate/pkg/config"
	"mercator-hq/tokengate/pkg/limits/ratelimit"
)

// LimitsFromConfig converts configured ceilings.
func LimitsFromConfig(cfg config.LimitsConfig) ratelimit.Limits {
	return ratelimit.Limits{
		TokensPerMinute:   cfg.TokensPerMinute,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxConcurrent:     cfg.MaxConcurrent,
	}
}

// RetryPolicyFromConfig converts a configured retry section. Only errors
// wrapped with Retryable are retried unless retry_all is set.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		MaxBackoff:  cfg.MaxBackoff,
		RetryAll:    cfg.RetryAll,
	}.withDefaults()
}

// ConfigsFromConfig returns one controller config per configured provider,
// ready for NewManager.
func ConfigsFromConfig(cfg *config.Config) map[string]Config {
	out := make(map[string]Config, len(cfg.Providers))
	for name, p := range cfg.Providers {
		out[name] = Config{
			Provider:     name,
			Limits:       LimitsFromConfig(p.Limits),
			Window:       cfg.Gate.Window,
			PollInterval: cfg.Gate.PollInterval,
			Retry:        RetryPolicyFromConfig(p.Retry),
		}
	}
	return out
}
