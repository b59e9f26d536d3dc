// Package config provides configuration management for tokengate.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. Loading runs in this order (later wins):
//
//  1. Defaults (NewDefaultConfig, ApplyDefaults)
//  2. .env files beside the config file and in the working directory
//  3. The YAML file, with ${VAR} references expanded from the environment
//  4. TOKENGATE_SECTION_FIELD overrides (LoadConfigWithEnvOverrides)
//  5. Validation, which collects every field error into a ValidationError
//
// # Environment Variable Overrides
//
//   - TOKENGATE_GATE_POLL_INTERVAL overrides gate.poll_interval
//   - TOKENGATE_PROVIDERS_OPENAI_API_KEY overrides providers.openai.api_key
//   - TOKENGATE_PROVIDERS_OPENAI_TOKENS_PER_MINUTE overrides providers.openai.limits.tokens_per_minute
//   - TOKENGATE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Example Configuration
//
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//	    model: gpt-4o-mini
//	    limits:
//	      tokens_per_minute: 90000
//	      requests_per_minute: 3500
//	      max_concurrent: 10
//	    retry:
//	      max_attempts: 3
//	      backoff_base: 1s
//	gate:
//	  poll_interval: 50ms
//	  window: 60s
//	usage:
//	  backend: sqlite
//	  sqlite:
//	    path: data/usage.db
//
// # Singleton and Hot Reload
//
// Initialize stores a process-wide configuration readable with GetConfig.
// A Watcher reloads the file on change and passes each valid configuration
// to a callback; invalid edits are logged and ignored.
package config
