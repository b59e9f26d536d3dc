package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatusSuccess labels a successful upstream call.
const StatusSuccess = "success"

// ProviderMetrics tracks upstream provider calls.
//
// Metrics:
//   - tokengate_provider_requests_total: Upstream calls by provider, model and status
//   - tokengate_provider_latency_seconds: Upstream call latency
//   - tokengate_provider_errors_total: Upstream errors by class
//   - tokengate_provider_tokens_total: Tokens reported by the provider
type ProviderMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	tokens   *prometheus.CounterVec
}

// NewProviderMetrics creates and registers provider metrics with registry.
func NewProviderMetrics(registry prometheus.Registerer) *ProviderMetrics {
	pm := &ProviderMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Subsystem: "provider",
				Name:      "requests_total",
				Help:      "Total number of upstream provider calls",
			},
			[]string{"provider", "model", "status"},
		),

		// LLM latencies run from a few hundred milliseconds to tens of seconds.
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tokengate",
				Subsystem: "provider",
				Name:      "latency_seconds",
				Help:      "Upstream provider call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Subsystem: "provider",
				Name:      "errors_total",
				Help:      "Total number of upstream provider errors by class",
			},
			[]string{"provider", "error_type"},
		),

		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Subsystem: "provider",
				Name:      "tokens_total",
				Help:      "Tokens reported by the provider",
			},
			[]string{"provider", "model", "direction"},
		),
	}

	registry.MustRegister(pm.requests, pm.latency, pm.errors, pm.tokens)
	return pm
}

// RecordRequest counts one upstream call.
func (pm *ProviderMetrics) RecordRequest(provider, model, status string) {
	pm.requests.WithLabelValues(provider, model, status).Inc()
}

// RecordLatency observes the latency of an upstream call.
func (pm *ProviderMetrics) RecordLatency(provider, model string, latencySeconds float64) {
	pm.latency.WithLabelValues(provider, model).Observe(latencySeconds)
}

// RecordError counts an upstream error.
//
// Common error types:
//   - "rate_limit": provider returned 429
//   - "server_error": provider returned 5xx
//   - "client_error": provider returned another 4xx
//   - "timeout": the call exceeded its deadline
//   - "network": the call failed before a response
func (pm *ProviderMetrics) RecordError(provider, errorType string) {
	pm.errors.WithLabelValues(provider, errorType).Inc()
}

// RecordTokens adds the prompt and completion tokens of a call.
func (pm *ProviderMetrics) RecordTokens(provider, model string, prompt, completion int) {
	pm.tokens.WithLabelValues(provider, model, "input").Add(float64(prompt))
	pm.tokens.WithLabelValues(provider, model, "output").Add(float64(completion))
}
