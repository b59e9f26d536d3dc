package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/tokengate/pkg/config"
)

// DefaultMaxModels bounds the distinct model label values per collector.
const DefaultMaxModels = 100

// Collector owns the Prometheus registry served on the metrics endpoint and
// records upstream provider call metrics. Controllers register their own
// admission metrics on Registry().
//
// A nil *Collector is valid and records nothing.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	provider *ProviderMetrics

	models *CardinalityLimiter
}

// NewCollector creates a collector on registry. A nil registry creates a
// fresh one with the Go runtime and process collectors registered.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if cfg == nil {
		cfg = &config.MetricsConfig{Enabled: true, Path: config.DefaultMetricsPath}
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		provider: NewProviderMetrics(registry),
		models:   NewCardinalityLimiter(DefaultMaxModels),
	}
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordProviderCall records one upstream call. status is "success" or an
// error class such as "rate_limit", "server_error" or "timeout".
func (c *Collector) RecordProviderCall(provider, model, status string, latency time.Duration) {
	if !c.Enabled() {
		return
	}
	if !c.models.Allow(model) {
		model = "other"
	}

	c.provider.RecordRequest(provider, model, status)
	c.provider.RecordLatency(provider, model, latency.Seconds())
	if status != StatusSuccess {
		c.provider.RecordError(provider, status)
	}
}

// RecordProviderTokens records the tokens an upstream call reported.
func (c *Collector) RecordProviderTokens(provider, model string, prompt, completion int) {
	if !c.Enabled() {
		return
	}
	if !c.models.Allow(model) {
		model = "other"
	}
	c.provider.RecordTokens(provider, model, prompt, completion)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct label values admitted.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting up to maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or still fits.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
