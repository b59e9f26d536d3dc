// Package metrics provides the Prometheus registry and endpoint for tokengate.
//
// A Collector owns one registry. Admission metrics from pkg/limits are
// registered on it through limits.NewMetrics(collector.Registry()), and
// upstream provider calls are recorded with RecordProviderCall and
// RecordProviderTokens. The registry is served by Handler:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// Model label values are capped by a CardinalityLimiter; models beyond the
// cap are recorded as "other".
package metrics
