// Package tracing configures OpenTelemetry tracing for tokengate.
//
// New builds an SDK tracer provider exporting over OTLP gRPC with a
// parent-based sampler ("always", "never" or "ratio") and installs W3C trace
// context propagation. When tracing is disabled a noop tracer is returned.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	defer tracer.Shutdown(context.Background())
//	ctrl, err := limits.NewController(cfg, limits.WithTracer(tracer.Tracer()))
//
// Controllers open one span per attempt. Transport propagates the attempt's
// trace context to the upstream provider, and the logging handler copies
// trace_id and span_id onto log records.
package tracing
