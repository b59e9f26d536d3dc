// Package telemetry provides observability for tokengate.
//
// # Components
//
//   - logging: slog setup with request context fields and secret redaction
//   - metrics: Prometheus registry and /metrics handler
//   - tracing: OpenTelemetry provider with OTLP export
//   - health: liveness and readiness probes
//
// New builds all four from config.TelemetryConfig; Start serves the metrics
// and health endpoints on telemetry.listen_address.
//
//	tel, err := telemetry.New(&cfg.Telemetry, info, os.Stderr)
//	if err := tel.Start(); err != nil { ... }
//	defer tel.Shutdown(context.Background())
//
//	m := limits.NewMetrics(tel.Metrics().Registry())
//	ctrl, err := limits.NewController(c,
//		limits.WithLogger(tel.Logger()),
//		limits.WithMetrics(m),
//		limits.WithTracer(tel.Tracer().Tracer()),
//	)
package telemetry
