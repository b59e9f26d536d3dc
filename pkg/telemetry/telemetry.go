package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"mercator-hq/tokengate/pkg/config"
	"mercator-hq/tokengate/pkg/telemetry/health"
	"mercator-hq/tokengate/pkg/telemetry/logging"
	"mercator-hq/tokengate/pkg/telemetry/metrics"
	"mercator-hq/tokengate/pkg/telemetry/tracing"
)

// probesPerSecond limits health probe traffic on the telemetry listener.
const probesPerSecond = 20

// Telemetry bundles the logger, metrics collector, tracer and health
// checker built from one TelemetryConfig, plus the HTTP listener serving
// the metrics and health endpoints.
type Telemetry struct {
	cfg *config.TelemetryConfig

	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	health  *health.Checker
	info    health.VersionInfo

	server   *http.Server
	listener net.Listener
}

// New builds telemetry from cfg. Log output goes to w (stderr when nil).
// The logger also becomes the slog default.
func New(cfg *config.TelemetryConfig, info health.VersionInfo, w io.Writer) (*Telemetry, error) {
	if w == nil {
		w = os.Stderr
	}
	logger, err := logging.New(logging.Config{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		AddSource:     cfg.Logging.AddSource,
		File:          cfg.Logging.File,
		RedactSecrets: cfg.Logging.RedactSecrets,
		Writer:        w,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger.Logger)

	tracing.Version = info.Version
	tracer, err := tracing.New(&cfg.Tracing)
	if err != nil {
		_ = logger.Shutdown()
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return &Telemetry{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Metrics, nil),
		tracer:  tracer,
		health:  health.New(cfg.Health.CheckTimeout),
		info:    info,
	}, nil
}

// Logger returns the configured logger.
func (t *Telemetry) Logger() *slog.Logger { return t.logger.Logger }

// Metrics returns the metrics collector.
func (t *Telemetry) Metrics() *metrics.Collector { return t.metrics }

// Tracer returns the tracer.
func (t *Telemetry) Tracer() *tracing.Tracer { return t.tracer }

// Health returns the health checker.
func (t *Telemetry) Health() *health.Checker { return t.health }

// Handler returns a mux with the enabled metrics and health endpoints.
func (t *Telemetry) Handler() http.Handler {
	mux := http.NewServeMux()
	if t.cfg.Metrics.Enabled {
		mux.Handle(t.cfg.Metrics.Path, t.metrics.Handler())
	}
	if t.cfg.Health.Enabled {
		t.health.Register(mux, t.cfg.Health, t.info, probesPerSecond)
	}
	return mux
}

// Start listens on the configured address and serves Handler in the
// background. It is a no-op when no address is configured.
func (t *Telemetry) Start() error {
	if t.cfg.ListenAddress == "" {
		return nil
	}

	ln, err := net.Listen("tcp", t.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.cfg.ListenAddress, err)
	}
	t.listener = ln
	t.server = &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("telemetry server failed", "error", err)
		}
	}()

	t.logger.Info("telemetry server listening",
		"address", ln.Addr().String(),
		"metrics", t.cfg.Metrics.Enabled,
		"health", t.cfg.Health.Enabled,
	)
	return nil
}

// Addr returns the listener address, or "" before Start.
func (t *Telemetry) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Shutdown stops the listener, flushes spans and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		errs = append(errs, t.server.Shutdown(ctx))
	}
	errs = append(errs, t.tracer.Shutdown(ctx))
	errs = append(errs, t.logger.Shutdown())
	return errors.Join(errs...)
}
