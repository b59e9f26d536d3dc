package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"mercator-hq/tokengate/pkg/config"
	"mercator-hq/tokengate/pkg/limits"
	"mercator-hq/tokengate/pkg/limits/storage"
	"mercator-hq/tokengate/pkg/processing/tokens"
	"mercator-hq/tokengate/pkg/telemetry"
	"mercator-hq/tokengate/pkg/telemetry/health"
)

// app holds the long-lived components built from one configuration.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *telemetry.Telemetry
	usage     storage.Backend
	retention *storage.RetentionScheduler
	manager   *limits.Manager
}

// newApp builds telemetry, the usage backend with its retention schedule and
// one controller per configured provider. Logs go to logOut.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (_ *app, err error) {
	tel, err := telemetry.New(&cfg.Telemetry, versionInfo(), logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: tel.Logger(), telemetry: tel}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	estimator, err := tokens.NewFromConfig(&cfg.Processing.Tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create token estimator: %w", err)
	}

	opts := []limits.Option{
		limits.WithLogger(a.logger),
		limits.WithEstimator(estimator),
		limits.WithMetrics(limits.NewMetrics(tel.Metrics().Registry())),
		limits.WithTracer(tel.Tracer().Tracer()),
	}

	if cfg.Usage.Enabled {
		a.usage, err = storage.Open(ctx, storage.FromConfig(&cfg.Usage))
		if err != nil {
			return nil, fmt.Errorf("failed to open usage backend: %w", err)
		}
		opts = append(opts, limits.WithRecorder(a.usage))
		tel.Health().RegisterCheck("usage_storage", health.StorageCheck(a.usage))

		a.retention = storage.NewRetentionScheduler(a.usage, storage.RetentionConfig{
			Period:   cfg.Usage.Retention.Period,
			Schedule: cfg.Usage.Retention.Schedule,
			Logger:   a.logger.With("component", "storage.retention"),
		})
		if err := a.retention.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start usage retention: %w", err)
		}
	}

	a.manager, err = limits.NewManager(limits.ConfigsFromConfig(cfg), opts...)
	if err != nil {
		return nil, err
	}
	for _, name := range a.manager.Providers() {
		ctrl, _ := a.manager.Get(name)
		tel.Health().RegisterCheck("controller_"+name, controllerCheck(ctrl))
	}

	return a, nil
}

func controllerCheck(ctrl *limits.Controller) health.CheckFunc {
	return func(context.Context) error {
		if ctrl.Closed() {
			return limits.ErrClosed
		}
		return nil
	}
}

// applyConfig pushes new TPM and RPM ceilings to the running controllers.
// Providers added or removed by the new configuration need a restart.
func (a *app) applyConfig(cfg *config.Config) {
	for _, name := range a.manager.Providers() {
		p, ok := cfg.Providers[name]
		if !ok {
			a.logger.Warn("provider removed from configuration; restart to drop it", "provider", name)
			continue
		}
		if err := a.manager.SetLimits(name, limits.LimitsFromConfig(p.Limits)); err != nil {
			a.logger.Error("failed to apply new limits", "provider", name, "error", err)
		}
	}
	for name := range cfg.Providers {
		if _, err := a.manager.Get(name); err != nil {
			a.logger.Warn("provider added to configuration; restart to enable it", "provider", name)
		}
	}
}

// Close stops admissions, retention and telemetry and closes the usage
// backend.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	if a.retention != nil {
		a.retention.Stop()
	}
	if a.usage != nil {
		errs = append(errs, a.usage.Close())
	}
	errs = append(errs, a.telemetry.Shutdown(ctx))
	return errors.Join(errs...)
}
