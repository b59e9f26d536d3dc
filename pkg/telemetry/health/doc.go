// Package health provides liveness and readiness endpoints for tokengate.
//
// Liveness always answers 200 while the process runs. Readiness runs every
// registered CheckFunc concurrently, each under a timeout, and answers 503
// when any fails. The run command registers a check per controller and a
// StorageCheck for the usage backend:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("usage", health.StorageCheck(backend))
//	checker.Register(mux, cfg.Telemetry.Health, info, 10)
package health
