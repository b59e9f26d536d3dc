package limits

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/tokengate/pkg/limits/ledger"
)

// Metrics contains Prometheus metrics for admission control.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Admission outcomes
	admissions *prometheus.CounterVec
	waitTime   *prometheus.HistogramVec

	// Slot lifecycle
	confirmations *prometheus.CounterVec
	aborts        *prometheus.CounterVec
	retries       *prometheus.CounterVec
	exhausted     *prometheus.CounterVec

	// Token accounting
	tokens        *prometheus.CounterVec
	estimateDelta *prometheus.HistogramVec

	// Window state
	windowTokens   *prometheus.GaugeVec
	windowRequests *prometheus.GaugeVec
	inFlight       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokengate_admissions_total",
				Help: "Total number of admission attempts by outcome",
			},
			[]string{"provider", "result"},
		),

		waitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokengate_admission_wait_seconds",
				Help:    "Time spent waiting for capacity and a permit",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~33s
			},
			[]string{"provider"},
		),

		confirmations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokengate_confirmations_total",
				Help: "Total number of slots confirmed with measured usage",
			},
			[]string{"provider"},
		),

		aborts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokengate_aborts_total",
				Help: "Total number of slots aborted",
			},
			[]string{"provider"},
		),

		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokengate_retries_total",
				Help: "Total number of retried attempts",
			},
			[]string{"provider"},
		),

		exhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokengate_retries_exhausted_total",
				Help: "Total number of calls that failed after the last attempt",
			},
			[]string{"provider"},
		),

		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokengate_tokens_total",
				Help: "Total confirmed tokens by direction",
			},
			[]string{"provider", "direction"},
		),

		estimateDelta: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokengate_estimate_delta_tokens",
				Help:    "Confirmed minus estimated tokens per call",
				Buckets: []float64{-4096, -1024, -256, -64, -16, 0, 16, 64, 256, 1024, 4096},
			},
			[]string{"provider"},
		),

		windowTokens: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tokengate_window_tokens",
				Help: "Tokens accounted in the current window",
			},
			[]string{"provider"},
		),

		windowRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tokengate_window_requests",
				Help: "Requests accounted in the current window",
			},
			[]string{"provider"},
		),

		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tokengate_in_flight_requests",
				Help: "Requests currently holding a concurrency permit",
			},
			[]string{"provider"},
		),
	}
}

// RecordAdmission records an admission outcome and its wait.
func (m *Metrics) RecordAdmission(provider, result string, waited time.Duration) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(provider, result).Inc()
	m.waitTime.WithLabelValues(provider).Observe(waited.Seconds())
}

// RecordConfirm records a confirmation and its token figures.
func (m *Metrics) RecordConfirm(provider string, usage Usage, delta int64) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(provider).Inc()
	m.tokens.WithLabelValues(provider, "input").Add(float64(usage.InputTokens))
	m.tokens.WithLabelValues(provider, "output").Add(float64(usage.OutputTokens))
	m.estimateDelta.WithLabelValues(provider).Observe(float64(delta))
}

// RecordAbort records an abort.
func (m *Metrics) RecordAbort(provider string) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(provider).Inc()
}

// RecordRetry records a retried attempt.
func (m *Metrics) RecordRetry(provider string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(provider).Inc()
}

// RecordExhausted records a call that failed on its last attempt.
func (m *Metrics) RecordExhausted(provider string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(provider).Inc()
}

// ObserveLoad publishes the current window state.
func (m *Metrics) ObserveLoad(provider string, load ledger.Load) {
	if m == nil {
		return
	}
	m.windowTokens.WithLabelValues(provider).Set(float64(load.Tokens))
	m.windowRequests.WithLabelValues(provider).Set(float64(load.Requests))
	m.inFlight.WithLabelValues(provider).Set(float64(load.InFlight))
}
