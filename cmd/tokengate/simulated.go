package main

import (
	"context"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"mercator-hq/tokengate/pkg/limits"
	"mercator-hq/tokengate/pkg/providers"
)

// simulatedProvider stands in for an LLM API in benchmarks. Calls sleep for
// a jittered latency, fail with a 503 at the configured rate and report
// usage close to, but not exactly, the admission estimate.
type simulatedProvider struct {
	latency     time.Duration
	jitter      time.Duration
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newSimulatedProvider(latency, jitter time.Duration, failureRate float64, seed uint64) *simulatedProvider {
	return &simulatedProvider{
		latency:     latency,
		jitter:      jitter,
		failureRate: failureRate,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *simulatedProvider) Name() string { return "simulated" }

func (s *simulatedProvider) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	s.mu.Lock()
	delay := s.latency
	if s.jitter > 0 {
		delay += time.Duration(s.rng.Int64N(int64(s.jitter)))
	}
	fail := s.rng.Float64() < s.failureRate
	outputShare := 0.5 + s.rng.Float64()/2
	s.mu.Unlock()

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}

	if fail {
		return nil, &providers.ProviderError{
			Provider:   s.Name(),
			StatusCode: http.StatusServiceUnavailable,
			Message:    "simulated overload",
		}
	}

	// Roughly four characters per token with no fixed overhead, so measured
	// input usually comes in under the estimate.
	input := max(int64(len([]rune(req.PromptText()))/4), 1)
	output := int64(float64(req.MaxTokens) * outputShare)

	return &providers.Response{
		Model:        "simulated-1",
		Content:      "ok",
		FinishReason: "stop",
		Usage:        limits.Usage{InputTokens: input, OutputTokens: output},
		Latency:      delay,
	}, nil
}
