package providers

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/tokengate/pkg/limits"
	"mercator-hq/tokengate/pkg/telemetry/metrics"
)

// Gated runs a Provider's calls through a limits.Controller: each call is
// admitted against the provider's ceilings, retried per the controller's
// retry policy, and confirmed with the usage the provider reported.
type Gated struct {
	provider   Provider
	controller *limits.Controller
	metrics    *metrics.Collector
}

// NewGated wraps provider with controller. collector may be nil.
func NewGated(provider Provider, controller *limits.Controller, collector *metrics.Collector) *Gated {
	return &Gated{
		provider:   provider,
		controller: controller,
		metrics:    collector,
	}
}

// Name returns the wrapped provider's name.
func (g *Gated) Name() string {
	return g.provider.Name()
}

// Complete admits, performs and confirms one completion. Failed attempts are
// aborted; the returned error is the controller's (for example an
// *limits.ExhaustedError wrapping the last provider error).
func (g *Gated) Complete(ctx context.Context, req *Request, opts ...limits.SlotOption) (*Response, error) {
	if req.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens must not be negative", limits.ErrInvalidRequest)
	}
	if req.Model != "" {
		opts = append([]limits.SlotOption{limits.WithModel(req.Model)}, opts...)
	}

	rc, err := g.controller.AcquireSlot(ctx, req.PromptText(), req.MaxTokens,
		func(ctx context.Context, rc *limits.RequestContext) error {
			start := time.Now()
			resp, err := g.provider.Complete(ctx, req)
			if err != nil {
				g.metrics.RecordProviderCall(g.provider.Name(), req.Model, ErrorType(err), time.Since(start))
				return Classify(err)
			}

			resp.Attempt = rc.Attempt
			resp.RequestID = rc.ID
			resp.Waited = rc.Waited
			g.metrics.RecordProviderCall(g.provider.Name(), resp.Model, metrics.StatusSuccess, time.Since(start))
			g.metrics.RecordProviderTokens(g.provider.Name(), resp.Model,
				int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

			return rc.SetResult(resp.Usage.InputTokens, resp.Usage.OutputTokens, resp)
		}, opts...)
	if err != nil {
		return nil, err
	}

	result, _ := rc.Result()
	return result.(*Response), nil
}
