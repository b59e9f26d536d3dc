package tokens

import (
	"fmt"

	"mercator-hq/tokengate/pkg/config"
)

// Estimator estimates the prompt token count for a piece of text.
// Implementations must be safe for concurrent use.
type Estimator interface {
	// Estimate returns a non-negative token estimate for text.
	Estimate(text string) int
}

// EstimatorFunc adapts a plain function to the Estimator interface.
type EstimatorFunc func(text string) int

// Estimate calls f(text).
func (f EstimatorFunc) Estimate(text string) int {
	return f(text)
}

// Estimator type names accepted by NewFromConfig.
const (
	TypeSimple   = "simple"
	TypeTiktoken = "tiktoken"
)

// NewFromConfig builds the estimator selected by cfg.Estimator.
func NewFromConfig(cfg *config.TokensConfig) (Estimator, error) {
	if cfg == nil {
		return NewSimpleEstimator(DefaultCharsPerToken, DefaultOverhead), nil
	}

	switch cfg.Estimator {
	case "", TypeSimple:
		return NewSimpleEstimator(cfg.CharsPerToken, cfg.Overhead), nil
	case TypeTiktoken:
		return NewTiktokenEstimator(TiktokenConfig{
			Model:    cfg.Model,
			Encoding: cfg.Encoding,
			Overhead: cfg.Overhead,
		}), nil
	default:
		return nil, fmt.Errorf("unknown token estimator %q", cfg.Estimator)
	}
}
