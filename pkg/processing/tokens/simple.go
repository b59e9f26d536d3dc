package tokens

import (
	"math"
	"unicode/utf8"
)

const (
	// DefaultCharsPerToken is the character-to-token ratio of the default estimator.
	DefaultCharsPerToken = 4.0

	// DefaultOverhead is added to every estimate for message framing.
	DefaultOverhead = 10
)

// SimpleEstimator implements character-based token estimation:
//
//	max(1, ceil(chars/charsPerToken) + overhead)
//
// Characters are counted as Unicode code points, not bytes.
type SimpleEstimator struct {
	charsPerToken float64
	overhead      int
}

// NewSimpleEstimator creates a character-based estimator. A non-positive
// charsPerToken selects DefaultCharsPerToken and a negative overhead selects
// DefaultOverhead; zero overhead is kept.
func NewSimpleEstimator(charsPerToken float64, overhead int) *SimpleEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	if overhead < 0 {
		overhead = DefaultOverhead
	}
	return &SimpleEstimator{
		charsPerToken: charsPerToken,
		overhead:      overhead,
	}
}

// Estimate returns the token estimate for text.
func (e *SimpleEstimator) Estimate(text string) int {
	chars := utf8.RuneCountInString(text)
	n := int(math.Ceil(float64(chars)/e.charsPerToken)) + e.overhead
	return max(1, n)
}

// Default is the estimator used when none is configured.
var Default Estimator = NewSimpleEstimator(DefaultCharsPerToken, DefaultOverhead)
