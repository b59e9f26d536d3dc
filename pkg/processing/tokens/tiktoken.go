package tokens

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used when no model mapping applies.
const DefaultEncoding = "cl100k_base"

// TiktokenConfig configures a TiktokenEstimator.
type TiktokenConfig struct {
	// Model selects the encoding through tiktoken's model table when set.
	Model string

	// Encoding is used when Model is empty or unknown.
	// Default: "cl100k_base"
	Encoding string

	// Overhead is added to every count. Negative selects DefaultOverhead.
	Overhead int

	// Logger receives a warning if the encoding cannot be loaded.
	Logger *slog.Logger
}

// TiktokenEstimator counts BPE tokens with tiktoken-go. The encoding is
// loaded lazily on first use; if it cannot be loaded the estimator falls back
// to SimpleEstimator for the rest of its life.
type TiktokenEstimator struct {
	cfg      TiktokenConfig
	fallback *SimpleEstimator

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktokenEstimator creates a tiktoken-backed estimator.
func NewTiktokenEstimator(cfg TiktokenConfig) *TiktokenEstimator {
	if cfg.Encoding == "" {
		cfg.Encoding = DefaultEncoding
	}
	if cfg.Overhead < 0 {
		cfg.Overhead = DefaultOverhead
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "tokens.tiktoken")
	}
	return &TiktokenEstimator{
		cfg:      cfg,
		fallback: NewSimpleEstimator(DefaultCharsPerToken, cfg.Overhead),
	}
}

// Estimate returns the token count of text plus the configured overhead.
func (e *TiktokenEstimator) Estimate(text string) int {
	e.once.Do(e.load)
	if e.err != nil {
		return e.fallback.Estimate(text)
	}
	return max(1, len(e.enc.Encode(text, nil, nil))+e.cfg.Overhead)
}

// Err returns the encoding load error, if any. It is nil before first use.
func (e *TiktokenEstimator) Err() error {
	return e.err
}

func (e *TiktokenEstimator) load() {
	if e.cfg.Model != "" {
		enc, err := tiktoken.EncodingForModel(e.cfg.Model)
		if err == nil {
			e.enc = enc
			return
		}
	}

	e.enc, e.err = tiktoken.GetEncoding(e.cfg.Encoding)
	if e.err != nil {
		e.cfg.Logger.Warn("tiktoken encoding unavailable, using character estimate",
			"encoding", e.cfg.Encoding,
			"model", e.cfg.Model,
			"error", e.err,
		)
	}
}
