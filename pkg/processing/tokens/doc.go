// Package tokens estimates prompt token counts before a request is admitted.
//
// Estimates feed the admission gate, so they should err on the high side:
// an underestimate lets the ledger admit work the provider will later bill
// above the ceiling, while an overestimate only delays admission until the
// confirmed usage replaces it.
//
// # Estimators
//
//   - SimpleEstimator: max(1, ceil(chars/4) + 10), no dependencies
//   - TiktokenEstimator: BPE token count from tiktoken-go, plus the same overhead
//
// # Usage
//
//	cfg := config.GetConfig()
//	estimator, err := tokens.NewFromConfig(&cfg.Processing.Tokens)
//	if err != nil {
//		return err
//	}
//	n := estimator.Estimate(prompt)
package tokens
