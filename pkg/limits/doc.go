// Package limits admits LLM calls under tokens-per-minute, requests-per-minute
// and concurrency ceilings.
//
// # Overview
//
// Each call is charged against a rolling sixty second window before it runs,
// using a conservative estimate of its prompt tokens plus the requested
// output budget. Once the call completes the estimate is replaced by the
// measured usage, so the window converges on real consumption:
//
//   - ledger: the entry log with O(1) TPM and RPM aggregates
//   - ratelimit: the capacity gate and the concurrency permit pool
//   - storage: usage history backends (memory, SQLite, Redis)
//
// # Slot Lifecycle
//
// Admit reserves the estimate and a permit. Confirm swaps the estimate for
// measured usage and frees the permit. Abort drops the reservation and frees
// the permit. AcquireSlot runs a unit of work between Admit and Confirm and
// aborts on every other exit, retrying transient failures:
//
//	rc, err := ctrl.AcquireSlot(ctx, prompt, 512, func(ctx context.Context, rc *limits.RequestContext) error {
//	    out, in, text, err := callProvider(ctx, rc.Prompt, rc.MaxOutputTokens)
//	    if err != nil {
//	        return limits.Retryable(err)
//	    }
//	    return rc.SetResult(in, out, text)
//	})
//	if errors.Is(err, limits.ErrExhaustedRetries) {
//	    // err also unwraps to the provider's error
//	}
//
// # Retries
//
// Only errors listed in RetryPolicy.Retryable are retried; by default that is
// anything wrapped with Retryable. RetryAll widens this to every error except
// programming faults such as ErrResultNotSet.
//
// # Thread Safety
//
// Controller and Manager are safe for concurrent use. Admission is strict:
// the ceiling check and the reservation happen under the ledger lock.
package limits
