// Package ratelimit admits requests under tokens-per-minute, requests-per-minute
// and concurrency ceilings.
//
// # Overview
//
// Two independent mechanisms cooperate:
//
//   - Gate: polls the ledger at a fixed interval and reserves an estimate
//     entry once TPM and RPM allow it
//   - ConcurrentLimiter: a counting semaphore bounding in-flight calls
//
// A caller may pass the gate and still block on the concurrency limiter.
// No ordering is promised between competing admissions: capacity goes to
// whichever waiter polls first after it frees up, so a large request can
// starve behind a stream of small ones.
//
// # Gate
//
//	gate := ratelimit.NewGate(l, ratelimit.Limits{
//	    TokensPerMinute:   100000,
//	    RequestsPerMinute: 500,
//	    MaxConcurrent:     8,
//	}, ratelimit.GateConfig{})
//
//	admission, err := gate.AwaitCapacity(ctx, ledger.Estimate(id, 120, 256, time.Now()))
//
// The gate imposes no upper bound on the wait. Callers bound it with a
// context deadline; an expired deadline surfaces ErrCapacityTimeout.
//
// # Concurrent Limiter
//
//	limiter := ratelimit.NewConcurrentLimiter(8)
//	if err := limiter.Acquire(ctx); err != nil {
//	    return err
//	}
//	defer limiter.Release()
package ratelimit
