package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrentLimiter limits the number of simultaneous in-flight calls.
//
// It is a counting semaphore whose Acquire blocks until a permit is free or
// the context is done. Releasing more permits than were acquired panics.
type ConcurrentLimiter struct {
	sem     *semaphore.Weighted
	limit   int64
	current atomic.Int64
}

// NewConcurrentLimiter creates a limiter with limit permits.
//
// Example:
//
//	limiter := NewConcurrentLimiter(8)
//	if err := limiter.Acquire(ctx); err != nil {
//	    return err
//	}
//	defer limiter.Release()
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	if limit < 1 {
		limit = 1
	}
	return &ConcurrentLimiter{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: int64(limit),
	}
}

// Acquire blocks until a permit is available or ctx is done. On failure it
// returns ctx.Err() and no permit is held.
func (cl *ConcurrentLimiter) Acquire(ctx context.Context) error {
	if err := cl.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	cl.current.Add(1)
	return nil
}

// TryAcquire takes a permit without blocking. It reports whether one was taken.
func (cl *ConcurrentLimiter) TryAcquire() bool {
	if !cl.sem.TryAcquire(1) {
		return false
	}
	cl.current.Add(1)
	return true
}

// Release returns a permit. It MUST pair with a successful Acquire or TryAcquire.
func (cl *ConcurrentLimiter) Release() {
	cl.current.Add(-1)
	cl.sem.Release(1)
}

// Current returns the number of held permits.
func (cl *ConcurrentLimiter) Current() int64 {
	return cl.current.Load()
}

// Limit returns the configured permit count.
func (cl *ConcurrentLimiter) Limit() int64 {
	return cl.limit
}

// Remaining returns the number of free permits.
func (cl *ConcurrentLimiter) Remaining() int64 {
	return max(0, cl.limit-cl.current.Load())
}
