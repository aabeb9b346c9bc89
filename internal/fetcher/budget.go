package fetcher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On a rate-limit response it halves the rate (down to initial/4). Each
// success raises it by 20%, never above the initial rate, which is the quota.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to the initial rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after quota response",
		zap.Float64("new_rate_per_sec", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// Budget bounds fetches across all concurrent workers of a run: a weighted
// semaphore caps in-flight requests and an adaptive token bucket keeps the
// request rate under the remote quota. One Budget is built per run and passed
// to every fetch.
type Budget struct {
	sem      *semaphore.Weighted
	limiter  *AdaptiveLimiter
	acquired atomic.Int64
	inFlight atomic.Int64
}

// NewBudget creates a budget allowing maxConcurrency simultaneous requests
// and at most requestsPerMinute requests in any sliding minute. The token
// bucket holds a single token, so requests are spaced evenly and never
// burst past the quota.
func NewBudget(maxConcurrency, requestsPerMinute int) *Budget {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	return &Budget{
		sem:     semaphore.NewWeighted(int64(maxConcurrency)),
		limiter: NewAdaptiveLimiter(rate.Limit(float64(requestsPerMinute)/60), 1),
	}
}

// Acquire blocks until a concurrency slot and a rate token are both
// available. Every successful Acquire must be paired with Release.
func (b *Budget) Acquire(ctx context.Context) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return eris.Wrap(err, "fetcher: acquire concurrency slot")
	}
	if err := b.limiter.Wait(ctx); err != nil {
		b.sem.Release(1)
		return eris.Wrap(err, "fetcher: wait for rate token")
	}
	b.acquired.Add(1)
	b.inFlight.Add(1)
	return nil
}

// Release frees the slot taken by Acquire.
func (b *Budget) Release() {
	b.inFlight.Add(-1)
	b.sem.Release(1)
}

// OnRateLimit slows the request rate after a quota response.
func (b *Budget) OnRateLimit() { b.limiter.OnRateLimit() }

// OnSuccess lets the request rate recover towards the quota.
func (b *Budget) OnSuccess() { b.limiter.OnSuccess() }

// Acquired returns the number of successful Acquire calls.
func (b *Budget) Acquired() int64 { return b.acquired.Load() }

func (b *Budget) held() int64 { return b.inFlight.Load() }
