package webhooks

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per subscription
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows maxRequests per period for each subscription.
// A non-positive maxRequests disables limiting.
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Inf,
	}
	if maxRequests > 0 {
		rl.limit = rate.Every(period / time.Duration(maxRequests))
		rl.burst = maxRequests
	}
	return rl
}

// Allow takes a token for the subscription
func (rl *RateLimiter) Allow(subscriptionID int64) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[subscriptionID]
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[subscriptionID] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

// Reset forgets the bucket of a subscription
func (rl *RateLimiter) Reset(subscriptionID int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, subscriptionID)
}
