package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// rateLimiter is a token bucket refilled continuously from elapsed time.
type rateLimiter struct {
	lastRefill time.Time
	now        func() time.Time
	tokens     float64
	capacity   float64
	perSecond  float64
	mu         sync.Mutex
}

// newRateLimiter creates a limiter allowing requestsPerMinute with an equal burst.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	rl := &rateLimiter{
		capacity:  float64(requestsPerMinute),
		tokens:    float64(requestsPerMinute),
		perSecond: float64(requestsPerMinute) / 60,
		now:       time.Now,
	}
	rl.lastRefill = rl.now()
	return rl
}

// wait blocks until a token is available or the context is canceled.
func (rl *rateLimiter) wait(ctx context.Context) error {
	for {
		delay := rl.reserve()
		if delay == 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// tryAcquire takes a token if one is available.
func (rl *rateLimiter) tryAcquire() bool {
	return rl.reserve() == 0
}

// reserve takes a token and returns zero, or returns how long until one is available.
func (rl *rateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.lastRefill); elapsed > 0 {
		rl.tokens = min(rl.capacity, rl.tokens+elapsed.Seconds()*rl.perSecond)
		rl.lastRefill = now
	}

	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	missing := 1 - rl.tokens
	return max(time.Millisecond, time.Duration(missing/rl.perSecond*float64(time.Second)))
}
