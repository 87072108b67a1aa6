package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Run("burst then refill from elapsed time", func(t *testing.T) {
		now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		rl := newRateLimiter(60)
		rl.now = func() time.Time { return now }
		rl.lastRefill = now

		for i := 0; i < 60; i++ {
			require.True(t, rl.tryAcquire(), "request %d should be within the burst", i)
		}
		assert.False(t, rl.tryAcquire())

		now = now.Add(time.Second)
		assert.True(t, rl.tryAcquire(), "one token per second at 60/min")
		assert.False(t, rl.tryAcquire())

		now = now.Add(time.Hour)
		for i := 0; i < 60; i++ {
			require.True(t, rl.tryAcquire())
		}
		assert.False(t, rl.tryAcquire(), "refill is capped at capacity")
	})

	t.Run("reports wait time", func(t *testing.T) {
		now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		rl := newRateLimiter(60)
		rl.now = func() time.Time { return now }
		rl.lastRefill = now
		rl.tokens = 0.5

		assert.InDelta(t, float64(500*time.Millisecond), float64(rl.reserve()), float64(time.Millisecond))
	})

	t.Run("context cancellation", func(t *testing.T) {
		rl := newRateLimiter(1)
		require.NoError(t, rl.wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := rl.wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("default rate", func(t *testing.T) {
		rl := newRateLimiter(0)
		assert.InDelta(t, 60.0, rl.capacity, 1e-9)
	})
}
