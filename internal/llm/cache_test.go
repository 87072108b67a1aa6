package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictionCache(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := newPredictionCache(time.Minute)
	cache.now = func() time.Time { return now }

	_, found := cache.get("AMAZON.COM")
	assert.False(t, found)

	p := Prediction{ModelVersion: "m1", Categories: []RankedCategory{{Category: "Shopping", Score: 0.9}}}
	cache.set("AMAZON.COM", p)

	got, found := cache.get("AMAZON.COM")
	require.True(t, found)
	assert.Equal(t, p, got)
	assert.Equal(t, 1, cache.size())

	now = now.Add(2 * time.Minute)
	_, found = cache.get("AMAZON.COM")
	assert.False(t, found, "entries expire after the TTL")
	assert.Zero(t, cache.size())
}

func TestPredictionCache_SetSweepsExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := newPredictionCache(time.Minute)
	cache.now = func() time.Time { return now }

	cache.set("A", Prediction{})
	cache.set("B", Prediction{})
	now = now.Add(time.Hour)
	cache.set("C", Prediction{})

	assert.Equal(t, 1, cache.size())
}

func TestPredictionCache_DefaultTTL(t *testing.T) {
	assert.Equal(t, 15*time.Minute, newPredictionCache(0).ttl)
}
