package llm

import (
	"sync"
	"time"
)

// cacheEntry represents a cached prediction.
type cacheEntry struct {
	expiry     time.Time
	prediction Prediction
}

// predictionCache is a TTL cache of predictions keyed by merchant.
// Expired entries are dropped lazily on access and on set.
type predictionCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	ttl     time.Duration
	mu      sync.RWMutex
}

func newPredictionCache(ttl time.Duration) *predictionCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &predictionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *predictionCache) get(key string) (Prediction, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return Prediction{}, false
	}
	if c.now().After(entry.expiry) {
		c.mu.Lock()
		if e, still := c.entries[key]; still && c.now().After(e.expiry) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Prediction{}, false
	}
	return entry.prediction, true
}

func (c *predictionCache) set(key string, p Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiry) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{prediction: p, expiry: now.Add(c.ttl)}
}

func (c *predictionCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
