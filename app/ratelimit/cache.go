package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

// Cache is a bounded, TTL-expiring mirror of recent decisions. Eviction
// at capacity removes the oldest inserted entry. Expired entries are
// swept opportunistically: a small fraction of reads triggers a full
// sweep instead of a background timer, so the cache works in stateless
// execution environments too.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]cacheEntry
	order       []string
	capacity    int
	ttl         time.Duration
	sweepChance float64
	now         func() time.Time
}

type cacheEntry struct {
	decision  Decision
	expiresAt time.Time
}

const DefaultSweepChance = 0.01

func NewCache(capacity int, ttl time.Duration, sweepChance float64) *Cache {
	if sweepChance <= 0 {
		sweepChance = DefaultSweepChance
	}

	return &Cache{
		entries:     make(map[string]cacheEntry, capacity),
		order:       make([]string, 0, capacity),
		capacity:    capacity,
		ttl:         ttl,
		sweepChance: sweepChance,
		now:         time.Now,
	}
}

// Get returns the cached decision for key, or false when the entry is
// absent or past its expiry.
func (c *Cache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rand.Float64() < c.sweepChance {
		c.sweep()
	}

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return Decision{}, false
	}

	return e.decision, true
}

func (c *Cache) Set(key string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		if len(c.entries) >= c.capacity {
			c.evictOldest()
		}

		c.order = append(c.order, key)
	}

	c.entries[key] = cacheEntry{decision: d, expiresAt: c.now().Add(c.ttl)}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache) evictOldest() {
	for len(c.order) > 0 {
		k := c.order[0]
		c.order = c.order[1:]

		if _, ok := c.entries[k]; ok {
			delete(c.entries, k)
			return
		}
	}
}

func (c *Cache) sweep() {
	now := c.now()

	kept := c.order[:0]

	for _, k := range c.order {
		e, ok := c.entries[k]
		if !ok {
			continue
		}

		if now.Before(e.expiresAt) {
			kept = append(kept, k)
			continue
		}

		delete(c.entries, k)
	}

	c.order = kept
}
