package pricing

import (
	"sync"
	"time"

	"github.com/pario-ai/budgeteer/pkg/models"
)

type cacheKey struct {
	model  string
	region string
}

type cacheEntry struct {
	rates    models.ModelPricing
	storedAt time.Time
}

// Cache is a short-lived in-process cache of resolved rates. Instances are
// passed explicitly to the resolvers that share them.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[cacheKey]cacheEntry
}

// NewCache creates a Cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Get returns cached rates that are younger than the TTL.
func (c *Cache) Get(model, region string) (models.ModelPricing, bool) {
	c.mu.RLock()
	e, ok := c.entries[cacheKey{model, region}]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		return models.ModelPricing{}, false
	}
	return e.rates, true
}

// Put stores rates for (model, region).
func (c *Cache) Put(model, region string, rates models.ModelPricing) {
	c.mu.Lock()
	c.entries[cacheKey{model, region}] = cacheEntry{rates: rates, storedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops every cached entry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
