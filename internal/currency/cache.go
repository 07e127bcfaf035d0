package currency

import (
	"sync"
	"time"
)

type entry struct {
	value    float64
	storedAt time.Time
}

// Cache holds rates keyed by currency code for a fixed TTL.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{ttl: ttl, entries: map[string]entry{}}
}

func (c *Cache) Get(key string, now time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	if now.Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return 0, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value float64, now time.Time) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: now}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
