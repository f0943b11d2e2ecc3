package router

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// cacheEntry stores one idempotent response until its expiry.
type cacheEntry struct {
	value  any
	expiry time.Time
}

// responseCache caches results of idempotent methods under a composite
// (agent, method, serialized args) key. Entries for non-idempotent methods
// are never created; eligibility is decided by the registration's idempotent
// method set before lookup.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// cacheKey builds the composite key. Args serialize deterministically because
// encoding/json sorts map keys.
func cacheKey(to, method string, args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", args))
	}
	return to + "." + method + "|" + string(raw)
}

// get returns a live cached value, lazily evicting expired entries.
func (c *responseCache) get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiry) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

// put stores a value for the configured TTL.
func (c *responseCache) put(key string, value any) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiry: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// size returns the number of retained entries, expired or not.
func (c *responseCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
