package utils

import (
	"sync"
	"time"
)

// TTLCache concurrent in-memory cache with per-entry expiry and lazy eviction.
type TTLCache[V comparable] struct {
	items sync.Map // key -> cacheItem[V]
	ttl   time.Duration
	now   func() time.Time
}

type cacheItem[V comparable] struct {
	value      V
	expiration time.Time
}

// NewTTLCache ttl applies to every Set.
func NewTTLCache[V comparable](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{ttl: ttl, now: time.Now}
}

func (c *TTLCache[V]) Set(key string, value V) {
	c.items.Store(key, cacheItem[V]{value: value, expiration: c.now().Add(c.ttl)})
}

// Get returns the value if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	val, ok := c.items.Load(key)
	if !ok {
		return zero, false
	}
	item := val.(cacheItem[V])
	if c.now().After(item.expiration) {
		c.items.Delete(key)
		return zero, false
	}
	return item.value, true
}

// SetIfAbsent stores value only when key is missing or expired.
// Returns true when this call stored it.
func (c *TTLCache[V]) SetIfAbsent(key string, value V) bool {
	item := cacheItem[V]{value: value, expiration: c.now().Add(c.ttl)}
	actual, loaded := c.items.LoadOrStore(key, item)
	if !loaded {
		return true
	}
	if c.now().After(actual.(cacheItem[V]).expiration) {
		return c.items.CompareAndSwap(key, actual, item)
	}
	return false
}

func (c *TTLCache[V]) Delete(key string) {
	c.items.Delete(key)
}
