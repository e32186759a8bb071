package metrics

import (
	"sync"
	"time"
)

// DerivedCache memoizes derived query results (issue lists, rankings).
// Uses sync.Map for lock-free reads on the hot path. An entry is only served
// while the collector generation it was computed at is still current and it
// has not outlived the expiration window.
type DerivedCache struct {
	store sync.Map // map[string]*derivedEntry
	ttl   time.Duration
	now   func() time.Time
}

type derivedEntry struct {
	value      any
	generation uint64
	storedAt   time.Time
}

// NewDerivedCache creates a cache whose entries expire after ttl.
func NewDerivedCache(ttl time.Duration, now func() time.Time) *DerivedCache {
	if now == nil {
		now = time.Now
	}
	return &DerivedCache{ttl: ttl, now: now}
}

// Get returns the cached value for key if it was computed at generation gen
// and has not expired.
func (c *DerivedCache) Get(key string, gen uint64) (any, bool) {
	val, ok := c.store.Load(key)
	if !ok {
		return nil, false
	}
	entry := val.(*derivedEntry)
	if entry.generation != gen || c.expired(entry) {
		return nil, false
	}
	return entry.value, true
}

// Set stores value for key at generation gen.
func (c *DerivedCache) Set(key string, gen uint64, value any) {
	c.store.Store(key, &derivedEntry{
		value:      value,
		generation: gen,
		storedAt:   c.now(),
	})
}

// Purge removes expired entries and returns how many were dropped.
func (c *DerivedCache) Purge() int {
	removed := 0
	c.store.Range(func(key, val any) bool {
		if c.expired(val.(*derivedEntry)) {
			c.store.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of entries, expired or not.
func (c *DerivedCache) Len() int {
	n := 0
	c.store.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

func (c *DerivedCache) expired(e *derivedEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl
}
