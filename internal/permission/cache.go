package permission

import (
	"sync"
	"sync/atomic"
	"time"
)

// maxStaleFactor bounds how long past its TTL an entry may still be served
// while refreshes keep failing. Beyond ttl*maxStaleFactor the entry is a miss.
const maxStaleFactor = 10

// GrantSet is the set of permissions granted to one client.
type GrantSet map[Kind]struct{}

// NewGrantSet builds a set from kinds. Duplicates collapse.
func NewGrantSet(kinds []Kind) GrantSet {
	s := make(GrantSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether kind is granted.
func (s GrantSet) Has(kind Kind) bool {
	_, ok := s[kind]
	return ok
}

// GrantCache holds per-client grant sets with stale-while-revalidate.
// A stale entry elects exactly one refresher; a refresher that fails must
// call ReleaseRefresh so the next lookup can try again.
type GrantCache struct {
	store sync.Map // map[string]*grantEntry
	ttl   time.Duration
	now   func() time.Time
}

type grantEntry struct {
	grants     GrantSet // empty = negative cache (no grants)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// GrantCacheGetResult holds the result of a cache lookup.
type GrantCacheGetResult struct {
	Grants       GrantSet
	Hit          bool
	NeedsRefresh bool // stale; this caller was elected to refresh
}

// NewGrantCache creates a cache with the given TTL.
func NewGrantCache(ttl time.Duration) *GrantCache {
	return &GrantCache{ttl: ttl, now: time.Now}
}

// Get performs a non-blocking lookup. Stale entries are returned with
// NeedsRefresh set for at most one caller; entries past the staleness bound
// are dropped and reported as a miss.
func (c *GrantCache) Get(clientID string) GrantCacheGetResult {
	val, ok := c.store.Load(clientID)
	if !ok {
		return GrantCacheGetResult{}
	}

	entry := val.(*grantEntry)
	now := c.now()
	if now.Before(entry.expiresAt) {
		return GrantCacheGetResult{Grants: entry.grants, Hit: true}
	}
	if now.After(entry.expiresAt.Add(c.ttl * (maxStaleFactor - 1))) {
		c.store.CompareAndDelete(clientID, entry)
		return GrantCacheGetResult{}
	}

	return GrantCacheGetResult{
		Grants:       entry.grants,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores the grants for a client with a fresh TTL and returns the set.
func (c *GrantCache) Set(clientID string, kinds []Kind) GrantSet {
	grants := NewGrantSet(kinds)
	c.store.Store(clientID, &grantEntry{
		grants:    grants,
		expiresAt: c.now().Add(c.ttl),
	})
	return grants
}

// ReleaseRefresh clears the refresh election after a failed refresh.
func (c *GrantCache) ReleaseRefresh(clientID string) {
	if val, ok := c.store.Load(clientID); ok {
		val.(*grantEntry).refreshing.Store(false)
	}
}

// Delete removes a client's entry from the cache.
func (c *GrantCache) Delete(clientID string) {
	c.store.Delete(clientID)
}
