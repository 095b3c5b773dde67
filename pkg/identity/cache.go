package identity

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

const defaultCacheSize = 4096

// Cache is the process-local identity cache. Entries live for a short TTL
// (30 seconds in production): long enough to absorb the burst of requests
// a page load produces, short enough that deactivations and role changes
// take effect quickly. Each process keeps its own copy; there is no
// cross-process invalidation.
type Cache struct {
	entries *lru.LRU[string, *Identity]
	metrics *observability.Metrics
}

// NewCache builds an identity cache with the given entry TTL.
func NewCache(ttl time.Duration, metrics *observability.Metrics) *Cache {
	return &Cache{
		entries: lru.NewLRU[string, *Identity](defaultCacheSize, nil, ttl),
		metrics: metrics,
	}
}

// Get returns the cached identity for a subject, if fresh.
func (c *Cache) Get(sub string) (*Identity, bool) {
	id, ok := c.entries.Get(sub)
	if ok {
		c.metrics.IdentityCacheHitsTotal.Inc()
	} else {
		c.metrics.IdentityCacheMissesTotal.Inc()
	}
	return id, ok
}

// Put stores a resolved identity.
func (c *Cache) Put(id *Identity) {
	c.entries.Add(id.Sub, id)
}

// Invalidate drops the cached identity for a subject. Used after role or
// position changes so the next request re-resolves.
func (c *Cache) Invalidate(sub string) {
	c.entries.Remove(sub)
}

// Purge drops every cached identity.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
