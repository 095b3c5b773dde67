package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/devel-fonseca/ilpi-core/pkg/cachestore"
	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

const (
	tenantLayer  = "tenant"
	tenantPrefix = "tenant-cache:"
)

// TenantCache caches full tenant snapshots: subscriptions with plan limits
// and the institutional profile. It is read far less often than the schema
// mapping, so misses fetch directly without coalescing, and the TTL is
// fixed rather than jittered.
type TenantCache struct {
	store    *cachestore.Store
	dir      Directory
	ttl      time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	counters cachestore.Counters
}

// NewTenantCache builds the tenant snapshot layer.
func NewTenantCache(store *cachestore.Store, dir Directory, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *TenantCache {
	return &TenantCache{
		store:   store,
		dir:     dir,
		ttl:     ttl,
		logger:  logger.WithLayer(tenantLayer),
		metrics: metrics,
	}
}

func tenantKey(tenantID string) string {
	return tenantPrefix + tenantID
}

// Get returns the tenant snapshot, from cache when possible, or
// ErrTenantNotFound for an unknown tenant. Absence is never cached.
func (c *TenantCache) Get(ctx context.Context, tenantID string) (*Snapshot, error) {
	key := tenantKey(tenantID)

	var snap Snapshot
	if c.store.GetJSON(ctx, key, &snap) {
		c.counters.Hit()
		c.metrics.CacheHitsTotal.WithLabelValues(tenantLayer).Inc()
		return &snap, nil
	}
	if c.store.Connected() {
		c.counters.Miss()
		c.metrics.CacheMissesTotal.WithLabelValues(tenantLayer).Inc()
	} else {
		c.counters.Fallback()
		c.metrics.CacheFallbacksTotal.WithLabelValues(tenantLayer).Inc()
	}

	fetched, err := c.dir.GetTenant(ctx, tenantID)
	if err != nil {
		c.counters.Error()
		c.metrics.CacheErrorsTotal.WithLabelValues(tenantLayer).Inc()
		return nil, fmt.Errorf("fetching tenant %s: %w", tenantID, err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	c.store.Set(ctx, key, fetched, c.ttl)
	return fetched, nil
}

// Invalidate drops the cached snapshot for one tenant.
func (c *TenantCache) Invalidate(ctx context.Context, tenantID, reason string) {
	c.store.Del(ctx, tenantKey(tenantID))
	c.metrics.CacheInvalidations.WithLabelValues(tenantLayer, reason).Inc()
	c.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"reason":    reason,
	}).Debug("tenant cache invalidated")
}

// InvalidateMany drops cached snapshots for several tenants at once.
func (c *TenantCache) InvalidateMany(ctx context.Context, tenantIDs []string, reason string) {
	if len(tenantIDs) == 0 {
		return
	}
	keys := make([]string, len(tenantIDs))
	for i, id := range tenantIDs {
		keys[i] = tenantKey(id)
	}
	c.store.Del(ctx, keys...)
	c.metrics.CacheInvalidations.WithLabelValues(tenantLayer, reason).Add(float64(len(tenantIDs)))
}

// ClearAll drops every cached tenant snapshot.
func (c *TenantCache) ClearAll(ctx context.Context) int {
	n := c.store.Clear(ctx, tenantPrefix+"*")
	c.metrics.CacheInvalidations.WithLabelValues(tenantLayer, "clear_all").Add(float64(n))
	return n
}

// WarmUp writes the snapshot for one tenant ahead of demand.
func (c *TenantCache) WarmUp(ctx context.Context, tenantID string) error {
	snap, err := c.dir.GetTenant(ctx, tenantID)
	if err != nil {
		c.metrics.CacheWarmupsTotal.WithLabelValues(tenantLayer, "error").Inc()
		return fmt.Errorf("warming tenant %s: %w", tenantID, err)
	}
	if snap == nil {
		c.metrics.CacheWarmupsTotal.WithLabelValues(tenantLayer, "skipped").Inc()
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	c.store.Set(ctx, tenantKey(tenantID), snap, c.ttl)
	c.metrics.CacheWarmupsTotal.WithLabelValues(tenantLayer, "ok").Inc()
	return nil
}

// Stats reports the number of live entries and the local counters.
func (c *TenantCache) Stats(ctx context.Context) (int, cachestore.LayerMetrics) {
	return c.store.Count(ctx, tenantPrefix+"*"), c.counters.Snapshot()
}

// Metrics returns the local hit/miss counters for this layer.
func (c *TenantCache) Metrics() cachestore.LayerMetrics {
	return c.counters.Snapshot()
}
