package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/devel-fonseca/ilpi-core/pkg/cachestore"
	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

const schemaLayer = "schema"

// SchemaCache resolves tenant IDs to schema names. This is the hottest
// lookup in the system, so misses are coalesced: a burst of requests for
// an uncached tenant triggers exactly one backing lookup. Entries carry a
// jittered TTL so entries written together do not expire together.
//
// Keys are prefixed with the environment name because staging and
// production may share a Redis instance.
type SchemaCache struct {
	resolver *cachestore.Resolver[string]
	store    *cachestore.Store
	dir      Directory
	env      string
	ttl      time.Duration
	jitter   float64
	logger   *observability.Logger
	metrics  *observability.Metrics
	counters cachestore.Counters
}

// NewSchemaCache builds the schema mapping layer. ttl is the base TTL;
// each write is jittered by ±jitterFraction.
func NewSchemaCache(store *cachestore.Store, dir Directory, env string, ttl time.Duration, jitterFraction float64, logger *observability.Logger, metrics *observability.Metrics) *SchemaCache {
	return &SchemaCache{
		resolver: cachestore.NewResolver[string](store),
		store:    store,
		dir:      dir,
		env:      env,
		ttl:      ttl,
		jitter:   jitterFraction,
		logger:   logger.WithLayer(schemaLayer),
		metrics:  metrics,
	}
}

func (c *SchemaCache) key(tenantID string) string {
	return fmt.Sprintf("%s:tenant-schema:%s", c.env, tenantID)
}

// SchemaName resolves a tenant's schema name, returning ErrTenantNotFound
// for an unknown tenant. Unknown tenants are never cached; a tenant
// provisioned moments later resolves immediately.
func (c *SchemaCache) SchemaName(ctx context.Context, tenantID string) (string, error) {
	key := c.key(tenantID)
	hadCached := c.store.Exists(ctx, key)

	schema, err := c.resolver.Resolve(ctx, key, cachestore.Jitter(c.ttl, c.jitter), func(ctx context.Context) (string, error) {
		name, err := c.dir.GetSchemaName(ctx, tenantID)
		if err != nil {
			return "", fmt.Errorf("resolving schema for tenant %s: %w", tenantID, err)
		}
		if name == "" {
			return "", fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return name, nil
	})
	if err != nil {
		c.counters.Error()
		c.metrics.CacheErrorsTotal.WithLabelValues(schemaLayer).Inc()
		return "", err
	}

	if hadCached {
		c.counters.Hit()
		c.metrics.CacheHitsTotal.WithLabelValues(schemaLayer).Inc()
	} else if c.store.Connected() {
		c.counters.Miss()
		c.metrics.CacheMissesTotal.WithLabelValues(schemaLayer).Inc()
	} else {
		c.counters.Fallback()
		c.metrics.CacheFallbacksTotal.WithLabelValues(schemaLayer).Inc()
	}
	return schema, nil
}

// Invalidate drops the cached mapping for one tenant.
func (c *SchemaCache) Invalidate(ctx context.Context, tenantID, reason string) {
	c.store.Del(ctx, c.key(tenantID))
	c.metrics.CacheInvalidations.WithLabelValues(schemaLayer, reason).Inc()
	c.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"reason":    reason,
	}).Debug("schema cache invalidated")
}

// ClearAll drops every schema mapping for this environment.
func (c *SchemaCache) ClearAll(ctx context.Context) int {
	n := c.store.Clear(ctx, c.env+":tenant-schema:*")
	c.metrics.CacheInvalidations.WithLabelValues(schemaLayer, "clear_all").Add(float64(n))
	return n
}

// WarmUp writes the mapping for one tenant ahead of demand. Unknown
// tenants are skipped.
func (c *SchemaCache) WarmUp(ctx context.Context, tenantID string) error {
	name, err := c.dir.GetSchemaName(ctx, tenantID)
	if err != nil {
		c.metrics.CacheWarmupsTotal.WithLabelValues(schemaLayer, "error").Inc()
		return fmt.Errorf("warming schema for tenant %s: %w", tenantID, err)
	}
	if name == "" {
		c.metrics.CacheWarmupsTotal.WithLabelValues(schemaLayer, "skipped").Inc()
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	c.store.Set(ctx, c.key(tenantID), name, cachestore.Jitter(c.ttl, c.jitter))
	c.metrics.CacheWarmupsTotal.WithLabelValues(schemaLayer, "ok").Inc()
	return nil
}

// TTL returns the remaining lifetime in seconds of a tenant's cached
// mapping, with Redis TTL semantics for missing keys.
func (c *SchemaCache) TTL(ctx context.Context, tenantID string) int64 {
	return c.store.TTL(ctx, c.key(tenantID))
}

// Metrics returns the local hit/miss counters for this layer.
func (c *SchemaCache) Metrics() cachestore.LayerMetrics {
	return c.counters.Snapshot()
}
