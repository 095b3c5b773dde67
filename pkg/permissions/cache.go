package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/devel-fonseca/ilpi-core/pkg/cachestore"
	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

const (
	cachePrefix = "user-permissions:"
	layerName   = "permission"
)

// SnapshotSource loads a user's permission snapshot from the backing
// store. A (nil, nil) return means the user does not exist; that outcome
// is never cached.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, userID string) (*Snapshot, error)
}

// SnapshotCache is the per-user permission cache layer. Snapshots, not
// computed sets, are cached: the engine re-runs layering on every check,
// which keeps the cached value valid across profile-table reloads.
type SnapshotCache struct {
	store    *cachestore.Store
	source   SnapshotSource
	engine   *Engine
	ttl      time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	counters cachestore.Counters
}

// NewSnapshotCache builds the permission cache layer.
func NewSnapshotCache(store *cachestore.Store, source SnapshotSource, engine *Engine, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *SnapshotCache {
	return &SnapshotCache{
		store:   store,
		source:  source,
		engine:  engine,
		ttl:     ttl,
		logger:  logger.WithLayer(layerName),
		metrics: metrics,
	}
}

func cacheKey(userID string) string {
	return cachePrefix + userID
}

// Get returns the permission snapshot for a user, from cache when
// possible. Returns (nil, nil) for an unknown user.
func (c *SnapshotCache) Get(ctx context.Context, userID string) (*Snapshot, error) {
	key := cacheKey(userID)

	var snap Snapshot
	if c.store.GetJSON(ctx, key, &snap) {
		c.counters.Hit()
		c.metrics.CacheHitsTotal.WithLabelValues(layerName).Inc()
		return &snap, nil
	}
	if c.store.Connected() {
		c.counters.Miss()
		c.metrics.CacheMissesTotal.WithLabelValues(layerName).Inc()
	} else {
		c.counters.Fallback()
		c.metrics.CacheFallbacksTotal.WithLabelValues(layerName).Inc()
	}

	fetched, err := c.source.FetchSnapshot(ctx, userID)
	if err != nil {
		c.counters.Error()
		c.metrics.CacheErrorsTotal.WithLabelValues(layerName).Inc()
		return nil, fmt.Errorf("fetching permission snapshot for %s: %w", userID, err)
	}
	if fetched == nil {
		// Unknown user. Not cached, so a user created moments later is
		// visible immediately.
		return nil, nil
	}

	c.store.Set(ctx, key, fetched, c.ttl)
	return fetched, nil
}

// Has reports whether a user holds a permission within a tenant. Any
// failure or mismatch denies: an unknown user, a snapshot belonging to a
// different tenant, or a backing-store error all return false.
func (c *SnapshotCache) Has(ctx context.Context, userID, tenantID string, perm Permission) bool {
	snap, err := c.Get(ctx, userID)
	if err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("permission check failed, denying")
		c.metrics.PermissionChecksTotal.WithLabelValues("error").Inc()
		return false
	}
	if snap == nil || snap.TenantID != tenantID {
		c.metrics.PermissionChecksTotal.WithLabelValues("denied").Inc()
		return false
	}

	allowed := c.engine.Has(snap, perm)
	if allowed {
		c.metrics.PermissionChecksTotal.WithLabelValues("allowed").Inc()
	} else {
		c.metrics.PermissionChecksTotal.WithLabelValues("denied").Inc()
	}
	return allowed
}

// HasAll reports whether a user holds every listed permission.
func (c *SnapshotCache) HasAll(ctx context.Context, userID, tenantID string, perms ...Permission) bool {
	for _, p := range perms {
		if !c.Has(ctx, userID, tenantID, p) {
			return false
		}
	}
	return true
}

// HasAny reports whether a user holds at least one listed permission.
func (c *SnapshotCache) HasAny(ctx context.Context, userID, tenantID string, perms ...Permission) bool {
	for _, p := range perms {
		if c.Has(ctx, userID, tenantID, p) {
			return true
		}
	}
	return false
}

// Effective returns a user's effective permissions within a tenant, or an
// empty slice when the user is unknown or belongs to another tenant.
func (c *SnapshotCache) Effective(ctx context.Context, userID, tenantID string) ([]Permission, error) {
	snap, err := c.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.TenantID != tenantID {
		return []Permission{}, nil
	}
	return c.engine.Effective(snap), nil
}

// Invalidate removes a user's cached snapshot. The reason is recorded in
// logs and metrics, not interpreted.
func (c *SnapshotCache) Invalidate(ctx context.Context, userID, reason string) {
	c.store.Del(ctx, cacheKey(userID))
	c.metrics.CacheInvalidations.WithLabelValues(layerName, reason).Inc()
	c.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"reason":  reason,
	}).Debug("permission cache invalidated")
}

// InvalidateMany removes cached snapshots for several users at once.
func (c *SnapshotCache) InvalidateMany(ctx context.Context, userIDs []string, reason string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = cacheKey(id)
	}
	c.store.Del(ctx, keys...)
	c.metrics.CacheInvalidations.WithLabelValues(layerName, reason).Add(float64(len(userIDs)))
	c.logger.WithFields(map[string]interface{}{
		"count":  len(userIDs),
		"reason": reason,
	}).Debug("permission cache invalidated")
}

// ClearAll removes every cached permission snapshot and returns how many
// entries were dropped.
func (c *SnapshotCache) ClearAll(ctx context.Context) int {
	n := c.store.Clear(ctx, cachePrefix+"*")
	c.metrics.CacheInvalidations.WithLabelValues(layerName, "clear_all").Add(float64(n))
	c.logger.WithField("count", n).Info("permission cache cleared")
	return n
}

// WarmUp pre-populates the cache for the given users, typically after a
// deploy or a bulk permission change. Unknown users are skipped. Returns
// the number of snapshots written.
func (c *SnapshotCache) WarmUp(ctx context.Context, userIDs []string) int {
	warmed := 0
	for _, id := range userIDs {
		snap, err := c.source.FetchSnapshot(ctx, id)
		if err != nil {
			c.metrics.CacheWarmupsTotal.WithLabelValues(layerName, "error").Inc()
			c.logger.WithError(err).WithField("user_id", id).Warn("warm-up fetch failed")
			continue
		}
		if snap == nil {
			c.metrics.CacheWarmupsTotal.WithLabelValues(layerName, "skipped").Inc()
			continue
		}
		// Key by the requested ID, the same key Get will look up.
		c.store.Set(ctx, cacheKey(id), snap, c.ttl)
		c.metrics.CacheWarmupsTotal.WithLabelValues(layerName, "ok").Inc()
		warmed++
	}
	c.logger.WithFields(map[string]interface{}{
		"requested": len(userIDs),
		"warmed":    warmed,
	}).Info("permission cache warm-up complete")
	return warmed
}

// Stats reports the number of live cache entries and the local counters.
func (c *SnapshotCache) Stats(ctx context.Context) (entries int, metrics cachestore.LayerMetrics) {
	return c.store.Count(ctx, cachePrefix+"*"), c.counters.Snapshot()
}

// Metrics returns the local hit/miss counters for this layer.
func (c *SnapshotCache) Metrics() cachestore.LayerMetrics {
	return c.counters.Snapshot()
}
