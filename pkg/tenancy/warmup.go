package tenancy

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

// Warmer pre-populates the tenant and schema caches for every active
// tenant, on demand or on a cron schedule. Warm caches keep the first
// requests after a deploy or a Redis flush off the backing store.
type Warmer struct {
	schemas *SchemaCache
	tenants *TenantCache
	dir     Directory
	logger  *observability.Logger
	cron    *cron.Cron
}

// NewWarmer builds a warmer over both tenant-level cache layers.
func NewWarmer(schemas *SchemaCache, tenants *TenantCache, dir Directory, logger *observability.Logger) *Warmer {
	return &Warmer{
		schemas: schemas,
		tenants: tenants,
		dir:     dir,
		logger:  logger.WithField("component", "cache_warmer"),
	}
}

// WarmUpAll warms both layers for every active tenant and returns the
// number of tenants fully warmed. Per-tenant failures are logged and
// skipped so one bad record cannot abort the sweep.
func (w *Warmer) WarmUpAll(ctx context.Context) (int, error) {
	ids, err := w.dir.ListTenantIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing tenants for warm-up: %w", err)
	}

	warmed := 0
	for _, id := range ids {
		if err := w.WarmUp(ctx, id); err != nil {
			w.logger.WithError(err).WithField("tenant_id", id).Warn("tenant warm-up failed")
			continue
		}
		warmed++
	}

	w.logger.WithFields(map[string]interface{}{
		"tenants": len(ids),
		"warmed":  warmed,
	}).Info("cache warm-up sweep complete")
	return warmed, nil
}

// WarmUp warms both layers for a single tenant.
func (w *Warmer) WarmUp(ctx context.Context, tenantID string) error {
	if err := w.schemas.WarmUp(ctx, tenantID); err != nil {
		return err
	}
	return w.tenants.WarmUp(ctx, tenantID)
}

// Start schedules recurring warm-up sweeps using a cron expression such
// as "0 */6 * * *". Call Stop to cancel.
func (w *Warmer) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := w.WarmUpAll(context.Background()); err != nil {
			w.logger.WithError(err).Error("scheduled warm-up failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid warm-up schedule %q: %w", schedule, err)
	}
	c.Start()
	w.cron = c
	w.logger.WithField("schedule", schedule).Info("cache warm-up scheduled")
	return nil
}

// Stop cancels the scheduled sweeps, waiting for a running one to finish.
func (w *Warmer) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}
