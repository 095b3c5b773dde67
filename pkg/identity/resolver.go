package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/devel-fonseca/ilpi-core/pkg/observability"
	"github.com/devel-fonseca/ilpi-core/pkg/tenancy"
)

// Resolver turns token payloads into full identities.
//
// Resolution order: process-local cache, then the platform user table,
// then the tenant schema named by the token's tenant hint. A tenant-scoped
// token resolves in its own schema or not at all; only tokens carrying no
// tenant fall back to the cross-schema scan, the one expensive query.
type Resolver struct {
	cache   *Cache
	users   UserSource
	schemas SchemaResolver
	tenants TenantLookup
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver builds an identity resolver.
func NewResolver(cache *Cache, users UserSource, schemas SchemaResolver, tenants TenantLookup, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		cache:   cache,
		users:   users,
		schemas: schemas,
		tenants: tenants,
		logger:  logger.WithField("component", "identity_resolver"),
		metrics: metrics,
	}
}

// Resolve maps a verified token payload to an identity. An absent or
// deactivated user yields ErrUnauthenticated; backing-store failures
// surface as ordinary errors.
func (r *Resolver) Resolve(ctx context.Context, payload TokenPayload) (*Identity, error) {
	if payload.Sub == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrUnauthenticated)
	}

	if id, ok := r.cache.Get(payload.Sub); ok {
		r.metrics.IdentityResolutionsTotal.WithLabelValues("cache", "ok").Inc()
		return id, nil
	}

	id, path, err := r.resolve(ctx, payload)
	if err != nil {
		status := "error"
		if errors.Is(err, ErrUnauthenticated) {
			status = "unauthenticated"
		}
		r.metrics.IdentityResolutionsTotal.WithLabelValues(path, status).Inc()
		return nil, err
	}

	r.cache.Put(id)
	r.metrics.IdentityResolutionsTotal.WithLabelValues(path, "ok").Inc()
	return id, nil
}

func (r *Resolver) resolve(ctx context.Context, payload TokenPayload) (*Identity, string, error) {
	// Platform accounts live outside any tenant schema and are checked
	// first; they are few, so the lookup is cheap.
	user, err := r.users.FindPlatformUser(ctx, payload.Sub)
	if err != nil {
		return nil, "platform", fmt.Errorf("platform user lookup: %w", err)
	}
	if user != nil {
		if !user.IsActive {
			return nil, "platform", fmt.Errorf("%w: user %s is deactivated", ErrUnauthenticated, user.ID)
		}
		return r.finalize(ctx, payload, user, "platform")
	}

	if payload.TenantID != "" {
		user, err = r.findWithHint(ctx, payload)
		if err != nil {
			return nil, "tenant_hint", err
		}
		if user == nil {
			return nil, "tenant_hint", fmt.Errorf("%w: subject not in tenant %s", ErrUnauthenticated, payload.TenantID)
		}
		if !user.IsActive {
			return nil, "tenant_hint", fmt.Errorf("%w: user %s is deactivated", ErrUnauthenticated, user.ID)
		}
		return r.finalize(ctx, payload, user, "tenant_hint")
	}

	user, err = r.findByScan(ctx, payload.Sub)
	if err != nil {
		return nil, "scan", err
	}
	if user == nil {
		return nil, "scan", fmt.Errorf("%w: unknown subject", ErrUnauthenticated)
	}
	if !user.IsActive {
		return nil, "scan", fmt.Errorf("%w: user %s is deactivated", ErrUnauthenticated, user.ID)
	}
	return r.finalize(ctx, payload, user, "scan")
}

// findWithHint resolves the token's tenant hint to a schema and looks the
// user up there. The hint is authoritative: a token naming a tenant that
// no longer exists fails authentication instead of widening the search.
func (r *Resolver) findWithHint(ctx context.Context, payload TokenPayload) (*User, error) {
	schema, err := r.schemas.SchemaName(ctx, payload.TenantID)
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: token tenant %s not found", ErrUnauthenticated, payload.TenantID)
		}
		return nil, fmt.Errorf("resolving tenant hint: %w", err)
	}

	user, err := r.users.FindUserInSchema(ctx, schema, payload.Sub)
	if err != nil {
		return nil, fmt.Errorf("hinted user lookup: %w", err)
	}
	return user, nil
}

// findByScan locates the schema holding the user, then loads the row.
func (r *Resolver) findByScan(ctx context.Context, sub string) (*User, error) {
	schema, err := r.users.FindUserSchema(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("schema scan: %w", err)
	}
	if schema == "" {
		return nil, nil
	}

	user, err := r.users.FindUserInSchema(ctx, schema, sub)
	if err != nil {
		return nil, fmt.Errorf("scanned user lookup: %w", err)
	}
	return user, nil
}

// finalize assembles the identity and attaches tenant data. A failed
// tenant lookup fails the whole resolution; an identity without its
// tenant's state would have to guess at activity.
func (r *Resolver) finalize(ctx context.Context, payload TokenPayload, user *User, path string) (*Identity, string, error) {
	id := &Identity{
		Sub:      payload.Sub,
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Role:     user.Role,
		TenantID: user.TenantID,
	}
	if id.Role == "" {
		id.Role = payload.Role
	}
	if user.TenantID == "" {
		return id, path, nil
	}

	snap, err := r.tenants.Get(ctx, user.TenantID)
	if err != nil {
		return nil, path, fmt.Errorf("tenant lookup for %s: %w", user.TenantID, err)
	}

	id.Tenant = &TenantRef{
		ID:         snap.ID,
		Name:       snap.Name,
		SchemaName: snap.SchemaName,
		IsActive:   snap.IsActive,
	}
	return id, path, nil
}
