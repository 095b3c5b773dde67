package permissions

import (
	"context"
	"fmt"

	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

// Registration carries professional-council registration data attached to
// a position change (COREN, CRM and similar).
type Registration struct {
	Type   string
	Number string
	State  string
}

// MutationStore persists permission changes to the tenant schema. The
// Postgres directory implements it.
type MutationStore interface {
	UpsertCustomPermission(ctx context.Context, tenantID, userID string, perm Permission, isGranted bool, grantedBy string) error
	DeleteCustomPermission(ctx context.Context, tenantID, userID string, perm Permission) error
	UpdatePosition(ctx context.Context, tenantID, userID string, code PositionCode, reg *Registration, updatedBy string) error
}

// Invalidator is anything holding per-user cached state that a permission
// change makes stale. The identity cache implements it.
type Invalidator interface {
	Invalidate(userID string)
}

// Service applies permission mutations and keeps the caches coherent:
// every write is followed synchronously by invalidation, so the next read
// observes the change.
type Service struct {
	store        MutationStore
	cache        *SnapshotCache
	invalidators []Invalidator
	logger       *observability.Logger
}

// NewService builds the mutation service. Extra invalidators (such as the
// identity cache) are notified after every successful write.
func NewService(store MutationStore, cache *SnapshotCache, logger *observability.Logger, invalidators ...Invalidator) *Service {
	return &Service{
		store:        store,
		cache:        cache,
		invalidators: invalidators,
		logger:       logger.WithLayer(layerName),
	}
}

// Grant adds (or reinstates) a custom grant for a permission.
func (s *Service) Grant(ctx context.Context, tenantID, userID string, perm Permission, grantedBy string) error {
	if !IsKnown(perm) {
		return fmt.Errorf("unknown permission %q", perm)
	}
	if err := s.store.UpsertCustomPermission(ctx, tenantID, userID, perm, true, grantedBy); err != nil {
		return fmt.Errorf("granting %s to %s: %w", perm, userID, err)
	}
	s.afterWrite(ctx, userID, "grant")
	return nil
}

// Revoke adds a custom revocation for a permission, overriding any
// position default.
func (s *Service) Revoke(ctx context.Context, tenantID, userID string, perm Permission, revokedBy string) error {
	if !IsKnown(perm) {
		return fmt.Errorf("unknown permission %q", perm)
	}
	if err := s.store.UpsertCustomPermission(ctx, tenantID, userID, perm, false, revokedBy); err != nil {
		return fmt.Errorf("revoking %s from %s: %w", perm, userID, err)
	}
	s.afterWrite(ctx, userID, "revoke")
	return nil
}

// RemoveCustom deletes a custom entry entirely, letting the position
// default apply again.
func (s *Service) RemoveCustom(ctx context.Context, tenantID, userID string, perm Permission) error {
	if err := s.store.DeleteCustomPermission(ctx, tenantID, userID, perm); err != nil {
		return fmt.Errorf("removing custom permission %s from %s: %w", perm, userID, err)
	}
	s.afterWrite(ctx, userID, "remove_custom")
	return nil
}

// UpdatePosition changes a user's position and, with it, their inherited
// permission set. Custom entries survive the change.
func (s *Service) UpdatePosition(ctx context.Context, tenantID, userID string, code PositionCode, reg *Registration, updatedBy string) error {
	if err := s.store.UpdatePosition(ctx, tenantID, userID, code, reg, updatedBy); err != nil {
		return fmt.Errorf("updating position for %s: %w", userID, err)
	}
	s.afterWrite(ctx, userID, "position_change")
	return nil
}

func (s *Service) afterWrite(ctx context.Context, userID, reason string) {
	s.cache.Invalidate(ctx, userID, reason)
	for _, inv := range s.invalidators {
		inv.Invalidate(userID)
	}
	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"change":  reason,
	}).Info("permission change applied")
}
