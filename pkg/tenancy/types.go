// Package tenancy caches tenant metadata for a schema-per-tenant
// deployment: the hot tenant-to-schema mapping consulted on nearly every
// request, and the richer tenant snapshot with subscription and plan data.
package tenancy

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrTenantNotFound is returned when a tenant ID does not exist in the
// backing store. Absence is never cached.
var ErrTenantNotFound = errors.New("tenant not found")

// Plan describes the subscription plan limits attached to a tenant.
type Plan struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MaxResidents int    `json:"max_residents"`
	MaxUsers     int    `json:"max_users"`
}

// Subscription is a tenant's billing subscription. A tenant usually has
// one active subscription; historical ones may trail behind it.
type Subscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Plan   Plan   `json:"plan"`
}

// Profile carries the institutional profile fields needed outside the
// tenant's own schema.
type Profile struct {
	TradeName string `json:"trade_name,omitempty"`
}

// Snapshot is the cached tenant record.
type Snapshot struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	SchemaName    string         `json:"schema_name"`
	IsActive      bool           `json:"is_active"`
	Subscriptions []Subscription `json:"subscriptions,omitempty"`
	Profile       *Profile       `json:"profile,omitempty"`
}

// UnmarshalJSON treats a missing is_active field as active. Cache entries
// written before the field existed would otherwise decode as inactive.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type snapshot Snapshot
	aux := struct {
		IsActive *bool `json:"is_active"`
		*snapshot
	}{snapshot: (*snapshot)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.IsActive = aux.IsActive == nil || *aux.IsActive
	return nil
}

// ActiveSubscription returns the tenant's active subscription, or nil.
func (s *Snapshot) ActiveSubscription() *Subscription {
	for i := range s.Subscriptions {
		if s.Subscriptions[i].Status == "ACTIVE" {
			return &s.Subscriptions[i]
		}
	}
	return nil
}

// Directory loads tenant records from the backing store. Both lookups
// return (zero, nil) for an unknown tenant; callers translate that into
// ErrTenantNotFound so absence is never written to the cache.
type Directory interface {
	// GetTenant loads the full tenant snapshot, including subscriptions
	// with plan data and the institutional profile.
	GetTenant(ctx context.Context, tenantID string) (*Snapshot, error)
	// GetSchemaName resolves just the tenant's schema name, the cheaper
	// lookup backing the hot path.
	GetSchemaName(ctx context.Context, tenantID string) (string, error)
	// ListTenantIDs returns the IDs of all active tenants, for warm-up.
	ListTenantIDs(ctx context.Context) ([]string, error)
}
