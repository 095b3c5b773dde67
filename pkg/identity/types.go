// Package identity resolves authentication-token payloads into full user
// identities, including the tenant the user belongs to. Resolution runs on
// every authenticated request, so results are held in a short-lived
// process-local cache.
package identity

import (
	"context"
	"errors"

	"github.com/devel-fonseca/ilpi-core/pkg/tenancy"
)

// ErrUnauthenticated is returned when a token's subject does not map to an
// active user. Callers must treat it as a 401, not a 500.
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenPayload is the decoded, already-verified token content. TenantID
// and Role are hints: present in tenant-scoped tokens, absent in
// platform-level ones.
type TokenPayload struct {
	Sub      string `json:"sub"`
	Email    string `json:"email,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
}

// User is a user row as loaded from the backing store, from either the
// platform schema or a tenant schema.
type User struct {
	ID       string
	Email    string
	Name     string
	Role     string
	IsActive bool
	// TenantID is empty for platform-level users.
	TenantID string
}

// TenantRef is the tenant slice attached to a resolved identity.
type TenantRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SchemaName string `json:"schema_name"`
	IsActive   bool   `json:"is_active"`
}

// Identity is a fully resolved request identity.
type Identity struct {
	// Sub is the token subject the identity was resolved from.
	Sub      string     `json:"sub"`
	ID       string     `json:"id"`
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Role     string     `json:"role"`
	TenantID string     `json:"tenant_id,omitempty"`
	Tenant   *TenantRef `json:"tenant,omitempty"`
}

// IsPlatform reports whether the identity is a platform-level account
// rather than a tenant member.
func (i *Identity) IsPlatform() bool {
	return i.TenantID == ""
}

// UserSource loads user rows from the backing store. All lookups return
// (nil, nil) for an absent user.
type UserSource interface {
	// FindPlatformUser looks the subject up among platform-level users.
	FindPlatformUser(ctx context.Context, userID string) (*User, error)
	// FindUserInSchema looks the subject up inside one tenant schema.
	FindUserInSchema(ctx context.Context, schemaName, userID string) (*User, error)
	// FindUserSchema scans all tenant schemas for the subject and returns
	// the schema name holding it, or "" when no schema does.
	FindUserSchema(ctx context.Context, userID string) (string, error)
}

// SchemaResolver maps tenant IDs to schema names; the tenancy schema
// cache implements it.
type SchemaResolver interface {
	SchemaName(ctx context.Context, tenantID string) (string, error)
}

// TenantLookup loads tenant snapshots; the tenancy tenant cache
// implements it.
type TenantLookup interface {
	Get(ctx context.Context, tenantID string) (*tenancy.Snapshot, error)
}
