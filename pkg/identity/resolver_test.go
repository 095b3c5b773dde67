package identity

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devel-fonseca/ilpi-core/pkg/observability"
	"github.com/devel-fonseca/ilpi-core/pkg/tenancy"
)

type fakeUsers struct {
	platform map[string]*User
	schemas  map[string]map[string]*User // schema -> userID -> row

	platformLookups atomic.Int32
	schemaLookups   atomic.Int32
	scans           atomic.Int32
	err             error
}

func (f *fakeUsers) FindPlatformUser(_ context.Context, userID string) (*User, error) {
	f.platformLookups.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.platform[userID], nil
}

func (f *fakeUsers) FindUserInSchema(_ context.Context, schemaName, userID string) (*User, error) {
	f.schemaLookups.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.schemas[schemaName][userID], nil
}

func (f *fakeUsers) FindUserSchema(_ context.Context, userID string) (string, error) {
	f.scans.Add(1)
	if f.err != nil {
		return "", f.err
	}
	for schema, users := range f.schemas {
		if _, ok := users[userID]; ok {
			return schema, nil
		}
	}
	return "", nil
}

type fakeSchemas struct {
	byTenant map[string]string
}

func (f *fakeSchemas) SchemaName(_ context.Context, tenantID string) (string, error) {
	s, ok := f.byTenant[tenantID]
	if !ok {
		return "", tenancy.ErrTenantNotFound
	}
	return s, nil
}

type fakeTenants struct {
	byID map[string]*tenancy.Snapshot
	err  error
}

func (f *fakeTenants) Get(_ context.Context, tenantID string) (*tenancy.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.byID[tenantID]
	if !ok {
		return nil, tenancy.ErrTenantNotFound
	}
	return t, nil
}

func testFixtures() (*fakeUsers, *fakeSchemas, *fakeTenants) {
	users := &fakeUsers{
		platform: map[string]*User{
			"p-1": {ID: "p-1", Email: "ops@ilpi.app", Name: "Ops", Role: "admin", IsActive: true},
			"p-2": {ID: "p-2", Email: "old@ilpi.app", Name: "Old", Role: "admin", IsActive: false},
		},
		schemas: map[string]map[string]*User{
			"tenant_lar_vicentino": {
				"u-1": {ID: "u-1", Email: "maria@lar.com", Name: "Maria", Role: "staff", IsActive: true, TenantID: "t-1"},
				"u-2": {ID: "u-2", Email: "jose@lar.com", Name: "José", Role: "staff", IsActive: false, TenantID: "t-1"},
			},
		},
	}
	schemas := &fakeSchemas{byTenant: map[string]string{"t-1": "tenant_lar_vicentino"}}
	tenants := &fakeTenants{byID: map[string]*tenancy.Snapshot{
		"t-1": {ID: "t-1", Name: "Lar Vicentino", SchemaName: "tenant_lar_vicentino", IsActive: true},
	}}
	return users, schemas, tenants
}

func newTestResolver(t *testing.T, ttl time.Duration) (*Resolver, *Cache, *fakeUsers, *fakeTenants) {
	t.Helper()

	users, schemas, tenants := testFixtures()
	metrics := observability.NopMetrics()
	cache := NewCache(ttl, metrics)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	r := NewResolver(cache, users, schemas, tenants, logger, metrics)
	return r, cache, users, tenants
}

func TestResolvePlatformUser(t *testing.T) {
	r, _, users, _ := newTestResolver(t, 30*time.Second)

	id, err := r.Resolve(context.Background(), TokenPayload{Sub: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, "Ops", id.Name)
	assert.True(t, id.IsPlatform())
	assert.Nil(t, id.Tenant)
	assert.Equal(t, int32(0), users.scans.Load())
}

func TestResolveTenantUserWithHint(t *testing.T) {
	r, _, users, _ := newTestResolver(t, 30*time.Second)

	id, err := r.Resolve(context.Background(), TokenPayload{Sub: "u-1", TenantID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "Maria", id.Name)
	assert.Equal(t, "t-1", id.TenantID)
	require.NotNil(t, id.Tenant)
	assert.Equal(t, "tenant_lar_vicentino", id.Tenant.SchemaName)
	assert.True(t, id.Tenant.IsActive)
	// The hint avoided the cross-schema scan.
	assert.Equal(t, int32(0), users.scans.Load())
}

func TestResolveTenantUserWithoutHintScans(t *testing.T) {
	r, _, users, _ := newTestResolver(t, 30*time.Second)

	id, err := r.Resolve(context.Background(), TokenPayload{Sub: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, "Maria", id.Name)
	assert.Equal(t, int32(1), users.scans.Load())
}

func TestResolveUnknownTenantHintFailsAuthentication(t *testing.T) {
	r, cache, users, _ := newTestResolver(t, 30*time.Second)

	// The token names a tenant that no longer exists. The user still has a
	// row in another schema, but the hint is authoritative: no scan, no
	// identity.
	_, err := r.Resolve(context.Background(), TokenPayload{Sub: "u-1", TenantID: "t-gone"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(0), users.scans.Load())
	assert.Equal(t, 0, cache.Len())
}

func TestResolveUserAbsentFromHintedSchemaFailsAuthentication(t *testing.T) {
	r, _, users, _ := newTestResolver(t, 30*time.Second)
	users.schemas["tenant_recanto_feliz"] = map[string]*User{
		"u-9": {ID: "u-9", Email: "ana@recanto.com", Name: "Ana", Role: "staff", IsActive: true, TenantID: "t-2"},
	}

	// u-9 exists, but not in the schema the token points at.
	_, err := r.Resolve(context.Background(), TokenPayload{Sub: "u-9", TenantID: "t-1"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(0), users.scans.Load())
}

func TestResolveUnknownSubject(t *testing.T) {
	r, _, _, _ := newTestResolver(t, 30*time.Second)

	_, err := r.Resolve(context.Background(), TokenPayload{Sub: "ghost"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveEmptySubject(t *testing.T) {
	r, _, _, _ := newTestResolver(t, 30*time.Second)

	_, err := r.Resolve(context.Background(), TokenPayload{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveDeactivatedUsers(t *testing.T) {
	r, _, _, _ := newTestResolver(t, 30*time.Second)
	ctx := context.Background()

	_, err := r.Resolve(ctx, TokenPayload{Sub: "p-2"})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = r.Resolve(ctx, TokenPayload{Sub: "u-2", TenantID: "t-1"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveCachesIdentity(t *testing.T) {
	r, _, users, _ := newTestResolver(t, 30*time.Second)
	ctx := context.Background()

	_, err := r.Resolve(ctx, TokenPayload{Sub: "u-1", TenantID: "t-1"})
	require.NoError(t, err)
	require.Equal(t, int32(1), users.platformLookups.Load())

	// Second resolve is served from the process-local cache.
	id, err := r.Resolve(ctx, TokenPayload{Sub: "u-1", TenantID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "Maria", id.Name)
	assert.Equal(t, int32(1), users.platformLookups.Load())
	assert.Equal(t, int32(1), users.schemaLookups.Load())
}

func TestResolveCacheEntryExpires(t *testing.T) {
	r, _, users, _ := newTestResolver(t, 30*time.Millisecond)
	ctx := context.Background()

	_, err := r.Resolve(ctx, TokenPayload{Sub: "p-1"})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = r.Resolve(ctx, TokenPayload{Sub: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), users.platformLookups.Load())
}

func TestResolveFailureIsNotCached(t *testing.T) {
	r, cache, _, _ := newTestResolver(t, 30*time.Second)

	_, err := r.Resolve(context.Background(), TokenPayload{Sub: "ghost"})
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, 0, cache.Len())
}

func TestInvalidateForcesReresolve(t *testing.T) {
	r, cache, users, _ := newTestResolver(t, 30*time.Second)
	ctx := context.Background()

	_, err := r.Resolve(ctx, TokenPayload{Sub: "u-1", TenantID: "t-1"})
	require.NoError(t, err)

	// Role change in the backing store.
	users.schemas["tenant_lar_vicentino"]["u-1"].Role = "manager"

	cache.Invalidate("u-1")

	id, err := r.Resolve(ctx, TokenPayload{Sub: "u-1", TenantID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "manager", id.Role)
}

func TestResolveTenantLookupFailurePropagates(t *testing.T) {
	r, cache, _, tenants := newTestResolver(t, 30*time.Second)
	tenants.err = errors.New("db down")

	_, err := r.Resolve(context.Background(), TokenPayload{Sub: "u-1", TenantID: "t-1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
	// A half-built identity is never cached.
	assert.Equal(t, 0, cache.Len())
}

func TestResolveBackingStoreError(t *testing.T) {
	r, _, users, _ := newTestResolver(t, 30*time.Second)
	users.err = errors.New("db down")

	_, err := r.Resolve(context.Background(), TokenPayload{Sub: "u-1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}
