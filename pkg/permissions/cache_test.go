package permissions

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devel-fonseca/ilpi-core/pkg/cachestore"
	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

// fakeSource is an in-memory SnapshotSource counting fetches.
type fakeSource struct {
	mu      sync.Mutex
	users   map[string]*Snapshot
	fetches int
	err     error
}

func (f *fakeSource) FetchSnapshot(_ context.Context, userID string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	return snap, nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func newTestCache(t *testing.T, source *fakeSource) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := cachestore.NewStoreWithClient(client, logger, observability.NopMetrics())
	t.Cleanup(func() { store.Close() })

	engine := NewEngine(DefaultProfiles())
	cache := NewSnapshotCache(store, source, engine, 5*time.Minute, logger, observability.NopMetrics())
	return cache, mr
}

func testUsers() map[string]*Snapshot {
	return map[string]*Snapshot{
		"u-caregiver": caregiverSnapshot(),
		"u-admin": {
			UserID: "u-admin", TenantID: "t-1", Role: "admin",
			Profile: &Profile{ID: "p-a", PositionCode: PositionAdministrator},
		},
	}
}

func TestCacheMissThenHit(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	snap, err := cache.Get(ctx, "u-caregiver")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, source.fetchCount())

	// Second read is served from the cache.
	snap, err = cache.Get(ctx, "u-caregiver")
	require.NoError(t, err)
	assert.Equal(t, PositionCaregiver, snap.Profile.PositionCode)
	assert.Equal(t, 1, source.fetchCount())

	m := cache.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
	assert.InDelta(t, 0.5, m.HitRate, 0.001)
}

func TestCacheUnknownUserNotCached(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	snap, err := cache.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, snap)

	// The absence was not cached: the next read fetches again.
	_, err = cache.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, 2, source.fetchCount())
}

func TestCacheEntryExpires(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, mr := newTestCache(t, source)
	ctx := context.Background()

	_, err := cache.Get(ctx, "u-caregiver")
	require.NoError(t, err)

	mr.FastForward(6 * time.Minute)

	_, err = cache.Get(ctx, "u-caregiver")
	require.NoError(t, err)
	assert.Equal(t, 2, source.fetchCount())
}

func TestCacheHasDeniesOnTenantMismatch(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	// Right tenant: position default applies.
	assert.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))
	// Wrong tenant: denied even for a permission the user holds.
	assert.False(t, cache.Has(ctx, "u-caregiver", "t-2", PermViewAllergies))
	// Admins are tenant-scoped too.
	assert.False(t, cache.Has(ctx, "u-admin", "t-2", PermViewResidents))
}

func TestCacheHasDeniesOnFetchError(t *testing.T) {
	source := &fakeSource{err: errors.New("db down")}
	cache, _ := newTestCache(t, source)

	assert.False(t, cache.Has(context.Background(), "u-caregiver", "t-1", PermViewResidents))
}

func TestCacheHasDeniesUnknownUser(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)

	assert.False(t, cache.Has(context.Background(), "ghost", "t-1", PermViewResidents))
}

func TestCacheHasAllHasAny(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	assert.True(t, cache.HasAll(ctx, "u-caregiver", "t-1", PermViewResidents, PermViewAllergies))
	assert.False(t, cache.HasAll(ctx, "u-caregiver", "t-1", PermViewResidents, PermDeleteResidents))
	assert.True(t, cache.HasAny(ctx, "u-caregiver", "t-1", PermDeleteResidents, PermViewResidents))
	assert.False(t, cache.HasAny(ctx, "u-caregiver", "t-1", PermDeleteResidents, PermManagePermissions))
}

func TestCacheEffectiveWrongTenantIsEmpty(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	perms, err := cache.Effective(ctx, "u-caregiver", "t-2")
	require.NoError(t, err)
	assert.Empty(t, perms)

	perms, err = cache.Effective(ctx, "u-caregiver", "t-1")
	require.NoError(t, err)
	assert.Contains(t, perms, PermViewAllergies)
}

func TestCacheInvalidateForcesRefetch(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	_, err := cache.Get(ctx, "u-caregiver")
	require.NoError(t, err)

	// Simulate a permission change in the backing store.
	source.mu.Lock()
	source.users["u-caregiver"] = caregiverSnapshot(
		CustomPermission{Permission: PermViewAllergies, IsGranted: false},
	)
	source.mu.Unlock()

	// Stale until invalidated.
	assert.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))

	cache.Invalidate(ctx, "u-caregiver", "revoke")
	assert.False(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))
}

func TestCacheInvalidateMany(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	_, _ = cache.Get(ctx, "u-caregiver")
	_, _ = cache.Get(ctx, "u-admin")
	require.Equal(t, 2, source.fetchCount())

	cache.InvalidateMany(ctx, []string{"u-caregiver", "u-admin"}, "bulk_change")

	_, _ = cache.Get(ctx, "u-caregiver")
	_, _ = cache.Get(ctx, "u-admin")
	assert.Equal(t, 4, source.fetchCount())
}

func TestCacheClearAll(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)
	ctx := context.Background()

	_, _ = cache.Get(ctx, "u-caregiver")
	_, _ = cache.Get(ctx, "u-admin")

	assert.Equal(t, 2, cache.ClearAll(ctx))

	entries, _ := cache.Stats(ctx)
	assert.Equal(t, 0, entries)
}

func TestCacheWarmUp(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, mr := newTestCache(t, source)
	ctx := context.Background()

	warmed := cache.WarmUp(ctx, []string{"u-caregiver", "u-admin", "ghost"})
	assert.Equal(t, 2, warmed)

	entries, _ := cache.Stats(ctx)
	assert.Equal(t, 2, entries)

	// Entries land under the requested IDs, the keys Get looks up.
	assert.True(t, mr.Exists("user-permissions:u-caregiver"))
	assert.True(t, mr.Exists("user-permissions:u-admin"))

	// Warmed entries are served without another fetch.
	fetchesBefore := source.fetchCount()
	_, err := cache.Get(ctx, "u-caregiver")
	require.NoError(t, err)
	assert.Equal(t, fetchesBefore, source.fetchCount())
}

func TestCacheDegradedFallsBackToSource(t *testing.T) {
	source := &fakeSource{users: testUsers()}
	cache, mr := newTestCache(t, source)
	ctx := context.Background()

	mr.SetError("connection refused")

	// Checks still work, served straight from the backing store.
	assert.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))
	assert.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewResidents))
	assert.Equal(t, 2, source.fetchCount())

	m := cache.Metrics()
	assert.Equal(t, int64(2), m.Fallbacks)
	assert.Equal(t, int64(0), m.Misses)
}
