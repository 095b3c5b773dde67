package permissions

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devel-fonseca/ilpi-core/pkg/observability"
)

// fakeMutations doubles as MutationStore and the backing snapshot state,
// so mutations are observable through the cache after invalidation.
type fakeMutations struct {
	mu     sync.Mutex
	source *fakeSource
	err    error
}

func (f *fakeMutations) profileOf(userID string) *Profile {
	snap, ok := f.source.users[userID]
	if !ok || snap.Profile == nil {
		return nil
	}
	return snap.Profile
}

func (f *fakeMutations) UpsertCustomPermission(_ context.Context, _, userID string, perm Permission, isGranted bool, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	p := f.profileOf(userID)
	if p == nil {
		return errors.New("no profile")
	}
	for i, cp := range p.CustomPermissions {
		if cp.Permission == perm {
			p.CustomPermissions[i].IsGranted = isGranted
			return nil
		}
	}
	p.CustomPermissions = append(p.CustomPermissions, CustomPermission{Permission: perm, IsGranted: isGranted})
	return nil
}

func (f *fakeMutations) DeleteCustomPermission(_ context.Context, _, userID string, perm Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	p := f.profileOf(userID)
	if p == nil {
		return errors.New("no profile")
	}
	kept := p.CustomPermissions[:0]
	for _, cp := range p.CustomPermissions {
		if cp.Permission != perm {
			kept = append(kept, cp)
		}
	}
	p.CustomPermissions = kept
	return nil
}

func (f *fakeMutations) UpdatePosition(_ context.Context, _, userID string, code PositionCode, _ *Registration, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	p := f.profileOf(userID)
	if p == nil {
		return errors.New("no profile")
	}
	p.PositionCode = code
	return nil
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, userID)
}

func newTestService(t *testing.T) (*Service, *SnapshotCache, *fakeMutations, *recordingInvalidator) {
	t.Helper()

	source := &fakeSource{users: testUsers()}
	cache, _ := newTestCache(t, source)
	mutations := &fakeMutations{source: source}
	inv := &recordingInvalidator{}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	svc := NewService(mutations, cache, logger, inv)
	return svc, cache, mutations, inv
}

func TestServiceRevokeIsVisibleImmediately(t *testing.T) {
	svc, cache, _, inv := newTestService(t)
	ctx := context.Background()

	// Prime the cache with the position default.
	require.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))

	require.NoError(t, svc.Revoke(ctx, "t-1", "u-caregiver", PermViewAllergies, "u-admin"))

	// Write-then-invalidate: the very next check observes the change.
	assert.False(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))
	assert.Contains(t, inv.ids, "u-caregiver")
}

func TestServiceGrantIsVisibleImmediately(t *testing.T) {
	svc, cache, _, _ := newTestService(t)
	ctx := context.Background()

	require.False(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewReports))
	require.NoError(t, svc.Grant(ctx, "t-1", "u-caregiver", PermViewReports, "u-admin"))
	assert.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewReports))
}

func TestServiceRemoveCustomRestoresPositionDefault(t *testing.T) {
	svc, cache, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Revoke(ctx, "t-1", "u-caregiver", PermViewAllergies, "u-admin"))
	require.False(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))

	require.NoError(t, svc.RemoveCustom(ctx, "t-1", "u-caregiver", PermViewAllergies))
	assert.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))
}

func TestServiceUpdatePositionSwapsDefaults(t *testing.T) {
	svc, cache, _, inv := newTestService(t)
	ctx := context.Background()

	require.False(t, cache.Has(ctx, "u-caregiver", "t-1", PermCreatePrescriptions))

	reg := &Registration{Type: "crm", Number: "12345", State: "SP"}
	require.NoError(t, svc.UpdatePosition(ctx, "t-1", "u-caregiver", PositionDoctor, reg, "u-admin"))

	assert.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermCreatePrescriptions))
	assert.Contains(t, inv.ids, "u-caregiver")
}

func TestServiceRejectsUnknownPermission(t *testing.T) {
	svc, _, _, inv := newTestService(t)
	ctx := context.Background()

	assert.Error(t, svc.Grant(ctx, "t-1", "u-caregiver", "LAUNCH_ROCKETS", "u-admin"))
	assert.Error(t, svc.Revoke(ctx, "t-1", "u-caregiver", "LAUNCH_ROCKETS", "u-admin"))
	assert.Empty(t, inv.ids)
}

func TestServiceStoreErrorSkipsInvalidation(t *testing.T) {
	svc, cache, mutations, inv := newTestService(t)
	ctx := context.Background()

	require.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))

	mutations.err = errors.New("write failed")
	assert.Error(t, svc.Revoke(ctx, "t-1", "u-caregiver", PermViewAllergies, "u-admin"))

	// The cache keeps the still-correct entry.
	assert.True(t, cache.Has(ctx, "u-caregiver", "t-1", PermViewAllergies))
	assert.Empty(t, inv.ids)
}
