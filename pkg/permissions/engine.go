package permissions

import "sort"

// Engine computes effective permissions from a snapshot. It is pure: no
// I/O, no caching, safe for concurrent use.
type Engine struct {
	profiles *ProfileTable
}

// NewEngine builds an engine over the given position table.
func NewEngine(profiles *ProfileTable) *Engine {
	return &Engine{profiles: profiles}
}

// Effective returns the effective permission set for a snapshot.
//
// Layering: admin role grants everything; otherwise start from the
// position defaults, add custom grants, then strip custom revocations.
// A revocation beats a grant for the same permission no matter how the
// entries are ordered.
func (e *Engine) Effective(snap *Snapshot) []Permission {
	if snap == nil {
		return nil
	}
	if IsAdminRole(snap.Role) {
		return AllPermissions()
	}

	set := make(map[Permission]struct{})
	if snap.Profile != nil {
		for _, p := range e.profiles.Permissions(snap.Profile.PositionCode) {
			set[p] = struct{}{}
		}
		for _, cp := range snap.Profile.CustomPermissions {
			if cp.IsGranted {
				set[cp.Permission] = struct{}{}
			}
		}
		for _, cp := range snap.Profile.CustomPermissions {
			if !cp.IsGranted {
				delete(set, cp.Permission)
			}
		}
	}
	return sorted(set)
}

// Has reports whether a snapshot carries a single permission. The check
// runs the same layering as Effective but short-circuits:
//
//  1. admin role → granted
//  2. custom revocation → denied
//  3. custom grant → granted
//  4. position default includes it → granted
//  5. otherwise denied
//
// Revocation is checked before grant, so a snapshot carrying both for the
// same permission denies it regardless of entry order.
func (e *Engine) Has(snap *Snapshot, perm Permission) bool {
	if snap == nil {
		return false
	}
	if IsAdminRole(snap.Role) {
		return true
	}
	if snap.Profile == nil {
		return false
	}
	granted := false
	for _, cp := range snap.Profile.CustomPermissions {
		if cp.Permission != perm {
			continue
		}
		if !cp.IsGranted {
			return false
		}
		granted = true
	}
	if granted {
		return true
	}
	return e.profiles.HasPermission(snap.Profile.PositionCode, perm)
}

// Breakdown returns the inherited/custom/effective view of a snapshot,
// used for permission-management screens and audit output.
func (e *Engine) Breakdown(snap *Snapshot) Breakdown {
	var b Breakdown
	if snap == nil {
		return b
	}
	if snap.Profile != nil {
		b.Inherited = e.profiles.Permissions(snap.Profile.PositionCode)

		custom := make(map[Permission]struct{})
		for _, cp := range snap.Profile.CustomPermissions {
			if cp.IsGranted {
				custom[cp.Permission] = struct{}{}
			}
		}
		for _, cp := range snap.Profile.CustomPermissions {
			if !cp.IsGranted {
				delete(custom, cp.Permission)
			}
		}
		b.Custom = sorted(custom)
	}
	b.All = e.Effective(snap)
	return b
}

// sorted flattens a permission set into catalogue order. Permissions not
// in the catalogue sort after known ones, by value.
func sorted(set map[Permission]struct{}) []Permission {
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		ii, iok := catalogueIndex[out[i]]
		jj, jok := catalogueIndex[out[j]]
		switch {
		case iok && jok:
			return ii < jj
		case iok:
			return true
		case jok:
			return false
		default:
			return out[i] < out[j]
		}
	})
	return out
}
