// Package diff compares identity snapshots and their parts. All
// equality here is null-safe: a nil collection equals an empty one,
// and comparisons never panic on missing sides.
package diff

import (
	"time"

	"warden/internal/domain"
)

// EqualStrings compares two optional strings. Both nil is equal.
func EqualStrings(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// EqualTimes compares two optional times.
func EqualTimes(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// EqualStringSets compares collections ignoring order. A nil
// collection equals an empty one: absence and emptiness carry the
// same meaning in snapshot data.
func EqualStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return containsAll(a, b) && containsAll(b, a)
}

func containsAll(haystack, needles []string) bool {
	for _, n := range needles {
		found := false
		for _, h := range haystack {
			if h == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// EqualLists compares two slices with a comparator, ignoring order.
// Nil equals empty.
func EqualLists[T any](a, b []T, equal func(T, T) bool) bool {
	if len(a) != len(b) {
		return false
	}
	return listContainsAll(a, b, equal) && listContainsAll(b, a, equal)
}

func listContainsAll[T any](haystack, needles []T, equal func(T, T) bool) bool {
	for _, n := range needles {
		found := false
		for _, h := range haystack {
			if equal(h, n) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ValuesEqual compares two loosely typed snapshot values. When
// nullEmptyStringEqual is set, nil, the empty string, and empty
// collections all compare equal to each other; snapshot writers have
// historically been inconsistent about which of those they emit.
func ValuesEqual(a, b any, nullEmptyStringEqual bool) bool {
	if a == nil && b == nil {
		return true
	}
	if emptyish(a, nullEmptyStringEqual) && emptyish(b, nullEmptyStringEqual) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	al, aIsList := asValueList(a)
	bl, bIsList := asValueList(b)
	if aIsList || bIsList {
		if !aIsList {
			al = []string{stringifyScalar(a)}
		}
		if !bIsList {
			bl = []string{stringifyScalar(b)}
		}
		return EqualStringSets(al, bl)
	}
	return stringifyScalar(a) == stringifyScalar(b)
}

func emptyish(v any, nullEmptyStringEqual bool) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return nullEmptyStringEqual && t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// EqualPermissions compares a permission by target, rights, and
// annotation. Rights are order-independent.
func EqualPermissions(a, b domain.Permission) bool {
	return a.Target == b.Target &&
		a.Annotation == b.Annotation &&
		EqualStringSets(a.Rights, b.Rights)
}

// EqualViolations compares policy violations by policy and
// constraint.
func EqualViolations(a, b domain.PolicyViolation) bool {
	return a.PolicyID == b.PolicyID && a.ConstraintID == b.ConstraintID
}

// EqualAccountItems compares role target items.
func EqualAccountItems(a, b domain.AccountItem) bool {
	return a.IsPermission == b.IsPermission && a.Name == b.Name && a.Value == b.Value
}

// EqualRoleTargets compares role targets by account coordinates and
// items.
func EqualRoleTargets(a, b domain.RoleTarget) bool {
	return a.Application == b.Application &&
		a.NativeIdentity == b.NativeIdentity &&
		a.Instance == b.Instance &&
		EqualLists(a.Items, b.Items, EqualAccountItems)
}

// EqualRoleAssignments compares assigned-role snapshots by name and
// targets.
func EqualRoleAssignments(a, b domain.RoleAssignmentSnapshot) bool {
	return a.Name == b.Name && EqualLists(a.Targets, b.Targets, EqualRoleTargets)
}

// EqualEntitlementSnapshots compares frozen entitlements by account,
// permissions, and attributes.
func EqualEntitlementSnapshots(a, b domain.EntitlementSnapshot) bool {
	return a.Application == b.Application &&
		a.Instance == b.Instance &&
		a.NativeIdentity == b.NativeIdentity &&
		EqualLists(a.Permissions, b.Permissions, EqualPermissions) &&
		EqualMaps(a.Attributes, b.Attributes)
}

// EqualBundleSnapshots compares frozen roles by name and
// entitlements.
func EqualBundleSnapshots(a, b domain.BundleSnapshot) bool {
	return a.Name == b.Name && EqualLists(a.Entitlements, b.Entitlements, EqualEntitlementSnapshots)
}

// EqualLinkSnapshots compares frozen accounts.
func EqualLinkSnapshots(a, b domain.LinkSnapshot) bool {
	return a.Application == b.Application &&
		a.SimpleIdentity() == b.SimpleIdentity() &&
		a.NativeIdentity == b.NativeIdentity &&
		EqualMaps(a.Attributes, b.Attributes)
}

// EqualMaps reports whether two attribute maps hold the same values.
func EqualMaps(a, b map[string]any) bool {
	return len(DiffMaps(a, b, DiffOptions{MaxDiffs: 1})) == 0
}

// EqualIdentitySnapshots compares two full snapshots, checking the
// cheap lists first and stopping at the first difference.
func EqualIdentitySnapshots(a, b *domain.IdentitySnapshot) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !EqualStringSets(a.ApplicationNames, b.ApplicationNames) {
		return false
	}
	if !EqualStringSets(a.BundleNames, b.BundleNames) {
		return false
	}
	if !EqualLists(a.BundleSnapshots, b.BundleSnapshots, EqualBundleSnapshots) {
		return false
	}
	if !EqualLists(a.AssignedRoleSnapshots, b.AssignedRoleSnapshots, EqualRoleAssignments) {
		return false
	}
	if !EqualLists(a.LinkSnapshots, b.LinkSnapshots, EqualLinkSnapshots) {
		return false
	}
	if !EqualLists(a.Exceptions, b.Exceptions, EqualEntitlementSnapshots) {
		return false
	}
	if a.Scorecard.Different(b.Scorecard) {
		return false
	}
	if !EqualLists(a.Violations, b.Violations, EqualViolations) {
		return false
	}
	return EqualMaps(a.Attributes, b.Attributes)
}
