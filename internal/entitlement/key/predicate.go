package key

import (
	"warden/internal/domain"
	"warden/internal/platform/store"
)

// Mode controls how an empty instance string is matched.
type Mode struct {
	// NullEmptyEqual treats an empty instance as equivalent to NULL,
	// matching rows where the column was never set.
	NullEmptyEqual bool
}

// DefaultMode preserves the legacy behavior: empty and NULL are the
// same instance.
var DefaultMode = Mode{NullEmptyEqual: true}

// AccountPredicate matches the entitlement rows of one account:
// identity and application exact, native identity case-insensitive,
// instance per mode.
func AccountPredicate(identityID, application, nativeIdentity, instance string, mode Mode) store.Predicate {
	subs := []store.Predicate{
		store.Eq(domain.FieldIdentityID, identityID),
		store.Eq(domain.FieldApplication, application),
		store.EqFold(domain.FieldNativeIdentity, nativeIdentity),
		instancePredicate(instance, mode),
	}
	return store.And(subs...)
}

func instancePredicate(instance string, mode Mode) store.Predicate {
	if instance == "" && mode.NullEmptyEqual {
		return store.IsNull(domain.FieldInstance)
	}
	return store.EqFold(domain.FieldInstance, instance)
}

// LookupPredicate matches one entitlement row by its composite key.
func LookupPredicate(identityID string, k CompositeKey, mode Mode) store.Predicate {
	subs := []store.Predicate{
		store.Eq(domain.FieldIdentityID, identityID),
		store.Eq(domain.FieldApplication, k.Application),
		store.EqFold(domain.FieldName, k.Name),
		store.EqFold(domain.FieldValue, k.Value),
	}
	if k.NativeIdentity != nil {
		subs = append(subs, store.EqFold(domain.FieldNativeIdentity, *k.NativeIdentity))
	} else {
		subs = append(subs, store.IsNull(domain.FieldNativeIdentity))
	}
	if k.Instance != nil {
		subs = append(subs, instancePredicate(*k.Instance, mode))
	} else {
		subs = append(subs, store.IsNull(domain.FieldInstance))
	}
	return store.And(subs...)
}

// ValueFilter builds the value-set predicate for one attribute name.
// Small sets compile to one case-insensitive IN; sets past the IN
// limit are decomposed into an OR of case-insensitive equality
// predicates, which selects the same rows.
func ValueFilter(name string, values []string) store.Predicate {
	namePred := store.EqFold(domain.FieldName, name)
	if len(values) <= maxInValues {
		return store.And(namePred, store.InStringsFold(domain.FieldValue, values))
	}
	ors := make([]store.Predicate, 0, len(values))
	for _, v := range values {
		ors = append(ors, store.EqFold(domain.FieldValue, v))
	}
	return store.And(namePred, store.Or(ors...))
}

// RolePredicate matches role membership rows.
func RolePredicate() store.Predicate {
	return store.InFold(domain.FieldName, domain.AttrAssignedRoles, domain.AttrDetectedRoles)
}

// NotRolePredicate excludes role membership rows; plain account
// entitlement queries always carry it.
func NotRolePredicate() store.Predicate {
	return store.Not(RolePredicate())
}
