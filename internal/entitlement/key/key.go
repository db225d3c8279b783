// Package key defines the composite identity-entitlement key and the
// predicates used to look entitlement rows up by it. Native identity
// is matched case-insensitively everywhere; the backing columns carry
// case-insensitive indexes to match.
package key

import (
	"fmt"
	"hash/fnv"
	"strings"

	"warden/internal/domain"
)

// maxInValues is the largest IN list handed to the database in one
// predicate. Longer value lists are decomposed into an OR of per-value
// equality predicates.
const maxInValues = 500

// CompositeKey identifies one entitlement value on one account.
// Pointer fields distinguish absent from empty.
type CompositeKey struct {
	Application    string
	NativeIdentity *string
	Instance       *string
	Name           string
	Value          string
}

// ForEntitlement builds the key for an entitlement row.
func ForEntitlement(e *domain.Entitlement) CompositeKey {
	return CompositeKey{
		Application:    e.Application,
		NativeIdentity: e.NativeIdentity,
		Instance:       e.Instance,
		Name:           e.Name,
		Value:          e.Value,
	}
}

// ForSnapshot builds keys for one attribute value of an entitlement
// snapshot.
func ForSnapshot(snap *domain.EntitlementSnapshot, name, value string) CompositeKey {
	k := CompositeKey{
		Application: snap.Application,
		Name:        name,
		Value:       value,
	}
	if snap.NativeIdentity != "" {
		k.NativeIdentity = &snap.NativeIdentity
	}
	if snap.Instance != "" {
		k.Instance = &snap.Instance
	}
	return k
}

// Equal reports key equality: exact on application, instance, name
// and value, case-insensitive on native identity. Nil fields equal
// nil fields only, so Equal is reflexive, symmetric and transitive.
func (k CompositeKey) Equal(other CompositeKey) bool {
	return k.Application == other.Application &&
		k.Name == other.Name &&
		k.Value == other.Value &&
		ptrEqual(k.Instance, other.Instance, false) &&
		ptrEqual(k.NativeIdentity, other.NativeIdentity, true)
}

func ptrEqual(a, b *string, fold bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fold {
		// Same canonical form Hash and MapKey use, so equal keys
		// always hash and index identically.
		return strings.ToUpper(*a) == strings.ToUpper(*b)
	}
	return *a == *b
}

// Hash returns a hash consistent with Equal: native identity is
// upper-cased before hashing so case variants collide.
func (k CompositeKey) Hash() uint64 {
	h := fnv.New64a()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(k.Application)
	writePtr(h.Write, k.Instance, false)
	writePtr(h.Write, k.NativeIdentity, true)
	write(k.Name)
	write(k.Value)
	return h.Sum64()
}

func writePtr(write func([]byte) (int, error), p *string, fold bool) {
	if p == nil {
		write([]byte{1, 0})
		return
	}
	s := *p
	if fold {
		s = strings.ToUpper(s)
	}
	write([]byte(s))
	write([]byte{0})
}

// MapKey returns a value usable as a Go map key, folding native
// identity case the same way Hash does.
func (k CompositeKey) MapKey() string {
	native := "\x00"
	if k.NativeIdentity != nil {
		native = strings.ToUpper(*k.NativeIdentity)
	}
	instance := "\x00"
	if k.Instance != nil {
		instance = *k.Instance
	}
	return strings.Join([]string{k.Application, native, instance, k.Name, k.Value}, "\x1f")
}

func (k CompositeKey) String() string {
	return fmt.Sprintf("%s/%s/%s: %s = %s",
		k.Application, derefOr(k.NativeIdentity, "-"), derefOr(k.Instance, "-"), k.Name, k.Value)
}

func derefOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
