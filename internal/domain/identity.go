// Package domain holds the aggregates shared across the reconciliation
// engine: identities, accounts, roles, entitlements, and the snapshot
// types compared during refresh.
package domain

import "time"

// Identity is the correlated person or service account that
// entitlements attach to.
type Identity struct {
	ID          string
	Name        string
	DisplayName string

	// Attributes holds promoted identity attributes. Multi-valued
	// attributes are stored as []string.
	Attributes map[string]any

	AssignedRoleNames []string
	DetectedRoleNames []string

	AttributeAssignments []AttributeAssignment

	// Lock bookkeeping, maintained by the store in short isolated
	// transactions.
	LockOwner  *string
	LockExpiry *time.Time
}

// Attribute returns an identity attribute, nil when unset.
func (i *Identity) Attribute(name string) any {
	if i.Attributes == nil {
		return nil
	}
	return i.Attributes[name]
}

// HasAssignment reports whether an attribute assignment matching the
// entitlement coordinates already exists on the identity.
func (i *Identity) HasAssignment(app, nativeIdentity, instance, name, value string) bool {
	return i.findAssignment(app, nativeIdentity, instance, name, value) >= 0
}

func (i *Identity) findAssignment(app, nativeIdentity, instance, name, value string) int {
	for idx, a := range i.AttributeAssignments {
		if a.Application == app && a.Name == name && a.Value == value &&
			equalFold(a.NativeIdentity, nativeIdentity) && a.Instance == instance {
			return idx
		}
	}
	return -1
}

// AddAssignment appends an attribute assignment if no equivalent one
// exists. Reports whether the identity changed.
func (i *Identity) AddAssignment(a AttributeAssignment) bool {
	if i.HasAssignment(a.Application, a.NativeIdentity, a.Instance, a.Name, a.Value) {
		return false
	}
	i.AttributeAssignments = append(i.AttributeAssignments, a)
	return true
}

// RemoveAssignment drops a matching attribute assignment. Reports
// whether the identity changed.
func (i *Identity) RemoveAssignment(app, nativeIdentity, instance, name, value string) bool {
	idx := i.findAssignment(app, nativeIdentity, instance, name, value)
	if idx < 0 {
		return false
	}
	i.AttributeAssignments = append(i.AttributeAssignments[:idx], i.AttributeAssignments[idx+1:]...)
	return true
}

// AttributeAssignment records a sticky, user-requested entitlement
// assignment that survives aggregation.
type AttributeAssignment struct {
	Application    string
	Instance       string
	NativeIdentity string
	Name           string
	Value          string
	Source         string
	Assigner       string
	AssignmentID   string
	StartDate      *time.Time
	EndDate        *time.Time
}
