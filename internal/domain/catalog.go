package domain

import "time"

// ManagedAttribute is a catalog entry: one known value of a managed
// application attribute, or one permission target.
type ManagedAttribute struct {
	ID string

	Type        EntitlementType
	Application string
	Attribute   string
	Value       string

	DisplayName string
	Description string
	Requestable bool

	OwnerID         string
	Classifications []string

	// Extended attributes set by the importer.
	Extended map[string]any

	Created  time.Time
	Modified *time.Time
}

// DisplayableName prefers the display name, falling back to the raw
// value.
func (m *ManagedAttribute) DisplayableName() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Value
}

// Valid reports whether the entry carries the minimum coordinates for
// a catalog row.
func (m *ManagedAttribute) Valid() bool {
	if m.Application == "" || m.Value == "" {
		return false
	}
	if m.Type != TypePermission && m.Attribute == "" {
		return false
	}
	return true
}
