package store

import (
	"warden/internal/domain"
	"warden/internal/platform/store"
)

// NewMemory returns an in-memory entitlement store for tests.
func NewMemory() *store.Memory[*domain.Entitlement] {
	return store.NewMemory(
		func(e *domain.Entitlement) string { return e.ID },
		domain.EntitlementField,
		domain.SetEntitlementField,
	)
}
