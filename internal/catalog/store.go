// Package catalog maintains the entitlement catalog: the set of
// known managed attribute values and permission targets across
// applications.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"warden/internal/domain"
	"warden/internal/explain"
	"warden/pkg/platform/sentinel"
)

// Store is the catalog persistence contract. Create must fail with
// sentinel.ErrConflict when another writer already created the same
// coordinates.
type Store interface {
	Lookup(ctx context.Context, typ domain.EntitlementType, application, attribute, value string) (*domain.ManagedAttribute, error)
	Create(ctx context.Context, ma *domain.ManagedAttribute) error
	Save(ctx context.Context, ma *domain.ManagedAttribute) error
	Baseline(ctx context.Context) (*time.Time, error)
}

// Memory is the in-memory catalog store used by tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*domain.ManagedAttribute
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*domain.ManagedAttribute)}
}

func coordKey(typ domain.EntitlementType, application, attribute, value string) string {
	return strings.Join([]string{string(typ), application, strings.ToLower(attribute), strings.ToLower(value)}, "\x1f")
}

// Lookup resolves an entry by coordinates, ErrNotFound when absent.
// Attribute and value match case-insensitively.
func (m *Memory) Lookup(ctx context.Context, typ domain.EntitlementType, application, attribute, value string) (*domain.ManagedAttribute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ma, ok := m.entries[coordKey(typ, application, attribute, value)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return ma, nil
}

// Create inserts an entry, ErrConflict when the coordinates exist.
func (m *Memory) Create(ctx context.Context, ma *domain.ManagedAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := coordKey(ma.Type, ma.Application, ma.Attribute, ma.Value)
	if _, exists := m.entries[k]; exists {
		return sentinel.ErrConflict
	}
	m.entries[k] = ma
	return nil
}

// Save replaces an entry by coordinates.
func (m *Memory) Save(ctx context.Context, ma *domain.ManagedAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[coordKey(ma.Type, ma.Application, ma.Attribute, ma.Value)] = ma
	return nil
}

// Baseline returns the newest created-or-modified time, nil when
// empty.
func (m *Memory) Baseline(ctx context.Context) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *time.Time
	for _, ma := range m.entries {
		t := ma.Created
		if ma.Modified != nil && ma.Modified.After(t) {
			t = *ma.Modified
		}
		if latest == nil || t.After(*latest) {
			tt := t
			latest = &tt
		}
	}
	return latest, nil
}

// Len reports the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ExplainSource adapts a catalog store to the explanation cache.
type ExplainSource struct {
	store Store
}

// NewExplainSource wraps a catalog store for explanation lookups.
func NewExplainSource(store Store) *ExplainSource {
	return &ExplainSource{store: store}
}

// Baseline implements explain.Source.
func (s *ExplainSource) Baseline(ctx context.Context) (*time.Time, error) {
	return s.store.Baseline(ctx)
}

// Explain implements explain.Source. Permission targets are filed
// under the permission pseudo attribute.
func (s *ExplainSource) Explain(ctx context.Context, application, attribute, value string) (*explain.Entry, error) {
	typ := domain.TypeEntitlement
	if attribute == explain.PermissionAttribute {
		typ = domain.TypePermission
		attribute = ""
	}
	ma, err := s.store.Lookup(ctx, typ, application, attribute, value)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &explain.Entry{
		DisplayName:     ma.DisplayableName(),
		Description:     ma.Description,
		Classifications: ma.Classifications,
	}, nil
}
