package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/internal/domain"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
)

// MemoryIdentities is the in-memory identity store used by tests.
type MemoryIdentities struct {
	mu sync.Mutex
	*store.Memory[*domain.Identity]
	now func() time.Time
}

// NewMemoryIdentities creates an empty in-memory identity store.
func NewMemoryIdentities() *MemoryIdentities {
	return &MemoryIdentities{
		Memory: store.NewMemory(
			func(i *domain.Identity) string { return i.ID },
			IdentityField,
			nil,
		),
		now: time.Now,
	}
}

// Lock acquires the identity lock for owner, failing with ErrLocked
// while another live owner holds it. Expired locks are stolen.
func (m *MemoryIdentities) Lock(ctx context.Context, id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	now := m.now()
	if identity.LockOwner != nil && *identity.LockOwner != owner {
		if identity.LockExpiry != nil && identity.LockExpiry.After(now) {
			return fmt.Errorf("identity %s held by %s: %w", id, *identity.LockOwner, sentinel.ErrLocked)
		}
	}
	expiry := now.Add(lockTTL)
	identity.LockOwner = &owner
	identity.LockExpiry = &expiry
	return m.Save(ctx, identity)
}

// Unlock releases the lock if owner still holds it.
func (m *MemoryIdentities) Unlock(ctx context.Context, id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if identity.LockOwner == nil || *identity.LockOwner != owner {
		return nil
	}
	identity.LockOwner = nil
	identity.LockExpiry = nil
	return m.Save(ctx, identity)
}

// NewMemoryLinks creates an in-memory account store.
func NewMemoryLinks() *store.Memory[*domain.Link] {
	return store.NewMemory(
		func(l *domain.Link) string { return l.ID },
		domain.LinkField,
		nil,
	)
}

// MemoryRoles is a name-keyed role store for tests.
type MemoryRoles struct {
	mu    sync.RWMutex
	roles map[string]*domain.Role
}

// NewMemoryRoles creates an in-memory role store.
func NewMemoryRoles(roles ...*domain.Role) *MemoryRoles {
	m := &MemoryRoles{roles: make(map[string]*domain.Role)}
	for _, r := range roles {
		m.roles[r.Name] = r
	}
	return m
}

// Add stores a role by name.
func (m *MemoryRoles) Add(r *domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.Name] = r
}

// GetByName resolves a role, ErrNotFound when absent.
func (m *MemoryRoles) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[name]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r, nil
}
