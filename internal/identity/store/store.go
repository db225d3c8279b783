// Package store persists identities, accounts, and roles.
package store

import (
	"context"
	"time"

	"warden/internal/domain"
	"warden/internal/platform/store"
)

// lockTTL bounds how long a worker may hold an identity before the
// lock is considered abandoned.
const lockTTL = 5 * time.Minute

// IdentityStore is the identity aggregate contract. Lock and Unlock
// run in their own short transactions so lock state is visible
// immediately, regardless of the caller's transaction.
type IdentityStore interface {
	Get(ctx context.Context, id string) (*domain.Identity, error)
	FindAll(ctx context.Context, p store.Predicate, opts ...store.QueryOption) ([]*domain.Identity, error)
	FindUnique(ctx context.Context, p store.Predicate) (*domain.Identity, error)
	Count(ctx context.Context, p store.Predicate) (int, error)
	SearchProjection(ctx context.Context, fields []string, p store.Predicate, opts ...store.QueryOption) ([][]any, error)
	Save(ctx context.Context, identity *domain.Identity) error

	Lock(ctx context.Context, id, owner string) error
	Unlock(ctx context.Context, id, owner string) error
}

// LinkStore is the account contract.
type LinkStore interface {
	Get(ctx context.Context, id string) (*domain.Link, error)
	FindAll(ctx context.Context, p store.Predicate, opts ...store.QueryOption) ([]*domain.Link, error)
	FindUnique(ctx context.Context, p store.Predicate) (*domain.Link, error)
	Count(ctx context.Context, p store.Predicate) (int, error)
	SearchProjection(ctx context.Context, fields []string, p store.Predicate, opts ...store.QueryOption) ([][]any, error)
}

// RoleStore resolves roles by name.
type RoleStore interface {
	GetByName(ctx context.Context, name string) (*domain.Role, error)
}

// Identity field names used by predicates.
const (
	IdentityFieldID          = "id"
	IdentityFieldName        = "name"
	IdentityFieldDisplayName = "display_name"
)

// IdentityField resolves predicate field names for identities.
// Unknown names fall through to promoted identity attributes so
// correlation conditions can reference them directly.
func IdentityField(i *domain.Identity, name string) any {
	switch name {
	case IdentityFieldID:
		return i.ID
	case IdentityFieldName:
		return i.Name
	case IdentityFieldDisplayName:
		return i.DisplayName
	default:
		return i.Attribute(name)
	}
}
