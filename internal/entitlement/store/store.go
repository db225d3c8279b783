// Package store persists identity-entitlement rows.
package store

import (
	"context"

	"warden/internal/domain"
	"warden/internal/platform/store"
)

// Store is the entitlement row contract. FindUnique returns
// sentinel.ErrNotFound / sentinel.ErrAmbiguous; BulkUpdate batches
// ids under the hood.
type Store interface {
	store.Querier[*domain.Entitlement]
	store.Writer[*domain.Entitlement]
	Get(ctx context.Context, id string) (*domain.Entitlement, error)
}
