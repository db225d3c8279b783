package store

import (
	"context"
	"database/sql"
	"fmt"
)

// bulkUpdateBatch caps the number of ids bound into one UPDATE
// statement. Larger id sets are split across statements.
const bulkUpdateBatch = 100

// QueryOptions shape a FindAll or SearchProjection call.
type QueryOptions struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// QueryOption mutates QueryOptions.
type QueryOption func(*QueryOptions)

// OrderBy sorts results by a field, ascending.
func OrderBy(field string) QueryOption {
	return func(o *QueryOptions) { o.OrderBy = field }
}

// OrderByDesc sorts results by a field, descending.
func OrderByDesc(field string) QueryOption {
	return func(o *QueryOptions) {
		o.OrderBy = field
		o.Descending = true
	}
}

// Limit caps the number of rows returned.
func Limit(n int) QueryOption {
	return func(o *QueryOptions) { o.Limit = n }
}

// BuildOptions folds QueryOption values into a QueryOptions.
func BuildOptions(opts []QueryOption) QueryOptions {
	var o QueryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Querier is the read side of an aggregate store.
//
// FindUnique returns sentinel.ErrNotFound when nothing matches and
// sentinel.ErrAmbiguous when more than one row does.
type Querier[T any] interface {
	FindAll(ctx context.Context, p Predicate, opts ...QueryOption) ([]T, error)
	FindUnique(ctx context.Context, p Predicate) (T, error)
	Count(ctx context.Context, p Predicate) (int, error)
	SearchProjection(ctx context.Context, fields []string, p Predicate, opts ...QueryOption) ([][]any, error)
}

// Writer is the write side of an aggregate store.
type Writer[T any] interface {
	Save(ctx context.Context, obj T) error
	Delete(ctx context.Context, id string) error
	BulkUpdate(ctx context.Context, ids []string, set map[string]any) (int, error)
}

// BatchIDs splits ids into bulk-update sized chunks.
func BatchIDs(ids []string) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var batches [][]string
	for start := 0; start < len(ids); start += bulkUpdateBatch {
		end := start + bulkUpdateBatch
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

// InTx runs fn inside its own transaction, committing on success and
// rolling back on error. Used for isolated work such as lock
// acquisition and catalog bootstrap, which must not ride along with
// the caller's transaction.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
