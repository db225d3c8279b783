package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	idstore "warden/internal/identity/store"
	"warden/pkg/platform/sentinel"
)

// Worker fans reconciliation work out across identities. Each
// identity is processed by one goroutine at a time, under the
// identity lock, so two workers never interleave writes to the same
// identity's rows.
type Worker struct {
	idents  idstore.IdentityStore
	logger  *slog.Logger
	owner   string
	workers int
}

// WorkerOption configures the Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// WithWorkers bounds concurrent identities.
func WithWorkers(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithOwner names this worker pool for lock acquisition.
func WithOwner(owner string) WorkerOption {
	return func(w *Worker) { w.owner = owner }
}

// NewWorker creates a reconciliation worker pool.
func NewWorker(idents idstore.IdentityStore, opts ...WorkerOption) *Worker {
	w := &Worker{
		idents:  idents,
		logger:  slog.Default(),
		owner:   "recon-worker",
		workers: 4,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Process runs fn once per identity, bounded by the worker count.
// Identities locked by another worker are skipped with a warning;
// whoever holds the lock is responsible for them. Other failures
// cancel the batch.
func (w *Worker) Process(ctx context.Context, identityIDs []string, fn func(ctx context.Context, identityID string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for _, id := range identityIDs {
		g.Go(func() error {
			if err := w.idents.Lock(ctx, id, w.owner); err != nil {
				if errors.Is(err, sentinel.ErrLocked) {
					w.logger.Warn("identity locked elsewhere, skipping", "identity", id)
					return nil
				}
				return fmt.Errorf("lock identity %s: %w", id, err)
			}
			defer func() {
				if err := w.idents.Unlock(ctx, id, w.owner); err != nil {
					w.logger.Error("unlock identity failed", "identity", id, "error", err)
				}
			}()
			if err := fn(ctx, id); err != nil {
				return fmt.Errorf("reconcile identity %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
