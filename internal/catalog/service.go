package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"warden/internal/domain"
	idstore "warden/internal/identity/store"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
)

// Service walks one identity's accounts and promotes anything missing
// from the catalog. Applications are registered up front; accounts of
// an unregistered application are skipped with a warning, not an
// error, since a stale schema must not block the rest of the identity.
type Service struct {
	idents   idstore.IdentityStore
	links    idstore.LinkStore
	promoter *Promoter
	logger   *slog.Logger

	mu   sync.RWMutex
	apps map[string]*domain.Application
}

// NewService creates the per-identity catalog reconciliation service.
func NewService(idents idstore.IdentityStore, links idstore.LinkStore, promoter *Promoter, logger *slog.Logger) *Service {
	return &Service{
		idents:   idents,
		links:    links,
		promoter: promoter,
		logger:   logger,
		apps:     make(map[string]*domain.Application),
	}
}

// RegisterApplication makes app's schema available for promotion.
func (s *Service) RegisterApplication(app *domain.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.Name] = app
}

func (s *Service) application(name string) *domain.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apps[name]
}

// ReconcileIdentity promotes every catalog candidate found on the
// identity's accounts. The identity may be named by name or id.
// Returns how many catalog entries were created.
func (s *Service) ReconcileIdentity(ctx context.Context, nameOrID string) (int, error) {
	identity, err := s.resolveIdentity(ctx, nameOrID)
	if err != nil {
		return 0, err
	}
	links, err := s.links.FindAll(ctx, store.Eq(domain.LinkFieldIdentityID, identity.ID))
	if err != nil {
		return 0, fmt.Errorf("load accounts for %s: %w", identity.Name, err)
	}
	var created int
	for _, link := range links {
		app := s.application(link.Application)
		if app == nil {
			s.logger.Warn("account of unregistered application, skipping",
				"application", link.Application,
				"native_identity", link.NativeIdentity,
			)
			continue
		}
		n, err := s.promoter.PromoteLink(ctx, app, link)
		created += n
		if err != nil {
			return created, fmt.Errorf("promote %s account: %w", link.Application, err)
		}
	}
	return created, nil
}

func (s *Service) resolveIdentity(ctx context.Context, nameOrID string) (*domain.Identity, error) {
	identity, err := s.idents.FindUnique(ctx, store.Eq(idstore.IdentityFieldName, nameOrID))
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	return s.idents.Get(ctx, nameOrID)
}
