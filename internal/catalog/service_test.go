package catalog

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"warden/internal/domain"
	idstore "warden/internal/identity/store"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
)

// ============================================================
// Suite
// ============================================================

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	catalog *Memory
	idents  *idstore.MemoryIdentities
	links   *store.Memory[*domain.Link]
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.catalog = NewMemory()
	s.idents = idstore.NewMemoryIdentities()
	s.links = idstore.NewMemoryLinks()
	s.service = NewService(s.idents, s.links, NewPromoter(s.catalog), slog.Default())
	s.service.RegisterApplication(adApp())

	s.Require().NoError(s.idents.Save(s.ctx, &domain.Identity{
		ID:   "ident-1",
		Name: "amanda.ross",
	}))
	account := adAccount()
	account.ID = "link-1"
	account.IdentityID = "ident-1"
	s.Require().NoError(s.links.Save(s.ctx, account))
}

// ============================================================
// Reconciliation
// ============================================================

func (s *ServiceSuite) TestReconcileByName() {
	created, err := s.service.ReconcileIdentity(s.ctx, "amanda.ross")
	s.Require().NoError(err)
	s.Equal(3, created)
	s.Equal(3, s.catalog.Len())
}

func (s *ServiceSuite) TestReconcileByID() {
	created, err := s.service.ReconcileIdentity(s.ctx, "ident-1")
	s.Require().NoError(err)
	s.Equal(3, created)
}

func (s *ServiceSuite) TestReconcileIsIdempotent() {
	_, err := s.service.ReconcileIdentity(s.ctx, "amanda.ross")
	s.Require().NoError(err)

	created, err := s.service.ReconcileIdentity(s.ctx, "amanda.ross")
	s.Require().NoError(err)
	s.Equal(0, created)
}

func (s *ServiceSuite) TestUnknownIdentity() {
	_, err := s.service.ReconcileIdentity(s.ctx, "nobody.home")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ServiceSuite) TestUnregisteredApplicationIsSkipped() {
	orphan := &domain.Link{
		ID:             "link-2",
		IdentityID:     "ident-1",
		Application:    "Mainframe",
		NativeIdentity: "AROSS",
		Attributes:     map[string]any{"profile": "ADMIN"},
	}
	s.Require().NoError(s.links.Save(s.ctx, orphan))

	created, err := s.service.ReconcileIdentity(s.ctx, "amanda.ross")
	s.Require().NoError(err)
	// Only the registered application's account promoted anything.
	s.Equal(3, created)
}
