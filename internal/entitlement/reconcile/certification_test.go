package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"warden/internal/domain"
	"warden/internal/entitlement/key"
	entstore "warden/internal/entitlement/store"
	idstore "warden/internal/identity/store"
	pstore "warden/internal/platform/store"
)

// ============================================================
// Suite
// ============================================================

type CertificationSuite struct {
	suite.Suite
	ctx    context.Context
	ents   *pstore.Memory[*domain.Entitlement]
	idents *idstore.MemoryIdentities
	recon  *CertReconciler
	def    *domain.CertificationDefinition
}

func TestCertificationSuite(t *testing.T) {
	suite.Run(t, new(CertificationSuite))
}

func (s *CertificationSuite) SetupTest() {
	s.ctx = context.Background()
	s.ents = entstore.NewMemory()
	s.idents = idstore.NewMemoryIdentities()
	s.recon = NewCertReconciler(s.ents, s.idents)
	s.def = &domain.CertificationDefinition{
		UpdateIdentityEntitlements: true,
		CertifyIdentities:          true,
	}

	s.Require().NoError(s.idents.Save(s.ctx, &domain.Identity{
		ID:   "ident-1",
		Name: "amanda.ross",
	}))
}

func (s *CertificationSuite) seed(e *domain.Entitlement) *domain.Entitlement {
	if e.IdentityID == "" {
		e.IdentityID = "ident-1"
	}
	if e.Type == "" {
		e.Type = domain.TypeEntitlement
	}
	e.Created = time.Now()
	s.Require().NoError(s.ents.Save(s.ctx, e))
	return e
}

func (s *CertificationSuite) memberOf(id, value string) *domain.Entitlement {
	return s.seed(&domain.Entitlement{
		ID:             id,
		Application:    "Active Directory",
		NativeIdentity: domain.StrPtr("CN=Amanda Ross"),
		Name:           "memberOf",
		Value:          value,
	})
}

func exceptionItem(id string, values ...string) domain.CertItem {
	return domain.CertItem{
		ID:   id,
		Type: domain.CertItemException,
		Snapshot: &domain.EntitlementSnapshot{
			Application:    "Active Directory",
			NativeIdentity: "cn=amanda ross",
			Attributes:     map[string]any{"memberOf": values},
		},
	}
}

// ============================================================
// Gating
// ============================================================

func (s *CertificationSuite) TestDisabledDefinitionIsNoOp() {
	s.memberOf("e1", "Domain Admins")
	entity := &domain.CertEntity{
		IdentityName: "amanda.ross",
		Items:        []domain.CertItem{exceptionItem("item-1", "Domain Admins")},
	}

	for _, def := range []*domain.CertificationDefinition{
		nil,
		{UpdateIdentityEntitlements: false, CertifyIdentities: true},
		{UpdateIdentityEntitlements: true, CertifyIdentities: false},
	} {
		s.Require().NoError(s.recon.SetPending(s.ctx, def, entity))
	}

	row, err := s.ents.Get(s.ctx, "e1")
	s.Require().NoError(err)
	s.Nil(row.PendingCertificationItemID)
}

// ============================================================
// Pending phase
// ============================================================

func (s *CertificationSuite) TestPendingMarksMatchingRows() {
	s.memberOf("e1", "Domain Admins")
	s.memberOf("e2", "Backup Operators")
	s.memberOf("e3", "Unrelated Group")

	entity := &domain.CertEntity{
		IdentityName: "amanda.ross",
		Items: []domain.CertItem{
			exceptionItem("item-1", "Domain Admins", "Backup Operators"),
		},
	}
	s.Require().NoError(s.recon.SetPending(s.ctx, s.def, entity))

	for id, want := range map[string]bool{"e1": true, "e2": true, "e3": false} {
		row, err := s.ents.Get(s.ctx, id)
		s.Require().NoError(err)
		if want {
			s.Require().NotNil(row.PendingCertificationItemID, id)
			s.Equal("item-1", *row.PendingCertificationItemID)
		} else {
			s.Nil(row.PendingCertificationItemID, id)
		}
	}
}

func (s *CertificationSuite) TestPendingMatchesCaseInsensitively() {
	s.memberOf("e1", "Domain Admins")

	entity := &domain.CertEntity{
		IdentityName: "amanda.ross",
		Items:        []domain.CertItem{exceptionItem("item-1", "DOMAIN ADMINS")},
	}
	s.Require().NoError(s.recon.SetPending(s.ctx, s.def, entity))

	row, err := s.ents.Get(s.ctx, "e1")
	s.Require().NoError(err)
	s.Require().NotNil(row.PendingCertificationItemID)
}

// ============================================================
// Current phase
// ============================================================

func (s *CertificationSuite) TestCurrentClearsMatchingPendingAndAppliesDecision() {
	e := s.memberOf("e1", "Domain Admins")
	item := exceptionItem("item-1", "Domain Admins")
	entity := &domain.CertEntity{IdentityName: "amanda.ross", Items: []domain.CertItem{item}}

	s.Require().NoError(s.recon.SetPending(s.ctx, s.def, entity))

	adds := []key.CompositeKey{key.ForEntitlement(e)}
	s.Require().NoError(s.recon.SetCurrent(s.ctx, s.def, entity, &entity.Items[0], adds, nil, "Jeff Curtis"))

	row, err := s.ents.Get(s.ctx, "e1")
	s.Require().NoError(err)
	s.Require().NotNil(row.CertificationItemID)
	s.Equal("item-1", *row.CertificationItemID)
	s.Nil(row.PendingCertificationItemID)
	s.True(row.Assigned)
	s.Equal("Jeff Curtis", *row.Assigner)
}

func (s *CertificationSuite) TestCurrentRemoveWinsOverAdd() {
	e := s.memberOf("e1", "Domain Admins")
	item := exceptionItem("item-1", "Domain Admins")
	entity := &domain.CertEntity{IdentityName: "amanda.ross", Items: []domain.CertItem{item}}

	k := key.ForEntitlement(e)
	s.Require().NoError(s.recon.SetCurrent(s.ctx, s.def, entity, &entity.Items[0],
		[]key.CompositeKey{k}, []key.CompositeKey{k}, "Jeff Curtis"))

	row, err := s.ents.Get(s.ctx, "e1")
	s.Require().NoError(err)
	s.False(row.Assigned)
	s.Nil(row.Assigner)
}

// ============================================================
// Role items
// ============================================================

func (s *CertificationSuite) TestAssignedRoleCascadesToDetections() {
	assignmentID := "assign-7"
	s.seed(&domain.Entitlement{
		ID:           "role-1",
		Application:  "Warden",
		Name:         domain.AttrAssignedRoles,
		Value:        "Payroll Analyst",
		Assigned:     true,
		AssignmentID: &assignmentID,
	})
	s.seed(&domain.Entitlement{
		ID:           "det-1",
		Application:  "Warden",
		Name:         domain.AttrDetectedRoles,
		Value:        "Payroll User",
		AssignmentID: &assignmentID,
	})
	s.seed(&domain.Entitlement{
		ID:          "det-2",
		Application: "Warden",
		Name:        domain.AttrDetectedRoles,
		Value:       "Unrelated Detection",
	})

	entity := &domain.CertEntity{
		IdentityName: "amanda.ross",
		Items: []domain.CertItem{{
			ID:                 "item-1",
			Type:               domain.CertItemBundle,
			SubType:            domain.CertSubTypeAssignedRole,
			BundleName:         "Payroll Analyst",
			BundleAssignmentID: assignmentID,
		}},
	}
	s.Require().NoError(s.recon.SetPending(s.ctx, s.def, entity))

	for _, id := range []string{"role-1", "det-1"} {
		row, err := s.ents.Get(s.ctx, id)
		s.Require().NoError(err)
		s.Require().NotNil(row.PendingCertificationItemID, id)
	}
	row, err := s.ents.Get(s.ctx, "det-2")
	s.Require().NoError(err)
	s.Nil(row.PendingCertificationItemID)
}

func (s *CertificationSuite) TestBundleEntitlementsAreCertifiedWithMembership() {
	assignmentID := "assign-7"
	s.seed(&domain.Entitlement{
		ID:           "role-1",
		Application:  "Warden",
		Name:         domain.AttrAssignedRoles,
		Value:        "Payroll Analyst",
		AssignmentID: &assignmentID,
	})
	s.memberOf("e1", "Payroll Admins")
	s.memberOf("e2", "Unrelated Group")

	entity := &domain.CertEntity{
		IdentityName: "amanda.ross",
		Items: []domain.CertItem{{
			ID:                 "item-1",
			Type:               domain.CertItemBundle,
			SubType:            domain.CertSubTypeAssignedRole,
			BundleName:         "Payroll Analyst",
			BundleAssignmentID: assignmentID,
			BundleEntitlements: []domain.EntitlementSnapshot{{
				Application:    "Active Directory",
				NativeIdentity: "cn=amanda ross",
				Attributes:     map[string]any{"memberOf": []string{"Payroll Admins"}},
			}},
		}},
	}
	s.Require().NoError(s.recon.SetPending(s.ctx, s.def, entity))

	for _, id := range []string{"role-1", "e1"} {
		row, err := s.ents.Get(s.ctx, id)
		s.Require().NoError(err)
		s.Require().NotNil(row.PendingCertificationItemID, id)
		s.Equal("item-1", *row.PendingCertificationItemID, id)
	}
	row, err := s.ents.Get(s.ctx, "e2")
	s.Require().NoError(err)
	s.Nil(row.PendingCertificationItemID)
}

func (s *CertificationSuite) TestBundleEntitlementsExpandWithoutMembershipRow() {
	s.memberOf("e1", "Payroll Admins")

	entity := &domain.CertEntity{
		IdentityName: "amanda.ross",
		Items: []domain.CertItem{{
			ID:         "item-1",
			Type:       domain.CertItemBundle,
			SubType:    domain.CertSubTypeDetectedRole,
			BundleName: "Nonexistent Role",
			BundleEntitlements: []domain.EntitlementSnapshot{{
				Application:    "Active Directory",
				NativeIdentity: "cn=amanda ross",
				Attributes:     map[string]any{"memberOf": []string{"Payroll Admins"}},
			}},
		}},
	}
	s.Require().NoError(s.recon.SetPending(s.ctx, s.def, entity))

	row, err := s.ents.Get(s.ctx, "e1")
	s.Require().NoError(err)
	s.Require().NotNil(row.PendingCertificationItemID)
}

func (s *CertificationSuite) TestMissingRoleRowIsSkippedNotFatal() {
	entity := &domain.CertEntity{
		IdentityName: "amanda.ross",
		Items: []domain.CertItem{{
			ID:         "item-1",
			Type:       domain.CertItemBundle,
			SubType:    domain.CertSubTypeDetectedRole,
			BundleName: "Nonexistent Role",
		}},
	}
	s.Require().NoError(s.recon.SetPending(s.ctx, s.def, entity))
}

// ============================================================
// Clearing
// ============================================================

func (s *CertificationSuite) TestClearCertificationInfo() {
	e1 := s.memberOf("e1", "Domain Admins")
	item := "item-1"
	e1.CertificationItemID = &item
	s.Require().NoError(s.ents.Save(s.ctx, e1))

	e2 := s.memberOf("e2", "Backup Operators")
	e2.PendingCertificationItemID = &item
	s.Require().NoError(s.ents.Save(s.ctx, e2))

	s.Require().NoError(s.recon.ClearCertificationInfo(s.ctx, []string{"item-1"}))

	for _, id := range []string{"e1", "e2"} {
		row, err := s.ents.Get(s.ctx, id)
		s.Require().NoError(err)
		s.Nil(row.CertificationItemID, id)
		s.Nil(row.PendingCertificationItemID, id)
	}
}
