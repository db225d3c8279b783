package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"warden/internal/domain"
	entstore "warden/internal/entitlement/store"
	pstore "warden/internal/platform/store"
)

// ============================================================
// Suite
// ============================================================

type UpdaterSuite struct {
	suite.Suite
	ctx   context.Context
	store *pstore.Memory[*domain.Entitlement]
}

func TestUpdaterSuite(t *testing.T) {
	suite.Run(t, new(UpdaterSuite))
}

func (s *UpdaterSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = entstore.NewMemory()
}

func existingRow() *domain.Entitlement {
	return &domain.Entitlement{
		ID:          "e1",
		IdentityID:  "ident-1",
		Application: "Active Directory",
		Name:        "memberOf",
		Value:       "Domain Admins",
		Type:        domain.TypeEntitlement,
		Created:     time.Now().Add(-time.Hour),
	}
}

// ============================================================
// Dirty tracking
// ============================================================

func (s *UpdaterSuite) TestNewRowGetsIDAndStartsDirty() {
	e := &domain.Entitlement{IdentityID: "ident-1", Name: "memberOf", Value: "Admins"}
	u := NewUpdater(e)

	s.NotEmpty(e.ID)
	s.False(e.Created.IsZero())
	s.True(u.Dirty())
}

func (s *UpdaterSuite) TestSettingSameValueStaysClean() {
	e := existingRow()
	u := NewUpdater(e)

	u.SetAssigned(false)
	u.SetDisplayName(nil)
	u.SetSource("")

	s.False(u.Dirty())
	s.Require().NoError(u.SaveIfDirty(s.ctx, s.store))
	s.Equal(0, s.store.Len())
	s.Nil(e.Modified)
}

func (s *UpdaterSuite) TestSaveIfDirtyStampsModifiedOnce() {
	e := existingRow()
	u := NewUpdater(e)

	u.SetAssigned(true)
	s.True(u.Dirty())
	s.Require().NoError(u.SaveIfDirty(s.ctx, s.store))
	s.Require().NotNil(e.Modified)
	first := *e.Modified

	// Re-applying the same state settles to zero writes.
	u2 := NewUpdater(e)
	u2.SetAssigned(true)
	s.Require().NoError(u2.SaveIfDirty(s.ctx, s.store))
	s.Equal(first, *e.Modified)
}

func (s *UpdaterSuite) TestPointerSettersCompareValues() {
	e := existingRow()
	e.Assigner = domain.StrPtr("jcurtis")
	u := NewUpdater(e)

	// Different pointer, same value.
	u.SetAssigner(domain.StrPtr("jcurtis"))
	s.False(u.Dirty())

	u.SetAssigner(domain.StrPtr("mbell"))
	s.True(u.Dirty())
}

// ============================================================
// Role stamping
// ============================================================

func (s *UpdaterSuite) TestRoleAssignmentDetailsForcesAttribute() {
	e := existingRow()
	u := NewUpdater(e)

	assignmentID := "assign-7"
	u.SetRoleAssignmentDetails(RoleAssignmentDetails{
		RoleName:     "Payroll Analyst",
		Source:       "Rule",
		Assigner:     domain.StrPtr("spadmin"),
		AssignmentID: &assignmentID,
	})

	s.Equal(domain.AttrAssignedRoles, e.Name)
	s.Equal("Payroll Analyst", e.Value)
	s.True(e.Assigned)
	s.Equal("Rule", e.Source)
	s.Equal("assign-7", *e.AssignmentID)
}

func (s *UpdaterSuite) TestRoleAssignmentEmptySourceKeepsExisting() {
	e := existingRow()
	e.Source = "LCM"
	u := NewUpdater(e)

	u.SetRoleAssignmentDetails(RoleAssignmentDetails{RoleName: "Payroll Analyst"})
	s.Equal("LCM", e.Source)
}

func (s *UpdaterSuite) TestRoleDetectionNeverAssigned() {
	e := existingRow()
	e.Assigned = true
	u := NewUpdater(e)

	u.SetRoleDetectionDetails("Payroll Analyst", nil)

	s.Equal(domain.AttrDetectedRoles, e.Name)
	s.False(e.Assigned)
}

// ============================================================
// Source role lists
// ============================================================

func (s *UpdaterSuite) TestSourceRoleListDeduplicates() {
	e := existingRow()
	u := NewUpdater(e)

	u.AddSourceAssignableRole("Payroll Analyst")
	u.AddSourceAssignableRole("Benefits Clerk")
	u.AddSourceAssignableRole("Payroll Analyst")

	s.Equal("Payroll Analyst, Benefits Clerk", *e.SourceAssignableRoles)
	s.True(u.Dirty())

	// Re-adding a present name is not a change.
	s.Require().NoError(u.SaveIfDirty(s.ctx, s.store))
	u2 := NewUpdater(e)
	u2.AddSourceAssignableRole("Benefits Clerk")
	s.False(u2.Dirty())
}
