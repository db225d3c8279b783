package diff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"warden/internal/domain"
	idstore "warden/internal/identity/store"
)

// ============================================================
// Suite
// ============================================================

type DifferSuite struct {
	suite.Suite
	ctx    context.Context
	roles  *idstore.MemoryRoles
	differ *Differ
}

func TestDifferSuite(t *testing.T) {
	suite.Run(t, new(DifferSuite))
}

func (s *DifferSuite) SetupTest() {
	s.ctx = context.Background()
	s.roles = idstore.NewMemoryRoles(
		&domain.Role{Name: "Payroll Analyst", ApplicationNames: []string{"Active Directory"}},
		&domain.Role{Name: "Benefits Clerk", ApplicationNames: []string{"Workday"}},
	)
	s.differ = New(s.roles)
}

func adLink(groups ...string) domain.LinkSnapshot {
	return domain.LinkSnapshot{
		Application:    "Active Directory",
		NativeIdentity: "CN=Amanda Ross",
		Attributes:     map[string]any{"memberOf": groups},
	}
}

// ============================================================
// Accounts
// ============================================================

func (s *DifferSuite) TestChangedAccountAttributes() {
	prev := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{adLink("Staff")}}
	cur := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{adLink("Staff", "Domain Admins")}}

	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "", false)
	s.Require().NoError(err)
	s.Require().Len(out.LinkDifferences, 1)

	ld := out.LinkDifferences[0]
	s.Equal("Active Directory", ld.Context)
	s.False(ld.Added)
	s.False(ld.Removed)
	s.Require().Len(ld.Differences, 1)
	s.Equal("memberOf", ld.Differences[0].Attribute)
	s.Equal([]string{"Domain Admins"}, ld.Differences[0].AddedValues)
}

func (s *DifferSuite) TestAccountAddedAndRemoved() {
	prev := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{
		{Application: "Workday", NativeIdentity: "10042"},
	}}
	cur := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{adLink("Staff")}}

	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "", false)
	s.Require().NoError(err)
	s.Require().Len(out.LinkDifferences, 2)
	s.True(out.LinkDifferences[0].Removed)
	s.Equal("Workday", out.LinkDifferences[0].Context)
	s.True(out.LinkDifferences[1].Added)
	s.Equal("Active Directory", out.LinkDifferences[1].Context)
}

func (s *DifferSuite) TestUnchangedAccountReportsNothing() {
	prev := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{adLink("Staff")}}
	cur := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{adLink("Staff")}}

	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "", false)
	s.Require().NoError(err)
	s.True(out.Empty())
}

func (s *DifferSuite) TestAttributeDisplayNames() {
	differ := New(s.roles, WithAttributeDisplayNames(map[string]string{
		"dept": "Department",
	}))
	prev := &domain.IdentitySnapshot{Attributes: map[string]any{"dept": "Payroll", "manager": "bob"}}
	cur := &domain.IdentitySnapshot{Attributes: map[string]any{"dept": "Benefits", "manager": "carol"}}

	out, err := differ.DiffIdentity(s.ctx, prev, cur, "", false)
	s.Require().NoError(err)
	s.Require().Len(out.AttributeDifferences, 2)

	s.Equal("dept", out.AttributeDifferences[0].Attribute)
	s.Equal("Department", out.AttributeDifferences[0].DisplayName)

	// No configured display name, raw attribute name only.
	s.Equal("manager", out.AttributeDifferences[1].Attribute)
	s.Empty(out.AttributeDifferences[1].DisplayName)
}

func (s *DifferSuite) TestMultipleAccountsContextIncludesNativeIdentity() {
	second := adLink("Staff")
	second.NativeIdentity = "CN=Amanda Ross Admin"

	prev := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{adLink("Staff"), second}}
	changed := adLink("Staff", "Domain Admins")
	cur := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{changed, second}}

	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "", false)
	s.Require().NoError(err)
	s.Require().Len(out.LinkDifferences, 1)
	s.Equal("Active Directory/CN=Amanda Ross", out.LinkDifferences[0].Context)
}

func (s *DifferSuite) TestApplicationScopesAccountDiffs() {
	prev := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{
		adLink("Staff"),
		{Application: "Workday", NativeIdentity: "10042", Attributes: map[string]any{"costCenter": "100"}},
	}}
	cur := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{
		adLink("Staff"),
		{Application: "Workday", NativeIdentity: "10042", Attributes: map[string]any{"costCenter": "200"}},
	}}

	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "Active Directory", false)
	s.Require().NoError(err)
	s.Empty(out.LinkDifferences)
}

// ============================================================
// Permissions
// ============================================================

func (s *DifferSuite) TestPermissionDifferences() {
	withPerms := func(rights ...string) domain.LinkSnapshot {
		l := adLink("Staff")
		l.Attributes[AttrDirectPermissions] = []domain.Permission{
			{Target: "PayrollDB", Rights: rights},
		}
		return l
	}
	prev := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{withPerms("read", "write")}}
	cur := &domain.IdentitySnapshot{LinkSnapshots: []domain.LinkSnapshot{withPerms("read", "execute")}}

	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "", false)
	s.Require().NoError(err)
	s.Require().Len(out.LinkDifferences, 1)

	ld := out.LinkDifferences[0]
	s.Empty(ld.Differences)
	s.Require().Len(ld.PermissionDifferences, 2)
	s.Equal(PermissionDifference{Target: "PayrollDB", Right: "write", Removed: true}, ld.PermissionDifferences[0])
	s.Equal(PermissionDifference{Target: "PayrollDB", Right: "execute"}, ld.PermissionDifferences[1])
}

// ============================================================
// Roles
// ============================================================

func (s *DifferSuite) TestRoleDiffScopedToApplication() {
	prev := &domain.IdentitySnapshot{BundleNames: []string{"Payroll Analyst"}}
	cur := &domain.IdentitySnapshot{BundleNames: []string{"Payroll Analyst", "Benefits Clerk"}}

	// Benefits Clerk only touches Workday, so it falls out when the
	// diff is scoped to Active Directory.
	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "Active Directory", false)
	s.Require().NoError(err)
	s.Nil(out.BundleDifference)

	out, err = s.differ.DiffIdentity(s.ctx, prev, cur, "Workday", false)
	s.Require().NoError(err)
	s.Require().NotNil(out.BundleDifference)
	s.Equal([]string{"Benefits Clerk"}, out.BundleDifference.AddedValues)
}

func (s *DifferSuite) TestUnknownRoleNameIsKept() {
	prev := &domain.IdentitySnapshot{}
	cur := &domain.IdentitySnapshot{BundleNames: []string{"Orphaned Role"}}

	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "Active Directory", false)
	s.Require().NoError(err)
	s.Require().NotNil(out.BundleDifference)
	s.Equal([]string{"Orphaned Role"}, out.BundleDifference.AddedValues)
}

func (s *DifferSuite) TestAssignedRoleDifference() {
	prev := &domain.IdentitySnapshot{AssignedRoleSnapshots: []domain.RoleAssignmentSnapshot{
		{Name: "Payroll Analyst"},
	}}
	cur := &domain.IdentitySnapshot{}

	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "", false)
	s.Require().NoError(err)
	s.Require().NotNil(out.AssignedRoleDifference)
	s.Equal([]string{"Payroll Analyst"}, out.AssignedRoleDifference.RemovedValues)
}

// ============================================================
// Violations and nil snapshots
// ============================================================

func (s *DifferSuite) TestViolationsOnlyWhenAsked() {
	prev := &domain.IdentitySnapshot{}
	cur := &domain.IdentitySnapshot{Violations: []domain.PolicyViolation{
		{PolicyName: "SoD", DisplayName: "Payroll vs Approvals"},
	}}

	out, err := s.differ.DiffIdentity(s.ctx, prev, cur, "", false)
	s.Require().NoError(err)
	s.Nil(out.ViolationDifference)

	out, err = s.differ.DiffIdentity(s.ctx, prev, cur, "", true)
	s.Require().NoError(err)
	s.Require().NotNil(out.ViolationDifference)
	s.Equal([]string{"Payroll vs Approvals"}, out.ViolationDifference.AddedValues)
}

func (s *DifferSuite) TestNilPreviousSnapshotIsFreshBaseline() {
	cur := &domain.IdentitySnapshot{
		Attributes:    map[string]any{"dept": "Payroll"},
		LinkSnapshots: []domain.LinkSnapshot{adLink("Staff")},
	}

	out, err := s.differ.DiffIdentity(s.ctx, nil, cur, "", false)
	s.Require().NoError(err)
	s.Require().Len(out.AttributeDifferences, 1)
	s.Equal("dept", out.AttributeDifferences[0].Attribute)
	s.Require().Len(out.LinkDifferences, 1)
	s.True(out.LinkDifferences[0].Added)
}
