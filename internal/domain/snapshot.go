package domain

// IdentitySnapshot is the frozen picture of an identity taken at
// certification or refresh time. Differences between two snapshots
// drive change detection.
type IdentitySnapshot struct {
	ID         string
	IdentityID string

	ApplicationNames []string
	BundleNames      []string

	BundleSnapshots       []BundleSnapshot
	AssignedRoleSnapshots []RoleAssignmentSnapshot
	LinkSnapshots         []LinkSnapshot
	Exceptions            []EntitlementSnapshot
	Violations            []PolicyViolation
	Scorecard             *Scorecard

	// Attributes are the identity's extended attributes at snapshot
	// time.
	Attributes map[string]any
}

// BundleSnapshot freezes a role and the entitlements held through it.
type BundleSnapshot struct {
	Name         string
	Entitlements []EntitlementSnapshot
}

// LinkSnapshot freezes one account.
type LinkSnapshot struct {
	Application    string
	Instance       string
	NativeIdentity string
	DisplayName    string
	Attributes     map[string]any
}

// SimpleIdentity is the display form of a link snapshot: display name
// when present, otherwise native identity.
func (l LinkSnapshot) SimpleIdentity() string {
	if l.DisplayName != "" {
		return l.DisplayName
	}
	return l.NativeIdentity
}

// EntitlementSnapshot freezes entitlement attributes and permissions
// held on one account.
type EntitlementSnapshot struct {
	Application    string
	Instance       string
	NativeIdentity string
	DisplayName    string

	// Attributes maps attribute name to a value or list of values.
	Attributes map[string]any
	Permissions []Permission
}

// Permission is a target plus the rights held on it.
type Permission struct {
	Target     string
	Rights     []string
	Annotation string
}

// PolicyViolation records a policy breach present at snapshot time.
type PolicyViolation struct {
	PolicyID     string
	PolicyName   string
	ConstraintID string
	DisplayName  string
}

// RoleAssignmentSnapshot freezes an assigned role and its account
// targets.
type RoleAssignmentSnapshot struct {
	Name    string
	Targets []RoleTarget
}

// RoleTarget names one account a role assignment provisions to.
type RoleTarget struct {
	Application    string
	NativeIdentity string
	Instance       string
	Items          []AccountItem
}

// AccountItem is a single attribute value or permission right on a
// role target.
type AccountItem struct {
	IsPermission bool
	Name         string
	Value        string
}

// Scorecard carries identity risk scores. Only inequality matters for
// diffing.
type Scorecard struct {
	CompositeScore int
	BusinessScore  int
}

// Different reports whether two scorecards disagree. A nil scorecard
// equals another nil.
func (s *Scorecard) Different(other *Scorecard) bool {
	if s == nil || other == nil {
		return (s == nil) != (other == nil)
	}
	return s.CompositeScore != other.CompositeScore || s.BusinessScore != other.BusinessScore
}
