package domain

// CertItemType classifies what a certification item covers.
type CertItemType string

const (
	// CertItemException covers additional entitlements held outside
	// any role.
	CertItemException CertItemType = "Exception"
	// CertItemDataOwner covers one entitlement value from the data
	// owner's perspective.
	CertItemDataOwner CertItemType = "DataOwner"
	// CertItemBundle covers a role membership.
	CertItemBundle CertItemType = "Bundle"
)

// CertItemSubType refines bundle items.
type CertItemSubType string

const (
	CertSubTypeAssignedRole CertItemSubType = "AssignedRole"
	CertSubTypeDetectedRole CertItemSubType = "DetectedRole"
)

// CertificationDefinition carries the options the certification was
// scheduled with.
type CertificationDefinition struct {
	// UpdateIdentityEntitlements gates all entitlement adornment for
	// the certification.
	UpdateIdentityEntitlements bool
	// CertifyIdentities marks certification types whose entities are
	// identities. Other types never adorn identity entitlements.
	CertifyIdentities bool
}

// CertEntity is one certified identity and its items.
type CertEntity struct {
	ID              string
	CertificationID string
	IdentityName    string
	Items           []CertItem
}

// CertItem is a single certifiable thing: an exception entitlement,
// a data-owner entitlement, or a role membership.
type CertItem struct {
	ID      string
	Type    CertItemType
	SubType CertItemSubType

	// Snapshot holds the certified entitlements for Exception and
	// DataOwner items.
	Snapshot *EntitlementSnapshot

	// Bundle fields for role items.
	BundleName         string
	BundleAssignmentID string

	// BundleEntitlements freezes the entitlements the role itself
	// grants. Certifying the membership certifies these too.
	BundleEntitlements []EntitlementSnapshot
}
