package domain

import "time"

// Role attribute names. Role membership is stored as entitlement rows
// whose Name is one of these; plain account entitlements never use
// them.
const (
	AttrAssignedRoles = "assignedRoles"
	AttrDetectedRoles = "detectedRoles"
)

// EntitlementType classifies an entitlement row.
type EntitlementType string

const (
	TypeEntitlement EntitlementType = "Entitlement"
	TypePermission  EntitlementType = "Permission"
	TypeBundle      EntitlementType = "Bundle"
)

// AggregationState says whether the connector still sees the value.
type AggregationState string

const (
	AggregationConnected    AggregationState = "Connected"
	AggregationDisconnected AggregationState = "Disconnected"
)

// Entitlement sources.
const (
	SourceAggregation = "Aggregation"
	SourceLCM         = "LCM"
	SourceRule        = "Rule"
	SourceTask        = "Task"
)

// Entitlement is one identity-entitlement row: a single value an
// identity holds on an application attribute, a permission right, or
// a role membership.
type Entitlement struct {
	ID         string
	IdentityID string

	Application    string
	Instance       *string
	NativeIdentity *string
	DisplayName    *string

	Name  string
	Value string
	// Annotation carries the permission annotation when Type is
	// Permission.
	Annotation *string

	Type             EntitlementType
	Source           string
	AggregationState AggregationState

	Assigned     bool
	Assigner     *string
	AssignmentID *string
	AssignmentNote *string
	StartDate    *time.Time
	EndDate      *time.Time

	// Certification breadcrumbs.
	CertificationItemID        *string
	PendingCertificationItemID *string

	// Access request breadcrumbs.
	RequestItemID        *string
	PendingRequestItemID *string

	// CSV lists of role names that granted this entitlement
	// indirectly.
	SourceAssignableRoles *string
	SourceDetectedRoles   *string

	Created  time.Time
	Modified *time.Time
}

// Field names shared by the entitlement stores and predicate
// builders. The memory store resolves the same names the postgres
// columns use.
const (
	FieldID             = "id"
	FieldIdentityID     = "identity_id"
	FieldApplication    = "application"
	FieldInstance       = "instance"
	FieldNativeIdentity = "native_identity"
	FieldDisplayName    = "display_name"
	FieldName           = "name"
	FieldValue          = "value"
	FieldType           = "type"
	FieldAssigned       = "assigned"
	FieldAssignmentID   = "assignment_id"
	FieldCertItem       = "certification_item_id"
	FieldPendingCert    = "pending_certification_item_id"
	FieldRequestItem    = "request_item_id"
	FieldPendingRequest = "pending_request_item_id"
	FieldCreated        = "created"
	FieldModified       = "modified"
)

// EntitlementField resolves predicate field names for the memory
// entitlement store.
func EntitlementField(e *Entitlement, name string) any {
	switch name {
	case FieldID:
		return e.ID
	case FieldIdentityID:
		return e.IdentityID
	case FieldApplication:
		return e.Application
	case FieldInstance:
		return strPtrValue(e.Instance)
	case FieldNativeIdentity:
		return strPtrValue(e.NativeIdentity)
	case FieldDisplayName:
		return strPtrValue(e.DisplayName)
	case FieldName:
		return e.Name
	case FieldValue:
		return e.Value
	case FieldType:
		return string(e.Type)
	case FieldAssigned:
		return e.Assigned
	case FieldAssignmentID:
		return strPtrValue(e.AssignmentID)
	case FieldCertItem:
		return strPtrValue(e.CertificationItemID)
	case FieldPendingCert:
		return strPtrValue(e.PendingCertificationItemID)
	case FieldRequestItem:
		return strPtrValue(e.RequestItemID)
	case FieldPendingRequest:
		return strPtrValue(e.PendingRequestItemID)
	case FieldCreated:
		return e.Created
	case FieldModified:
		if e.Modified == nil {
			return nil
		}
		return *e.Modified
	default:
		return nil
	}
}

// SetEntitlementField applies a bulk-update column to an entitlement.
func SetEntitlementField(e *Entitlement, name string, value any) *Entitlement {
	switch name {
	case FieldCertItem:
		e.CertificationItemID = toStrPtr(value)
	case FieldPendingCert:
		e.PendingCertificationItemID = toStrPtr(value)
	case FieldRequestItem:
		e.RequestItemID = toStrPtr(value)
	case FieldPendingRequest:
		e.PendingRequestItemID = toStrPtr(value)
	case FieldAssigned:
		if b, ok := value.(bool); ok {
			e.Assigned = b
		}
	}
	return e
}

func strPtrValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func toStrPtr(v any) *string {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}

// StrPtr returns a pointer to s. Convenience for optional columns.
func StrPtr(s string) *string { return &s }
