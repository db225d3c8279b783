package domain

import "time"

// Request operations.
type RequestOp string

const (
	OpAdd    RequestOp = "Add"
	OpRemove RequestOp = "Remove"
	OpSet    RequestOp = "Set"
)

// ApprovalState of a request item.
type ApprovalState string

const (
	ApprovalApproved ApprovalState = "Approved"
	ApprovalRejected ApprovalState = "Rejected"
	ApprovalPending  ApprovalState = "Pending"
)

// ProvisioningState of a request item.
type ProvisioningState string

const (
	ProvisioningPending    ProvisioningState = "Pending"
	ProvisioningCommitted  ProvisioningState = "Committed"
	ProvisioningFailed     ProvisioningState = "Failed"
	ProvisioningTerminated ProvisioningState = "Terminated"
)

// AccessRequest is an LCM request against one identity.
type AccessRequest struct {
	ID                   string
	TargetIdentityID     string
	RequesterDisplayName string
	Items                []RequestItem
	Plan                 *ProvisioningPlan
}

// RequestItem is one requested entitlement change.
type RequestItem struct {
	ID string

	Application    string
	Instance       string
	NativeIdentity string
	Name           string
	Value          string
	Operation      RequestOp

	AssignmentID string

	Approval     ApprovalState
	Provisioning ProvisioningState

	StartDate *time.Time
	EndDate   *time.Time

	// EntitlementID is the breadcrumb written when the pending
	// entitlement row is created or found.
	EntitlementID string
}

// Entitlementy reports whether the item targets an entitlement
// attribute rather than a plain account attribute.
func (r RequestItem) Entitlementy() bool {
	return r.Name != "" && r.Value != ""
}

// ProvisioningPlan is the compiled plan for a request.
type ProvisioningPlan struct {
	AccountRequests []AccountRequest
}

// AccountRequest groups attribute changes for one account.
type AccountRequest struct {
	Application       string
	Instance          string
	NativeIdentity    string
	Operation         RequestOp
	AttributeRequests []AttributeRequest
}

// AttributeRequest is one attribute change in a plan. Value may be a
// string or []string.
type AttributeRequest struct {
	Name      string
	Value     any
	Operation RequestOp

	// Assignment marks the request as a sticky assignment.
	Assignment   bool
	AssignmentID string
	StartDate    *time.Time
	EndDate      *time.Time
}

// Values flattens the attribute request value into strings.
func (a AttributeRequest) Values() []string {
	switch v := a.Value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ContainsRemove reports whether any attribute request in the plan
// removes the named value. A failed remove keeps the existing
// entitlement row.
func (p *ProvisioningPlan) ContainsRemove(app, name, value string) bool {
	if p == nil {
		return false
	}
	for _, ar := range p.AccountRequests {
		if ar.Application != app {
			continue
		}
		if ar.Operation == OpRemove {
			return true
		}
		for _, attr := range ar.AttributeRequests {
			if attr.Operation != OpRemove || attr.Name != name {
				continue
			}
			for _, v := range attr.Values() {
				if v == value {
					return true
				}
			}
		}
	}
	return false
}

// FindAssignmentRequest locates the assignment-flagged attribute
// request matching an entitlement, nil when the plan has none.
func (p *ProvisioningPlan) FindAssignmentRequest(app, name, value string) *AttributeRequest {
	if p == nil {
		return nil
	}
	for _, ar := range p.AccountRequests {
		if ar.Application != app {
			continue
		}
		for i, attr := range ar.AttributeRequests {
			if !attr.Assignment || attr.Name != name {
				continue
			}
			for _, v := range attr.Values() {
				if v == value {
					return &ar.AttributeRequests[i]
				}
			}
		}
	}
	return nil
}

// AssignmentID returns the first assignment id present in the plan,
// empty when none.
func (p *ProvisioningPlan) AssignmentID() string {
	if p == nil {
		return ""
	}
	for _, ar := range p.AccountRequests {
		for _, attr := range ar.AttributeRequests {
			if attr.AssignmentID != "" {
				return attr.AssignmentID
			}
		}
	}
	return ""
}
