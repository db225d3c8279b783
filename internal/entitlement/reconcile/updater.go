// Package reconcile keeps identity-entitlement rows in step with
// certification decisions and access request lifecycles.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"warden/internal/domain"
	wstrings "warden/pkg/platform/strings"
)

// Saver is the write slice of the entitlement store the updater
// needs.
type Saver interface {
	Save(ctx context.Context, e *domain.Entitlement) error
}

// Updater wraps an entitlement row and tracks whether anything
// actually changed. Every setter compares before mutating, so
// re-applying the same state never marks the row dirty and repeated
// reconciliation runs settle to zero writes.
type Updater struct {
	ent   *domain.Entitlement
	dirty bool
	now   func() time.Time
}

// NewUpdater wraps an existing row. Rows without an id are treated as
// freshly created: they get an id and start dirty.
func NewUpdater(e *domain.Entitlement) *Updater {
	u := &Updater{ent: e, now: time.Now}
	if e.ID == "" {
		e.ID = uuid.NewString()
		e.Created = u.now()
		u.dirty = true
	}
	return u
}

// Entitlement returns the wrapped row.
func (u *Updater) Entitlement() *domain.Entitlement { return u.ent }

// Dirty reports whether any setter changed the row.
func (u *Updater) Dirty() bool { return u.dirty }

// SaveIfDirty persists the row when something changed, stamping the
// modified time. No-op for clean rows.
func (u *Updater) SaveIfDirty(ctx context.Context, s Saver) error {
	if !u.dirty {
		return nil
	}
	t := u.now()
	u.ent.Modified = &t
	if err := s.Save(ctx, u.ent); err != nil {
		return err
	}
	u.dirty = false
	return nil
}

func (u *Updater) setStr(field *string, v string) {
	if *field != v {
		*field = v
		u.dirty = true
	}
}

func (u *Updater) setStrPtr(field **string, v *string) {
	if !strPtrEqual(*field, v) {
		*field = copyStrPtr(v)
		u.dirty = true
	}
}

func (u *Updater) setBool(field *bool, v bool) {
	if *field != v {
		*field = v
		u.dirty = true
	}
}

func (u *Updater) setTimePtr(field **time.Time, v *time.Time) {
	if !timePtrEqual(*field, v) {
		*field = copyTimePtr(v)
		u.dirty = true
	}
}

// SetDisplayName updates the display name.
func (u *Updater) SetDisplayName(v *string) { u.setStrPtr(&u.ent.DisplayName, v) }

// SetNativeIdentity updates the native identity.
func (u *Updater) SetNativeIdentity(v *string) { u.setStrPtr(&u.ent.NativeIdentity, v) }

// SetAssigned updates the assignment flag.
func (u *Updater) SetAssigned(v bool) { u.setBool(&u.ent.Assigned, v) }

// SetAssigner updates who made the assignment decision.
func (u *Updater) SetAssigner(v *string) { u.setStrPtr(&u.ent.Assigner, v) }

// SetSource updates where the row came from.
func (u *Updater) SetSource(v string) { u.setStr(&u.ent.Source, v) }

// SetAggregationState updates connector visibility.
func (u *Updater) SetAggregationState(v domain.AggregationState) {
	if u.ent.AggregationState != v {
		u.ent.AggregationState = v
		u.dirty = true
	}
}

// SetCertificationItem points the row at its latest certified item.
func (u *Updater) SetCertificationItem(id *string) { u.setStrPtr(&u.ent.CertificationItemID, id) }

// SetPendingCertificationItem points the row at an in-flight
// certification item.
func (u *Updater) SetPendingCertificationItem(id *string) {
	u.setStrPtr(&u.ent.PendingCertificationItemID, id)
}

// SetRequestItem points the row at its latest completed request item.
func (u *Updater) SetRequestItem(id *string) { u.setStrPtr(&u.ent.RequestItemID, id) }

// SetPendingRequestItem points the row at an in-flight request item.
func (u *Updater) SetPendingRequestItem(id *string) { u.setStrPtr(&u.ent.PendingRequestItemID, id) }

// SetStartDate updates the assignment start date.
func (u *Updater) SetStartDate(v *time.Time) { u.setTimePtr(&u.ent.StartDate, v) }

// SetEndDate updates the assignment end date.
func (u *Updater) SetEndDate(v *time.Time) { u.setTimePtr(&u.ent.EndDate, v) }

// RoleAssignmentDetails carries everything a role assignment stamps
// onto its membership row.
type RoleAssignmentDetails struct {
	RoleName     string
	Source       string
	Assigner     *string
	StartDate    *time.Time
	EndDate      *time.Time
	AssignmentID *string
	Note         *string
}

// SetRoleAssignmentDetails stamps an assigned-role membership row.
// The name is forced to the assigned-role attribute regardless of
// what the row carried.
func (u *Updater) SetRoleAssignmentDetails(d RoleAssignmentDetails) {
	u.setStr(&u.ent.Name, domain.AttrAssignedRoles)
	u.setStr(&u.ent.Value, d.RoleName)
	u.setBool(&u.ent.Assigned, true)
	if d.Source != "" {
		u.setStr(&u.ent.Source, d.Source)
	}
	u.setStrPtr(&u.ent.Assigner, d.Assigner)
	u.setTimePtr(&u.ent.StartDate, d.StartDate)
	u.setTimePtr(&u.ent.EndDate, d.EndDate)
	u.setStrPtr(&u.ent.AssignmentID, d.AssignmentID)
	u.setStrPtr(&u.ent.AssignmentNote, d.Note)
}

// SetRoleDetectionDetails stamps a detected-role membership row.
// Detections are never assigned.
func (u *Updater) SetRoleDetectionDetails(roleName string, assignmentID *string) {
	u.setStr(&u.ent.Name, domain.AttrDetectedRoles)
	u.setStr(&u.ent.Value, roleName)
	u.setBool(&u.ent.Assigned, false)
	u.setStrPtr(&u.ent.AssignmentID, assignmentID)
}

// AddSourceAssignableRole records that an assigned role granted this
// entitlement indirectly. The list stays deduplicated.
func (u *Updater) AddSourceAssignableRole(roleName string) {
	u.addToCSV(&u.ent.SourceAssignableRoles, roleName)
}

// AddSourceDetectedRole records that a detected role covers this
// entitlement.
func (u *Updater) AddSourceDetectedRole(roleName string) {
	u.addToCSV(&u.ent.SourceDetectedRoles, roleName)
}

func (u *Updater) addToCSV(field **string, roleName string) {
	current := ""
	if *field != nil {
		current = **field
	}
	updated, changed := wstrings.AppendCSVList(current, roleName)
	if changed {
		*field = &updated
		u.dirty = true
	}
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func copyTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
