package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"warden/internal/audit"
	"warden/internal/domain"
	"warden/internal/entitlement/index"
	"warden/internal/entitlement/key"
	entstore "warden/internal/entitlement/store"
	idstore "warden/internal/identity/store"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
)

// CertReconciler adorns entitlement rows with certification state:
// which item is certifying them now, which item certified them last,
// and what the certifier decided about assignment.
type CertReconciler struct {
	ents    entstore.Store
	idents  idstore.IdentityStore
	logger  *slog.Logger
	mode    key.Mode
	auditor audit.Publisher
}

// CertOption configures the CertReconciler.
type CertOption func(*CertReconciler)

// WithCertLogger sets the logger.
func WithCertLogger(logger *slog.Logger) CertOption {
	return func(r *CertReconciler) { r.logger = logger }
}

// WithCertMode sets the null-vs-empty instance matching mode.
func WithCertMode(mode key.Mode) CertOption {
	return func(r *CertReconciler) { r.mode = mode }
}

// WithCertAuditor sets the audit publisher for assignment decisions.
func WithCertAuditor(auditor audit.Publisher) CertOption {
	return func(r *CertReconciler) { r.auditor = auditor }
}

// NewCertReconciler creates a certification reconciler.
func NewCertReconciler(ents entstore.Store, idents idstore.IdentityStore, opts ...CertOption) *CertReconciler {
	r := &CertReconciler{
		ents:    ents,
		idents:  idents,
		logger:  slog.Default(),
		mode:    key.DefaultMode,
		auditor: audit.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether the certification should touch entitlement
// rows at all: the definition must ask for it and the certification
// must be over identities.
func (r *CertReconciler) Enabled(def *domain.CertificationDefinition) bool {
	return def != nil && def.UpdateIdentityEntitlements && def.CertifyIdentities
}

// SetPending marks every entitlement covered by the entity's items as
// pending certification.
func (r *CertReconciler) SetPending(ctx context.Context, def *domain.CertificationDefinition, entity *domain.CertEntity) error {
	if !r.Enabled(def) || entity == nil {
		return nil
	}
	identity, err := r.ResolveIdentity(ctx, entity.IdentityName)
	if err != nil {
		return fmt.Errorf("resolve identity %q: %w", entity.IdentityName, err)
	}
	x := r.newIndex(identity.ID)
	for i := range entity.Items {
		if err := r.adornItem(ctx, x, entity.IdentityName, &entity.Items[i], phasePending, nil, ""); err != nil {
			return err
		}
	}
	return nil
}

// SetCurrent marks one decided item's entitlements as certified,
// applying the certifier's add/remove assignment decisions.
func (r *CertReconciler) SetCurrent(ctx context.Context, def *domain.CertificationDefinition, entity *domain.CertEntity, item *domain.CertItem, adds, removes []key.CompositeKey, certifierDisplayName string) error {
	if !r.Enabled(def) || entity == nil || item == nil {
		return nil
	}
	identity, err := r.ResolveIdentity(ctx, entity.IdentityName)
	if err != nil {
		return fmt.Errorf("resolve identity %q: %w", entity.IdentityName, err)
	}
	x := r.newIndex(identity.ID)
	matcher := index.NewAssignmentMatcher(adds, removes)
	return r.adornItem(ctx, x, entity.IdentityName, item, phaseCurrent, matcher, certifierDisplayName)
}

// ClearCertificationInfo nulls the certification breadcrumbs on every
// entitlement row pointing at the given items. Used when a
// certification is deleted or reset.
func (r *CertReconciler) ClearCertificationInfo(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	rows, err := r.ents.SearchProjection(ctx, []string{domain.FieldID},
		store.Or(
			store.InStrings(domain.FieldCertItem, itemIDs),
			store.InStrings(domain.FieldPendingCert, itemIDs),
		))
	if err != nil {
		return fmt.Errorf("find adorned entitlements: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row[0].(string); ok {
			ids = append(ids, id)
		}
	}
	if _, err := r.ents.BulkUpdate(ctx, ids, map[string]any{
		domain.FieldCertItem:    nil,
		domain.FieldPendingCert: nil,
	}); err != nil {
		return fmt.Errorf("clear certification info: %w", err)
	}
	return nil
}

// ResolveIdentity loads an identity by name, falling back to id.
// Anything other than exactly one match is an error: certifications
// must never adorn the wrong identity.
func (r *CertReconciler) ResolveIdentity(ctx context.Context, nameOrID string) (*domain.Identity, error) {
	identity, err := r.idents.FindUnique(ctx, store.Eq(idstore.IdentityFieldName, nameOrID))
	if err == nil {
		return identity, nil
	}
	if errors.Is(err, sentinel.ErrAmbiguous) {
		return nil, err
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}
	return r.idents.Get(ctx, nameOrID)
}

func (r *CertReconciler) newIndex(identityID string) *index.Index {
	return index.New(r.ents, identityID,
		index.WithLogger(r.logger),
		index.WithMode(r.mode),
	)
}

type adornPhase int

const (
	phasePending adornPhase = iota
	phaseCurrent
)

// adornItem finds the entitlement rows an item covers and stamps the
// certification breadcrumbs onto them.
func (r *CertReconciler) adornItem(ctx context.Context, x *index.Index, identityName string, item *domain.CertItem, phase adornPhase, matcher *index.AssignmentMatcher, certifier string) error {
	rows, err := r.coveredRows(ctx, x, item)
	if err != nil {
		return err
	}
	for _, row := range rows {
		u := NewUpdater(row)
		switch phase {
		case phasePending:
			u.SetPendingCertificationItem(&item.ID)
		case phaseCurrent:
			u.SetCertificationItem(&item.ID)
			if row.PendingCertificationItemID != nil && *row.PendingCertificationItemID == item.ID {
				u.SetPendingCertificationItem(nil)
			}
			if matcher != nil && !matcher.Empty() {
				switch matcher.Match(key.ForEntitlement(row)) {
				case index.DecisionAdd:
					u.SetAssigned(true)
					u.SetAssigner(&certifier)
					r.audit(ctx, audit.ActionEntitlementAssigned, identityName, row, certifier)
				case index.DecisionRemove:
					u.SetAssigned(false)
					u.SetAssigner(nil)
					r.audit(ctx, audit.ActionEntitlementRevoked, identityName, row, certifier)
				}
			}
		}
		if err := u.SaveIfDirty(ctx, r.ents); err != nil {
			return fmt.Errorf("save entitlement %s: %w", row.ID, err)
		}
	}
	return nil
}

// coveredRows expands an item into the entitlement rows it certifies.
func (r *CertReconciler) coveredRows(ctx context.Context, x *index.Index, item *domain.CertItem) ([]*domain.Entitlement, error) {
	switch item.Type {
	case domain.CertItemException, domain.CertItemDataOwner:
		return r.snapshotRows(ctx, x, item.Snapshot)
	case domain.CertItemBundle:
		return r.bundleRows(ctx, x, item)
	default:
		return nil, nil
	}
}

// snapshotRows expands an entitlement snapshot: every attribute value
// and every permission right it froze.
func (r *CertReconciler) snapshotRows(ctx context.Context, x *index.Index, snap *domain.EntitlementSnapshot) ([]*domain.Entitlement, error) {
	if snap == nil {
		return nil, nil
	}
	var out []*domain.Entitlement
	for name, raw := range snap.Attributes {
		values := asList(raw)
		if len(values) == 0 {
			continue
		}
		rows, err := x.AccountValues(ctx, snap.Application, snap.NativeIdentity, snap.Instance, name, values)
		if err != nil {
			return nil, fmt.Errorf("expand attribute %q: %w", name, err)
		}
		out = append(out, rows...)
	}
	for _, perm := range snap.Permissions {
		if len(perm.Rights) == 0 {
			continue
		}
		rows, err := x.AccountValues(ctx, snap.Application, snap.NativeIdentity, snap.Instance, perm.Target, perm.Rights)
		if err != nil {
			return nil, fmt.Errorf("expand permission %q: %w", perm.Target, err)
		}
		// Permission rows only; an attribute that happens to share
		// the target name must not be adorned here.
		for _, row := range rows {
			if row.Type == domain.TypePermission {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

// bundleRows resolves a role item to its membership row. Certifying
// an assigned role also covers the detected roles its assignment
// caused.
func (r *CertReconciler) bundleRows(ctx context.Context, x *index.Index, item *domain.CertItem) ([]*domain.Entitlement, error) {
	attrName := domain.AttrDetectedRoles
	if item.SubType == domain.CertSubTypeAssignedRole {
		attrName = domain.AttrAssignedRoles
	}
	row, err := x.RoleEntitlement(ctx, attrName, item.BundleName, item.BundleAssignmentID)
	if err != nil {
		return nil, fmt.Errorf("find role entitlement %q: %w", item.BundleName, err)
	}
	var rows []*domain.Entitlement
	if row != nil {
		rows = append(rows, row)
		if item.SubType == domain.CertSubTypeAssignedRole && item.BundleAssignmentID != "" {
			cascade, err := x.DetectedSharingAssignment(ctx, item.BundleAssignmentID)
			if err != nil {
				return nil, fmt.Errorf("find detected roles for assignment: %w", err)
			}
			rows = append(rows, cascade...)
		}
	} else {
		r.logger.Warn("no entitlement row for certified role, skipping",
			"role", item.BundleName,
			"attribute", attrName,
		)
	}
	// The entitlements the role grants were frozen on the item at
	// generation time; certify them with the membership. Overlapping
	// rows are adorned last one wins.
	for i := range item.BundleEntitlements {
		granted, err := r.snapshotRows(ctx, x, &item.BundleEntitlements[i])
		if err != nil {
			return nil, fmt.Errorf("expand role entitlements for %q: %w", item.BundleName, err)
		}
		rows = append(rows, granted...)
	}
	return rows, nil
}

// asList flattens a snapshot attribute value into strings.
func asList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

func (r *CertReconciler) audit(ctx context.Context, action audit.Action, identityName string, row *domain.Entitlement, actor string) {
	r.auditor.Emit(ctx, audit.Event{
		Action:         action,
		Identity:       identityName,
		Application:    row.Application,
		Instance:       strValue(row.Instance),
		NativeIdentity: strValue(row.NativeIdentity),
		Attribute:      row.Name,
		Value:          row.Value,
		Source:         row.Source,
		Actor:          actor,
	})
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
