package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"warden/internal/audit"
	"warden/internal/domain"
	"warden/internal/entitlement/key"
	entstore "warden/internal/entitlement/store"
	idstore "warden/internal/identity/store"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
)

// RequestReconciler keeps entitlement rows in step with the access
// request lifecycle: pending rows appear when a request is approved,
// become current when provisioning commits, and are cleaned up when
// provisioning fails.
type RequestReconciler struct {
	ents    entstore.Store
	idents  idstore.IdentityStore
	links   idstore.LinkStore
	logger  *slog.Logger
	mode    key.Mode
	owner   string
	auditor audit.Publisher
}

// RequestOption configures the RequestReconciler.
type RequestOption func(*RequestReconciler)

// WithRequestLogger sets the logger.
func WithRequestLogger(logger *slog.Logger) RequestOption {
	return func(r *RequestReconciler) { r.logger = logger }
}

// WithRequestMode sets the null-vs-empty instance matching mode.
func WithRequestMode(mode key.Mode) RequestOption {
	return func(r *RequestReconciler) { r.mode = mode }
}

// WithLockOwner names this worker for identity lock acquisition.
func WithLockOwner(owner string) RequestOption {
	return func(r *RequestReconciler) { r.owner = owner }
}

// WithRequestAuditor sets the audit publisher for lifecycle changes.
func WithRequestAuditor(auditor audit.Publisher) RequestOption {
	return func(r *RequestReconciler) { r.auditor = auditor }
}

// NewRequestReconciler creates a request reconciler.
func NewRequestReconciler(ents entstore.Store, idents idstore.IdentityStore, links idstore.LinkStore, opts ...RequestOption) *RequestReconciler {
	r := &RequestReconciler{
		ents:    ents,
		idents:  idents,
		links:   links,
		logger:  slog.Default(),
		mode:    key.DefaultMode,
		owner:   "request-reconciler",
		auditor: audit.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetPending finds or creates an entitlement row for every approved
// item and stamps the pending breadcrumbs both ways: the row learns
// its item, the item learns its row.
func (r *RequestReconciler) SetPending(ctx context.Context, req *domain.AccessRequest) error {
	if req == nil {
		return nil
	}
	for i := range req.Items {
		item := &req.Items[i]
		if item.Approval != domain.ApprovalApproved || !item.Entitlementy() {
			continue
		}
		ent, err := r.findForItem(ctx, req.TargetIdentityID, item)
		if err != nil {
			return err
		}
		if ent == nil {
			ent = r.newFromItem(req, item)
		}
		u := NewUpdater(ent)
		u.SetPendingRequestItem(&item.ID)
		if err := u.SaveIfDirty(ctx, r.ents); err != nil {
			return fmt.Errorf("save pending entitlement: %w", err)
		}
		item.EntitlementID = ent.ID
	}
	return nil
}

// PrecreateFromPlan creates pending rows straight from a compiled
// plan before any request items exist, splitting multi-valued
// attribute requests into one row per value. Rows that already exist,
// possibly without a native identity yet, are reused and backfilled.
func (r *RequestReconciler) PrecreateFromPlan(ctx context.Context, identity *domain.Identity, req *domain.AccessRequest) error {
	if req == nil || req.Plan == nil {
		return nil
	}
	for _, ar := range req.Plan.AccountRequests {
		for _, attr := range ar.AttributeRequests {
			if attr.Operation == domain.OpRemove {
				continue
			}
			for _, value := range attr.Values() {
				if err := r.precreateValue(ctx, identity, req, ar, attr, value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *RequestReconciler) precreateValue(ctx context.Context, identity *domain.Identity, req *domain.AccessRequest, ar domain.AccountRequest, attr domain.AttributeRequest, value string) error {
	item := &domain.RequestItem{
		Application:    ar.Application,
		Instance:       ar.Instance,
		NativeIdentity: ar.NativeIdentity,
		Name:           attr.Name,
		Value:          value,
		AssignmentID:   attr.AssignmentID,
	}
	ent, err := r.findForItem(ctx, identity.ID, item)
	if err != nil {
		return err
	}
	if ent == nil {
		// The row may predate this account: look again ignoring the
		// native identity, matching rows created before provisioning
		// named the account.
		ent, err = r.findIgnoringNativeIdentity(ctx, identity.ID, item)
		if err != nil {
			return err
		}
	}
	if ent == nil {
		ent = r.newFromItem(req, item)
		ent.IdentityID = identity.ID
	}
	u := NewUpdater(ent)
	if ar.NativeIdentity != "" && ent.NativeIdentity == nil {
		u.SetNativeIdentity(&ar.NativeIdentity)
		r.backfillAssignment(identity, ar, attr, value)
	}
	if err := u.SaveIfDirty(ctx, r.ents); err != nil {
		return fmt.Errorf("save precreated entitlement: %w", err)
	}
	return nil
}

// backfillAssignment copies a freshly learned native identity onto
// the matching sticky assignment.
func (r *RequestReconciler) backfillAssignment(identity *domain.Identity, ar domain.AccountRequest, attr domain.AttributeRequest, value string) {
	for i := range identity.AttributeAssignments {
		a := &identity.AttributeAssignments[i]
		if a.Application == ar.Application && a.Name == attr.Name && a.Value == value && a.NativeIdentity == "" {
			a.NativeIdentity = ar.NativeIdentity
		}
	}
}

// SetCurrent finalizes rows once their items finish provisioning.
// Committed items become current; failed or terminated items delete
// the row unless the plan was removing it, because a failed remove
// means the value is still there.
func (r *RequestReconciler) SetCurrent(ctx context.Context, req *domain.AccessRequest) error {
	if req == nil {
		return nil
	}
	for i := range req.Items {
		item := &req.Items[i]
		if item.Approval != domain.ApprovalApproved || !item.Entitlementy() {
			continue
		}
		switch item.Provisioning {
		case domain.ProvisioningCommitted:
			if err := r.finishItem(ctx, req, item); err != nil {
				return err
			}
		case domain.ProvisioningFailed, domain.ProvisioningTerminated:
			if err := r.cleanupItem(ctx, req, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *RequestReconciler) finishItem(ctx context.Context, req *domain.AccessRequest, item *domain.RequestItem) error {
	ent, err := r.resolveItem(ctx, req.TargetIdentityID, item)
	if err != nil {
		return err
	}
	if ent == nil {
		r.logger.Warn("no entitlement row for committed request item, skipping",
			"item", item.ID,
			"application", item.Application,
			"value", item.Value,
		)
		return nil
	}
	u := NewUpdater(ent)
	if ent.PendingRequestItemID != nil && *ent.PendingRequestItemID == item.ID {
		u.SetPendingRequestItem(nil)
	}
	u.SetRequestItem(&item.ID)
	if item.NativeIdentity != "" {
		u.SetNativeIdentity(&item.NativeIdentity)
	}
	r.refreshDisplayName(ctx, u, ent)

	if attrReq := req.Plan.FindAssignmentRequest(ent.Application, ent.Name, ent.Value); attrReq != nil {
		assigned := attrReq.Operation != domain.OpRemove
		u.SetAssigned(assigned)
		u.SetStartDate(attrReq.StartDate)
		u.SetEndDate(attrReq.EndDate)
		if err := r.reconcileAssignment(ctx, req.TargetIdentityID, ent, attrReq, assigned); err != nil {
			return err
		}
		action := audit.ActionEntitlementAssigned
		if !assigned {
			action = audit.ActionEntitlementRevoked
		}
		r.audit(ctx, action, req, ent)
	}
	if err := u.SaveIfDirty(ctx, r.ents); err != nil {
		return fmt.Errorf("save current entitlement: %w", err)
	}
	return nil
}

func (r *RequestReconciler) cleanupItem(ctx context.Context, req *domain.AccessRequest, item *domain.RequestItem) error {
	ent, err := r.resolveItem(ctx, req.TargetIdentityID, item)
	if err != nil || ent == nil {
		return err
	}
	// A failed remove keeps the row: the value never left the target
	// system.
	if req.Plan.ContainsRemove(ent.Application, ent.Name, ent.Value) {
		u := NewUpdater(ent)
		if ent.PendingRequestItemID != nil && *ent.PendingRequestItemID == item.ID {
			u.SetPendingRequestItem(nil)
		}
		return u.SaveIfDirty(ctx, r.ents)
	}
	if err := r.ents.Delete(ctx, ent.ID); err != nil {
		return fmt.Errorf("delete failed entitlement %s: %w", ent.ID, err)
	}
	r.audit(ctx, audit.ActionEntitlementRemoved, req, ent)
	return nil
}

func (r *RequestReconciler) audit(ctx context.Context, action audit.Action, req *domain.AccessRequest, ent *domain.Entitlement) {
	r.auditor.Emit(ctx, audit.Event{
		Action:         action,
		Identity:       req.TargetIdentityID,
		Application:    ent.Application,
		Instance:       strValue(ent.Instance),
		NativeIdentity: strValue(ent.NativeIdentity),
		Attribute:      ent.Name,
		Value:          ent.Value,
		Source:         ent.Source,
		Actor:          req.RequesterDisplayName,
	})
}

// refreshDisplayName copies the account display name onto the row.
// More than one matching account is a data problem: log and keep the
// current name.
func (r *RequestReconciler) refreshDisplayName(ctx context.Context, u *Updater, ent *domain.Entitlement) {
	if ent.NativeIdentity == nil {
		return
	}
	link, err := r.links.FindUnique(ctx, store.And(
		store.Eq(domain.LinkFieldApplication, ent.Application),
		store.EqFold(domain.LinkFieldNativeIdentity, *ent.NativeIdentity),
	))
	if err != nil {
		if errors.Is(err, sentinel.ErrAmbiguous) {
			r.logger.Error("multiple accounts match entitlement, keeping display name",
				"application", ent.Application,
				"nativeIdentity", *ent.NativeIdentity,
			)
		}
		return
	}
	if link.DisplayName != nil {
		u.SetDisplayName(link.DisplayName)
	}
}

// reconcileAssignment makes the identity's sticky assignment list
// agree with the decided flag, under the identity lock in its own
// short transaction.
func (r *RequestReconciler) reconcileAssignment(ctx context.Context, identityID string, ent *domain.Entitlement, attrReq *domain.AttributeRequest, assigned bool) error {
	if err := r.idents.Lock(ctx, identityID, r.owner); err != nil {
		return fmt.Errorf("lock identity %s: %w", identityID, err)
	}
	defer func() {
		if err := r.idents.Unlock(ctx, identityID, r.owner); err != nil {
			r.logger.Error("unlock identity failed", "identity", identityID, "error", err)
		}
	}()

	identity, err := r.idents.Get(ctx, identityID)
	if err != nil {
		return fmt.Errorf("reload identity %s: %w", identityID, err)
	}
	native := ""
	if ent.NativeIdentity != nil {
		native = *ent.NativeIdentity
	}
	instance := ""
	if ent.Instance != nil {
		instance = *ent.Instance
	}
	var changed bool
	if assigned {
		assignment := domain.AttributeAssignment{
			Application:    ent.Application,
			Instance:       instance,
			NativeIdentity: native,
			Name:           ent.Name,
			Value:          ent.Value,
			Source:         domain.SourceLCM,
			AssignmentID:   attrReq.AssignmentID,
			StartDate:      attrReq.StartDate,
			EndDate:        attrReq.EndDate,
		}
		if ent.Assigner != nil {
			assignment.Assigner = *ent.Assigner
		}
		changed = identity.AddAssignment(assignment)
	} else {
		changed = identity.RemoveAssignment(ent.Application, native, instance, ent.Name, ent.Value)
	}
	if !changed {
		return nil
	}
	if err := r.idents.Save(ctx, identity); err != nil {
		return fmt.Errorf("save identity %s: %w", identityID, err)
	}
	return nil
}

// resolveItem fetches the row by breadcrumb, falling back to a query.
func (r *RequestReconciler) resolveItem(ctx context.Context, identityID string, item *domain.RequestItem) (*domain.Entitlement, error) {
	if item.EntitlementID != "" {
		ent, err := r.ents.Get(ctx, item.EntitlementID)
		if err == nil {
			return ent, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
	}
	return r.findForItem(ctx, identityID, item)
}

// findForItem queries for the row matching an item's coordinates.
// Not found is a nil row, not an error; ambiguity is logged and
// treated as not found.
func (r *RequestReconciler) findForItem(ctx context.Context, identityID string, item *domain.RequestItem) (*domain.Entitlement, error) {
	ent, err := r.ents.FindUnique(ctx, r.itemPredicate(identityID, item, false))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, sentinel.ErrAmbiguous) {
			r.logger.Error("multiple entitlement rows match request item",
				"item", item.ID,
				"application", item.Application,
				"value", item.Value,
			)
			return nil, nil
		}
		return nil, err
	}
	return ent, nil
}

func (r *RequestReconciler) findIgnoringNativeIdentity(ctx context.Context, identityID string, item *domain.RequestItem) (*domain.Entitlement, error) {
	ent, err := r.ents.FindUnique(ctx, r.itemPredicate(identityID, item, true))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrAmbiguous) {
			return nil, nil
		}
		return nil, err
	}
	return ent, nil
}

// itemPredicate matches a row by the item's coordinates. When
// ignoreNative is set, a NULL native identity also matches, and an
// assignment id match substitutes for the account match.
func (r *RequestReconciler) itemPredicate(identityID string, item *domain.RequestItem, ignoreNative bool) store.Predicate {
	subs := []store.Predicate{
		store.Eq(domain.FieldIdentityID, identityID),
		store.Eq(domain.FieldApplication, item.Application),
		store.EqFold(domain.FieldName, item.Name),
		store.EqFold(domain.FieldValue, item.Value),
	}
	if item.Instance == "" && r.mode.NullEmptyEqual {
		subs = append(subs, store.IsNull(domain.FieldInstance))
	} else {
		subs = append(subs, store.EqFold(domain.FieldInstance, item.Instance))
	}
	nativePred := store.EqFold(domain.FieldNativeIdentity, item.NativeIdentity)
	if item.NativeIdentity == "" {
		nativePred = store.IsNull(domain.FieldNativeIdentity)
	}
	if ignoreNative {
		alternatives := []store.Predicate{nativePred, store.IsNull(domain.FieldNativeIdentity)}
		if item.AssignmentID != "" {
			alternatives = append(alternatives, store.Eq(domain.FieldAssignmentID, item.AssignmentID))
		}
		subs = append(subs, store.Or(alternatives...))
	} else {
		subs = append(subs, nativePred)
		if item.AssignmentID != "" {
			subs = append(subs, store.Eq(domain.FieldAssignmentID, item.AssignmentID))
		}
	}
	return store.And(subs...)
}

// newFromItem builds a fresh pending row for a request item. Nothing
// has been aggregated yet, so the row starts disconnected.
func (r *RequestReconciler) newFromItem(req *domain.AccessRequest, item *domain.RequestItem) *domain.Entitlement {
	ent := &domain.Entitlement{
		IdentityID:       req.TargetIdentityID,
		Application:      item.Application,
		Name:             item.Name,
		Value:            item.Value,
		Type:             domain.TypeEntitlement,
		Source:           domain.SourceLCM,
		AggregationState: domain.AggregationDisconnected,
	}
	if item.Instance != "" {
		ent.Instance = &item.Instance
	}
	if item.NativeIdentity != "" {
		ent.NativeIdentity = &item.NativeIdentity
	}
	if req.RequesterDisplayName != "" {
		ent.Assigner = domain.StrPtr(req.RequesterDisplayName)
	}
	assignmentID := item.AssignmentID
	if assignmentID == "" {
		assignmentID = req.Plan.AssignmentID()
	}
	if assignmentID != "" {
		ent.AssignmentID = &assignmentID
	}
	return ent
}
