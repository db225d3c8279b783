// Package index builds the per-identity entitlement lookup used
// during certification and request reconciliation. One index serves
// one identity; workers rebuild it per identity rather than sharing
// a global structure.
package index

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"warden/internal/domain"
	"warden/internal/entitlement/key"
	"warden/internal/platform/store"
)

// Querier is the slice of the entitlement store the index reads.
type Querier interface {
	FindAll(ctx context.Context, p store.Predicate, opts ...store.QueryOption) ([]*domain.Entitlement, error)
}

// Index is a per-identity entitlement lookup with a query cache for
// account-scoped reads and lazily loaded role membership rows.
type Index struct {
	identityID string
	store      Querier
	logger     *slog.Logger
	mode       key.Mode

	byKey map[string]*domain.Entitlement

	queryCache map[string][]*domain.Entitlement

	assignedLoaded bool
	assigned       []*domain.Entitlement
	detectedLoaded bool
	detected       []*domain.Entitlement
}

// Option configures the Index.
type Option func(*Index)

// WithLogger sets a logger for duplicate-row warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Index) { x.logger = logger }
}

// WithMode sets the null-vs-empty instance matching mode.
func WithMode(mode key.Mode) Option {
	return func(x *Index) { x.mode = mode }
}

// New creates an index for one identity.
func New(q Querier, identityID string, opts ...Option) *Index {
	x := &Index{
		identityID: identityID,
		store:      q,
		logger:     slog.Default(),
		mode:       key.DefaultMode,
		byKey:      make(map[string]*domain.Entitlement),
		queryCache: make(map[string][]*domain.Entitlement),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Load pulls every non-role entitlement row of the identity into the
// key map. Duplicate keys keep the last row seen and log a warning;
// duplicates are a data problem, not a reason to fail.
func (x *Index) Load(ctx context.Context) error {
	rows, err := x.store.FindAll(ctx, store.And(
		store.Eq(domain.FieldIdentityID, x.identityID),
		key.NotRolePredicate(),
	))
	if err != nil {
		return err
	}
	for _, row := range rows {
		k := key.ForEntitlement(row).MapKey()
		if _, dup := x.byKey[k]; dup {
			x.logger.Warn("duplicate entitlement row, keeping last",
				"identity", x.identityID,
				"application", row.Application,
				"name", row.Name,
				"value", row.Value,
			)
		}
		x.byKey[k] = row
	}
	return nil
}

// Find returns the entitlement row for a key, nil when the identity
// does not hold it.
func (x *Index) Find(k key.CompositeKey) *domain.Entitlement {
	return x.byKey[k.MapKey()]
}

// Size reports how many distinct keys are loaded.
func (x *Index) Size() int { return len(x.byKey) }

// AccountValues returns the entitlement rows of one account attribute
// restricted to a value set, caching the query for repeated snapshot
// expansion against the same account.
func (x *Index) AccountValues(ctx context.Context, app, nativeIdentity, instance, name string, values []string) ([]*domain.Entitlement, error) {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	cacheKey := strings.Join(append([]string{app, strings.ToUpper(nativeIdentity), instance, name}, sorted...), "\x1f")
	if rows, ok := x.queryCache[cacheKey]; ok {
		return rows, nil
	}
	rows, err := x.store.FindAll(ctx, store.And(
		key.AccountPredicate(x.identityID, app, nativeIdentity, instance, x.mode),
		key.ValueFilter(name, values),
		key.NotRolePredicate(),
	))
	if err != nil {
		return nil, err
	}
	x.queryCache[cacheKey] = rows
	return rows, nil
}

// RoleEntitlement finds the role membership row for one role name on
// the given role attribute, optionally pinned to an assignment id.
func (x *Index) RoleEntitlement(ctx context.Context, attrName, roleName, assignmentID string) (*domain.Entitlement, error) {
	rows, err := x.roleRows(ctx, attrName)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if !strings.EqualFold(row.Value, roleName) {
			continue
		}
		if assignmentID != "" && !ptrEquals(row.AssignmentID, assignmentID) {
			continue
		}
		return row, nil
	}
	return nil, nil
}

// DetectedSharingAssignment returns detected-role rows carrying the
// assignment id. An assigned role's certification covers the detected
// roles it caused.
func (x *Index) DetectedSharingAssignment(ctx context.Context, assignmentID string) ([]*domain.Entitlement, error) {
	if assignmentID == "" {
		return nil, nil
	}
	rows, err := x.roleRows(ctx, domain.AttrDetectedRoles)
	if err != nil {
		return nil, err
	}
	var out []*domain.Entitlement
	for _, row := range rows {
		if ptrEquals(row.AssignmentID, assignmentID) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (x *Index) roleRows(ctx context.Context, attrName string) ([]*domain.Entitlement, error) {
	switch attrName {
	case domain.AttrAssignedRoles:
		if !x.assignedLoaded {
			rows, err := x.loadRole(ctx, domain.AttrAssignedRoles)
			if err != nil {
				return nil, err
			}
			x.assigned, x.assignedLoaded = rows, true
		}
		return x.assigned, nil
	case domain.AttrDetectedRoles:
		if !x.detectedLoaded {
			rows, err := x.loadRole(ctx, domain.AttrDetectedRoles)
			if err != nil {
				return nil, err
			}
			x.detected, x.detectedLoaded = rows, true
		}
		return x.detected, nil
	default:
		return nil, nil
	}
}

func (x *Index) loadRole(ctx context.Context, attrName string) ([]*domain.Entitlement, error) {
	return x.store.FindAll(ctx, store.And(
		store.Eq(domain.FieldIdentityID, x.identityID),
		store.EqFold(domain.FieldName, attrName),
	))
}

func ptrEquals(p *string, s string) bool {
	return p != nil && *p == s
}
