package diff

import (
	"context"
	"errors"
	"log/slog"

	"warden/internal/domain"
	idstore "warden/internal/identity/store"
	"warden/pkg/platform/sentinel"
)

// Permission attribute names on link snapshots. They are diffed
// per-right, never as plain attributes.
const (
	AttrDirectPermissions = "directPermissions"
	AttrTargetPermissions = "targetPermissions"
)

var permissionAttrs = []string{AttrDirectPermissions, AttrTargetPermissions}

// LinkDifference describes how one account changed between
// snapshots.
type LinkDifference struct {
	// Context names the account: the application, plus the native
	// identity when the identity holds several accounts there.
	Context string

	// Removed and Added mark accounts present on only one side.
	Removed bool
	Added   bool

	Differences           []Difference
	PermissionDifferences []PermissionDifference
}

// PermissionDifference is one right gained or lost on one target.
type PermissionDifference struct {
	Target  string
	Right   string
	Removed bool
}

// IdentityDifference is the full delta between two identity
// snapshots, scoped to one application when requested.
type IdentityDifference struct {
	AttributeDifferences []Difference

	BundleDifference       *Difference
	AssignedRoleDifference *Difference
	ViolationDifference    *Difference

	LinkDifferences []LinkDifference
}

// Empty reports whether nothing changed.
func (d *IdentityDifference) Empty() bool {
	return len(d.AttributeDifferences) == 0 &&
		d.BundleDifference == nil &&
		d.AssignedRoleDifference == nil &&
		d.ViolationDifference == nil &&
		len(d.LinkDifferences) == 0
}

// Differ computes identity snapshot deltas. Role lookups scope bundle
// diffs to the application being refreshed.
type Differ struct {
	roles        idstore.RoleStore
	logger       *slog.Logger
	opts         DiffOptions
	displayNames map[string]string
}

// DifferOption configures the Differ.
type DifferOption func(*Differ)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DifferOption {
	return func(d *Differ) { d.logger = logger }
}

// WithDiffOptions overrides the default diff options.
func WithDiffOptions(opts DiffOptions) DifferOption {
	return func(d *Differ) { d.opts = opts }
}

// WithAttributeDisplayNames maps identity attribute names to the
// display names stamped onto attribute differences. Attributes
// without a mapping keep only their raw name.
func WithAttributeDisplayNames(names map[string]string) DifferOption {
	return func(d *Differ) { d.displayNames = names }
}

// New creates a Differ.
func New(roles idstore.RoleStore, opts ...DifferOption) *Differ {
	d := &Differ{
		roles:  roles,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DiffIdentity compares two snapshots. application scopes role and
// account diffs to one application; empty means everything.
func (d *Differ) DiffIdentity(ctx context.Context, prev, cur *domain.IdentitySnapshot, application string, includeViolations bool) (*IdentityDifference, error) {
	out := &IdentityDifference{}
	if prev == nil {
		prev = &domain.IdentitySnapshot{}
	}
	if cur == nil {
		cur = &domain.IdentitySnapshot{}
	}

	out.AttributeDifferences = DiffMaps(prev.Attributes, cur.Attributes, d.opts)
	for i := range out.AttributeDifferences {
		if name, ok := d.displayNames[out.AttributeDifferences[i].Attribute]; ok {
			out.AttributeDifferences[i].DisplayName = name
		}
	}

	bundlePrev, err := d.filterRoleNames(ctx, prev.BundleNames, application)
	if err != nil {
		return nil, err
	}
	bundleCur, err := d.filterRoleNames(ctx, cur.BundleNames, application)
	if err != nil {
		return nil, err
	}
	out.BundleDifference = Diff("bundles", bundlePrev, bundleCur, d.opts)

	assignedPrev, err := d.filterRoleNames(ctx, roleNames(prev.AssignedRoleSnapshots), application)
	if err != nil {
		return nil, err
	}
	assignedCur, err := d.filterRoleNames(ctx, roleNames(cur.AssignedRoleSnapshots), application)
	if err != nil {
		return nil, err
	}
	out.AssignedRoleDifference = Diff("assignedRoles", assignedPrev, assignedCur, d.opts)

	if includeViolations {
		out.ViolationDifference = Diff("policyViolations",
			violationNames(prev.Violations), violationNames(cur.Violations), d.opts)
	}

	out.LinkDifferences = d.diffLinks(prev.LinkSnapshots, cur.LinkSnapshots, application)
	return out, nil
}

// filterRoleNames keeps roles that grant something on the
// application. Unknown roles are kept: a dangling name is itself a
// change worth reporting.
func (d *Differ) filterRoleNames(ctx context.Context, names []string, application string) ([]string, error) {
	if application == "" || len(names) == 0 {
		return names, nil
	}
	var out []string
	for _, name := range names {
		role, err := d.roles.GetByName(ctx, name)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				d.logger.Warn("snapshot references unknown role", "role", name)
				out = append(out, name)
				continue
			}
			return nil, err
		}
		if role.ReferencesApplication(application) {
			out = append(out, name)
		}
	}
	return out, nil
}

func roleNames(snaps []domain.RoleAssignmentSnapshot) []string {
	var out []string
	for _, s := range snaps {
		out = append(out, s.Name)
	}
	return out
}

func violationNames(violations []domain.PolicyViolation) []string {
	var out []string
	for _, v := range violations {
		name := v.DisplayName
		if name == "" {
			name = v.PolicyName
		}
		out = append(out, name)
	}
	return out
}

// diffLinks matches accounts across snapshots by application and
// native identity. Accounts on only one side are whole additions or
// removals; matched accounts get attribute and permission diffs.
func (d *Differ) diffLinks(prev, cur []domain.LinkSnapshot, application string) []LinkDifference {
	prev = filterLinks(prev, application)
	cur = filterLinks(cur, application)

	multi := countByApp(prev, cur)
	var out []LinkDifference

	matched := make([]bool, len(cur))
	for _, p := range prev {
		idx := matchLink(p, cur, matched)
		if idx < 0 {
			out = append(out, LinkDifference{
				Context: linkContext(p, multi),
				Removed: true,
			})
			continue
		}
		matched[idx] = true
		ld := d.diffLinkPair(p, cur[idx], multi)
		if ld != nil {
			out = append(out, *ld)
		}
	}
	for i, c := range cur {
		if !matched[i] {
			out = append(out, LinkDifference{
				Context: linkContext(c, multi),
				Added:   true,
			})
		}
	}
	return out
}

func (d *Differ) diffLinkPair(prev, cur domain.LinkSnapshot, multi map[string]bool) *LinkDifference {
	opts := d.opts
	opts.Exclusions = append(append([]string(nil), opts.Exclusions...), permissionAttrs...)
	diffs := DiffMaps(prev.Attributes, cur.Attributes, opts)
	perms := diffPermissions(permissions(prev), permissions(cur))
	if len(diffs) == 0 && len(perms) == 0 {
		return nil
	}
	return &LinkDifference{
		Context:               linkContext(cur, multi),
		Differences:           diffs,
		PermissionDifferences: perms,
	}
}

// diffPermissions matches permissions by target and reports each
// right gained or lost.
func diffPermissions(prev, cur []domain.Permission) []PermissionDifference {
	var out []PermissionDifference
	curByTarget := make(map[string][]string)
	for _, p := range cur {
		curByTarget[p.Target] = append(curByTarget[p.Target], p.Rights...)
	}
	prevByTarget := make(map[string][]string)
	for _, p := range prev {
		prevByTarget[p.Target] = append(prevByTarget[p.Target], p.Rights...)
	}
	for target, rights := range prevByTarget {
		for _, r := range subtract(rights, curByTarget[target], false) {
			out = append(out, PermissionDifference{Target: target, Right: r, Removed: true})
		}
	}
	for target, rights := range curByTarget {
		for _, r := range subtract(rights, prevByTarget[target], false) {
			out = append(out, PermissionDifference{Target: target, Right: r})
		}
	}
	return out
}

func permissions(l domain.LinkSnapshot) []domain.Permission {
	var out []domain.Permission
	for _, attr := range permissionAttrs {
		if perms, ok := l.Attributes[attr].([]domain.Permission); ok {
			out = append(out, perms...)
		}
	}
	return out
}

func filterLinks(links []domain.LinkSnapshot, application string) []domain.LinkSnapshot {
	if application == "" {
		return links
	}
	var out []domain.LinkSnapshot
	for _, l := range links {
		if l.Application == application {
			out = append(out, l)
		}
	}
	return out
}

// matchLink pairs a previous account with the unmatched current
// account on the same application and native identity, falling back
// to application alone.
func matchLink(p domain.LinkSnapshot, cur []domain.LinkSnapshot, matched []bool) int {
	for i, c := range cur {
		if !matched[i] && c.Application == p.Application && c.NativeIdentity == p.NativeIdentity {
			return i
		}
	}
	for i, c := range cur {
		if !matched[i] && c.Application == p.Application {
			return i
		}
	}
	return -1
}

func countByApp(prev, cur []domain.LinkSnapshot) map[string]bool {
	counts := make(map[string]int)
	for _, l := range prev {
		counts[l.Application]++
	}
	for _, l := range cur {
		counts[l.Application]++
	}
	multi := make(map[string]bool, len(counts))
	for app, n := range counts {
		multi[app] = n > 2
	}
	return multi
}

// linkContext names the account in difference output.
func linkContext(l domain.LinkSnapshot, multi map[string]bool) string {
	if multi[l.Application] {
		return l.Application + "/" + l.SimpleIdentity()
	}
	return l.Application
}
