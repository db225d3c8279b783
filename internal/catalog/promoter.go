package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"warden/internal/audit"
	"warden/internal/catalog/metrics"
	"warden/internal/domain"
	"warden/pkg/platform/sentinel"
)

// Promoter discovers catalog entries from aggregated accounts: every
// value of a managed schema attribute, and every permission target,
// becomes a catalog candidate.
type Promoter struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Publisher

	promotePermissions bool
}

// PromoterOption configures the Promoter.
type PromoterOption func(*Promoter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PromoterOption {
	return func(p *Promoter) { p.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) PromoterOption {
	return func(p *Promoter) { p.metrics = m }
}

// WithoutPermissionPromotion disables permission discovery.
func WithoutPermissionPromotion() PromoterOption {
	return func(p *Promoter) { p.promotePermissions = false }
}

// WithAuditor sets the audit publisher for promoted entries.
func WithAuditor(auditor audit.Publisher) PromoterOption {
	return func(p *Promoter) { p.auditor = auditor }
}

// NewPromoter creates a catalog promoter.
func NewPromoter(store Store, opts ...PromoterOption) *Promoter {
	p := &Promoter{
		store:              store,
		logger:             slog.Default(),
		auditor:            audit.Nop{},
		promotePermissions: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PromoteLink walks an account's managed attributes and permissions,
// bootstrapping a catalog entry for every value not yet known.
// Returns how many entries were created.
func (p *Promoter) PromoteLink(ctx context.Context, app *domain.Application, link *domain.Link) (int, error) {
	var created int
	for _, attr := range app.AccountSchema.ManagedAttributes() {
		for _, value := range valueList(link.Attribute(attr.Name)) {
			candidate := &domain.ManagedAttribute{
				Type:        domain.TypeEntitlement,
				Application: app.Name,
				Attribute:   attr.Name,
				Value:       value,
				Requestable: attr.Entitlement,
			}
			ma, err := p.BootstrapIfNew(ctx, candidate)
			if err != nil {
				return created, err
			}
			if ma != nil {
				created++
			}
		}
	}
	if p.promotePermissions {
		n, err := p.promoteLinkPermissions(ctx, app, link)
		created += n
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

func (p *Promoter) promoteLinkPermissions(ctx context.Context, app *domain.Application, link *domain.Link) (int, error) {
	var created int
	perms := append(append([]domain.Permission(nil), link.DirectPermissions...), link.TargetPermissions...)
	for _, perm := range perms {
		if perm.Target == "" {
			continue
		}
		candidate := &domain.ManagedAttribute{
			Type:        domain.TypePermission,
			Application: app.Name,
			Value:       perm.Target,
		}
		ma, err := p.BootstrapIfNew(ctx, candidate)
		if err != nil {
			return created, err
		}
		if ma != nil {
			created++
		}
	}
	return created, nil
}

// BootstrapIfNew creates a catalog entry unless one already exists.
// Returns the created entry, or nil when nothing was created: the
// candidate was invalid, the entry existed, or another writer created
// it in the race window. The race is expected under concurrent
// aggregation and only a counter records it.
func (p *Promoter) BootstrapIfNew(ctx context.Context, candidate *domain.ManagedAttribute) (*domain.ManagedAttribute, error) {
	if !candidate.Valid() {
		p.logger.Warn("invalid catalog candidate, skipping",
			"application", candidate.Application,
			"attribute", candidate.Attribute,
			"value", candidate.Value,
		)
		return nil, nil
	}
	_, err := p.store.Lookup(ctx, candidate.Type, candidate.Application, candidate.Attribute, candidate.Value)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}

	candidate.ID = uuid.NewString()
	candidate.Created = time.Now()
	if err := p.store.Create(ctx, candidate); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Someone else created it between our lookup and insert.
			if p.metrics != nil {
				p.metrics.UniqueViolation()
			}
			return nil, nil
		}
		return nil, fmt.Errorf("bootstrap catalog entry: %w", err)
	}
	if p.metrics != nil {
		p.metrics.Created(candidate.Application)
	}
	p.auditor.Emit(ctx, audit.Event{
		Action:      audit.ActionCatalogPromoted,
		Application: candidate.Application,
		Attribute:   candidate.Attribute,
		Value:       candidate.Value,
	})
	return candidate, nil
}

func valueList(v any) []string {
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
