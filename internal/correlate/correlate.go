// Package correlate decides which identity owns an aggregated
// account. Strategies run in a fixed order and the first hit wins:
// direct assignments, then identity/account attribute pairs, then
// correlation rules.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"warden/internal/audit"
	"warden/internal/domain"
	idstore "warden/internal/identity/store"
	"warden/internal/platform/store"
	"warden/internal/rule"
	"warden/pkg/platform/sentinel"

	"warden/internal/correlate/metrics"
)

// Condition is one AND-ed leaf of a direct assignment: the account
// attribute must equal the value.
type Condition struct {
	AccountAttribute string
	Value            string
}

// DirectAssignment pins accounts matching all conditions to a named
// identity.
type DirectAssignment struct {
	IdentityName string
	Conditions   []Condition
}

// MultiValuedOperator combines per-value predicates when a
// multi-valued account value is matched against an identity
// attribute.
type MultiValuedOperator string

const (
	OperatorAnd MultiValuedOperator = "AND"
	OperatorOr  MultiValuedOperator = "OR"
)

// AttributePair matches an account attribute value against an
// identity attribute.
type AttributePair struct {
	IdentityAttribute string
	AccountAttribute  string
	Operator          MultiValuedOperator
}

// Config is the correlation configuration of one application.
type Config struct {
	DirectAssignments []DirectAssignment
	AttributePairs    []AttributePair
	// Rules are run in order; the first non-nil result wins.
	Rules []string
}

// Result is a correlation hit: the owning identity plus the crumb
// recording how it was found.
type Result struct {
	Identity  *domain.Identity
	Attribute string
}

// Engine runs the correlation strategies.
type Engine struct {
	idents  idstore.IdentityStore
	links   idstore.LinkStore
	runner  rule.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Publisher
	locking bool
	owner   string
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAuditor sets the audit publisher for correlation hits.
func WithAuditor(auditor audit.Publisher) Option {
	return func(e *Engine) { e.auditor = auditor }
}

// WithLocking makes correlation hits lock the identity, claiming it
// for the aggregation pass that asked.
func WithLocking(owner string) Option {
	return func(e *Engine) {
		e.locking = true
		e.owner = owner
	}
}

// New creates a correlation engine.
func New(idents idstore.IdentityStore, links idstore.LinkStore, runner rule.Runner, opts ...Option) *Engine {
	e := &Engine{
		idents:  idents,
		links:   links,
		runner:  runner,
		logger:  slog.Default(),
		auditor: audit.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Correlate finds the identity owning an account, nil when no
// strategy produced a single owner.
func (e *Engine) Correlate(ctx context.Context, cfg *Config, account *domain.Link) (*Result, error) {
	if cfg == nil || account == nil {
		return nil, nil
	}
	start := time.Now()
	res, strategy, err := e.correlate(ctx, cfg, account)
	if e.metrics != nil {
		e.metrics.Observe(strategy, res != nil, time.Since(start))
	}
	if res != nil {
		e.auditor.Emit(ctx, audit.Event{
			Action:         audit.ActionIdentityCorrelated,
			Identity:       res.Identity.Name,
			Application:    account.Application,
			NativeIdentity: account.NativeIdentity,
			Attribute:      res.Attribute,
			Source:         strategy,
		})
	}
	return res, err
}

func (e *Engine) correlate(ctx context.Context, cfg *Config, account *domain.Link) (*Result, string, error) {
	res, err := e.byDirectAssignment(ctx, cfg, account)
	if err != nil || res != nil {
		return res, "direct", err
	}
	res, err = e.byAttributePairs(ctx, cfg, account)
	if err != nil || res != nil {
		return res, "attribute", err
	}
	res, err = e.byRules(ctx, cfg, account)
	return res, "rule", err
}

// byDirectAssignment checks each assignment's conditions against the
// account. All conditions of an assignment must hold.
func (e *Engine) byDirectAssignment(ctx context.Context, cfg *Config, account *domain.Link) (*Result, error) {
	for _, da := range cfg.DirectAssignments {
		if len(da.Conditions) == 0 || !conditionsMatch(da.Conditions, account) {
			continue
		}
		identity, err := e.findOne(ctx, store.Eq(idstore.IdentityFieldName, da.IdentityName))
		if err != nil {
			return nil, err
		}
		if identity == nil {
			continue
		}
		if err := e.lock(ctx, identity); err != nil {
			return nil, err
		}
		return &Result{Identity: identity, Attribute: "Condition Based"}, nil
	}
	return nil, nil
}

func conditionsMatch(conds []Condition, account *domain.Link) bool {
	for _, c := range conds {
		if !store.EqFold(c.AccountAttribute, c.Value).Match(func(f string) any {
			return domain.LinkField(account, f)
		}) {
			return false
		}
	}
	return true
}

// byAttributePairs resolves each pair's account value and looks for
// exactly one identity carrying it. Zero or several matches move on
// to the next pair rather than guessing.
func (e *Engine) byAttributePairs(ctx context.Context, cfg *Config, account *domain.Link) (*Result, error) {
	for _, pair := range cfg.AttributePairs {
		value := account.Attribute(pair.AccountAttribute)
		if value == nil {
			continue
		}
		pred, display := pairPredicate(pair, value)
		n, err := e.idents.Count(ctx, pred)
		if err != nil {
			return nil, fmt.Errorf("count candidates for %s: %w", pair.IdentityAttribute, err)
		}
		if n != 1 {
			if n > 1 {
				e.logger.Warn("attribute pair matched several identities, skipping",
					"attribute", pair.IdentityAttribute,
					"matches", n,
				)
			}
			continue
		}
		identity, err := e.findOne(ctx, pred)
		if err != nil || identity == nil {
			return nil, err
		}
		if err := e.lock(ctx, identity); err != nil {
			return nil, err
		}
		return &Result{Identity: identity, Attribute: display}, nil
	}
	return nil, nil
}

func pairPredicate(pair AttributePair, value any) (store.Predicate, string) {
	values := asStrings(value)
	if len(values) > 1 {
		subs := make([]store.Predicate, len(values))
		for i, v := range values {
			subs[i] = store.EqFold(pair.IdentityAttribute, v)
		}
		combined := store.And(subs...)
		if pair.Operator == OperatorOr {
			combined = store.Or(subs...)
		}
		return combined, fmt.Sprintf("%s = %v", pair.IdentityAttribute, values)
	}
	v := ""
	if len(values) == 1 {
		v = values[0]
	}
	return store.EqFold(pair.IdentityAttribute, v), fmt.Sprintf("%s = %s", pair.IdentityAttribute, v)
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// findOne fetches the single identity matching pred. Several matches
// are a data problem: log the multiplicity and correlate nothing.
func (e *Engine) findOne(ctx context.Context, pred store.Predicate) (*domain.Identity, error) {
	identity, err := e.idents.FindUnique(ctx, pred)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, sentinel.ErrAmbiguous) {
			e.logger.Error("correlation matched several identities", "predicate", pred.String())
			return nil, nil
		}
		return nil, err
	}
	return identity, nil
}

func (e *Engine) lock(ctx context.Context, identity *domain.Identity) error {
	if !e.locking {
		return nil
	}
	if err := e.idents.Lock(ctx, identity.ID, e.owner); err != nil {
		return fmt.Errorf("lock correlated identity %s: %w", identity.ID, err)
	}
	return nil
}
