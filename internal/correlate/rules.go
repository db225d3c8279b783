package correlate

import (
	"context"
	"fmt"

	"warden/internal/domain"
	idstore "warden/internal/identity/store"
	"warden/internal/platform/store"
)

// Rule result keys. A correlation rule returns a map carrying one of
// the identity selectors, optionally with a crumb override.
const (
	ruleKeyAttributeName  = "identityAttributeName"
	ruleKeyAttributeValue = "identityAttributeValue"
	ruleKeyIdentityName   = "identityName"
	ruleKeyIdentity       = "identity"
	ruleKeyCrumb          = "correlationAttribute"
	ruleKeyOperator       = "multiValuedOperator"
)

// byRules runs the configured rules in order and interprets the
// first non-nil result. A rule returning anything but a map is a
// configuration error and aborts correlation.
func (e *Engine) byRules(ctx context.Context, cfg *Config, account *domain.Link) (*Result, error) {
	for _, name := range cfg.Rules {
		out, err := e.runner.Run(ctx, name, map[string]any{"link": account})
		if err != nil {
			return nil, fmt.Errorf("run correlation rule %q: %w", name, err)
		}
		if out == nil {
			continue
		}
		result, ok := out.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("correlation rule %q did not return a map", name)
		}
		return e.processRuleResult(ctx, name, result)
	}
	return nil, nil
}

func (e *Engine) processRuleResult(ctx context.Context, ruleName string, result map[string]any) (*Result, error) {
	crumb, _ := result[ruleKeyCrumb].(string)

	if raw, ok := result[ruleKeyIdentity]; ok && raw != nil {
		identity, ok := raw.(*domain.Identity)
		if !ok {
			return nil, fmt.Errorf("correlation rule %q returned a non-identity object", ruleName)
		}
		// Re-fetch so the lock is taken against current state, not
		// whatever copy the rule held.
		fresh, err := e.findOne(ctx, store.Eq(idstore.IdentityFieldID, identity.ID))
		if err != nil || fresh == nil {
			return nil, err
		}
		if err := e.lock(ctx, fresh); err != nil {
			return nil, err
		}
		if crumb == "" {
			crumb = "identity = " + fresh.Name
		}
		return &Result{Identity: fresh, Attribute: crumb}, nil
	}

	if name, ok := result[ruleKeyIdentityName].(string); ok && name != "" {
		identity, err := e.findOne(ctx, store.Eq(idstore.IdentityFieldName, name))
		if err != nil || identity == nil {
			return nil, err
		}
		if err := e.lock(ctx, identity); err != nil {
			return nil, err
		}
		if crumb == "" {
			crumb = "identityName = " + name
		}
		return &Result{Identity: identity, Attribute: crumb}, nil
	}

	if attr, ok := result[ruleKeyAttributeName].(string); ok && attr != "" {
		value := result[ruleKeyAttributeValue]
		if value == nil {
			return nil, fmt.Errorf("correlation rule %q named attribute %q without a value", ruleName, attr)
		}
		operator := OperatorAnd
		if op, ok := result[ruleKeyOperator].(string); ok && MultiValuedOperator(op) == OperatorOr {
			operator = OperatorOr
		}
		pred, display := pairPredicate(AttributePair{IdentityAttribute: attr, Operator: operator}, value)
		identity, err := e.findOne(ctx, pred)
		if err != nil || identity == nil {
			return nil, err
		}
		if err := e.lock(ctx, identity); err != nil {
			return nil, err
		}
		if crumb == "" {
			crumb = display
		}
		return &Result{Identity: identity, Attribute: crumb}, nil
	}

	return nil, fmt.Errorf("correlation rule %q returned no identity selector", ruleName)
}
