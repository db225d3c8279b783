package index

import "warden/internal/entitlement/key"

// Decision says what a certification decided about one entitlement.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionAdd
	DecisionRemove
)

// AssignmentMatcher resolves certification add/remove decisions by
// composite key. Built once per certification item from the decided
// key sets.
type AssignmentMatcher struct {
	adds    map[string]struct{}
	removes map[string]struct{}
}

// NewAssignmentMatcher builds a matcher from the decided keys.
func NewAssignmentMatcher(adds, removes []key.CompositeKey) *AssignmentMatcher {
	m := &AssignmentMatcher{
		adds:    make(map[string]struct{}, len(adds)),
		removes: make(map[string]struct{}, len(removes)),
	}
	for _, k := range adds {
		m.adds[k.MapKey()] = struct{}{}
	}
	for _, k := range removes {
		m.removes[k.MapKey()] = struct{}{}
	}
	return m
}

// Match returns the decision for one key. Removes win over adds when
// both sets carry the key, since a removal decision is the one that
// must not be lost.
func (m *AssignmentMatcher) Match(k key.CompositeKey) Decision {
	mk := k.MapKey()
	if _, ok := m.removes[mk]; ok {
		return DecisionRemove
	}
	if _, ok := m.adds[mk]; ok {
		return DecisionAdd
	}
	return DecisionNone
}

// Empty reports whether the matcher carries no decisions.
func (m *AssignmentMatcher) Empty() bool {
	return len(m.adds) == 0 && len(m.removes) == 0
}
