// Package store defines the persistence contract shared by every
// aggregate: a small predicate AST, its SQL compiler, and in-memory
// evaluation for tests and caches.
package store

import (
	"fmt"
	"strings"
)

// Kind discriminates predicate nodes.
type Kind int

const (
	KindEq Kind = iota
	KindIn
	KindIsNull
	KindAnd
	KindOr
	KindNot
)

// Predicate is a query condition. Leaf nodes (Eq, In, IsNull) name a
// field; composite nodes (And, Or, Not) combine children. Fold marks
// a leaf as case-insensitive.
type Predicate struct {
	Kind   Kind
	Field  string
	Value  any
	Values []any
	Fold   bool
	Subs   []Predicate
}

// Eq matches field == value. A nil value matches NULL.
func Eq(field string, value any) Predicate {
	return Predicate{Kind: KindEq, Field: field, Value: value}
}

// EqFold is Eq with case-insensitive string comparison.
func EqFold(field string, value any) Predicate {
	return Predicate{Kind: KindEq, Field: field, Value: value, Fold: true}
}

// In matches field against any of values.
func In(field string, values ...any) Predicate {
	return Predicate{Kind: KindIn, Field: field, Values: values}
}

// InFold is In with case-insensitive string comparison.
func InFold(field string, values ...any) Predicate {
	return Predicate{Kind: KindIn, Field: field, Values: values, Fold: true}
}

// InStrings is In over a string slice.
func InStrings(field string, values []string) Predicate {
	return In(field, anySlice(values)...)
}

// InStringsFold is InFold over a string slice.
func InStringsFold(field string, values []string) Predicate {
	return InFold(field, anySlice(values)...)
}

// IsNull matches a NULL field.
func IsNull(field string) Predicate {
	return Predicate{Kind: KindIsNull, Field: field}
}

// And matches when every child matches. And() matches everything.
func And(subs ...Predicate) Predicate {
	return Predicate{Kind: KindAnd, Subs: subs}
}

// Or matches when any child matches.
func Or(subs ...Predicate) Predicate {
	return Predicate{Kind: KindOr, Subs: subs}
}

// Not negates a predicate.
func Not(sub Predicate) Predicate {
	return Predicate{Kind: KindNot, Subs: []Predicate{sub}}
}

func anySlice[S ~[]E, E any](s S) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// FieldGetter resolves a predicate field name to its value on some
// object. Multi-valued fields return a []string or []any; leaf
// predicates then match on membership.
type FieldGetter func(field string) any

// Match evaluates the predicate against the fields exposed by get.
func (p Predicate) Match(get FieldGetter) bool {
	switch p.Kind {
	case KindEq:
		return valueMatches(get(p.Field), p.Value, p.Fold)
	case KindIn:
		fv := get(p.Field)
		for _, v := range p.Values {
			if valueMatches(fv, v, p.Fold) {
				return true
			}
		}
		return false
	case KindIsNull:
		v := get(p.Field)
		return v == nil || isNilPointer(v)
	case KindAnd:
		for _, s := range p.Subs {
			if !s.Match(get) {
				return false
			}
		}
		return true
	case KindOr:
		for _, s := range p.Subs {
			if s.Match(get) {
				return true
			}
		}
		return false
	case KindNot:
		return !p.Subs[0].Match(get)
	default:
		return false
	}
}

// valueMatches compares a field value with a literal. Slice fields
// match when any element matches.
func valueMatches(field, literal any, fold bool) bool {
	switch fv := field.(type) {
	case []string:
		for _, e := range fv {
			if scalarEqual(e, literal, fold) {
				return true
			}
		}
		return false
	case []any:
		for _, e := range fv {
			if scalarEqual(e, literal, fold) {
				return true
			}
		}
		return false
	default:
		return scalarEqual(field, literal, fold)
	}
}

func scalarEqual(field, literal any, fold bool) bool {
	if sp, ok := field.(*string); ok {
		if sp == nil {
			field = nil
		} else {
			field = *sp
		}
	}
	if field == nil || literal == nil {
		return field == nil && literal == nil
	}
	fs, fok := field.(string)
	ls, lok := literal.(string)
	if fok && lok {
		if fold {
			return strings.EqualFold(fs, ls)
		}
		return fs == ls
	}
	return field == literal
}

func isNilPointer(v any) bool {
	if sp, ok := v.(*string); ok {
		return sp == nil
	}
	return false
}

// MapFields returns a copy of the predicate with every leaf field
// name rewritten. Stores use this to translate logical field names
// into column expressions.
func (p Predicate) MapFields(f func(string) string) Predicate {
	if p.Field != "" {
		p.Field = f(p.Field)
	}
	if len(p.Subs) > 0 {
		subs := make([]Predicate, len(p.Subs))
		for i, s := range p.Subs {
			subs[i] = s.MapFields(f)
		}
		p.Subs = subs
	}
	return p
}

// String renders the predicate for logs and correlation crumbs.
func (p Predicate) String() string {
	switch p.Kind {
	case KindEq:
		return fmt.Sprintf("%s = %v", p.Field, p.Value)
	case KindIn:
		return fmt.Sprintf("%s in %v", p.Field, p.Values)
	case KindIsNull:
		return p.Field + " is null"
	case KindAnd:
		return joinSubs(p.Subs, " && ")
	case KindOr:
		return joinSubs(p.Subs, " || ")
	case KindNot:
		return "!(" + p.Subs[0].String() + ")"
	default:
		return "?"
	}
}

func joinSubs(subs []Predicate, sep string) string {
	parts := make([]string, len(subs))
	for i, s := range subs {
		parts[i] = "(" + s.String() + ")"
	}
	return strings.Join(parts, sep)
}
