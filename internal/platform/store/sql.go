package store

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// ToSQL compiles a predicate into a squirrel expression. Fold leaves
// lower() both sides, which the case-insensitive expression indexes
// on the entitlement tables are built for.
func ToSQL(p Predicate) (sq.Sqlizer, error) {
	switch p.Kind {
	case KindEq:
		if p.Value == nil {
			return sq.Eq{p.Field: nil}, nil
		}
		if p.Fold {
			if s, ok := p.Value.(string); ok {
				return sq.Expr("lower("+p.Field+") = lower(?)", s), nil
			}
		}
		return sq.Eq{p.Field: p.Value}, nil
	case KindIn:
		if len(p.Values) == 0 {
			return sq.Expr("1 = 0"), nil
		}
		if p.Fold {
			return foldIn(p.Field, p.Values), nil
		}
		return sq.Eq{p.Field: p.Values}, nil
	case KindIsNull:
		return sq.Eq{p.Field: nil}, nil
	case KindAnd:
		conj := make(sq.And, 0, len(p.Subs))
		for _, s := range p.Subs {
			c, err := ToSQL(s)
			if err != nil {
				return nil, err
			}
			conj = append(conj, c)
		}
		return conj, nil
	case KindOr:
		disj := make(sq.Or, 0, len(p.Subs))
		for _, s := range p.Subs {
			c, err := ToSQL(s)
			if err != nil {
				return nil, err
			}
			disj = append(disj, c)
		}
		return disj, nil
	case KindNot:
		inner, err := ToSQL(p.Subs[0])
		if err != nil {
			return nil, err
		}
		sqlStr, args, err := inner.ToSql()
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT ("+sqlStr+")", args...), nil
	default:
		return nil, fmt.Errorf("unknown predicate kind %d", p.Kind)
	}
}

func foldIn(field string, values []any) sq.Sqlizer {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "lower(?)"
		args[i] = v
	}
	return sq.Expr("lower("+field+") IN ("+strings.Join(placeholders, ", ")+")", args...)
}
