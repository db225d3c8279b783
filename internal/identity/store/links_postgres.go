package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"warden/internal/domain"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
)

var linkColumns = []string{
	"id", "identity_id", "application", "instance", "native_identity",
	"uuid", "display_name", "attributes", "key1", "key2", "key3", "key4",
	"direct_permissions", "target_permissions",
}

func linkColumn(field string) string {
	switch field {
	case "id", "identity_id", "application", "instance", "native_identity",
		"uuid", "display_name", "key1", "key2", "key3", "key4":
		return field
	default:
		return "attributes->>'" + field + "'"
	}
}

// PostgresLinks is the database-backed account store.
type PostgresLinks struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewPostgresLinks creates a postgres account store.
func NewPostgresLinks(db *sql.DB) *PostgresLinks {
	return &PostgresLinks{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// Get fetches one account by id.
func (p *PostgresLinks) Get(ctx context.Context, id string) (*domain.Link, error) {
	return p.FindUnique(ctx, store.Eq("id", id))
}

// FindAll returns accounts matching pred.
func (p *PostgresLinks) FindAll(ctx context.Context, pred store.Predicate, opts ...store.QueryOption) ([]*domain.Link, error) {
	where, err := store.ToSQL(pred.MapFields(linkColumn))
	if err != nil {
		return nil, fmt.Errorf("compile predicate: %w", err)
	}
	q := p.sb.Select(linkColumns...).From("links").Where(where)
	if o := store.BuildOptions(opts); o.Limit > 0 {
		q = q.Limit(uint64(o.Limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []*domain.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// FindUnique returns the single account matching pred.
func (p *PostgresLinks) FindUnique(ctx context.Context, pred store.Predicate) (*domain.Link, error) {
	matches, err := p.FindAll(ctx, pred, store.Limit(2))
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, sentinel.ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("multiple links: %w", sentinel.ErrAmbiguous)
	}
}

// Count returns the number of matching accounts.
func (p *PostgresLinks) Count(ctx context.Context, pred store.Predicate) (int, error) {
	where, err := store.ToSQL(pred.MapFields(linkColumn))
	if err != nil {
		return 0, fmt.Errorf("compile predicate: %w", err)
	}
	sqlStr, args, err := p.sb.Select("COUNT(*)").From("links").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := p.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count links: %w", err)
	}
	return n, nil
}

// SearchProjection returns the named columns of matching accounts.
func (p *PostgresLinks) SearchProjection(ctx context.Context, fields []string, pred store.Predicate, opts ...store.QueryOption) ([][]any, error) {
	where, err := store.ToSQL(pred.MapFields(linkColumn))
	if err != nil {
		return nil, fmt.Errorf("compile predicate: %w", err)
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = linkColumn(f)
	}
	q := p.sb.Select(cols...).From("links").Where(where)
	if o := store.BuildOptions(opts); o.Limit > 0 {
		q = q.Limit(uint64(o.Limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build projection: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("projection query: %w", err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		row := make([]any, len(fields))
		ptrs := make([]any, len(fields))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan projection: %w", err)
		}
		// lib/pq hands text columns back as []byte.
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanLink(rows *sql.Rows) (*domain.Link, error) {
	var l domain.Link
	var attrs, direct, target []byte
	err := rows.Scan(&l.ID, &l.IdentityID, &l.Application, &l.Instance, &l.NativeIdentity,
		&l.UUID, &l.DisplayName, &attrs, &l.Key1, &l.Key2, &l.Key3, &l.Key4,
		&direct, &target)
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	if err := json.Unmarshal(attrs, &l.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if err := json.Unmarshal(direct, &l.DirectPermissions); err != nil {
		return nil, fmt.Errorf("decode direct permissions: %w", err)
	}
	if err := json.Unmarshal(target, &l.TargetPermissions); err != nil {
		return nil, fmt.Errorf("decode target permissions: %w", err)
	}
	return &l, nil
}
