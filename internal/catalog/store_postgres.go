package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"warden/internal/domain"
	"warden/pkg/platform/sentinel"
)

// uniqueViolation is the postgres error code for a unique constraint
// breach. Bootstrap races surface as this code.
const uniqueViolation = "23505"

var catalogColumns = []string{
	"id", "type", "application", "attribute", "value",
	"display_name", "description", "requestable",
	"owner_id", "classifications", "extended",
	"created", "modified",
}

// Postgres is the database-backed catalog store.
type Postgres struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewPostgres creates a postgres catalog store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// Lookup resolves an entry by coordinates. Attribute and value match
// case-insensitively; the catalog carries expression indexes on the
// lowered columns.
func (p *Postgres) Lookup(ctx context.Context, typ domain.EntitlementType, application, attribute, value string) (*domain.ManagedAttribute, error) {
	q := p.sb.Select(catalogColumns...).From("managed_attributes").
		Where(sq.Eq{"type": string(typ), "application": application}).
		Where(sq.Expr("lower(attribute) = lower(?)", attribute)).
		Where(sq.Expr("lower(value) = lower(?)", value)).
		Limit(1)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lookup: %w", err)
	}
	row := p.db.QueryRowContext(ctx, sqlStr, args...)
	ma, err := scanManagedAttribute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return ma, err
}

// Create inserts an entry, ErrConflict when another writer got there
// first.
func (p *Postgres) Create(ctx context.Context, ma *domain.ManagedAttribute) error {
	classifications, err := json.Marshal(ma.Classifications)
	if err != nil {
		return fmt.Errorf("marshal classifications: %w", err)
	}
	extended, err := json.Marshal(ma.Extended)
	if err != nil {
		return fmt.Errorf("marshal extended: %w", err)
	}
	q := p.sb.Insert("managed_attributes").Columns(catalogColumns...).
		Values(ma.ID, string(ma.Type), ma.Application, ma.Attribute, ma.Value,
			ma.DisplayName, ma.Description, ma.Requestable,
			nullable(ma.OwnerID), classifications, extended,
			ma.Created, ma.Modified)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, sqlStr, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("catalog entry exists: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create catalog entry: %w", err)
	}
	return nil
}

// Save updates an existing entry by id.
func (p *Postgres) Save(ctx context.Context, ma *domain.ManagedAttribute) error {
	classifications, err := json.Marshal(ma.Classifications)
	if err != nil {
		return fmt.Errorf("marshal classifications: %w", err)
	}
	extended, err := json.Marshal(ma.Extended)
	if err != nil {
		return fmt.Errorf("marshal extended: %w", err)
	}
	now := time.Now()
	q := p.sb.Update("managed_attributes").
		Set("display_name", ma.DisplayName).
		Set("description", ma.Description).
		Set("requestable", ma.Requestable).
		Set("owner_id", nullable(ma.OwnerID)).
		Set("classifications", classifications).
		Set("extended", extended).
		Set("modified", now).
		Where(sq.Eq{"id": ma.ID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("save catalog entry %s: %w", ma.ID, err)
	}
	ma.Modified = &now
	return nil
}

// Baseline returns the newest created-or-modified time via two
// ordered single-row reads, nil when the catalog is empty.
func (p *Postgres) Baseline(ctx context.Context) (*time.Time, error) {
	var created, modified sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT created FROM managed_attributes ORDER BY created DESC LIMIT 1`).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest created: %w", err)
	}
	err = p.db.QueryRowContext(ctx,
		`SELECT modified FROM managed_attributes WHERE modified IS NOT NULL ORDER BY modified DESC LIMIT 1`).Scan(&modified)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest modified: %w", err)
	}
	latest := created.Time
	if modified.Valid && modified.Time.After(latest) {
		latest = modified.Time
	}
	return &latest, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanManagedAttribute(row *sql.Row) (*domain.ManagedAttribute, error) {
	var ma domain.ManagedAttribute
	var typ string
	var owner sql.NullString
	var classifications, extended []byte
	err := row.Scan(&ma.ID, &typ, &ma.Application, &ma.Attribute, &ma.Value,
		&ma.DisplayName, &ma.Description, &ma.Requestable,
		&owner, &classifications, &extended,
		&ma.Created, &ma.Modified)
	if err != nil {
		return nil, err
	}
	ma.Type = domain.EntitlementType(typ)
	ma.OwnerID = owner.String
	if err := json.Unmarshal(classifications, &ma.Classifications); err != nil {
		return nil, fmt.Errorf("decode classifications: %w", err)
	}
	if err := json.Unmarshal(extended, &ma.Extended); err != nil {
		return nil, fmt.Errorf("decode extended: %w", err)
	}
	return &ma, nil
}
