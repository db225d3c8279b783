package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"warden/internal/domain"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
)

var identityColumns = []string{
	"id", "name", "display_name", "attributes",
	"assigned_roles", "detected_roles", "attribute_assignments",
	"lock_owner", "lock_expiry",
}

// identityColumn translates logical field names to columns. Promoted
// identity attributes live in the jsonb attributes column.
func identityColumn(field string) string {
	switch field {
	case "id", "name", "display_name", "lock_owner", "lock_expiry":
		return field
	default:
		return "attributes->>'" + field + "'"
	}
}

// PostgresIdentities is the database-backed identity store.
type PostgresIdentities struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewPostgresIdentities creates a postgres identity store.
func NewPostgresIdentities(db *sql.DB) *PostgresIdentities {
	return &PostgresIdentities{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: time.Now,
	}
}

// Get fetches one identity by id.
func (p *PostgresIdentities) Get(ctx context.Context, id string) (*domain.Identity, error) {
	return p.FindUnique(ctx, store.Eq("id", id))
}

// FindAll returns identities matching pred.
func (p *PostgresIdentities) FindAll(ctx context.Context, pred store.Predicate, opts ...store.QueryOption) ([]*domain.Identity, error) {
	where, err := store.ToSQL(pred.MapFields(identityColumn))
	if err != nil {
		return nil, fmt.Errorf("compile predicate: %w", err)
	}
	q := p.sb.Select(identityColumns...).From("identities").Where(where)
	o := store.BuildOptions(opts)
	if o.Limit > 0 {
		q = q.Limit(uint64(o.Limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var out []*domain.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

// FindUnique returns the single identity matching pred.
func (p *PostgresIdentities) FindUnique(ctx context.Context, pred store.Predicate) (*domain.Identity, error) {
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
		return nil, fmt.Errorf("multiple identities: %w", sentinel.ErrAmbiguous)
	}
}

// Count returns the number of matching identities.
func (p *PostgresIdentities) Count(ctx context.Context, pred store.Predicate) (int, error) {
	where, err := store.ToSQL(pred.MapFields(identityColumn))
	if err != nil {
		return 0, fmt.Errorf("compile predicate: %w", err)
	}
	sqlStr, args, err := p.sb.Select("COUNT(*)").From("identities").Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := p.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

// SearchProjection returns the named columns of matching identities.
func (p *PostgresIdentities) SearchProjection(ctx context.Context, fields []string, pred store.Predicate, opts ...store.QueryOption) ([][]any, error) {
	where, err := store.ToSQL(pred.MapFields(identityColumn))
	if err != nil {
		return nil, fmt.Errorf("compile predicate: %w", err)
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = identityColumn(f)
	}
	q := p.sb.Select(cols...).From("identities").Where(where)
	o := store.BuildOptions(opts)
	if o.Limit > 0 {
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

// Save upserts the identity.
func (p *PostgresIdentities) Save(ctx context.Context, identity *domain.Identity) error {
	attrs, err := json.Marshal(identity.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	assigned, err := json.Marshal(identity.AssignedRoleNames)
	if err != nil {
		return fmt.Errorf("marshal assigned roles: %w", err)
	}
	detected, err := json.Marshal(identity.DetectedRoleNames)
	if err != nil {
		return fmt.Errorf("marshal detected roles: %w", err)
	}
	assignments, err := json.Marshal(identity.AttributeAssignments)
	if err != nil {
		return fmt.Errorf("marshal assignments: %w", err)
	}
	q := p.sb.Insert("identities").
		Columns(identityColumns...).
		Values(identity.ID, identity.Name, identity.DisplayName, attrs,
			assigned, detected, assignments,
			identity.LockOwner, identity.LockExpiry).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			display_name = EXCLUDED.display_name,
			attributes = EXCLUDED.attributes,
			assigned_roles = EXCLUDED.assigned_roles,
			detected_roles = EXCLUDED.detected_roles,
			attribute_assignments = EXCLUDED.attribute_assignments`)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("save identity %s: %w", identity.ID, err)
	}
	return nil
}

// Lock acquires the identity lock in its own short transaction.
// ErrLocked when another live owner holds it; expired locks are
// stolen.
func (p *PostgresIdentities) Lock(ctx context.Context, id, owner string) error {
	return store.InTx(ctx, p.db, func(tx *sql.Tx) error {
		now := p.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE identities SET lock_owner = $1, lock_expiry = $2
			 WHERE id = $3 AND (lock_owner IS NULL OR lock_owner = $1 OR lock_expiry < $4)`,
			owner, now.Add(lockTTL), id, now)
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("lock rows affected: %w", err)
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("check identity: %w", err)
			}
			if !exists {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("identity %s: %w", id, sentinel.ErrLocked)
		}
		return nil
	})
}

// Unlock releases the lock if owner still holds it.
func (p *PostgresIdentities) Unlock(ctx context.Context, id, owner string) error {
	return store.InTx(ctx, p.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE identities SET lock_owner = NULL, lock_expiry = NULL
			 WHERE id = $1 AND lock_owner = $2`, id, owner)
		if err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		return nil
	})
}

func scanIdentity(rows *sql.Rows) (*domain.Identity, error) {
	var identity domain.Identity
	var attrs, assigned, detected, assignments []byte
	err := rows.Scan(&identity.ID, &identity.Name, &identity.DisplayName, &attrs,
		&assigned, &detected, &assignments,
		&identity.LockOwner, &identity.LockExpiry)
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	if err := json.Unmarshal(attrs, &identity.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if err := json.Unmarshal(assigned, &identity.AssignedRoleNames); err != nil {
		return nil, fmt.Errorf("decode assigned roles: %w", err)
	}
	if err := json.Unmarshal(detected, &identity.DetectedRoleNames); err != nil {
		return nil, fmt.Errorf("decode detected roles: %w", err)
	}
	if err := json.Unmarshal(assignments, &identity.AttributeAssignments); err != nil {
		return nil, fmt.Errorf("decode assignments: %w", err)
	}
	return &identity, nil
}
