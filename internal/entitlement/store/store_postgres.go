package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"warden/internal/domain"
	"warden/internal/platform/store"
	"warden/pkg/platform/sentinel"
)

const table = "identity_entitlements"

var columns = []string{
	"id", "identity_id", "application", "instance", "native_identity",
	"display_name", "name", "value", "annotation", "type", "source",
	"aggregation_state", "assigned", "assigner", "assignment_id",
	"assignment_note", "start_date", "end_date",
	"certification_item_id", "pending_certification_item_id",
	"request_item_id", "pending_request_item_id",
	"source_assignable_roles", "source_detected_roles",
	"created", "modified",
}

// Postgres is the database-backed entitlement store.
type Postgres struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewPostgres creates a postgres entitlement store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (p *Postgres) selectQuery(pred store.Predicate, opts []store.QueryOption) (sq.SelectBuilder, error) {
	where, err := store.ToSQL(pred)
	if err != nil {
		return sq.SelectBuilder{}, fmt.Errorf("compile predicate: %w", err)
	}
	q := p.sb.Select(columns...).From(table).Where(where)
	o := store.BuildOptions(opts)
	if o.OrderBy != "" {
		dir := " ASC"
		if o.Descending {
			dir = " DESC"
		}
		q = q.OrderBy(o.OrderBy + dir)
	}
	if o.Limit > 0 {
		q = q.Limit(uint64(o.Limit))
	}
	return q, nil
}

// FindAll returns the entitlement rows matching pred.
func (p *Postgres) FindAll(ctx context.Context, pred store.Predicate, opts ...store.QueryOption) ([]*domain.Entitlement, error) {
	q, err := p.selectQuery(pred, opts)
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query entitlements: %w", err)
	}
	defer rows.Close()

	var out []*domain.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindUnique returns the single row matching pred.
func (p *Postgres) FindUnique(ctx context.Context, pred store.Predicate) (*domain.Entitlement, error) {
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
		return nil, fmt.Errorf("multiple entitlement rows: %w", sentinel.ErrAmbiguous)
	}
}

// Count returns the number of rows matching pred.
func (p *Postgres) Count(ctx context.Context, pred store.Predicate) (int, error) {
	where, err := store.ToSQL(pred)
	if err != nil {
		return 0, fmt.Errorf("compile predicate: %w", err)
	}
	sqlStr, args, err := p.sb.Select("COUNT(*)").From(table).Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := p.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entitlements: %w", err)
	}
	return n, nil
}

// SearchProjection returns only the named columns of matching rows.
func (p *Postgres) SearchProjection(ctx context.Context, fields []string, pred store.Predicate, opts ...store.QueryOption) ([][]any, error) {
	where, err := store.ToSQL(pred)
	if err != nil {
		return nil, fmt.Errorf("compile predicate: %w", err)
	}
	q := p.sb.Select(fields...).From(table).Where(where)
	o := store.BuildOptions(opts)
	if o.OrderBy != "" {
		dir := " ASC"
		if o.Descending {
			dir = " DESC"
		}
		q = q.OrderBy(o.OrderBy + dir)
	}
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

// Save upserts the row by id.
func (p *Postgres) Save(ctx context.Context, e *domain.Entitlement) error {
	q := p.sb.Insert(table).
		Columns(columns...).
		Values(e.ID, e.IdentityID, e.Application, e.Instance, e.NativeIdentity,
			e.DisplayName, e.Name, e.Value, e.Annotation, string(e.Type), e.Source,
			string(e.AggregationState), e.Assigned, e.Assigner, e.AssignmentID,
			e.AssignmentNote, e.StartDate, e.EndDate,
			e.CertificationItemID, e.PendingCertificationItemID,
			e.RequestItemID, e.PendingRequestItemID,
			e.SourceAssignableRoles, e.SourceDetectedRoles,
			e.Created, e.Modified).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			native_identity = EXCLUDED.native_identity,
			annotation = EXCLUDED.annotation,
			type = EXCLUDED.type,
			source = EXCLUDED.source,
			aggregation_state = EXCLUDED.aggregation_state,
			assigned = EXCLUDED.assigned,
			assigner = EXCLUDED.assigner,
			assignment_id = EXCLUDED.assignment_id,
			assignment_note = EXCLUDED.assignment_note,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			certification_item_id = EXCLUDED.certification_item_id,
			pending_certification_item_id = EXCLUDED.pending_certification_item_id,
			request_item_id = EXCLUDED.request_item_id,
			pending_request_item_id = EXCLUDED.pending_request_item_id,
			source_assignable_roles = EXCLUDED.source_assignable_roles,
			source_detected_roles = EXCLUDED.source_detected_roles,
			modified = EXCLUDED.modified`)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("save entitlement %s: %w", e.ID, err)
	}
	return nil
}

// Delete removes the row by id; missing ids are a no-op.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	sqlStr, args, err := p.sb.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete entitlement %s: %w", id, err)
	}
	return nil
}

// BulkUpdate applies the set columns to each id. Ids are split into
// batches so no statement binds an unbounded id list.
func (p *Postgres) BulkUpdate(ctx context.Context, ids []string, set map[string]any) (int, error) {
	var touched int
	for _, batch := range store.BatchIDs(ids) {
		q := p.sb.Update(table).Where(sq.Eq{"id": batch})
		for col, val := range set {
			q = q.Set(col, val)
		}
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return touched, fmt.Errorf("build bulk update: %w", err)
		}
		res, err := p.db.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return touched, fmt.Errorf("bulk update entitlements: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			touched += int(n)
		}
	}
	return touched, nil
}

// Get fetches one row by id.
func (p *Postgres) Get(ctx context.Context, id string) (*domain.Entitlement, error) {
	e, err := p.FindUnique(ctx, store.Eq("id", id))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, sentinel.ErrNotFound
	}
	return e, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(r rowScanner) (*domain.Entitlement, error) {
	var e domain.Entitlement
	var typ, aggState string
	err := r.Scan(&e.ID, &e.IdentityID, &e.Application, &e.Instance, &e.NativeIdentity,
		&e.DisplayName, &e.Name, &e.Value, &e.Annotation, &typ, &e.Source,
		&aggState, &e.Assigned, &e.Assigner, &e.AssignmentID,
		&e.AssignmentNote, &e.StartDate, &e.EndDate,
		&e.CertificationItemID, &e.PendingCertificationItemID,
		&e.RequestItemID, &e.PendingRequestItemID,
		&e.SourceAssignableRoles, &e.SourceDetectedRoles,
		&e.Created, &e.Modified)
	if err != nil {
		return nil, fmt.Errorf("scan entitlement: %w", err)
	}
	e.Type = domain.EntitlementType(typ)
	e.AggregationState = domain.AggregationState(aggState)
	return &e, nil
}
