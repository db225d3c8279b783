package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"warden/pkg/platform/sentinel"
)

// Memory is a map-backed store used by unit tests and small caches.
// It evaluates predicates directly against objects using the field
// accessor the aggregate provides.
type Memory[T any] struct {
	mu      sync.RWMutex
	objects map[string]T

	id    func(T) string
	field func(T, string) any
	set   func(T, string, any) T
}

// NewMemory creates a memory store. id extracts the object id, field
// resolves predicate field names, and set applies bulk-update columns
// (may be nil if BulkUpdate is never used).
func NewMemory[T any](id func(T) string, field func(T, string) any, set func(T, string, any) T) *Memory[T] {
	return &Memory[T]{
		objects: make(map[string]T),
		id:      id,
		field:   field,
		set:     set,
	}
}

func (m *Memory[T]) getter(obj T) FieldGetter {
	return func(name string) any { return m.field(obj, name) }
}

// FindAll returns every object matching p, honoring order and limit.
func (m *Memory[T]) FindAll(ctx context.Context, p Predicate, opts ...QueryOption) ([]T, error) {
	o := BuildOptions(opts)
	m.mu.RLock()
	var out []T
	for _, obj := range m.objects {
		if p.Match(m.getter(obj)) {
			out = append(out, obj)
		}
	}
	m.mu.RUnlock()

	if o.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := lessValues(m.field(out[i], o.OrderBy), m.field(out[j], o.OrderBy))
			if o.Descending {
				return !less
			}
			return less
		})
	}
	if o.Limit > 0 && len(out) > o.Limit {
		out = out[:o.Limit]
	}
	return out, nil
}

// FindUnique returns the single match, ErrNotFound on zero matches,
// ErrAmbiguous on more than one.
func (m *Memory[T]) FindUnique(ctx context.Context, p Predicate) (T, error) {
	var zero T
	matches, err := m.FindAll(ctx, p)
	if err != nil {
		return zero, err
	}
	switch len(matches) {
	case 0:
		return zero, sentinel.ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return zero, fmt.Errorf("%d matches: %w", len(matches), sentinel.ErrAmbiguous)
	}
}

// Count returns the number of matches.
func (m *Memory[T]) Count(ctx context.Context, p Predicate) (int, error) {
	matches, err := m.FindAll(ctx, p)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// SearchProjection returns the named fields of each match.
func (m *Memory[T]) SearchProjection(ctx context.Context, fields []string, p Predicate, opts ...QueryOption) ([][]any, error) {
	matches, err := m.FindAll(ctx, p, opts...)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, 0, len(matches))
	for _, obj := range matches {
		row := make([]any, len(fields))
		for i, f := range fields {
			row[i] = m.field(obj, f)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Save inserts or replaces by id.
func (m *Memory[T]) Save(ctx context.Context, obj T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[m.id(obj)] = obj
	return nil
}

// Delete removes an object by id. Deleting a missing id is a no-op.
func (m *Memory[T]) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
	return nil
}

// BulkUpdate applies the set columns to each id, in batches.
// Returns the number of objects touched.
func (m *Memory[T]) BulkUpdate(ctx context.Context, ids []string, set map[string]any) (int, error) {
	if m.set == nil {
		return 0, fmt.Errorf("bulk update not supported for this store")
	}
	var touched int
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, batch := range BatchIDs(ids) {
		for _, id := range batch {
			obj, ok := m.objects[id]
			if !ok {
				continue
			}
			for col, val := range set {
				obj = m.set(obj, col, val)
			}
			m.objects[id] = obj
			touched++
		}
	}
	return touched, nil
}

// Get fetches by id.
func (m *Memory[T]) Get(ctx context.Context, id string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[id]
	if !ok {
		var zero T
		return zero, sentinel.ErrNotFound
	}
	return obj, nil
}

// Len reports the number of stored objects.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func lessValues(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	ai, aok2 := a.(int)
	bi, bok2 := b.(int)
	if aok2 && bok2 {
		return ai < bi
	}
	at, aok3 := a.(time.Time)
	bt, bok3 := b.(time.Time)
	if aok3 && bok3 {
		return at.Before(bt)
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}
