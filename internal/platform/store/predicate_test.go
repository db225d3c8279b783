package store

import (
	"context"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/suite"

	"warden/pkg/platform/sentinel"
)

type row struct {
	ID     string
	Name   string
	Email  *string
	Groups []string
}

func rowField(r row, f string) any {
	switch f {
	case "id":
		return r.ID
	case "name":
		return r.Name
	case "email":
		if r.Email == nil {
			return nil
		}
		return *r.Email
	case "groups":
		return r.Groups
	default:
		return nil
	}
}

func rowSet(r row, f string, v any) row {
	if f == "name" {
		if s, ok := v.(string); ok {
			r.Name = s
		}
	}
	return r
}

type PredicateSuite struct {
	suite.Suite
	mem *Memory[row]
}

func TestPredicateSuite(t *testing.T) {
	suite.Run(t, new(PredicateSuite))
}

func (s *PredicateSuite) SetupTest() {
	s.mem = NewMemory(func(r row) string { return r.ID }, rowField, rowSet)
	email := "bob@example.com"
	rows := []row{
		{ID: "1", Name: "Alice", Groups: []string{"eng", "ops"}},
		{ID: "2", Name: "Bob", Email: &email},
		{ID: "3", Name: "alice"},
	}
	for _, r := range rows {
		s.Require().NoError(s.mem.Save(context.Background(), r))
	}
}

// ============================================================
// In-memory evaluation
// ============================================================

func (s *PredicateSuite) TestEqAndFold() {
	ctx := context.Background()

	got, err := s.mem.FindAll(ctx, Eq("name", "Alice"))
	s.Require().NoError(err)
	s.Len(got, 1)

	got, err = s.mem.FindAll(ctx, EqFold("name", "ALICE"))
	s.Require().NoError(err)
	s.Len(got, 2)
}

func (s *PredicateSuite) TestIsNull() {
	got, err := s.mem.FindAll(context.Background(), IsNull("email"))
	s.Require().NoError(err)
	s.Len(got, 2)
}

func (s *PredicateSuite) TestSliceFieldsMatchOnMembership() {
	got, err := s.mem.FindAll(context.Background(), Eq("groups", "ops"))
	s.Require().NoError(err)
	s.Len(got, 1)
	s.Equal("1", got[0].ID)
}

func (s *PredicateSuite) TestComposites() {
	ctx := context.Background()

	got, err := s.mem.FindAll(ctx, And(EqFold("name", "alice"), IsNull("email")))
	s.Require().NoError(err)
	s.Len(got, 2)

	got, err = s.mem.FindAll(ctx, Or(Eq("id", "1"), Eq("id", "2")))
	s.Require().NoError(err)
	s.Len(got, 2)

	got, err = s.mem.FindAll(ctx, Not(EqFold("name", "alice")))
	s.Require().NoError(err)
	s.Len(got, 1)
	s.Equal("Bob", got[0].Name)
}

func (s *PredicateSuite) TestFindUnique() {
	ctx := context.Background()

	_, err := s.mem.FindUnique(ctx, Eq("name", "missing"))
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.mem.FindUnique(ctx, EqFold("name", "alice"))
	s.ErrorIs(err, sentinel.ErrAmbiguous)

	r, err := s.mem.FindUnique(ctx, Eq("id", "2"))
	s.Require().NoError(err)
	s.Equal("Bob", r.Name)
}

func (s *PredicateSuite) TestBulkUpdateBatches() {
	ids := make([]string, 250)
	for i := range ids {
		ids[i] = "x"
	}
	batches := BatchIDs(ids)
	s.Len(batches, 3)
	s.Len(batches[0], 100)
	s.Len(batches[2], 50)

	s.Nil(BatchIDs(nil))
}

// ============================================================
// SQL compilation
// ============================================================

func (s *PredicateSuite) TestToSQL() {
	s.Run("fold eq lowers both sides", func() {
		sqlz, err := ToSQL(EqFold("name", "Alice"))
		s.Require().NoError(err)
		sqlStr, args, err := sqlz.ToSql()
		s.Require().NoError(err)
		s.Equal("lower(name) = lower(?)", sqlStr)
		s.Equal([]any{"Alice"}, args)
	})

	s.Run("nil eq becomes IS NULL", func() {
		sqlz, err := ToSQL(Eq("email", nil))
		s.Require().NoError(err)
		sqlStr, _, err := sqlz.ToSql()
		s.Require().NoError(err)
		s.Contains(sqlStr, "IS NULL")
	})

	s.Run("empty IN matches nothing", func() {
		sqlz, err := ToSQL(In("name"))
		s.Require().NoError(err)
		sqlStr, _, err := sqlz.ToSql()
		s.Require().NoError(err)
		s.Equal("1 = 0", sqlStr)
	})

	s.Run("not wraps the inner expression", func() {
		sqlz, err := ToSQL(Not(Eq("name", "Bob")))
		s.Require().NoError(err)
		sqlStr, args, err := sqlz.ToSql()
		s.Require().NoError(err)
		s.Equal("NOT (name = ?)", sqlStr)
		s.Equal([]any{"Bob"}, args)
	})

	s.Run("composite renders through squirrel", func() {
		sqlz, err := ToSQL(And(Eq("a", 1), Or(Eq("b", 2), IsNull("c"))))
		s.Require().NoError(err)
		dollar, err := sq.Dollar.ReplacePlaceholders(mustSQL(s, sqlz))
		s.Require().NoError(err)
		s.Contains(dollar, "AND")
		s.Contains(dollar, "OR")
	})
}

func mustSQL(s *PredicateSuite, sqlz sq.Sqlizer) string {
	sqlStr, _, err := sqlz.ToSql()
	s.Require().NoError(err)
	return sqlStr
}
