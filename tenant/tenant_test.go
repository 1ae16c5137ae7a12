package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"duplicate schema", &pgconn.PgError{Code: "42P06", Message: `schema "x" already exists`}, true},
		{"duplicate table", &pgconn.PgError{Code: "42P07"}, true},
		{"duplicate object", &pgconn.PgError{Code: "42710"}, true},
		{"duplicate function", &pgconn.PgError{Code: "42723"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42P07"}), true},
		{"message fallback", errors.New(`relation "students" already exists`), true},
		{"duplicate key message", errors.New("duplicate key value violates unique constraint"), true},
		{"syntax error", &pgconn.PgError{Code: "42601", Message: "syntax error at or near \"SELEC\""}, false},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: `relation "x" does not exist`}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsDuplicate(tt.err))
		})
	}
}

func TestErrorKinds(t *testing.T) {
	var err error = &ValidationError{Schema: "public", Reason: "Cannot drop public schema"}
	assert.Equal(t, "Cannot drop public schema", err.Error())
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = &NotFoundError{Schema: "school_x"}
	assert.Equal(t, "Schema school_x does not exist", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)

	err = &ConflictError{Schema: "school_x"}
	assert.Equal(t, "Schema school_x already exists", err.Error())
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, fmt.Errorf("create: %w", err), ErrConflict)

	pgErr := &pgconn.PgError{Code: "42601", Message: "syntax error"}
	err = &StatementError{Index: 2, Statement: "SELEC", Err: pgErr}
	var target *pgconn.PgError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "syntax error", errorMessage(err))
}

func TestResultFail(t *testing.T) {
	var r Result
	r.fail(&ConflictError{Schema: "school_a"})
	assert.False(t, r.Success)
	assert.Equal(t, "Schema school_a already exists", r.Error)
	assert.ErrorIs(t, r.Err, ErrConflict)

	r.succeed()
	assert.True(t, r.Success)
	assert.Empty(t, r.Error)
	assert.Nil(t, r.Err)

	data, err := json.Marshal(CreateResult{Result: Result{Success: true}, SchemaName: "school_a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"schemaName":"school_a"}`, string(data))
}

func TestLiteral(t *testing.T) {
	id := uuid.MustParse("6f1c2a9e-1b7d-4d3e-9a55-0c1f2e3d4b5a")

	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{"nil", nil, "NULL"},
		{"string", "Bob", "'Bob'"},
		{"string with quote", "O'Brien", "'O''Brien'"},
		{"bool true", true, "TRUE"},
		{"bool false", false, "FALSE"},
		{"int32", int32(42), "42"},
		{"int64", int64(-7), "-7"},
		{"float", 2.5, "2.5"},
		{"nan", math.NaN(), "'NaN'"},
		{"infinity", math.Inf(1), "'Infinity'"},
		{"time", time.Date(2025, 9, 1, 8, 30, 0, 0, time.UTC), "'2025-09-01T08:30:00Z'"},
		{"bytes", []byte{0xde, 0xad}, `'\xdead'`},
		{"uuid array", [16]byte(id), "'6f1c2a9e-1b7d-4d3e-9a55-0c1f2e3d4b5a'"},
		{"uuid", id, "'6f1c2a9e-1b7d-4d3e-9a55-0c1f2e3d4b5a'"},
		{"json object", map[string]any{"note": "it's"}, `'{"note":"it''s"}'`},
		{"json array", []any{1.0, "a"}, `'[1,"a"]'`},
		{"null numeric", pgtype.Numeric{}, "NULL"},
		{"raw json", json.RawMessage(`{"a":1}`), `'{"a":1}'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Literal(tt.value))
		})
	}
}

func TestLiteral_NumericFromBigInt(t *testing.T) {
	num := pgtype.Numeric{Int: big.NewInt(1234), Exp: -2, Valid: true}
	assert.Equal(t, "'12.34'", Literal(num))
}

func TestOrderTables(t *testing.T) {
	tables := []string{"classes", "customizations", "incident_types", "incidents", "students", "teachers"}
	parents := map[string][]string{
		"classes":   {"teachers"},
		"students":  {"classes"},
		"incidents": {"students", "teachers", "incident_types", "students"},
		"teachers":  {"teachers"},
	}

	ordered := orderTables(tables, parents)
	assert.Equal(t, []string{"customizations", "incident_types", "teachers", "classes", "students", "incidents"}, ordered)

	pos := map[string]int{}
	for i, tbl := range ordered {
		pos[tbl] = i
	}
	for child, ps := range parents {
		for _, p := range ps {
			if p != child {
				assert.Less(t, pos[p], pos[child], "%s must precede %s", p, child)
			}
		}
	}
}

func TestOrderTables_CycleAndUnknownParents(t *testing.T) {
	ordered := orderTables(
		[]string{"a", "b", "c"},
		map[string][]string{"a": {"b"}, "b": {"a"}, "c": {"elsewhere"}},
	)
	assert.Equal(t, []string{"c", "a", "b"}, ordered)
}

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `school\_%`, likePrefix("school_"))
	assert.Equal(t, `a\%b\\%`, likePrefix(`a%b\`))
}

func TestCountQuery(t *testing.T) {
	query, _, err := countQuery("school_ws2025", "students", isActive)
	require.NoError(t, err)
	assert.Contains(t, query, `COUNT(*)`)
	assert.Contains(t, query, `FROM "school_ws2025"."students"`)
	assert.Contains(t, query, `"is_active" IS TRUE`)

	query, _, err = countQuery("school_ws2025", "incidents", inThisMonth)
	require.NoError(t, err)
	assert.Contains(t, query, `"created_at" >= DATE_TRUNC('month', CURRENT_DATE)`)
	assert.Contains(t, query, `"created_at" < DATE_TRUNC('month', CURRENT_DATE) + INTERVAL '1 month'`)
}

func TestSelectList(t *testing.T) {
	cols := []column{
		{Name: "id", Serial: true},
		{Name: "metadata", JSON: true},
		{Name: "description"},
	}
	assert.Equal(t, `"id", "metadata"::text, "description"`, selectList(cols))
	assert.Equal(t, `"id", "metadata", "description"`, columnList(columnNames(cols)))
}

func TestSetvalStatement(t *testing.T) {
	assert.Equal(t,
		`SELECT setval(pg_get_serial_sequence('"school_a"."students"', 'id'), COALESCE(MAX("id"), 0) + 1, false) FROM "school_a"."students";`,
		setvalStatement("school_a", "students", "id"))
}

func TestAdvisoryKeyStable(t *testing.T) {
	assert.Equal(t, advisoryKey("school_a"), advisoryKey("school_a"))
	assert.NotEqual(t, advisoryKey("school_a"), advisoryKey("school_b"))
}

func TestValidationBeforeDatabase(t *testing.T) {
	m := NewManager(nil, Options{})
	ctx := context.Background()

	drop, err := m.Drop(ctx, "public", true)
	require.NoError(t, err)
	assert.False(t, drop.Success)
	assert.Equal(t, "Cannot drop public schema", drop.Error)
	assert.ErrorIs(t, drop.Err, ErrValidation)

	drop, err = m.Drop(ctx, "public", false)
	require.NoError(t, err)
	assert.Equal(t, "Cannot drop public schema", drop.Error)

	drop, err = m.Drop(ctx, "pg_catalog", true)
	require.NoError(t, err)
	assert.ErrorIs(t, drop.Err, ErrValidation)

	stats, err := m.Stats(ctx, `bad"name`)
	require.NoError(t, err)
	assert.ErrorIs(t, stats.Err, ErrValidation)

	backup, err := m.Backup(ctx, "school_a", "")
	require.NoError(t, err)
	assert.ErrorIs(t, backup.Err, ErrValidation)

	clone, err := m.Clone(ctx, "public", "x")
	require.NoError(t, err)
	assert.ErrorIs(t, clone.Err, ErrValidation)

	clone, err = m.Clone(ctx, "school_x", "X")
	require.NoError(t, err)
	assert.ErrorIs(t, clone.Err, ErrValidation)

	longCode := strings.Repeat("a", 57)
	create, err := m.Create(ctx, longCode)
	require.NoError(t, err)
	assert.False(t, create.Success)
	assert.ErrorIs(t, create.Err, ErrValidation)
	assert.Contains(t, create.Error, "longer than 63 bytes")
	assert.Empty(t, create.Statements)

	clone, err = m.Clone(ctx, "school_x", longCode)
	require.NoError(t, err)
	assert.ErrorIs(t, clone.Err, ErrValidation)

	restore, err := m.Restore(ctx, "/nonexistent/backup.sql")
	require.NoError(t, err)
	assert.False(t, restore.Success)
}

func TestListMatching_InvalidPattern(t *testing.T) {
	m := NewManager(nil, Options{})
	_, err := m.ListMatching(context.Background(), "school_[")
	assert.Error(t, err)
}
