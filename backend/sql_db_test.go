package backend

import (
	"context"
	"testing"

	"github.com/maxpert/tenantdb/dialect"
	"github.com/maxpert/tenantdb/naming"
	"github.com/maxpert/tenantdb/pgtest"
	"github.com/maxpert/tenantdb/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLBackend(t *testing.T, strict bool) (*SQLBackend, context.Context) {
	t.Helper()
	p := pgtest.Open(t)

	code := pgtest.UniqueCode("be")
	schema := naming.Generate(code)
	pgtest.DropOnCleanup(t, p, schema)

	created, err := tenant.NewManager(p, tenant.Options{}).Create(context.Background(), code)
	require.NoError(t, err)
	require.True(t, created.Success, created.Error)

	translator, err := dialect.NewTranslator(64)
	require.NoError(t, err)

	b := NewSQLBackend(p, translator, strict)
	require.NoError(t, b.Init(context.Background()))
	return b, WithSchema(context.Background(), schema)
}

func TestSQLBackend_RunGetAll(t *testing.T) {
	b, ctx := newTestSQLBackend(t, true)

	res, err := b.Run(ctx, "INSERT INTO teachers (first_name, last_name) VALUES (?, ?)", "Grace", "Hopper")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Changes)
	assert.EqualValues(t, 1, res.ID)

	_, err = b.Run(ctx, "INSERT INTO teachers (first_name, last_name, is_active) VALUES (?, ?, ?)", "Alan", "Turing", false)
	require.NoError(t, err)

	row, err := b.Get(ctx, "SELECT first_name FROM teachers WHERE last_name = ?", "Hopper")
	require.NoError(t, err)
	assert.Equal(t, "Grace", row["first_name"])

	row, err = b.Get(ctx, "SELECT first_name FROM teachers WHERE last_name = ?", "Nobody")
	require.NoError(t, err)
	assert.Nil(t, row)

	rows, err := b.All(ctx, "SELECT first_name FROM teachers WHERE created_at <= datetime('now') ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alan", rows[1]["first_name"])

	res, err = b.Run(ctx, "UPDATE teachers SET is_active = ? WHERE is_active = ?", true, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Changes)
	assert.Nil(t, res.ID)
}

func TestSQLBackend_StrictParams(t *testing.T) {
	b, ctx := newTestSQLBackend(t, true)

	_, err := b.All(ctx, "SELECT * FROM teachers WHERE id = ?")
	assert.ErrorIs(t, err, dialect.ErrParamMismatch)

	lenient, _ := newTestSQLBackend(t, false)
	rows, err := lenient.All(ctx, "SELECT COUNT(*) AS n FROM teachers", 1, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLBackend_InvalidSchemaScope(t *testing.T) {
	b, _ := newTestSQLBackend(t, true)

	_, err := b.All(WithSchema(context.Background(), `x"; DROP SCHEMA public; --`), "SELECT 1")
	assert.ErrorIs(t, err, ErrInvalidSchema)
}
