package tenant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		expected []string
	}{
		{
			name:     "simple",
			script:   "CREATE TABLE a (x int); CREATE TABLE b (y int);",
			expected: []string{"CREATE TABLE a (x int)", "CREATE TABLE b (y int)"},
		},
		{
			name:     "no trailing semicolon",
			script:   "SELECT 1;\nSELECT 2",
			expected: []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:     "semicolon in string literal",
			script:   "INSERT INTO t VALUES ('a;b', 'it''s;'); SELECT 1",
			expected: []string{"INSERT INTO t VALUES ('a;b', 'it''s;')", "SELECT 1"},
		},
		{
			name:     "semicolon in quoted identifier",
			script:   `SELECT "we;ird" FROM t; SELECT 2`,
			expected: []string{`SELECT "we;ird" FROM t`, "SELECT 2"},
		},
		{
			name:     "line comment",
			script:   "-- header; not a statement\nSELECT 1;",
			expected: []string{"-- header; not a statement\nSELECT 1"},
		},
		{
			name:     "block comment",
			script:   "SELECT /* a; b */ 1; SELECT 2;",
			expected: []string{"SELECT /* a; b */ 1", "SELECT 2"},
		},
		{
			name:     "dollar quoted body",
			script:   "CREATE FUNCTION f() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql; SELECT 2",
			expected: []string{"CREATE FUNCTION f() RETURNS int AS $$ SELECT 1; $$ LANGUAGE sql", "SELECT 2"},
		},
		{
			name:     "tagged dollar quote",
			script:   "DO $body$ BEGIN PERFORM 1; END $body$; SELECT 3",
			expected: []string{"DO $body$ BEGIN PERFORM 1; END $body$", "SELECT 3"},
		},
		{
			name:     "positional parameter is not a tag",
			script:   "SELECT $1; SELECT $2",
			expected: []string{"SELECT $1", "SELECT $2"},
		},
		{
			name:     "comment only tail dropped",
			script:   "SELECT 1;\n-- end of file\n",
			expected: []string{"SELECT 1"},
		},
		{
			name:     "empty statements dropped",
			script:   ";;  ;\nSELECT 1;;",
			expected: []string{"SELECT 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitStatements(tt.script))
		})
	}
}

func TestDefaultTemplateStatements(t *testing.T) {
	stmts := DefaultTemplate().Statements("school_ws2025")
	require.Len(t, stmts, 19)

	assert.Equal(t, `CREATE SCHEMA "school_ws2025"`, summarize(stmts[0]))
	for _, s := range stmts {
		assert.NotContains(t, s, TemplateToken)
		assert.Contains(t, s, `"school_ws2025"`)
	}

	var tables []string
	for _, s := range stmts {
		line := summarize(s)
		if strings.HasPrefix(line, "CREATE TABLE ") {
			tables = append(tables, line)
		}
	}
	assert.Len(t, tables, 11)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "SELECT 1", summarize("-- comment\n\n  SELECT 1\nFROM x"))
	long := "SELECT " + strings.Repeat("x", 200)
	assert.Len(t, summarize(long), 96+3)
}

func TestNewTemplate(t *testing.T) {
	_, err := NewTemplate("inline", "CREATE SCHEMA foo;")
	assert.Error(t, err)

	tmpl, err := NewTemplate("inline", "CREATE SCHEMA {SCHEMA_NAME}; CREATE TABLE {SCHEMA_NAME}.t (id int);")
	require.NoError(t, err)
	assert.Equal(t, `CREATE SCHEMA "school_a"; CREATE TABLE "school_a".t (id int);`, tmpl.Render("school_a"))
	assert.Equal(t, "inline", tmpl.Source())

	tmpl, err = LoadTemplate("")
	require.NoError(t, err)
	assert.Equal(t, "embedded", tmpl.Source())

	_, err = LoadTemplate("/nonexistent/template.sql")
	assert.Error(t, err)
}
