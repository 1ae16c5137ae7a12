package tenant

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/maxpert/tenantdb/naming"
)

const foreignKeysSQL = `
SELECT child.relname, parent.relname
FROM pg_constraint con
JOIN pg_class child ON child.oid = con.conrelid
JOIN pg_class parent ON parent.oid = con.confrelid
JOIN pg_namespace ns ON ns.oid = child.relnamespace
JOIN pg_namespace pns ON pns.oid = parent.relnamespace
WHERE con.contype = 'f' AND ns.nspname = $1 AND pns.nspname = $1`

const columnsSQL = `
SELECT column_name,
       COALESCE(column_default, '') LIKE 'nextval(%' OR is_identity = 'YES',
       udt_name IN ('json', 'jsonb')
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND is_generated = 'NEVER'
ORDER BY ordinal_position`

type column struct {
	Name   string
	Serial bool
	JSON   bool
}

func columnNames(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// baseTables returns the base tables of schema sorted by name
func baseTables(ctx context.Context, q querier, schema string) ([]string, error) {
	query, args, err := pg.From(goqu.T("tables").Schema("information_schema")).
		Select("table_name").
		Where(goqu.Ex{"table_schema": schema, "table_type": "BASE TABLE"}).
		Order(goqu.C("table_name").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build table list query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", schema, err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", schema, err)
	}
	slices.Sort(tables)
	return tables, nil
}

// tableParents maps each table of schema to the tables its foreign keys reference
func tableParents(ctx context.Context, q querier, schema string) (map[string][]string, error) {
	rows, err := q.Query(ctx, foreignKeysSQL, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", schema, err)
	}
	defer rows.Close()

	parents := make(map[string][]string)
	for rows.Next() {
		var child, parent string
		if err := rows.Scan(&child, &parent); err != nil {
			return nil, err
		}
		parents[child] = append(parents[child], parent)
	}
	return parents, rows.Err()
}

// orderTables sorts tables so referenced tables come before the tables that
// reference them. Self references are ignored; tables caught in a cycle are
// appended in name order.
func orderTables(tables []string, parents map[string][]string) []string {
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t] = true
	}

	pending := make(map[string]int, len(tables))
	children := make(map[string][]string)
	for _, t := range tables {
		seen := map[string]bool{}
		for _, p := range parents[t] {
			if p == t || !present[p] || seen[p] {
				continue
			}
			seen[p] = true
			pending[t]++
			children[p] = append(children[p], t)
		}
	}

	sorted := slices.Clone(tables)
	slices.Sort(sorted)

	var ready []string
	for _, t := range sorted {
		if pending[t] == 0 {
			ready = append(ready, t)
		}
	}

	ordered := make([]string, 0, len(tables))
	done := make(map[string]bool, len(tables))
	for len(ready) > 0 {
		t := ready[0]
		ready = ready[1:]
		ordered = append(ordered, t)
		done[t] = true

		var next []string
		for _, c := range children[t] {
			pending[c]--
			if pending[c] == 0 {
				next = append(next, c)
			}
		}
		slices.Sort(next)
		ready = append(ready, next...)
		slices.Sort(ready)
	}

	for _, t := range sorted {
		if !done[t] {
			ordered = append(ordered, t)
		}
	}
	return ordered
}

// orderedTables returns schema's base tables, parents first
func orderedTables(ctx context.Context, q querier, schema string) ([]string, error) {
	tables, err := baseTables(ctx, q, schema)
	if err != nil {
		return nil, err
	}
	parents, err := tableParents(ctx, q, schema)
	if err != nil {
		return nil, err
	}
	return orderTables(tables, parents), nil
}

// tableColumns returns the insertable columns of schema.table in ordinal order
func tableColumns(ctx context.Context, q querier, schema, table string) ([]column, error) {
	rows, err := q.Query(ctx, columnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.Name, &c.Serial, &c.JSON); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// selectList is the column list a backup reads. JSON columns are read as
// text so scalar documents such as "quiet", 5 or null survive the round trip.
func selectList(cols []column) string {
	items := make([]string, len(cols))
	for i, c := range cols {
		items[i] = naming.QuoteIdent(c.Name)
		if c.JSON {
			items[i] += "::text"
		}
	}
	return strings.Join(items, ", ")
}

// columnList quotes and joins column names
func columnList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = naming.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
