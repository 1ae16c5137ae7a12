package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maxpert/tenantdb/naming"
	"github.com/rs/zerolog/log"
)

// IdentityColumn is left out of cloned rows so the target assigns fresh ids
const IdentityColumn = "id"

// cloneExcluded tables hold tenant-specific configuration and are never copied
var cloneExcluded = map[string]bool{
	"settings":       true,
	"customizations": true,
}

// Clone provisions a new tenant from targetCode and copies every base table's
// rows from sourceSchema, except the identity column and tenant-specific tables.
// The copy is best effort: a table that fails is rolled back to its savepoint,
// logged and reported in Skipped while the others proceed.
func (m *Manager) Clone(ctx context.Context, sourceSchema, targetCode string) (*CloneResult, error) {
	start := time.Now()
	target := naming.Generate(targetCode)
	res := &CloneResult{SourceSchema: sourceSchema, TargetSchema: target}
	defer observe("clone", start, &res.Result)

	if !naming.ValidSchemaName(sourceSchema) || sourceSchema == naming.PublicSchema {
		res.fail(&ValidationError{Schema: sourceSchema, Reason: fmt.Sprintf("Invalid source schema %q", sourceSchema)})
		return res, nil
	}
	if !naming.ValidSchemaName(target) {
		res.fail(schemaTooLong(target))
		return res, nil
	}
	if sourceSchema == target {
		res.fail(&ValidationError{Schema: target, Reason: "Source and target schema are the same"})
		return res, nil
	}

	exists, err := m.Exists(ctx, sourceSchema)
	if err != nil {
		return res, settle(&res.Result, err)
	}
	if !exists {
		res.fail(&NotFoundError{Schema: sourceSchema})
		return res, nil
	}

	created, err := m.Create(ctx, targetCode)
	if err != nil {
		return res, settle(&res.Result, err)
	}
	if !created.Success {
		res.fail(created.Err)
		return res, nil
	}

	err = m.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tables, err := orderedTables(ctx, tx, sourceSchema)
		if err != nil {
			return err
		}

		for _, table := range tables {
			if cloneExcluded[table] {
				continue
			}

			n, err := copyTable(ctx, tx, sourceSchema, target, table)
			if err != nil {
				log.Warn().Err(err).
					Str("source", sourceSchema).
					Str("target", target).
					Str("table", table).
					Msg("Skipping table during clone")
				res.Skipped = append(res.Skipped, SkippedTable{Table: table, Error: errorMessage(err)})
				continue
			}
			res.Copied = append(res.Copied, TableRows{Table: table, Rows: n})
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("source", sourceSchema).Str("target", target).Msg("Clone failed after provisioning target")
		return res, settle(&res.Result, err)
	}

	res.succeed()
	log.Info().
		Str("source", sourceSchema).
		Str("target", target).
		Int("copied", len(res.Copied)).
		Int("skipped", len(res.Skipped)).
		Dur("duration", time.Since(start)).
		Msg("Schema cloned")
	return res, nil
}

// copyTable copies source.table into target.table under a savepoint and
// returns the number of rows copied
func copyTable(ctx context.Context, tx pgx.Tx, source, target, table string) (int64, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = sp.Rollback(ctx) }()

	cols, err := copyColumns(ctx, sp, source, target, table)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("table %s has no columns to copy", table)
	}

	list := columnList(cols)
	tag, err := sp.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s",
		naming.Qualify(target, table), list, list, naming.Qualify(source, table),
	))
	if err != nil {
		return 0, err
	}

	if err := sp.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// copyColumns returns the source columns, minus the identity column, that also exist in target
func copyColumns(ctx context.Context, q querier, source, target, table string) ([]string, error) {
	srcCols, err := tableColumns(ctx, q, source, table)
	if err != nil {
		return nil, err
	}
	dstCols, err := tableColumns(ctx, q, target, table)
	if err != nil {
		return nil, err
	}
	if len(dstCols) == 0 {
		return nil, fmt.Errorf("table %s does not exist in %s", table, target)
	}

	inTarget := make(map[string]bool, len(dstCols))
	for _, c := range dstCols {
		inTarget[c.Name] = true
	}

	var cols []string
	for _, c := range srcCols {
		if c.Name == IdentityColumn || !inTarget[c.Name] {
			continue
		}
		cols = append(cols, c.Name)
	}
	return cols, nil
}
