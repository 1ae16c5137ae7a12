// Package seed fills a tenant schema with the fixed reference catalogs.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/maxpert/tenantdb/naming"
	"github.com/maxpert/tenantdb/pool"
	"github.com/maxpert/tenantdb/telemetry"
	"github.com/maxpert/tenantdb/tenant"
	"github.com/rs/zerolog/log"
)

var pg = goqu.Dialect("postgres")

// Result reports how many rows were inserted per catalog. Counts only
// include rows that were absent, so a repeated seed reports zeros.
type Result struct {
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Err        error          `json:"-"`
	SchemaName string         `json:"schemaName"`
	Counts     map[string]int `json:"counts"`
}

// Total is the number of rows inserted across all catalogs
func (r *Result) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

func (r *Result) fail(err error) {
	r.Success = false
	r.Err = err
	r.Error = err.Error()
}

// Seeder inserts the reference catalogs into tenant schemas
type Seeder struct {
	pool     *pool.Manager
	catalogs []Catalog
}

func NewSeeder(p *pool.Manager) *Seeder {
	return &Seeder{pool: p, catalogs: Catalogs}
}

// Seed runs in one transaction scoped to schema through search_path. Each
// catalog entry is inserted only when no row with the same name exists; any
// failure rolls the whole seed back.
func (s *Seeder) Seed(ctx context.Context, tenantID int64, schema string) (*Result, error) {
	start := time.Now()
	res := &Result{SchemaName: schema, Counts: make(map[string]int, len(s.catalogs))}
	defer func() {
		label := "success"
		if !res.Success {
			label = "failed"
		}
		telemetry.LifecycleOpsTotal.With("seed", label).Inc()
		telemetry.LifecycleDurationSeconds.With("seed").Observe(time.Since(start).Seconds())
	}()

	if !naming.IsTenantSchema(schema) {
		res.fail(&tenant.ValidationError{Schema: schema, Reason: fmt.Sprintf("Schema %s is not a tenant schema", schema)})
		return res, nil
	}

	counts := make(map[string]int, len(s.catalogs))
	err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
			schema,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check schema %s: %w", schema, err)
		}
		if !exists {
			return &tenant.NotFoundError{Schema: schema}
		}

		if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+naming.QuoteIdent(schema)); err != nil {
			return fmt.Errorf("failed to set search_path: %w", err)
		}

		for _, c := range s.catalogs {
			n, err := seedCatalog(ctx, tx, tenantID, c)
			if err != nil {
				return fmt.Errorf("failed to seed %s: %w", c.Table, err)
			}
			counts[c.Name] = n
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("schema", schema).Int64("tenant_id", tenantID).Msg("Seeding failed")
		res.fail(err)
		if errors.Is(err, pool.ErrAcquireTimeout) || errors.Is(err, pool.ErrClosed) || errors.Is(err, context.Canceled) {
			return res, err
		}
		return res, nil
	}

	res.Counts = counts
	res.Success = true
	for name, n := range counts {
		telemetry.SeededRowsTotal.With(name).Add(float64(n))
	}
	log.Info().
		Str("schema", schema).
		Int64("tenant_id", tenantID).
		Int("inserted", res.Total()).
		Dur("duration", time.Since(start)).
		Msg("Reference catalogs seeded")
	return res, nil
}

func seedCatalog(ctx context.Context, tx pgx.Tx, tenantID int64, c Catalog) (int, error) {
	inserted := 0
	for _, e := range c.Entries {
		present, err := hasEntry(ctx, tx, c.Table, e.Name)
		if err != nil {
			return inserted, err
		}
		if present {
			continue
		}

		query, args, err := pg.Insert(c.Table).Rows(c.row(tenantID, e)).Prepared(true).ToSQL()
		if err != nil {
			return inserted, err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func entryQuery(table, name string) (string, []any, error) {
	return pg.From(table).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("name").Eq(name)).
		Prepared(true).
		ToSQL()
}

func hasEntry(ctx context.Context, tx pgx.Tx, table, name string) (bool, error) {
	query, args, err := entryQuery(table, name)
	if err != nil {
		return false, err
	}

	var n int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
