package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maxpert/tenantdb/dialect"
	"github.com/maxpert/tenantdb/naming"
	"github.com/maxpert/tenantdb/pool"
	"github.com/rs/zerolog/log"
)

const sqlBackendName = "sql"

var (
	insertRe    = regexp.MustCompile(`(?is)^\s*INSERT\s`)
	returningRe = regexp.MustCompile(`(?i)\bRETURNING\b`)
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SQLBackend runs translated statements on the connection pool
type SQLBackend struct {
	pool       *pool.Manager
	translator *dialect.Translator
	strict     bool
}

func NewSQLBackend(p *pool.Manager, t *dialect.Translator, strict bool) *SQLBackend {
	return &SQLBackend{pool: p, translator: t, strict: strict}
}

func (b *SQLBackend) Name() string { return sqlBackendName }

func (b *SQLBackend) Init(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by whoever created it
func (b *SQLBackend) Close() {}

func (b *SQLBackend) translate(sql string, params []any) (dialect.Translated, error) {
	var (
		out dialect.Translated
		err error
	)
	if b.strict {
		out, err = b.translator.TranslateStrict(sql, params)
	} else {
		out = b.translator.Translate(sql, params)
		// the translator hands back unused params untouched; the driver rejects them
		if out.Markers == 0 {
			out.Params = nil
		}
	}
	if err != nil {
		return out, err
	}
	if len(out.Transformations) > 0 {
		log.Debug().Strs("transformations", out.Transformations).Str("sql", out.SQL).Msg("Query translated")
	}
	return out, nil
}

// scoped runs fn on a pooled connection, or inside a transaction with
// search_path set when ctx carries a schema
func (b *SQLBackend) scoped(ctx context.Context, fn func(querier) error) error {
	schema, ok := SchemaFrom(ctx)
	if !ok {
		return b.pool.WithConn(ctx, func(conn *pgxpool.Conn) error {
			return fn(conn)
		})
	}
	if !naming.ValidSchemaName(schema) {
		return fmt.Errorf("%w: %q", ErrInvalidSchema, schema)
	}

	return b.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+naming.QuoteIdent(schema)+", public"); err != nil {
			return fmt.Errorf("failed to scope to schema %s: %w", schema, err)
		}
		return fn(tx)
	})
}

// withReturning appends RETURNING * to an INSERT that has no RETURNING clause
func withReturning(sql string) (string, bool) {
	if !insertRe.MatchString(sql) || returningRe.MatchString(sql) {
		return sql, false
	}
	trimmed := strings.TrimRight(sql, " \t\r\n;")
	return trimmed + " RETURNING *", true
}

func (b *SQLBackend) Run(ctx context.Context, sql string, params ...any) (res RunResult, err error) {
	start := time.Now()
	defer func() { observe(sqlBackendName, "run", start, err) }()

	q, err := b.translate(sql, params)
	if err != nil {
		return res, err
	}

	err = b.scoped(ctx, func(conn querier) error {
		if stmt, ok := withReturning(q.SQL); ok || returningRe.MatchString(q.SQL) {
			rows, err := conn.Query(ctx, stmt, q.Params...)
			if err != nil {
				return err
			}
			returned, err := pgx.CollectRows(rows, pgx.RowToMap)
			if err != nil {
				return err
			}
			if len(returned) > 0 {
				res.ID = returned[0]["id"]
			}
			res.Changes = rows.CommandTag().RowsAffected()
			return nil
		}

		tag, err := conn.Exec(ctx, q.SQL, q.Params...)
		if err != nil {
			return err
		}
		res.Changes = tag.RowsAffected()
		return nil
	})
	return res, err
}

func (b *SQLBackend) Get(ctx context.Context, sql string, params ...any) (row Row, err error) {
	start := time.Now()
	defer func() { observe(sqlBackendName, "get", start, err) }()

	q, err := b.translate(sql, params)
	if err != nil {
		return nil, err
	}

	err = b.scoped(ctx, func(conn querier) error {
		rows, err := conn.Query(ctx, q.SQL, q.Params...)
		if err != nil {
			return err
		}
		m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		row = Row(m)
		return nil
	})
	return row, err
}

func (b *SQLBackend) All(ctx context.Context, sql string, params ...any) (out []Row, err error) {
	start := time.Now()
	defer func() { observe(sqlBackendName, "all", start, err) }()

	q, err := b.translate(sql, params)
	if err != nil {
		return nil, err
	}

	err = b.scoped(ctx, func(conn querier) error {
		rows, err := conn.Query(ctx, q.SQL, q.Params...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (Row, error) {
			m, err := pgx.RowToMap(r)
			return Row(m), err
		})
		return err
	})
	return out, err
}
