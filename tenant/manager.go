// Package tenant manages the lifecycle of per-tenant PostgreSQL schemas:
// create from the template, drop, list, stats, backup, restore and clone.
//
// Every operation reports expected failures (validation, not found, conflict,
// database errors inside the operation) through its result. The error return is
// reserved for faults such as an exhausted or closed pool.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/gobwas/glob"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maxpert/tenantdb/cfg"
	"github.com/maxpert/tenantdb/naming"
	"github.com/maxpert/tenantdb/pool"
	"github.com/maxpert/tenantdb/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// RepresentativeTable is counted before a non-forced drop
const RepresentativeTable = "students"

const defaultOperationTimeout = 5 * time.Minute

var pg = goqu.Dialect("postgres")

// querier is satisfied by *pgxpool.Conn, *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Options configures a Manager
type Options struct {
	Template         *Template
	OperationTimeout time.Duration
}

// OptionsFromSettings loads the template named by the tenant configuration
func OptionsFromSettings(c cfg.TenantConfiguration) (Options, error) {
	tmpl, err := LoadTemplate(c.TemplatePath)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Template:         tmpl,
		OperationTimeout: time.Duration(c.OperationTimeoutSeconds) * time.Second,
	}, nil
}

// Manager runs lifecycle operations against tenant schemas
type Manager struct {
	pool      *pool.Manager
	template  *Template
	opTimeout time.Duration
	locks     *xsync.MapOf[string, *sync.Mutex]
}

// NewManager creates a lifecycle manager on top of p
func NewManager(p *pool.Manager, opts Options) *Manager {
	if opts.Template == nil {
		opts.Template = DefaultTemplate()
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	return &Manager{
		pool:      p,
		template:  opts.Template,
		opTimeout: opts.OperationTimeout,
		locks:     xsync.NewMapOf[string, *sync.Mutex](),
	}
}

// Pool returns the connection pool the manager runs on
func (m *Manager) Pool() *pool.Manager {
	return m.pool
}

// lock serializes operations on one schema within this process
func (m *Manager) lock(schema string) func() {
	mu, _ := m.locks.LoadOrStore(schema, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// advisoryKey is the pg_advisory_xact_lock key for schema
func advisoryKey(schema string) int64 {
	return int64(xxhash.Sum64String("tenantdb:schema:" + schema))
}

func lockSchema(ctx context.Context, tx pgx.Tx, schema string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(schema)); err != nil {
		return fmt.Errorf("failed to lock schema %s: %w", schema, err)
	}
	return nil
}

// detached returns a context that ignores caller cancellation but is bounded
// by the operation timeout. Lifecycle transactions run to commit or rollback.
func (m *Manager) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.opTimeout)
}

// withConn acquires with the caller's context, then runs fn detached
func (m *Manager) withConn(ctx context.Context, fn func(context.Context, *pgxpool.Conn) error) error {
	return m.pool.WithConn(ctx, func(conn *pgxpool.Conn) error {
		octx, cancel := m.detached(ctx)
		defer cancel()
		return fn(octx, conn)
	})
}

func (m *Manager) withTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return m.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return pool.RunTx(ctx, conn, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
	})
}

// isFault reports errors the caller must handle rather than branch on
func isFault(err error) bool {
	return errors.Is(err, pool.ErrAcquireTimeout) ||
		errors.Is(err, pool.ErrClosed) ||
		errors.Is(err, context.Canceled)
}

// settle records err on r and returns it only when it is a fault
func settle(r *Result, err error) error {
	r.fail(err)
	if isFault(err) {
		return err
	}
	return nil
}

func observe(op string, start time.Time, r *Result) {
	telemetry.LifecycleOpsTotal.With(op, resultLabel(*r)).Inc()
	telemetry.LifecycleDurationSeconds.With(op).Observe(time.Since(start).Seconds())
}

// Exists reports whether schema is present in the schema catalog
func (m *Manager) Exists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	err := m.pool.WithConn(ctx, func(conn *pgxpool.Conn) error {
		var err error
		exists, err = schemaExists(ctx, conn, schema)
		return err
	})
	return exists, err
}

func schemaExists(ctx context.Context, q querier, schema string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		schema,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check schema %s: %w", schema, err)
	}
	return exists, nil
}

// List returns every tenant schema name in lexicographic order
func (m *Manager) List(ctx context.Context) ([]string, error) {
	query, args, err := pg.From(goqu.T("schemata").Schema("information_schema")).
		Select("schema_name").
		Where(goqu.C("schema_name").Like(likePrefix(naming.Prefix))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build schema list query: %w", err)
	}

	var names []string
	err = m.pool.WithConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		names, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}

	slices.Sort(names)
	return names, nil
}

// ListMatching returns tenant schemas whose name matches a glob pattern
func (m *Manager) ListMatching(ctx context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid schema pattern %q: %w", pattern, err)
	}

	names, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := names[:0]
	for _, name := range names {
		if g.Match(name) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// schemaTooLong rejects generated names PostgreSQL would silently truncate
func schemaTooLong(schema string) *ValidationError {
	return &ValidationError{
		Schema: schema,
		Reason: fmt.Sprintf("Schema name %s is longer than %d bytes", schema, naming.MaxIdentifierLength),
	}
}

// likePrefix escapes LIKE wildcards in prefix and appends %
func likePrefix(prefix string) string {
	var b []byte
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '_', '%', '\\':
			b = append(b, '\\')
		}
		b = append(b, prefix[i])
	}
	return string(b) + "%"
}

// Create provisions the schema for a tenant code from the template.
//
// The existence check is repeated under a transaction-scoped advisory lock,
// so concurrent creates of the same code have exactly one winner. Statements
// that fail because the object already exists are rolled back to their
// savepoint and reported as skipped; any other failure aborts the whole create.
func (m *Manager) Create(ctx context.Context, code string) (*CreateResult, error) {
	start := time.Now()
	schema := naming.Generate(code)
	res := &CreateResult{SchemaName: schema}
	defer observe("create", start, &res.Result)

	if !naming.ValidSchemaName(schema) {
		res.fail(schemaTooLong(schema))
		return res, nil
	}

	unlock := m.lock(schema)
	defer unlock()

	exists, err := m.Exists(ctx, schema)
	if err != nil {
		return res, settle(&res.Result, err)
	}
	if exists {
		log.Warn().Str("schema", schema).Str("code", code).Msg("Schema already exists, not creating")
		res.fail(&ConflictError{Schema: schema})
		return res, nil
	}

	statements := m.template.Statements(schema)
	err = m.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockSchema(ctx, tx, schema); err != nil {
			return err
		}

		exists, err := schemaExists(ctx, tx, schema)
		if err != nil {
			return err
		}
		if exists {
			return &ConflictError{Schema: schema}
		}

		res.Statements = make([]StatementOutcome, 0, len(statements))
		for i, stmt := range statements {
			outcome, err := execStatement(ctx, tx, i, stmt)
			res.Statements = append(res.Statements, outcome)
			telemetry.StatementOutcomesTotal.With(string(outcome.Outcome)).Inc()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("schema", schema).Msg("Failed to create schema")
		return res, settle(&res.Result, err)
	}

	res.succeed()
	log.Info().
		Str("schema", schema).
		Str("template", m.template.Source()).
		Int("applied", res.Count(OutcomeApplied)).
		Int("skipped", res.Count(OutcomeSkipped)).
		Dur("duration", time.Since(start)).
		Msg("Schema created")
	return res, nil
}

// execStatement runs stmt under a savepoint and classifies the outcome.
// The returned error is non-nil only for OutcomeFailed.
func execStatement(ctx context.Context, tx pgx.Tx, index int, stmt string) (StatementOutcome, error) {
	outcome := StatementOutcome{Index: index, Statement: summarize(stmt)}

	sp, err := tx.Begin(ctx)
	if err != nil {
		outcome.Outcome = OutcomeFailed
		outcome.Error = err.Error()
		return outcome, &StatementError{Index: index, Statement: outcome.Statement, Err: err}
	}

	if _, err := sp.Exec(ctx, stmt); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			outcome.Outcome = OutcomeFailed
			outcome.Error = rbErr.Error()
			return outcome, &StatementError{Index: index, Statement: outcome.Statement, Err: rbErr}
		}

		outcome.Error = errorMessage(err)
		if IsDuplicate(err) {
			outcome.Outcome = OutcomeSkipped
			log.Warn().Str("statement", outcome.Statement).Str("error", outcome.Error).Msg("Provisioning statement skipped as duplicate")
			return outcome, nil
		}

		outcome.Outcome = OutcomeFailed
		return outcome, &StatementError{Index: index, Statement: outcome.Statement, Err: err}
	}

	if err := sp.Commit(ctx); err != nil {
		outcome.Outcome = OutcomeFailed
		outcome.Error = err.Error()
		return outcome, &StatementError{Index: index, Statement: outcome.Statement, Err: err}
	}

	outcome.Outcome = OutcomeApplied
	return outcome, nil
}

// Drop removes a tenant schema and everything in it. Without force a schema
// whose representative table holds rows is kept.
func (m *Manager) Drop(ctx context.Context, schema string, force bool) (*DropResult, error) {
	start := time.Now()
	res := &DropResult{SchemaName: schema, Forced: force}
	defer observe("drop", start, &res.Result)

	if schema == naming.PublicSchema {
		res.fail(&ValidationError{Schema: schema, Reason: "Cannot drop public schema"})
		return res, nil
	}
	if !naming.IsTenantSchema(schema) {
		res.fail(&ValidationError{Schema: schema, Reason: fmt.Sprintf("Schema %s is not a tenant schema", schema)})
		return res, nil
	}

	unlock := m.lock(schema)
	defer unlock()

	err := m.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockSchema(ctx, tx, schema); err != nil {
			return err
		}

		exists, err := schemaExists(ctx, tx, schema)
		if err != nil {
			return err
		}
		if !exists {
			return &NotFoundError{Schema: schema}
		}

		if !force {
			n, err := countRows(ctx, tx, schema, RepresentativeTable)
			if err != nil {
				return err
			}
			if n > 0 {
				return &ValidationError{
					Schema: schema,
					Reason: fmt.Sprintf("Schema %s has %d rows in %s; use force to drop it", schema, n, RepresentativeTable),
				}
			}
		}

		if _, err := tx.Exec(ctx, "DROP SCHEMA "+naming.QuoteIdent(schema)+" CASCADE"); err != nil {
			return fmt.Errorf("failed to drop schema %s: %w", schema, err)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("schema", schema).Bool("force", force).Msg("Schema not dropped")
		return res, settle(&res.Result, err)
	}

	res.succeed()
	log.Info().Str("schema", schema).Bool("force", force).Msg("Schema dropped")
	return res, nil
}

// countRows counts rows of schema.table inside a savepoint. A missing table counts as zero.
func countRows(ctx context.Context, tx pgx.Tx, schema, table string) (int64, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = sp.Rollback(ctx) }()

	var n int64
	err = sp.QueryRow(ctx, "SELECT COUNT(*) FROM "+naming.Qualify(schema, table)).Scan(&n)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count %s.%s: %w", schema, table, err)
	}
	return n, sp.Commit(ctx)
}
