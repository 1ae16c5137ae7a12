package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maxpert/tenantdb/naming"
	"github.com/rs/zerolog/log"
)

type statCounter struct {
	name  string
	table string
	where exp.Expression
	dest  func(*Stats) *int64
}

var (
	isActive    = goqu.C("is_active").IsTrue()
	inThisMonth = goqu.And(
		goqu.C("created_at").Gte(goqu.L("DATE_TRUNC('month', CURRENT_DATE)")),
		goqu.C("created_at").Lt(goqu.L("DATE_TRUNC('month', CURRENT_DATE) + INTERVAL '1 month'")),
	)
)

var statCounters = []statCounter{
	{"activeStudents", "students", isActive, func(s *Stats) *int64 { return &s.ActiveStudents }},
	{"activeTeachers", "teachers", isActive, func(s *Stats) *int64 { return &s.ActiveTeachers }},
	{"activeClasses", "classes", isActive, func(s *Stats) *int64 { return &s.ActiveClasses }},
	{"incidentsThisMonth", "incidents", inThisMonth, func(s *Stats) *int64 { return &s.IncidentsThisMonth }},
	{"meritsThisMonth", "merits", inThisMonth, func(s *Stats) *int64 { return &s.MeritsThisMonth }},
}

// countQuery builds SELECT COUNT(*) FROM schema.table WHERE where
func countQuery(schema, table string, where exp.Expression) (string, []any, error) {
	return pg.From(goqu.S(schema).Table(table)).
		Select(goqu.COUNT(goqu.Star())).
		Where(where).
		Prepared(true).
		ToSQL()
}

// Stats computes the operational counters for schema with one query each.
// A counter whose query fails (for example a missing table) is reported as zero.
func (m *Manager) Stats(ctx context.Context, schema string) (*StatsResult, error) {
	start := time.Now()
	res := &StatsResult{SchemaName: schema}
	defer observe("stats", start, &res.Result)

	if !naming.ValidSchemaName(schema) {
		res.fail(&ValidationError{Schema: schema, Reason: fmt.Sprintf("Invalid schema name %q", schema)})
		return res, nil
	}

	err := m.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		exists, err := schemaExists(ctx, conn, schema)
		if err != nil {
			return err
		}
		if !exists {
			return &NotFoundError{Schema: schema}
		}

		for _, c := range statCounters {
			*c.dest(&res.Stats) = runCounter(ctx, conn, schema, c)
		}
		return nil
	})
	if err != nil {
		return res, settle(&res.Result, err)
	}

	res.succeed()
	return res, nil
}

func runCounter(ctx context.Context, q querier, schema string, c statCounter) int64 {
	query, args, err := countQuery(schema, c.table, c.where)
	if err != nil {
		log.Debug().Err(err).Str("counter", c.name).Msg("Failed to build stats query")
		return 0
	}

	var n int64
	if err := q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		log.Debug().Err(err).Str("schema", schema).Str("counter", c.name).Msg("Stats counter unavailable, reporting 0")
		return 0
	}
	return n
}
