// Package backend routes "?" query templates to the data-access backend chosen at startup.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/maxpert/tenantdb/telemetry"
)

// Row is one result row keyed by column name
type Row map[string]any

// RunResult describes a write. ID is the id column of the first returned
// row when the statement produced one.
type RunResult struct {
	ID      any   `json:"id,omitempty" msgpack:"id,omitempty"`
	Changes int64 `json:"changes" msgpack:"changes"`
}

// Backend is the data-access contract consumed by the upper layers
type Backend interface {
	Name() string
	Init(ctx context.Context) error
	Run(ctx context.Context, sql string, params ...any) (RunResult, error)
	// Get returns the first row, or nil when there is none
	Get(ctx context.Context, sql string, params ...any) (Row, error)
	All(ctx context.Context, sql string, params ...any) ([]Row, error)
	Close()
}

// ErrInvalidSchema is returned when a call is scoped to a malformed schema name
var ErrInvalidSchema = errors.New("invalid schema scope")

type schemaKey struct{}

// WithSchema scopes backend calls made with ctx to a tenant schema
func WithSchema(ctx context.Context, schema string) context.Context {
	return context.WithValue(ctx, schemaKey{}, schema)
}

// SchemaFrom returns the schema ctx is scoped to
func SchemaFrom(ctx context.Context) (string, bool) {
	schema, ok := ctx.Value(schemaKey{}).(string)
	return schema, ok && schema != ""
}

func observe(backend, method string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	telemetry.QueriesTotal.With(backend, method, result).Inc()
	telemetry.QueryDurationSeconds.With(backend, method).Observe(time.Since(start).Seconds())
}
