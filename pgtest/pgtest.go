// Package pgtest connects tests to a live PostgreSQL instance.
//
// Tests that need a database call Open; when TENANTDB_TEST_DATABASE_URL is
// unset (or -short is given) the test is skipped instead of failing.
package pgtest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maxpert/tenantdb/naming"
	"github.com/maxpert/tenantdb/pool"
)

// EnvDSN names the environment variable holding the test connection string
const EnvDSN = "TENANTDB_TEST_DATABASE_URL"

// DSN returns the test connection string or skips t
func DSN(t testing.TB) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set, skipping database test", EnvDSN)
	}
	return dsn
}

// Config returns a small pool configuration for tests
func Config(t testing.TB) pool.Config {
	return pool.Config{
		URL:              DSN(t),
		MaxConnections:   4,
		IdleTimeout:      10 * time.Second,
		ConnectTimeout:   5 * time.Second,
		StatementTimeout: 30 * time.Second,
		AcquireTimeout:   5 * time.Second,
		OnFatal: func(err *pool.FatalPoolError) {
			t.Errorf("unexpected fatal pool error: %v", err)
		},
	}
}

// Open returns a connected pool that is closed when the test ends
func Open(t testing.TB) *pool.Manager {
	t.Helper()
	return OpenWithConfig(t, Config(t))
}

// OpenWithConfig is Open with a caller-supplied configuration
func OpenWithConfig(t testing.TB, c pool.Config) *pool.Manager {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := pool.New(ctx, c)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

// UniqueCode returns a tenant code that no other test run will produce
func UniqueCode(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// DropOnCleanup removes schema (if present) when the test ends
func DropOnCleanup(t testing.TB, m *pool.Manager, schema string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := m.Pool().Exec(ctx, "DROP SCHEMA IF EXISTS "+naming.QuoteIdent(schema)+" CASCADE")
		if err != nil {
			t.Logf("cleanup of schema %s failed: %v", schema, err)
		}
	})
}
