// Package pool owns the bounded set of connections to the shared PostgreSQL
// instance that hosts every tenant schema. A Manager is constructed once and
// passed to every component that needs database access.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/maxpert/tenantdb/cfg"
	"github.com/maxpert/tenantdb/telemetry"
	"github.com/rs/zerolog/log"
)

// Config controls pool sizing, timeouts and the health watchdog
type Config struct {
	URL                 string
	MaxConnections      int32
	MinConnections      int32
	IdleTimeout         time.Duration
	ConnectTimeout      time.Duration
	StatementTimeout    time.Duration // 0 leaves the server default
	AcquireTimeout      time.Duration
	HealthCheckInterval time.Duration // 0 disables the watchdog
	FatalAfterFailures  int

	// OnFatal receives the pool failure once the watchdog gives up.
	// Defaults to logging at fatal level, which exits the process.
	OnFatal func(*FatalPoolError)
}

// ConfigFromSettings maps the database section of the configuration file
func ConfigFromSettings(c cfg.DatabaseConfiguration) Config {
	return Config{
		URL:                 c.URL,
		MaxConnections:      int32(c.MaxConnections),
		MinConnections:      int32(c.MinConnections),
		IdleTimeout:         cfg.Millis(c.IdleTimeoutMS),
		ConnectTimeout:      cfg.Millis(c.ConnectTimeoutMS),
		StatementTimeout:    cfg.Millis(c.StatementTimeoutMS),
		AcquireTimeout:      cfg.Millis(c.AcquireTimeoutMS),
		HealthCheckInterval: time.Duration(c.HealthCheckIntervalSeconds) * time.Second,
		FatalAfterFailures:  c.FatalAfterFailures,
	}
}

// ParseConfig builds the pgxpool configuration for c without connecting
func (c Config) ParseConfig() (*pgxpool.Config, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	poolConfig, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	if c.MaxConnections > 0 {
		poolConfig.MaxConns = c.MaxConnections
	}
	if c.MinConnections > 0 {
		poolConfig.MinConns = c.MinConnections
	}
	if c.IdleTimeout > 0 {
		poolConfig.MaxConnIdleTime = c.IdleTimeout
	}
	if c.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = c.ConnectTimeout
	}
	if c.StatementTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}

	return poolConfig, nil
}

// Manager wraps a pgxpool.Pool with bounded acquire and scoped release
type Manager struct {
	pool *pgxpool.Pool
	cfg  Config
	ping func(context.Context) error

	failures atomic.Int32
	closed   atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New connects the pool, verifies connectivity and starts the watchdog
func New(ctx context.Context, c Config) (*Manager, error) {
	poolConfig, err := c.ParseConfig()
	if err != nil {
		return nil, err
	}

	p, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := newManager(p, c)
	m.ping = m.pingPooled

	log.Info().
		Int32("max_connections", poolConfig.MaxConns).
		Dur("idle_timeout", poolConfig.MaxConnIdleTime).
		Dur("acquire_timeout", m.cfg.AcquireTimeout).
		Str("host", poolConfig.ConnConfig.Host).
		Str("database", poolConfig.ConnConfig.Database).
		Msg("Connection pool ready")

	if c.HealthCheckInterval > 0 {
		m.wg.Add(1)
		go m.watch()
	}

	return m, nil
}

func newManager(p *pgxpool.Pool, c Config) *Manager {
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 2 * time.Second
	}
	if c.FatalAfterFailures <= 0 {
		c.FatalAfterFailures = 1
	}
	if c.OnFatal == nil {
		c.OnFatal = defaultOnFatal
	}
	return &Manager{
		pool:   p,
		cfg:    c,
		stopCh: make(chan struct{}),
	}
}

func defaultOnFatal(err *FatalPoolError) {
	log.Fatal().Err(err).Msg("Database connection pool is unusable, terminating")
}

// Acquire checks out a connection, waiting at most the acquire timeout.
// The caller owns the connection until it calls Release.
func (m *Manager) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	actx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	start := time.Now()
	conn, err := m.pool.Acquire(actx)
	telemetry.PoolAcquireSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			telemetry.PoolAcquireTimeoutsTotal.Inc()
			return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, m.cfg.AcquireTimeout)
		}
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	return conn, nil
}

// WithConn runs fn with an exclusively owned connection and releases it on
// every exit path, including a panic inside fn
func (m *Manager) WithConn(ctx context.Context, fn func(*pgxpool.Conn) error) error {
	conn, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	return fn(conn)
}

// WithTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (m *Manager) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return m.WithConn(ctx, func(conn *pgxpool.Conn) error {
		return RunTx(ctx, conn, fn)
	})
}

// Beginner is satisfied by pooled connections and by transactions (nested
// Begin creates a savepoint)
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RunTx begins a transaction on b and commits or rolls back around fn
func RunTx(ctx context.Context, b Beginner, fn func(pgx.Tx) error) error {
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after a successful commit is a no-op
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable through the pool
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.ping(ctx)
}

// pingPooled pings over a connection checked out with the bounded acquire, so a
// pool saturated by long operations reports ErrAcquireTimeout
func (m *Manager) pingPooled(ctx context.Context) error {
	return m.WithConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.Ping(ctx)
	})
}

// Pool exposes the underlying pgxpool for callers that manage their own scope
func (m *Manager) Pool() *pgxpool.Pool {
	return m.pool
}

// Stat returns the underlying pool statistics
func (m *Manager) Stat() *pgxpool.Stat {
	return m.pool.Stat()
}

// PoolStats implements telemetry.PoolStatsProvider
func (m *Manager) PoolStats() telemetry.PoolStats {
	s := m.pool.Stat()
	return telemetry.PoolStats{
		Total:        s.TotalConns(),
		Idle:         s.IdleConns(),
		Acquired:     s.AcquiredConns(),
		Constructing: s.ConstructingConns(),
		Max:          s.MaxConns(),
	}
}

// Close stops the watchdog and closes every connection
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	if m.pool != nil {
		m.pool.Close()
	}
	log.Info().Msg("Connection pool closed")
}

func (m *Manager) watch() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkHealth()
		case <-m.stopCh:
			return
		}
	}
}

// checkHealth pings once and raises FatalPoolError after FatalAfterFailures
// consecutive failures. A ping that could not get a connection because every
// one is checked out is not a failure: the database is busy, not gone.
func (m *Manager) checkHealth() {
	timeout := m.cfg.AcquireTimeout + m.cfg.ConnectTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := m.ping(ctx)
	if err == nil {
		if prev := m.failures.Swap(0); prev > 0 {
			log.Info().Int32("after_failures", prev).Msg("Database connectivity restored")
		}
		return
	}

	if errors.Is(err, ErrAcquireTimeout) {
		log.Debug().Err(err).Msg("Health check skipped, pool saturated")
		return
	}

	telemetry.PoolHealthCheckFailuresTotal.Inc()
	n := int(m.failures.Add(1))
	log.Warn().Err(err).Int("consecutive_failures", n).Msg("Database health check failed")

	if n >= m.cfg.FatalAfterFailures {
		m.failures.Store(0)
		m.cfg.OnFatal(&FatalPoolError{Failures: n, Err: err})
	}
}
