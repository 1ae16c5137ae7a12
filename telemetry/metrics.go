package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// LifecycleBuckets for schema create/drop/clone/backup (DDL + bulk copy)
	LifecycleBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

	// QueryBuckets for single statements issued through a backend
	QueryBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// AcquireBuckets for pool acquire waits
	AcquireBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2}
)

// Schema Lifecycle Metrics
var (
	// LifecycleOpsTotal counts lifecycle operations by op (create, drop, clone, backup, restore, seed) and result
	LifecycleOpsTotal CounterVec = noopCounterVec{}

	// LifecycleDurationSeconds measures lifecycle operation latency by op
	LifecycleDurationSeconds HistogramVec = noopHistogramVec{}

	// StatementOutcomesTotal counts provisioning statements by outcome (applied, skipped, failed)
	StatementOutcomesTotal CounterVec = noopCounterVec{}

	// TenantSchemas tracks the number of tenant schemas present
	TenantSchemas Gauge = NoopStat{}

	// BackupBytesTotal counts bytes written to backup artifacts
	BackupBytesTotal Counter = NoopStat{}

	// SeededRowsTotal counts catalog rows inserted by the seeder, by catalog
	SeededRowsTotal CounterVec = noopCounterVec{}
)

// Query Processing Metrics
var (
	// QueriesTotal counts backend calls by backend (sql, remote), method (run, get, all) and result
	QueriesTotal CounterVec = noopCounterVec{}

	// QueryDurationSeconds measures backend call latency by backend and method
	QueryDurationSeconds HistogramVec = noopHistogramVec{}

	// TranslatorCacheTotal counts translator cache lookups by result (hit, miss)
	TranslatorCacheTotal CounterVec = noopCounterVec{}
)

// Pool Metrics
var (
	// PoolConnections tracks pool connections by state (total, idle, acquired, constructing)
	PoolConnections GaugeVec = noopGaugeVec{}

	// PoolMaxConnections is the configured connection ceiling
	PoolMaxConnections Gauge = NoopStat{}

	// PoolAcquireSeconds measures time spent waiting for a connection
	PoolAcquireSeconds Histogram = NoopStat{}

	// PoolAcquireTimeoutsTotal counts acquires that gave up waiting
	PoolAcquireTimeoutsTotal Counter = NoopStat{}

	// PoolHealthCheckFailuresTotal counts failed watchdog pings
	PoolHealthCheckFailuresTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Schema Lifecycle Metrics
	LifecycleOpsTotal = NewCounterVec(
		"lifecycle_ops_total",
		"Schema lifecycle operations by op and result",
		[]string{"op", "result"},
	)
	LifecycleDurationSeconds = NewHistogramVec(
		"lifecycle_duration_seconds",
		"Schema lifecycle operation duration in seconds",
		[]string{"op"},
		LifecycleBuckets,
	)
	StatementOutcomesTotal = NewCounterVec(
		"provisioning_statements_total",
		"Provisioning statements by outcome",
		[]string{"outcome"},
	)
	TenantSchemas = NewGauge(
		"tenant_schemas",
		"Number of tenant schemas in the database",
	)
	BackupBytesTotal = NewCounter(
		"backup_bytes_total",
		"Total bytes written to backup artifacts",
	)
	SeededRowsTotal = NewCounterVec(
		"seeded_rows_total",
		"Catalog rows inserted by the seeder",
		[]string{"catalog"},
	)

	// Query Processing Metrics
	QueriesTotal = NewCounterVec(
		"queries_total",
		"Backend calls by backend, method and result",
		[]string{"backend", "method", "result"},
	)
	QueryDurationSeconds = NewHistogramVec(
		"query_duration_seconds",
		"Backend call duration in seconds",
		[]string{"backend", "method"},
		QueryBuckets,
	)
	TranslatorCacheTotal = NewCounterVec(
		"translator_cache_total",
		"Translator cache lookups by result",
		[]string{"result"},
	)

	// Pool Metrics
	PoolConnections = NewGaugeVec(
		"pool_connections",
		"Pool connections by state",
		[]string{"state"},
	)
	PoolMaxConnections = NewGauge(
		"pool_max_connections",
		"Configured maximum pool size",
	)
	PoolAcquireSeconds = NewHistogramWithBuckets(
		"pool_acquire_seconds",
		"Time waiting to acquire a pooled connection in seconds",
		AcquireBuckets,
	)
	PoolAcquireTimeoutsTotal = NewCounter(
		"pool_acquire_timeouts_total",
		"Acquires that exceeded the acquire timeout",
	)
	PoolHealthCheckFailuresTotal = NewCounter(
		"pool_health_check_failures_total",
		"Failed pool health check pings",
	)
}

// UpdatePoolStats publishes a pool snapshot
func UpdatePoolStats(total, idle, acquired, constructing, max int32) {
	PoolConnections.With("total").Set(float64(total))
	PoolConnections.With("idle").Set(float64(idle))
	PoolConnections.With("acquired").Set(float64(acquired))
	PoolConnections.With("constructing").Set(float64(constructing))
	PoolMaxConnections.Set(float64(max))
}
