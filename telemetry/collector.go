package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PoolStats is a point-in-time view of connection pool occupancy
type PoolStats struct {
	Total        int32
	Idle         int32
	Acquired     int32
	Constructing int32
	Max          int32
}

// PoolStatsProvider interface for components that expose pool occupancy
type PoolStatsProvider interface {
	PoolStats() PoolStats
}

// SchemaLister interface for listing tenant schemas
type SchemaLister interface {
	List(ctx context.Context) ([]string, error)
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	pool     PoolStatsProvider
	schemas  SchemaLister
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector. Either source may be nil.
func NewMetricsCollector(pool PoolStatsProvider, schemas SchemaLister, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		pool:     pool,
		schemas:  schemas,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.pool != nil {
		s := mc.pool.PoolStats()
		UpdatePoolStats(s.Total, s.Idle, s.Acquired, s.Constructing, s.Max)
	}

	if mc.schemas == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mc.interval)
	defer cancel()

	names, err := mc.schemas.List(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Metrics collector failed to list schemas")
		return
	}
	TenantSchemas.Set(float64(len(names)))
}
