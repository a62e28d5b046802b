// Package service holds the query engine: single-address cache-aside lookups,
// paced batch fan-out and the stats snapshot, behind the GeoService facade.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evyataryagoni/geoquery/internal/cache"
	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/metrics"
	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/evyataryagoni/geoquery/internal/pool"
	"github.com/evyataryagoni/geoquery/internal/stats"
	"github.com/evyataryagoni/geoquery/internal/store"
)

// Deps are the long-lived components the service owns after New
type Deps struct {
	Backend store.Store
	Cache   cache.Cache
	Pool    *pool.Pool
	Metrics *metrics.Metrics // optional
	Logger  *logger.Logger   // optional
}

// Options are the tunables main reads from configuration
type Options struct {
	CacheTTL         time.Duration
	BatchCacheTTL    time.Duration
	ChunkSize        int
	ConcurrencyLimit int64
	Pacing           time.Duration
	Coalesce         bool
	CacheBatches     bool
	StatsRingSize    int
}

// GeoService is the public surface of the query engine
// main constructs exactly one and closes it on shutdown
type GeoService struct {
	backend store.Store
	cache   cache.Cache
	pool    *pool.Pool
	stats   *stats.Recorder
	logger  *logger.Logger

	query *QueryService
	batch *BatchService
}

// New wires the coordinators around deps
func New(deps Deps, opts Options) (*GeoService, error) {
	if deps.Backend == nil || deps.Cache == nil || deps.Pool == nil {
		return nil, fmt.Errorf("geo service requires a backend, a cache and a worker pool")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	rec := stats.NewRecorder(opts.StatsRingSize, deps.Metrics)
	if deps.Metrics != nil {
		deps.Metrics.CacheBackendInfo.WithLabelValues(string(deps.Cache.Kind())).Set(1)
	}

	query := NewQueryService(deps.Cache, deps.Pool, rec, opts.CacheTTL, opts.Coalesce, log)
	batch := NewBatchService(query, BatchOptions{
		ChunkSize:        opts.ChunkSize,
		ConcurrencyLimit: opts.ConcurrencyLimit,
		Pacing:           opts.Pacing,
		CacheTTL:         opts.BatchCacheTTL,
		CacheBatches:     opts.CacheBatches,
	}, log)

	log.WithComponent("GeoService").Info().
		Str("cache_backend", string(deps.Cache.Kind())).
		Int("pool_size", deps.Pool.Size()).
		Bool("coalesce", opts.Coalesce).
		Bool("cache_batches", opts.CacheBatches).
		Msg("Geo service ready")

	return &GeoService{
		backend: deps.Backend,
		cache:   deps.Cache,
		pool:    deps.Pool,
		stats:   rec,
		logger:  log.WithComponent("GeoService"),
		query:   query,
		batch:   batch,
	}, nil
}

// QueryOne looks up a single address
func (g *GeoService) QueryOne(ctx context.Context, address string) models.LookupResult {
	return g.query.QueryOne(ctx, address)
}

// QueryBatch looks up addresses in chunks; chunkSize <= 0 uses the configured default
func (g *GeoService) QueryBatch(ctx context.Context, addresses []string, chunkSize int) models.BatchResult {
	return g.batch.QueryBatch(ctx, addresses, chunkSize)
}

// Stats returns a snapshot of counters, latency and component gauges
func (g *GeoService) Stats(ctx context.Context) stats.Snapshot {
	return g.stats.Snapshot(g)
}

// CacheBackend reports which cache backend was selected at startup
func (g *GeoService) CacheBackend() cache.Kind {
	return g.cache.Kind()
}

// Gauges implements stats.Source
func (g *GeoService) Gauges() stats.Gauges {
	entries := -1
	var evictions uint64
	if mem, ok := g.cache.(*cache.MemoryCache); ok {
		entries = mem.Len()
		evictions = mem.Evictions()
	}
	return stats.Gauges{
		CacheBackend: string(g.cache.Kind()),
		CacheEntries: entries,
		Evictions:    evictions,
		PoolSize:     g.pool.Size(),
		PoolInFlight: g.pool.InFlight(),
		PoolQueued:   g.pool.Queued(),
	}
}

// Close drains the pool, then closes the cache and the backend
func (g *GeoService) Close() error {
	var errs []error
	if err := g.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close worker pool: %w", err))
	}
	if err := g.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if err := g.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}

	g.logger.Info().Msg("Geo service stopped")
	return errors.Join(errs...)
}
