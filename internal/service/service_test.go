package service

import (
	"context"
	"errors"
	"testing"

	"github.com/evyataryagoni/geoquery/internal/cache"
	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/metrics"
	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/evyataryagoni/geoquery/internal/pool"
	"github.com/evyataryagoni/geoquery/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	svc     *GeoService
	backend *store.MockStore
	cache   *cache.MemoryCache
	pool    *pool.Pool
}

// newTestEnv builds a GeoService over a mock backend and an in-process cache
func newTestEnv(t *testing.T, backend *store.MockStore, poolCfg pool.Config, opts Options) *testEnv {
	t.Helper()

	p, err := pool.New(backend, poolCfg, logger.NewNop())
	require.NoError(t, err)

	c := cache.NewMemoryCache(0, 0)

	svc, err := New(Deps{Backend: backend, Cache: c, Pool: p}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	return &testEnv{svc: svc, backend: backend, cache: c, pool: p}
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)

	_, err = New(Deps{Backend: store.NewMockStore(), Cache: cache.NewMemoryCache(1, 0)}, Options{})
	assert.Error(t, err, "a worker pool is required")
}

func TestGeoService_Stats(t *testing.T) {
	env := newTestEnv(t, store.NewMockStore(), pool.Config{Size: 3}, Options{})
	ctx := context.Background()

	env.svc.QueryOne(ctx, "8.8.8.8")
	env.svc.QueryOne(ctx, "8.8.8.8")
	env.svc.QueryOne(ctx, "192.168.1.1")
	env.svc.QueryOne(ctx, "not-an-ip")
	env.svc.QueryBatch(ctx, []string{"1.1.1.1"}, 0)

	s := env.svc.Stats(ctx)

	assert.Equal(t, "memory", s.CacheBackend)
	assert.Equal(t, 3, s.PoolSize)
	assert.Equal(t, 0, s.PoolInFlight)
	assert.Equal(t, 0, s.PoolQueued)
	assert.Equal(t, 2, s.CacheEntries, "8.8.8.8 and 1.1.1.1 are cached")

	assert.Equal(t, uint64(4), s.Queries)
	assert.Equal(t, uint64(1), s.CacheHits)
	assert.Equal(t, uint64(3), s.CacheMisses)
	assert.Equal(t, uint64(3), s.Successes)
	assert.Equal(t, uint64(1), s.NotFound)
	assert.Equal(t, uint64(1), s.ValidationFailures)
	assert.Equal(t, uint64(1), s.Batches)
	assert.Equal(t, uint64(1), s.BatchItems)
	assert.Equal(t, 4, s.Latency.Count)
}

func TestGeoService_MetricsMirror(t *testing.T) {
	backend := store.NewMockStore()
	p, err := pool.New(backend, pool.Config{Size: 1}, nil)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())

	svc, err := New(Deps{Backend: backend, Cache: cache.NewMemoryCache(0, 0), Pool: p, Metrics: m}, Options{})
	require.NoError(t, err)
	defer svc.Close()

	svc.QueryOne(context.Background(), "8.8.8.8")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheBackendInfo.WithLabelValues("memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("miss")))
}

func TestGeoService_Close(t *testing.T) {
	backend := store.NewMockStore()
	backend.CloseError = errors.New("connection already closed")
	env := newTestEnv(t, backend, pool.Config{Size: 1}, Options{})

	err := env.svc.Close()

	assert.ErrorContains(t, err, "close backend")
	assert.True(t, backend.CloseCalled)

	res := env.pool.Submit(context.Background(), "8.8.8.8")
	assert.Equal(t, models.ErrLookupFailure, res.Error, "pool must be closed")
	assert.Equal(t, pool.ErrClosed.Error(), res.Message)
}
