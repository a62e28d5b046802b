package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/evyataryagoni/geoquery/internal/metrics"
	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fixedSource Gauges

func (f fixedSource) Gauges() Gauges { return Gauges(f) }

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder(0, nil)

	r.RecordValidationFailure()
	r.RecordCacheHit()
	r.RecordCacheMiss()
	r.RecordCacheMiss()
	r.RecordCacheError()
	r.RecordCoalesced()
	r.RecordLookup(models.LookupResult{Address: "8.8.8.8"}, time.Millisecond)
	r.RecordLookup(models.NewErrorResult("10.0.0.1", models.ErrAddressNotFound, ""), time.Millisecond)
	r.RecordLookup(models.NewErrorResult("10.0.0.2", models.ErrLookupFailure, ""), time.Millisecond)
	r.RecordBatch(3, 5*time.Millisecond)

	s := r.Snapshot(nil)

	assert.Equal(t, uint64(3), s.Queries)
	assert.Equal(t, uint64(1), s.CacheHits)
	assert.Equal(t, uint64(2), s.CacheMisses)
	assert.InDelta(t, 1.0/3.0, s.HitRate, 0.0001)
	assert.Equal(t, uint64(1), s.Successes)
	assert.Equal(t, uint64(1), s.NotFound)
	assert.Equal(t, uint64(1), s.Failures)
	assert.Equal(t, uint64(1), s.ValidationFailures)
	assert.Equal(t, uint64(1), s.CacheErrors)
	assert.Equal(t, uint64(1), s.Coalesced)
	assert.Equal(t, uint64(1), s.Batches)
	assert.Equal(t, uint64(3), s.BatchItems)
	assert.Equal(t, -1, s.CacheEntries)
	assert.Equal(t, "", s.CacheBackend)
}

func TestRecorder_Latency(t *testing.T) {
	r := NewRecorder(0, nil)

	assert.Equal(t, Latency{}, r.Snapshot(nil).Latency, "empty ring reports zeros")

	for i := 1; i <= 100; i++ {
		r.RecordLookup(models.LookupResult{}, time.Duration(i)*time.Millisecond)
	}

	l := r.Snapshot(nil).Latency
	assert.Equal(t, 100, l.Count)
	assert.Equal(t, 1.0, l.MinMs)
	assert.Equal(t, 100.0, l.MaxMs)
	assert.InDelta(t, 50.5, l.MeanMs, 0.001)
	assert.Equal(t, 50.0, l.P50Ms)
	assert.Equal(t, 99.0, l.P99Ms)
}

func TestRecorder_RingKeepsMostRecent(t *testing.T) {
	r := NewRecorder(4, nil)

	for _, ms := range []int{100, 100, 1, 2, 3, 4} {
		r.RecordLookup(models.LookupResult{}, time.Duration(ms)*time.Millisecond)
	}

	l := r.Snapshot(nil).Latency
	assert.Equal(t, 4, l.Count)
	assert.Equal(t, 4.0, l.MaxMs, "old samples must be overwritten")
	assert.Equal(t, uint64(6), r.Snapshot(nil).Queries, "counters are not windowed")
}

func TestRecorder_SnapshotReadsSource(t *testing.T) {
	r := NewRecorder(0, nil)

	s := r.Snapshot(fixedSource{
		CacheBackend: "memory",
		CacheEntries: 42,
		Evictions:    5,
		PoolSize:     10,
		PoolInFlight: 3,
		PoolQueued:   7,
	})

	assert.Equal(t, "memory", s.CacheBackend)
	assert.Equal(t, 42, s.CacheEntries)
	assert.Equal(t, uint64(5), s.Evictions)
	assert.Equal(t, 10, s.PoolSize)
	assert.Equal(t, 3, s.PoolInFlight)
	assert.Equal(t, 7, s.PoolQueued)
	assert.GreaterOrEqual(t, s.UptimeSeconds, 0.0)
}

func TestRecorder_SnapshotIsACopy(t *testing.T) {
	r := NewRecorder(0, nil)
	r.RecordCacheHit()

	before := r.Snapshot(nil)
	r.RecordCacheHit()

	assert.Equal(t, uint64(1), before.CacheHits)
	assert.Equal(t, uint64(2), r.Snapshot(nil).CacheHits)
}

func TestRecorder_MirrorsPrometheus(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := NewRecorder(0, m)

	r.RecordValidationFailure()
	r.RecordCacheHit()
	r.RecordCacheMiss()
	r.RecordLookup(models.LookupResult{FromCache: true}, time.Millisecond)
	r.RecordLookup(models.NewErrorResult("10.0.0.1", models.ErrAddressNotFound, ""), time.Millisecond)
	r.RecordBatch(2, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal))
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(16, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				r.RecordLookup(models.LookupResult{}, time.Millisecond)
				r.Snapshot(nil)
			}
		}()
	}
	wg.Wait()

	s := r.Snapshot(nil)
	assert.Equal(t, uint64(1000), s.Queries)
	assert.Equal(t, 16, s.Latency.Count)
}
