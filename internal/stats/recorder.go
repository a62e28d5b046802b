// Package stats keeps the in-process counters and latency aggregate reported
// by the stats endpoint. Every record call is mirrored to Prometheus when a
// metrics collector is attached.
package stats

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evyataryagoni/geoquery/internal/metrics"
	"github.com/evyataryagoni/geoquery/internal/models"
)

// DefaultRingSize is how many recent latency samples are kept
const DefaultRingSize = 1024

// Gauges are point-in-time values owned by other components
type Gauges struct {
	CacheBackend string
	CacheEntries int // -1 when the backend cannot report it cheaply
	Evictions    uint64
	PoolSize     int
	PoolInFlight int
	PoolQueued   int
}

// Source supplies Gauges at snapshot time
type Source interface {
	Gauges() Gauges
}

// Latency summarises the samples currently in the ring
type Latency struct {
	Count  int     `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Snapshot is a copy of the recorder state; it shares nothing with the recorder
type Snapshot struct {
	Queries            uint64  `json:"queries"`
	CacheHits          uint64  `json:"cache_hits"`
	CacheMisses        uint64  `json:"cache_misses"`
	HitRate            float64 `json:"hit_rate"`
	Successes          uint64  `json:"successes"`
	NotFound           uint64  `json:"not_found"`
	Failures           uint64  `json:"failures"`
	ValidationFailures uint64  `json:"validation_failures"`
	CacheErrors        uint64  `json:"cache_errors"`
	Coalesced          uint64  `json:"coalesced"`
	Batches            uint64  `json:"batches"`
	BatchItems         uint64  `json:"batch_items"`

	Latency Latency `json:"latency"`

	CacheBackend  string  `json:"cache_backend"`
	CacheEntries  int     `json:"cache_entries"`
	Evictions     uint64  `json:"cache_evictions"`
	PoolSize      int     `json:"pool_size"`
	PoolInFlight  int     `json:"pool_in_flight"`
	PoolQueued    int     `json:"pool_queued"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Recorder is safe for concurrent use
type Recorder struct {
	queries            atomic.Uint64
	cacheHits          atomic.Uint64
	cacheMisses        atomic.Uint64
	successes          atomic.Uint64
	notFound           atomic.Uint64
	failures           atomic.Uint64
	validationFailures atomic.Uint64
	cacheErrors        atomic.Uint64
	coalesced          atomic.Uint64
	batches            atomic.Uint64
	batchItems         atomic.Uint64

	mu      sync.Mutex
	ring    []float64
	next    int
	filled  bool
	started time.Time

	metrics *metrics.Metrics
}

// NewRecorder creates a recorder; m may be nil
func NewRecorder(ringSize int, m *metrics.Metrics) *Recorder {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Recorder{
		ring:    make([]float64, ringSize),
		started: time.Now(),
		metrics: m,
	}
}

// RecordValidationFailure counts a rejected address string
func (r *Recorder) RecordValidationFailure() {
	r.validationFailures.Add(1)
	if r.metrics != nil {
		r.metrics.ValidationFailures.Inc()
		r.metrics.LookupsTotal.WithLabelValues("invalid").Inc()
	}
}

func (r *Recorder) RecordCacheHit() {
	r.cacheHits.Add(1)
	if r.metrics != nil {
		r.metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	}
}

func (r *Recorder) RecordCacheMiss() {
	r.cacheMisses.Add(1)
	if r.metrics != nil {
		r.metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	}
}

// RecordCacheError counts a cache operation that could not reach its backend
func (r *Recorder) RecordCacheError() {
	r.cacheErrors.Add(1)
	if r.metrics != nil {
		r.metrics.CacheErrorsTotal.Inc()
	}
}

// RecordCoalesced counts a lookup that shared another caller's backend call
func (r *Recorder) RecordCoalesced() {
	r.coalesced.Add(1)
	if r.metrics != nil {
		r.metrics.CoalescedLookups.Inc()
	}
}

// RecordLookup counts one validated query by outcome and keeps its latency
func (r *Recorder) RecordLookup(res models.LookupResult, elapsed time.Duration) {
	r.queries.Add(1)

	outcome := "success"
	switch res.Error {
	case "":
		r.successes.Add(1)
	case models.ErrAddressNotFound:
		r.notFound.Add(1)
		outcome = "not_found"
	default:
		r.failures.Add(1)
		outcome = "failure"
	}

	ms := float64(elapsed.Microseconds()) / 1000
	r.mu.Lock()
	r.ring[r.next] = ms
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.filled = true
	}
	r.mu.Unlock()

	if r.metrics != nil {
		source := "backend"
		if res.FromCache {
			source = "cache"
		}
		r.metrics.LookupsTotal.WithLabelValues(outcome).Inc()
		r.metrics.LookupDuration.WithLabelValues(source).Observe(ms)
	}
}

// RecordBatch counts a finished batch of items
func (r *Recorder) RecordBatch(items int, elapsed time.Duration) {
	r.batches.Add(1)
	r.batchItems.Add(uint64(items))
	if r.metrics != nil {
		r.metrics.BatchesTotal.Inc()
		r.metrics.BatchSize.Observe(float64(items))
		r.metrics.BatchDuration.Observe(float64(elapsed.Microseconds()) / 1000)
	}
}

// Snapshot copies the counters and summarises the latency ring; src may be nil
func (r *Recorder) Snapshot(src Source) Snapshot {
	s := Snapshot{
		Queries:            r.queries.Load(),
		CacheHits:          r.cacheHits.Load(),
		CacheMisses:        r.cacheMisses.Load(),
		Successes:          r.successes.Load(),
		NotFound:           r.notFound.Load(),
		Failures:           r.failures.Load(),
		ValidationFailures: r.validationFailures.Load(),
		CacheErrors:        r.cacheErrors.Load(),
		Coalesced:          r.coalesced.Load(),
		Batches:            r.batches.Load(),
		BatchItems:         r.batchItems.Load(),
		Latency:            r.latency(),
		CacheEntries:       -1,
		UptimeSeconds:      time.Since(r.started).Seconds(),
	}

	if reads := s.CacheHits + s.CacheMisses; reads > 0 {
		s.HitRate = float64(s.CacheHits) / float64(reads)
	}

	if src != nil {
		g := src.Gauges()
		s.CacheBackend = g.CacheBackend
		s.CacheEntries = g.CacheEntries
		s.Evictions = g.Evictions
		s.PoolSize = g.PoolSize
		s.PoolInFlight = g.PoolInFlight
		s.PoolQueued = g.PoolQueued
	}

	return s
}

func (r *Recorder) latency() Latency {
	r.mu.Lock()
	n := r.next
	if r.filled {
		n = len(r.ring)
	}
	samples := make([]float64, n)
	copy(samples, r.ring[:n])
	r.mu.Unlock()

	if n == 0 {
		return Latency{}
	}

	sort.Float64s(samples)
	var sum float64
	for _, v := range samples {
		sum += v
	}

	return Latency{
		Count:  n,
		MeanMs: sum / float64(n),
		MinMs:  samples[0],
		MaxMs:  samples[n-1],
		P50Ms:  percentile(samples, 0.50),
		P99Ms:  percentile(samples, 0.99),
	}
}

// percentile uses the nearest-rank method on sorted samples
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}
