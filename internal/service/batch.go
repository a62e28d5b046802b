package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/evyataryagoni/geoquery/internal/stats"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultChunkSize        = 50
	DefaultConcurrencyLimit = 50
	DefaultPacing           = 100 * time.Millisecond
	DefaultBatchCacheTTL    = 30 * time.Minute
)

// BatchOptions tunes batch scheduling
type BatchOptions struct {
	ChunkSize        int           // addresses per chunk when the caller passes <= 0
	ConcurrencyLimit int64         // items in flight across every batch
	Pacing           time.Duration // pause between chunks; negative disables it
	CacheTTL         time.Duration // batch aggregate TTL
	CacheBatches     bool          // store and reuse whole-batch aggregates
}

// BatchService fans a list of addresses out over QueryService in paced chunks
type BatchService struct {
	query  *QueryService
	sem    *semaphore.Weighted
	opts   BatchOptions
	stats  *stats.Recorder
	logger *logger.Logger
}

// NewBatchService creates a batch service sharing query's cache and pool
// The semaphore it creates is the process-wide ceiling; build one per process
func NewBatchService(query *QueryService, opts BatchOptions, log *logger.Logger) *BatchService {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if opts.Pacing == 0 {
		opts.Pacing = DefaultPacing
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultBatchCacheTTL
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BatchService{
		query:  query,
		sem:    semaphore.NewWeighted(opts.ConcurrencyLimit),
		opts:   opts,
		stats:  query.stats,
		logger: log.WithComponent("BatchCoordinator"),
	}
}

// QueryBatch looks up every address and returns one result per input, in input order
//
// Items fail independently: an invalid, missing or failed address only
// affects its own result. Cancelling ctx stops scheduling new chunks and
// marks the unscheduled items as cancelled.
func (s *BatchService) QueryBatch(ctx context.Context, addresses []string, chunkSize int) models.BatchResult {
	start := time.Now()
	if chunkSize <= 0 {
		chunkSize = s.opts.ChunkSize
	}

	var batchKey string
	if s.opts.CacheBatches {
		batchKey = s.batchKey(addresses)
		if batchKey != "" {
			if results, ok := s.fromBatchCache(ctx, batchKey, addresses, start); ok {
				return s.finish(results, start, true)
			}
		}
	}

	results := make([]models.LookupResult, len(addresses))

	for offset := 0; offset < len(addresses); offset += chunkSize {
		if offset > 0 && !s.pace(ctx) {
			s.cancelFrom(results, addresses, offset)
			break
		}
		if ctx.Err() != nil {
			s.cancelFrom(results, addresses, offset)
			break
		}

		end := offset + chunkSize
		if end > len(addresses) {
			end = len(addresses)
		}
		s.runChunk(ctx, addresses, results, offset, end)
	}

	if batchKey != "" && allOK(results) {
		s.storeBatch(ctx, batchKey, results)
	}

	return s.finish(results, start, false)
}

// runChunk queries addresses[from:to] concurrently, writing each result by index
func (s *BatchService) runChunk(ctx context.Context, addresses []string, results []models.LookupResult, from, to int) {
	var wg sync.WaitGroup
	for i := from; i < to; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.queryItem(ctx, addresses[i])
		}(i)
	}
	wg.Wait()
}

func (s *BatchService) queryItem(ctx context.Context, address string) (res models.LookupResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("ip", address).Msg("Batch item panicked")
			res = models.NewErrorResult(address, models.ErrLookupFailure, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return models.NewErrorResult(address, models.ErrLookupFailure, "cancelled")
	}
	defer s.sem.Release(1)

	return s.query.QueryOne(ctx, address)
}

// pace waits between chunks and reports false when ctx ends first
func (s *BatchService) pace(ctx context.Context) bool {
	if s.opts.Pacing < 0 {
		return true
	}
	timer := time.NewTimer(s.opts.Pacing)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *BatchService) cancelFrom(results []models.LookupResult, addresses []string, from int) {
	s.logger.Info().
		Int("completed", from).
		Int("cancelled", len(addresses)-from).
		Msg("Batch cancelled")
	for i := from; i < len(addresses); i++ {
		results[i] = models.NewErrorResult(addresses[i], models.ErrLookupFailure, "cancelled")
	}
}

// batchKey returns "" when no address in the batch is valid
func (s *BatchService) batchKey(addresses []string) string {
	normalized := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if n, ok := s.query.normalize(a); ok {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return ""
	}
	return BatchKey(normalized)
}

// fromBatchCache rebuilds results in input order from a stored aggregate
// The aggregate is keyed by normalized address; anything missing is a miss
func (s *BatchService) fromBatchCache(ctx context.Context, key string, addresses []string, start time.Time) ([]models.LookupResult, bool) {
	var byAddress map[string]models.LookupResult
	if !s.query.readCacheInto(ctx, key, &byAddress) {
		return nil, false
	}

	results := make([]models.LookupResult, len(addresses))
	for i, a := range addresses {
		n, ok := s.query.normalize(a)
		if !ok {
			results[i] = models.NewErrorResult(a, models.ErrInvalidAddressFormat, "invalid IP address format")
			continue
		}
		res, ok := byAddress[n]
		if !ok {
			return nil, false
		}
		res.Address = a
		res.FromCache = true
		res.DurationMs = elapsedMs(start)
		results[i] = res
	}

	for _, res := range results {
		if res.Error == models.ErrInvalidAddressFormat {
			s.stats.RecordValidationFailure()
			continue
		}
		s.stats.RecordCacheHit()
		s.stats.RecordLookup(res, time.Since(start))
	}

	s.logger.Debug().Str("key", key).Int("items", len(addresses)).Msg("Batch served from cache")
	return results, true
}

func (s *BatchService) storeBatch(ctx context.Context, key string, results []models.LookupResult) {
	byAddress := make(map[string]models.LookupResult, len(results))
	for _, res := range results {
		n, ok := s.query.normalize(res.Address)
		if !ok {
			continue
		}
		res.Address = n
		res.FromCache = false
		byAddress[n] = res
	}
	s.query.writeCache(ctx, key, byAddress, s.opts.CacheTTL)
}

func (s *BatchService) finish(results []models.LookupResult, start time.Time, fromCache bool) models.BatchResult {
	out := models.BatchResult{Results: results}
	for _, res := range results {
		if res.OK() {
			out.SuccessCount++
		}
		if res.FromCache {
			out.CacheHitCount++
		}
	}
	out.ElapsedMs = elapsedMs(start)

	s.stats.RecordBatch(len(results), time.Since(start))
	s.logger.Info().
		Int("items", len(results)).
		Int("success", out.SuccessCount).
		Int("cache_hits", out.CacheHitCount).
		Bool("aggregate_hit", fromCache).
		Float64("elapsed_ms", out.ElapsedMs).
		Msg("Batch completed")

	return out
}

func allOK(results []models.LookupResult) bool {
	for _, res := range results {
		if !res.OK() {
			return false
		}
	}
	return true
}
