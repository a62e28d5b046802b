package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/evyataryagoni/geoquery/internal/cache"
	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/evyataryagoni/geoquery/internal/stats"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheTTL applies to single-address entries
	DefaultCacheTTL = time.Hour

	singleKeyPrefix = "geo:ip:"
	batchKeyPrefix  = "geo:batch:"
)

// Lookuper runs one backend lookup for a normalized address
// *pool.Pool is the production implementation
type Lookuper interface {
	Submit(ctx context.Context, address string) models.LookupResult
}

// QueryService answers single-address queries cache-aside
//
// Flow:
//  1. Validate and normalize the address
//  2. Read the cache
//  3. On a miss, run the lookup on the worker pool
//  4. Cache error-free results
type QueryService struct {
	cache     cache.Cache
	lookuper  Lookuper
	stats     *stats.Recorder
	validator *validator.Validate
	logger    *logger.Logger

	ttl      time.Duration
	coalesce bool
	group    singleflight.Group
}

// NewQueryService creates a query service; ttl <= 0 selects DefaultCacheTTL
func NewQueryService(c cache.Cache, l Lookuper, rec *stats.Recorder, ttl time.Duration, coalesce bool, log *logger.Logger) *QueryService {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if rec == nil {
		rec = stats.NewRecorder(0, nil)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &QueryService{
		cache:     c,
		lookuper:  l,
		stats:     rec,
		validator: validator.New(),
		logger:    log.WithComponent("QueryCoordinator"),
		ttl:       ttl,
		coalesce:  coalesce,
	}
}

// QueryOne looks up a single address
// Every outcome is reported in the result; it never returns a Go error
func (s *QueryService) QueryOne(ctx context.Context, address string) models.LookupResult {
	start := time.Now()

	normalized, ok := s.normalize(address)
	if !ok {
		s.stats.RecordValidationFailure()
		s.logger.Debug().Str("ip", address).Msg("Invalid IP address format")
		return models.NewErrorResult(address, models.ErrInvalidAddressFormat, "invalid IP address format")
	}

	key := SingleKey(normalized)

	if res, hit := s.readCache(ctx, key); hit {
		res.Address = address
		res.FromCache = true
		res.DurationMs = elapsedMs(start)
		s.stats.RecordCacheHit()
		s.stats.RecordLookup(res, time.Since(start))
		return res
	}
	s.stats.RecordCacheMiss()

	res := s.lookup(ctx, normalized)

	if res.OK() {
		s.writeCache(ctx, key, res, s.ttl)
	}

	res.Address = address
	res.FromCache = false
	res.DurationMs = elapsedMs(start)
	s.stats.RecordLookup(res, time.Since(start))
	return res
}

// lookup submits to the pool, sharing one in-flight call per address when coalescing
func (s *QueryService) lookup(ctx context.Context, normalized string) models.LookupResult {
	if !s.coalesce {
		return s.lookuper.Submit(ctx, normalized)
	}

	// The shared call outlives any one waiter; the pool timeout still bounds it
	ch := s.group.DoChan(normalized, func() (res interface{}, err error) {
		// singleflight would re-panic on its own goroutine
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("ip", normalized).Msg("Shared lookup panicked")
				res = models.NewErrorResult(normalized, models.ErrLookupFailure, fmt.Sprintf("panic: %v", r))
			}
		}()
		return s.lookuper.Submit(context.WithoutCancel(ctx), normalized), nil
	})

	select {
	case r := <-ch:
		if r.Shared {
			s.stats.RecordCoalesced()
		}
		// LookupResult is a value type; each waiter gets its own copy
		return r.Val.(models.LookupResult)
	case <-ctx.Done():
		return models.NewErrorResult(normalized, models.ErrLookupFailure, "cancelled: "+ctx.Err().Error())
	}
}

// normalize validates address and returns its canonical text form
func (s *QueryService) normalize(address string) (string, bool) {
	if err := s.validator.Var(address, "required,ip"); err != nil {
		return "", false
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

func (s *QueryService) readCache(ctx context.Context, key string) (models.LookupResult, bool) {
	var res models.LookupResult
	if !s.readCacheInto(ctx, key, &res) {
		return models.LookupResult{}, false
	}
	return res, true
}

// readCacheInto decodes the entry at key into v
// Cache errors and undecodable entries are reported as a miss
func (s *QueryService) readCacheInto(ctx context.Context, key string, v interface{}) bool {
	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.cacheUnavailable(err, "get", key)
		return false
	}
	if !found {
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		if _, err := s.cache.Delete(ctx, key); err != nil {
			s.cacheUnavailable(err, "delete", key)
		}
		return false
	}
	return true
}

func (s *QueryService) writeCache(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.cacheUnavailable(err, "set", key)
	}
}

func (s *QueryService) cacheUnavailable(err error, op, key string) {
	s.stats.RecordCacheError()
	s.logger.Warn().
		Err(err).
		Str("error_kind", string(models.ErrCacheUnavailable)).
		Str("op", op).
		Str("key", key).
		Msg("Cache unavailable, continuing without it")
}

// SingleKey is the cache key for one normalized address
func SingleKey(normalized string) string {
	return singleKeyPrefix + normalized
}

// BatchKey is the cache key for a set of normalized addresses
// Order and duplicates do not change the key
func BatchKey(normalized []string) string {
	unique := make(map[string]struct{}, len(normalized))
	for _, a := range normalized {
		unique[a] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for a := range unique {
		sorted = append(sorted, a)
	}
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return batchKeyPrefix + hex.EncodeToString(sum[:])
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
