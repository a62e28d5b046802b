package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evyataryagoni/geoquery/internal/cache"
	"github.com/evyataryagoni/geoquery/internal/config"
	"github.com/evyataryagoni/geoquery/internal/handler"
	"github.com/evyataryagoni/geoquery/internal/limiter"
	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/metrics"
	"github.com/evyataryagoni/geoquery/internal/pool"
	"github.com/evyataryagoni/geoquery/internal/router"
	"github.com/evyataryagoni/geoquery/internal/service"
	"github.com/evyataryagoni/geoquery/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	appConfig := config.Load()

	// Initialize components
	appLogger := setupLogger(appConfig)
	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	geoService := setupGeoService(ctx, appConfig, metricsCollector, appLogger)
	defer func() {
		if err := geoService.Close(); err != nil {
			appLogger.Error().Err(err).Msg("Shutdown finished with errors")
		}
	}()

	rateLimiter := setupRateLimiter(ctx, appConfig, appLogger)
	defer rateLimiter.Close()

	// Build application layers
	geoHandler := handler.NewGeoHandler(geoService, appConfig.MaxBatchSize, appLogger)
	appRouter := router.SetupRouter(router.Deps{
		Handler:  geoHandler,
		Limiter:  rateLimiter,
		Metrics:  metricsCollector,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   appLogger,
	})

	runServer(ctx, appConfig, appRouter, appLogger)
}

// setupLogger initializes the structured logger
func setupLogger(appConfig *config.Config) *logger.Logger {
	appLogger := logger.New(logger.Config{
		Level:      appConfig.LogLevel,
		Pretty:     appConfig.LogPretty,
		OutputFile: appConfig.LogFile,
	})

	if !appConfig.EnvFileLoaded {
		appLogger.Debug().Msg("No .env file found, using environment variables or defaults")
	}

	appLogger.Info().Msg("Starting geoquery server...")
	appLogger.Info().
		Str("port", appConfig.Port).
		Str("datastore_type", appConfig.DatastoreType).
		Str("cache_type", appConfig.CacheType).
		Int("worker_pool_size", appConfig.WorkerPoolSize).
		Int("concurrency_limit", appConfig.ConcurrencyLimit).
		Int("batch_chunk_size", appConfig.BatchChunkSize).
		Dur("batch_pacing", appConfig.BatchPacing).
		Dur("lookup_timeout", appConfig.LookupTimeout).
		Bool("coalesce_lookups", appConfig.CoalesceLookups).
		Str("rate_limiter_type", appConfig.RateLimitType).
		Int("rate_limit", appConfig.RateLimit).
		Int("rate_limit_window", appConfig.RateLimitWindow).
		Msg("Configuration loaded")

	return appLogger
}

// setupGeoService builds the backend, worker pool and cache, then the engine around them
func setupGeoService(ctx context.Context, appConfig *config.Config, m *metrics.Metrics, log *logger.Logger) *service.GeoService {
	backend, err := store.New(store.Config{
		Type:            appConfig.DatastoreType,
		CSVPath:         appConfig.DatastorePath,
		MySQLDSN:        appConfig.MySQLDSN,
		PostgresDSN:     appConfig.PostgresDSN,
		MaxMindCityPath: appConfig.MaxMindCityPath,
		MaxMindASNPath:  appConfig.MaxMindASNPath,
		RedisAddr:       appConfig.RedisAddr,
		RedisPassword:   appConfig.RedisPassword,
		RedisDB:         appConfig.RedisDB,
		MaxOpenConns:    appConfig.MaxOpenConns,
	})
	if err != nil {
		log.Fatal().Err(err).Str("type", appConfig.DatastoreType).Msg("Failed to initialize lookup backend")
	}
	log.Info().Str("type", appConfig.DatastoreType).Msg("Lookup backend initialized")

	// Auto-load data if the Redis backend is empty
	if redisStore, ok := backend.(*store.RedisStore); ok {
		seedRedisIfEmpty(ctx, redisStore, appConfig.DatastorePath, log)
	}

	workerPool, err := pool.New(backend, pool.Config{
		Size:          appConfig.WorkerPoolSize,
		QueueSize:     appConfig.WorkerQueueSize,
		LookupTimeout: appConfig.LookupTimeout,
		Metrics:       m,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker pool")
	}

	resultCache, err := cache.New(ctx, cache.Config{
		Type:          appConfig.CacheType,
		Capacity:      appConfig.CacheCapacity,
		SweepInterval: appConfig.CacheSweepInterval,
		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.CacheRedisDB,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache")
	}

	geoService, err := service.New(service.Deps{
		Backend: backend,
		Cache:   resultCache,
		Pool:    workerPool,
		Metrics: m,
		Logger:  log,
	}, service.Options{
		CacheTTL:         appConfig.CacheTTL,
		BatchCacheTTL:    appConfig.BatchCacheTTL,
		ChunkSize:        appConfig.BatchChunkSize,
		ConcurrencyLimit: int64(appConfig.ConcurrencyLimit),
		Pacing:           appConfig.BatchPacing,
		Coalesce:         appConfig.CoalesceLookups,
		CacheBatches:     appConfig.CacheBatches,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize geo service")
	}

	return geoService
}

// seedRedisIfEmpty loads the CSV file into an empty Redis backend
func seedRedisIfEmpty(ctx context.Context, redisStore *store.RedisStore, csvPath string, log *logger.Logger) {
	isEmpty, err := redisStore.IsEmpty(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to check if Redis is empty")
		return
	}
	if !isEmpty {
		return
	}

	log.Info().Str("path", csvPath).Msg("Redis is empty, loading sample data from CSV")
	csvStore, err := store.NewCSVStore(csvPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read sample data")
		return
	}
	n, err := redisStore.LoadFromCSV(ctx, csvStore)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load sample data")
		return
	}
	log.Info().Int("records", n).Msg("Sample data loaded into Redis")
}

// setupRateLimiter initializes the rate limiter
func setupRateLimiter(ctx context.Context, appConfig *config.Config, log *logger.Logger) limiter.Limiter {
	rate := appConfig.RateLimitPerSecond()

	rateLimiter, err := limiter.New(ctx, limiter.Config{
		Type:              appConfig.RateLimitType,
		RequestsPerSecond: rate,
		RedisAddr:         appConfig.RedisAddr,
		RedisPassword:     appConfig.RedisPassword,
		RedisDB:           appConfig.RedisDB,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rate limiter")
	}

	log.Info().
		Str("type", appConfig.RateLimitType).
		Float64("requests_per_second", rate).
		Msg("Rate limiter initialized")

	return rateLimiter
}

// runServer serves until ctx is cancelled, then drains in-flight requests
func runServer(ctx context.Context, appConfig *config.Config, appRouter http.Handler, log *logger.Logger) {
	srv := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           appRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", appConfig.Port).
			Str("lookup", "http://localhost:"+appConfig.Port+"/v1/lookup?ip=<ip>").
			Str("batch", "http://localhost:"+appConfig.Port+"/v1/batch").
			Str("stats", "http://localhost:"+appConfig.Port+"/v1/stats").
			Str("health_check", "http://localhost:"+appConfig.Port+"/health").
			Str("metrics", "http://localhost:"+appConfig.Port+"/metrics").
			Msg("Server is running")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
		}
		return
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
