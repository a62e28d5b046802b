package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Config holds cache backend selection parameters
type Config struct {
	Type string // "auto", "memory" or "redis"

	// In-process map settings
	Capacity      int
	SweepInterval time.Duration

	// Shared store settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	ProbeTimeout  time.Duration
}

// New selects the cache backend once for the process lifetime
//
//   - "auto": probe Redis; use it when reachable, otherwise fall back to memory
//   - "redis": Redis is required; an unreachable server is a startup error
//   - "memory": never touch the network
//
// The decision is logged so operators can tell which mode is active.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Cache, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("cache")

	mode := strings.ToLower(strings.TrimSpace(cfg.Type))
	switch mode {
	case "memory":
		log.Info().Str("backend", string(KindMemory)).Int("capacity", cfg.Capacity).Msg("Cache backend selected")
		return NewMemoryCache(cfg.Capacity, cfg.SweepInterval), nil

	case "redis", "auto", "":
		client, err := probeRedis(ctx, cfg)
		if err == nil {
			log.Info().
				Str("backend", string(KindRedis)).
				Str("addr", cfg.RedisAddr).
				Int("db", cfg.RedisDB).
				Msg("Cache backend selected")
			return NewRedisCache(client, cfg.KeyPrefix), nil
		}

		if mode == "redis" {
			return nil, fmt.Errorf("redis cache required but unreachable: %w", err)
		}

		log.Warn().
			Err(err).
			Str("backend", string(KindMemory)).
			Str("redis_addr", cfg.RedisAddr).
			Int("capacity", cfg.Capacity).
			Msg("Redis probe failed, cache backend selected")
		return NewMemoryCache(cfg.Capacity, cfg.SweepInterval), nil

	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: 'auto', 'memory', 'redis')", cfg.Type)
	}
}

// probeRedis connects and pings within the probe timeout
func probeRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("no redis address configured")
	}

	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: timeout,
	})

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(probeCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
