package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
// The query engine never reads the environment itself; main hands it typed options
type Config struct {
	// Server configuration
	Port string

	// Logging
	LogLevel  string
	LogPretty bool
	LogFile   string // optional file that receives a copy of every entry

	// Rate limiting
	RateLimitType   string // "memory" or "redis"
	RateLimit       int    // number of requests allowed
	RateLimitWindow int    // time window in seconds (default: 1)

	// Lookup backend
	DatastoreType   string // "csv", "mysql", "postgres", "redis" or "maxmind"
	DatastorePath   string // path to CSV file
	MySQLDSN        string
	PostgresDSN     string
	MaxMindCityPath string
	MaxMindASNPath  string
	MaxOpenConns    int

	// Redis connection shared by the redis backend, cache and limiter
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Cache
	CacheType          string // "auto", "memory" or "redis"
	CacheRedisDB       int
	CacheCapacity      int
	CacheSweepInterval time.Duration
	CacheTTL           time.Duration
	BatchCacheTTL      time.Duration
	CacheBatches       bool

	// Worker pool and batching
	WorkerPoolSize   int
	WorkerQueueSize  int
	LookupTimeout    time.Duration
	ConcurrencyLimit int
	BatchChunkSize   int
	BatchPacing      time.Duration
	MaxBatchSize     int
	CoalesceLookups  bool

	// EnvFileLoaded reports whether a .env file was found
	EnvFileLoaded bool
}

// Load reads configuration from environment variables
// with sensible defaults
func Load() *Config {
	// Load .env file if it exists (for local development)
	// In production/Docker, environment variables are set directly
	envFileLoaded := godotenv.Load() == nil

	return &Config{
		Port: getEnv("PORT", "3000"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
		LogFile:   getEnv("LOG_FILE", ""),

		// Rate limiting (default: memory, 10 requests per 1 second)
		RateLimitType:   getEnv("RATE_LIMITER_TYPE", "memory"),
		RateLimit:       getEnvAsInt("RATE_LIMIT", 10),
		RateLimitWindow: getEnvAsInt("RATE_LIMIT_WINDOW", 1),

		DatastoreType:   getEnv("DATASTORE_TYPE", "csv"),
		DatastorePath:   getEnv("DATASTORE_PATH", "./data/locations.csv"),
		MySQLDSN:        getEnv("MYSQL_DSN", ""),
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		MaxMindCityPath: getEnv("MAXMIND_CITY_PATH", "./data/GeoLite2-City.mmdb"),
		MaxMindASNPath:  getEnv("MAXMIND_ASN_PATH", ""),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		CacheType:          strings.ToLower(getEnv("CACHE_TYPE", "auto")),
		CacheRedisDB:       getEnvAsInt("CACHE_REDIS_DB", 1),
		CacheCapacity:      getEnvAsInt("CACHE_CAPACITY", 10000),
		CacheSweepInterval: getEnvAsDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		CacheTTL:           getEnvAsDuration("CACHE_TTL", time.Hour),
		BatchCacheTTL:      getEnvAsDuration("BATCH_CACHE_TTL", 30*time.Minute),
		CacheBatches:       getEnvAsBool("CACHE_BATCHES", true),

		WorkerPoolSize:   getEnvAsInt("WORKER_POOL_SIZE", 10),
		WorkerQueueSize:  getEnvAsInt("WORKER_QUEUE_SIZE", 0),
		LookupTimeout:    getEnvAsDuration("LOOKUP_TIMEOUT", 2*time.Second),
		ConcurrencyLimit: getEnvAsInt("CONCURRENCY_LIMIT", 50),
		BatchChunkSize:   getEnvAsInt("BATCH_CHUNK_SIZE", 50),
		BatchPacing:      getEnvAsDuration("BATCH_PACING", 100*time.Millisecond),
		MaxBatchSize:     getEnvAsInt("MAX_BATCH_SIZE", 1000),
		CoalesceLookups:  getEnvAsBool("COALESCE_LOOKUPS", true),

		EnvFileLoaded: envFileLoaded,
	}
}

// RateLimitPerSecond converts the configured limit into requests per second
// Example: 10 requests per 5 seconds = 2.0 req/s
func (c *Config) RateLimitPerSecond() float64 {
	window := c.RateLimitWindow
	if window <= 0 {
		window = 1
	}
	return float64(c.RateLimit) / float64(window)
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt reads an environment variable as an integer
// Returns default if not set or invalid
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBool accepts anything strconv.ParseBool does
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDuration reads a Go duration ("250ms", "1h") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}

	seconds, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return time.Duration(seconds * float64(time.Second))
}
