package store

import (
	"fmt"
	"strings"
)

// Config selects and parameterizes a lookup backend
type Config struct {
	Type string // "csv", "mysql", "postgres", "redis" or "maxmind"

	CSVPath string

	MySQLDSN    string
	PostgresDSN string

	MaxMindCityPath string
	MaxMindASNPath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MaxOpenConns sizes SQL connection pools; set it to the worker pool size
	MaxOpenConns int
}

// New creates a lookup backend based on the configuration (factory pattern)
func New(cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "csv", "":
		var csvStore *CSVStore
		csvStore, err = NewCSVStore(cfg.CSVPath)
		s = csvStore

	case "mysql":
		var mysqlStore *MySQLStore
		mysqlStore, err = NewMySQLStore(cfg.MySQLDSN, cfg.MaxOpenConns)
		s = mysqlStore

	case "postgres", "postgresql":
		var pgStore *PostgresStore
		pgStore, err = NewPostgresStore(cfg.PostgresDSN, cfg.MaxOpenConns)
		s = pgStore

	case "redis":
		var redisStore *RedisStore
		redisStore, err = NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		s = redisStore

	case "maxmind", "mmdb":
		var mmStore *MaxMindStore
		mmStore, err = NewMaxMindStore(cfg.MaxMindCityPath, cfg.MaxMindASNPath)
		s = mmStore

	default:
		return nil, fmt.Errorf("unknown datastore type: %s (supported: 'csv', 'mysql', 'postgres', 'redis', 'maxmind')", cfg.Type)
	}

	if err != nil {
		return nil, err
	}
	return s, nil
}
