package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/evyataryagoni/geoquery/internal/config"
	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/store"
)

// This tool seeds the Redis lookup backend from the CSV file
// Usage: go run ./cmd/load-redis
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	appConfig := config.Load()
	log := logger.New(logger.Config{Level: appConfig.LogLevel, Pretty: appConfig.LogPretty}).WithComponent("load-redis")

	csvStore, err := store.NewCSVStore(appConfig.DatastorePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", appConfig.DatastorePath).Msg("Failed to read CSV data")
	}
	log.Info().Int("records", csvStore.Len()).Str("path", appConfig.DatastorePath).Msg("CSV data read")

	redisStore, err := store.NewRedisStore(appConfig.RedisAddr, appConfig.RedisPassword, appConfig.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Str("addr", appConfig.RedisAddr).Msg("Failed to connect to Redis")
	}
	defer redisStore.Close()
	log.Info().Str("addr", appConfig.RedisAddr).Int("db", appConfig.RedisDB).Msg("Connected to Redis")

	start := time.Now()
	n, err := redisStore.LoadFromCSV(ctx, csvStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load CSV data")
	}

	log.Info().
		Int("records", n).
		Dur("elapsed", time.Since(start)).
		Msg("Data loaded; start the server with DATASTORE_TYPE=redis")
}
