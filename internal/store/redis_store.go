package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces lookup records in a shared Redis
const redisKeyPrefix = "ip:"

// RedisStore implements Store using Redis as the location database
//
// Key format: ip:<normalized ip>, value: JSON-encoded models.Location
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with PING
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// FindByIP looks up an IP address in Redis
func (s *RedisStore) FindByIP(ctx context.Context, ip string) (*models.Location, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+ip).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("Redis query failed: %w", err)
	}

	var location models.Location
	if err := json.Unmarshal(val, &location); err != nil {
		return nil, fmt.Errorf("failed to decode IP location: %w", err)
	}

	return &location, nil
}

// Set adds or updates one record (no expiration)
func (s *RedisStore) Set(ctx context.Context, ip string, location models.Location) error {
	data, err := json.Marshal(location)
	if err != nil {
		return fmt.Errorf("failed to encode IP location: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+ip, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store in Redis: %w", err)
	}

	return nil
}

// LoadFromCSV copies every record of a CSV store into Redis using pipelined writes
// Returns the number of records written
func (s *RedisStore) LoadFromCSV(ctx context.Context, src *CSVStore) (int, error) {
	const flushEvery = 500

	pipe := s.client.Pipeline()
	count := 0

	err := src.Each(func(ip string, location models.Location) error {
		data, err := json.Marshal(location)
		if err != nil {
			return fmt.Errorf("failed to encode IP %s: %w", ip, err)
		}
		pipe.Set(ctx, redisKeyPrefix+ip, data, 0)
		count++

		if count%flushEvery == 0 {
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("failed to flush pipeline: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to flush pipeline: %w", err)
	}

	return count, nil
}

// IsEmpty reports whether Redis holds no lookup records
// Uses SCAN instead of KEYS so a large keyspace is not blocked
func (s *RedisStore) IsEmpty(ctx context.Context) (bool, error) {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return false, fmt.Errorf("failed to check Redis keys: %w", err)
		}
		if len(keys) > 0 {
			return false, nil
		}
		// A page can be empty while the cursor is still running
		if next == 0 {
			return true, nil
		}
		cursor = next
	}
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
