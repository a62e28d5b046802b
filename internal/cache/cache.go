// Package cache implements the TTL key/value store that sits in front of the
// lookup backend. Two backends exist: an in-process bounded map and a shared
// Redis. The choice is made once at startup by New and reported through Kind.
package cache

import (
	"context"
	"errors"
	"time"
)

// Kind identifies the backend serving a Cache
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// ErrUnavailable wraps any failure to reach the cache backend
// Callers treat it as a miss, never as a lookup failure
var ErrUnavailable = errors.New("cache unavailable")

// Cache is a TTL key/value store holding serialized payloads
// Values handed in and out are copies; callers may reuse their slices
type Cache interface {
	// Get returns the value and true on a hit; expired keys are a miss
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl, overwriting any existing entry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether it existed
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes every entry owned by this cache
	Clear(ctx context.Context) (bool, error)

	// Exists reports whether a live entry exists for key
	Exists(ctx context.Context, key string) (bool, error)

	// Kind reports which backend was selected
	Kind() Kind

	// Close releases the backend
	Close() error
}
