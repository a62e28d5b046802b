// Package limiter throttles HTTP clients before their requests reach the
// query engine. The in-memory limiter suits a single instance; the Redis
// limiter shares one budget across every instance behind a load balancer.
package limiter

import "context"

// Limiter is the interface that all rate limiters must implement
type Limiter interface {
	// Allow reports whether the client identified by key may proceed
	Allow(ctx context.Context, key string) bool

	// Close cleans up any resources (Redis connections, goroutines, etc.)
	Close() error
}
