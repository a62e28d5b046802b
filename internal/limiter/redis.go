package limiter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces limiter counters in a shared Redis
const DefaultKeyPrefix = "geoquery:ratelimit:"

// incrWindow increments the window counter and sets its expiry on first use
var incrWindow = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter is a fixed-window counter shared by every instance
//
// Key format: "<prefix><client>:<window number>". Windows are one second for
// rates of at least 1 req/s and 1/rate seconds for fractional rates.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	window time.Duration
	limit  int64
	now    func() time.Time
	logger *logger.Logger
}

// NewRedisLimiter wraps an existing client; the caller owns probing it
func NewRedisLimiter(client *redis.Client, requestsPerSecond float64, log *logger.Logger) *RedisLimiter {
	if log == nil {
		log = logger.NewNop()
	}

	window := time.Second
	if requestsPerSecond > 0 && requestsPerSecond < 1.0 {
		// Example: 0.2 req/s -> 1/0.2 = 5 second windows
		window = time.Duration(float64(time.Second) / requestsPerSecond)
	}

	return &RedisLimiter{
		client: client,
		prefix: DefaultKeyPrefix,
		window: window,
		// Example: 0.2 req/s * 5 sec = 1 request per window
		limit:  int64(math.Ceil(requestsPerSecond * window.Seconds())),
		now:    time.Now,
		logger: log.WithComponent("RedisLimiter"),
	}
}

// Allow implements Limiter
// Redis errors fail open so an outage does not turn into a full denial of service
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	windowSeconds := int64(l.window / time.Second)
	windowNumber := l.now().Unix() / windowSeconds
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, windowNumber)

	count, err := incrWindow.Run(ctx, l.client, []string{redisKey}, windowSeconds*2).Int64()
	if err != nil {
		l.logger.Warn().Err(err).Str("client", key).Msg("Rate limiter unavailable, allowing request")
		return true
	}

	return count <= l.limit
}

// Limit returns the number of requests allowed per window
func (l *RedisLimiter) Limit() int64 {
	return l.limit
}

// Close closes the Redis connection
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
