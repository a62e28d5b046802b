package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client, "test:")
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCache_SetGetWithTTL(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "geo:ip:8.8.8.8", []byte("payload"), time.Hour))

	val, ok, err := c.Get(ctx, "geo:ip:8.8.8.8")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", string(val))

	assert.Equal(t, time.Hour, mr.TTL("test:geo:ip:8.8.8.8"), "key should be prefixed and carry the TTL")
}

func TestRedisCache_ExpiryIsMiss(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(time.Minute + time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_DeleteExists(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err := c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisCache_ClearKeepsForeignKeys(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, mr.Set("ip:8.8.8.8", "lookup record"))

	cleared, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, cleared)

	assert.False(t, mr.Exists("test:a"))
	assert.False(t, mr.Exists("test:b"))
	assert.True(t, mr.Exists("ip:8.8.8.8"), "Clear must not touch keys outside the prefix")
}

func TestRedisCache_ServerDownIsUnavailable(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()
	mr.Close()

	_, _, err := c.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)

	err = c.Set(ctx, "k", []byte("v"), time.Minute)
	assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)

	_, err = c.Exists(ctx, "k")
	assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
}

func TestRedisCache_Kind(t *testing.T) {
	c, _ := newTestRedisCache(t)
	assert.Equal(t, KindRedis, c.Kind())
}
