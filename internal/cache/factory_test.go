package cache

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AutoSelectsRedisWhenReachable(t *testing.T) {
	mr := miniredis.RunT(t)
	var buf bytes.Buffer

	c, err := New(context.Background(), Config{Type: "auto", RedisAddr: mr.Addr()}, logger.NewWriter(&buf, "info"))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, KindRedis, c.Kind())
	assert.Contains(t, buf.String(), `"backend":"redis"`)
}

func TestNew_AutoFallsBackToMemory(t *testing.T) {
	var buf bytes.Buffer

	c, err := New(context.Background(), Config{
		Type:         "auto",
		RedisAddr:    "127.0.0.1:1",
		ProbeTimeout: 100 * time.Millisecond,
		Capacity:     5,
	}, logger.NewWriter(&buf, "info"))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, KindMemory, c.Kind())
	assert.True(t, strings.Contains(buf.String(), "Redis probe failed"), "fallback must be logged, got %q", buf.String())
}

func TestNew_RedisRequiredFailsWhenUnreachable(t *testing.T) {
	_, err := New(context.Background(), Config{
		Type:         "redis",
		RedisAddr:    "127.0.0.1:1",
		ProbeTimeout: 100 * time.Millisecond,
	}, nil)

	assert.Error(t, err)
}

func TestNew_MemorySkipsProbe(t *testing.T) {
	c, err := New(context.Background(), Config{Type: "MEMORY", RedisAddr: "127.0.0.1:1"}, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, KindMemory, c.Kind())
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "memcached"}, nil)
	assert.Error(t, err)
}

func TestCacheInterface(t *testing.T) {
	var _ Cache = (*MemoryCache)(nil)
	var _ Cache = (*RedisCache)(nil)
}
