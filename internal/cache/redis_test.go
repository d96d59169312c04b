// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisCache_SetGet(t *testing.T) {
	_, client := setupMiniRedis(t)
	cache := NewRedisCache(client, "", zerolog.Nop())
	ctx := context.Background()

	cache.Set(ctx, "test-key", []byte(`{"title":"Dune"}`), 5*time.Minute)

	val, found := cache.Get(ctx, "test-key")
	require.True(t, found)
	assert.JSONEq(t, `{"title":"Dune"}`, string(val))

	_, found = cache.Get(ctx, "missing")
	assert.False(t, found)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestRedisCache_TTL(t *testing.T) {
	mr, client := setupMiniRedis(t)
	cache := NewRedisCache(client, "", zerolog.Nop())
	ctx := context.Background()

	cache.Set(ctx, "ttl-key", []byte("v"), 100*time.Millisecond)
	_, found := cache.Get(ctx, "ttl-key")
	require.True(t, found)

	mr.FastForward(200 * time.Millisecond)

	_, found = cache.Get(ctx, "ttl-key")
	assert.False(t, found)
}

func TestRedisCache_ClearOnlyOwnPrefix(t *testing.T) {
	mr, client := setupMiniRedis(t)
	cache := NewRedisCache(client, "test:", zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, mr.Set("foreign", "keep"))
	cache.Set(ctx, "key1", []byte("1"), time.Minute)
	cache.Set(ctx, "key2", []byte("2"), time.Minute)
	require.Equal(t, 2, cache.Stats().CurrentSize)

	cache.Delete(ctx, "key1")
	_, found := cache.Get(ctx, "key1")
	assert.False(t, found)

	cache.Clear(ctx)
	assert.Equal(t, 0, cache.Stats().CurrentSize)
	assert.True(t, mr.Exists("foreign"))
}

func TestRedisCache_HealthCheck(t *testing.T) {
	mr, client := setupMiniRedis(t)
	cache := NewRedisCache(client, "", zerolog.Nop())

	require.NoError(t, cache.HealthCheck(context.Background()))
	mr.Close()
	assert.Error(t, cache.HealthCheck(context.Background()))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewRedisClient(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
