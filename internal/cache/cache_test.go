// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryCache_GetSet(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()

	cache.Set(ctx, "key1", []byte("value1"), 5*time.Minute)

	val, ok := cache.Get(ctx, "key1")
	require.True(t, ok, "expected to find key1")
	assert.Equal(t, "value1", string(val))

	_, ok = cache.Get(ctx, "nonexistent")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestMemoryCache_Expiration(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Set(ctx, "shortlived", []byte("v"), time.Minute)
	cache.Set(ctx, "forever", []byte("v"), 0)

	_, ok := cache.Get(ctx, "shortlived")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(ctx, "shortlived")
	assert.False(t, ok, "expected key to be expired")
	_, ok = cache.Get(ctx, "forever")
	assert.True(t, ok)

	assert.Equal(t, 1, cache.deleteExpired())
	assert.Equal(t, int64(1), cache.Stats().Evictions)
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()

	in := []byte("abc")
	cache.Set(ctx, "k", in, 0)
	in[0] = 'x'

	out, _ := cache.Get(ctx, "k")
	out[1] = 'y'

	again, _ := cache.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryCache_DeleteAndClear(t *testing.T) {
	cache := NewMemoryCache(0)
	ctx := context.Background()

	cache.Set(ctx, "a", []byte("1"), 0)
	cache.Set(ctx, "b", []byte("2"), 0)

	cache.Delete(ctx, "a")
	_, ok := cache.Get(ctx, "a")
	assert.False(t, ok)

	cache.Clear(ctx)
	assert.Equal(t, 0, cache.Stats().CurrentSize)
}

func TestMemoryCache_JanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cache := NewMemoryCache(5 * time.Millisecond)
	cache.Set(context.Background(), "k", []byte("v"), time.Millisecond)

	assert.Eventually(t, func() bool { return cache.Stats().CurrentSize == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, cache.Close())
	require.NoError(t, cache.Close())
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, CacheStats{}, c.Stats())
}
