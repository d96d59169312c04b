// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyProvider is returned when a media-data operation names no provider.
var ErrEmptyProvider = errors.New("media data: provider id is empty")

// MediaData is one provider's opaque MEDIA_DATA document. Top-level fields
// are kept as raw JSON.
type MediaData map[string]json.RawMessage

// MediaCache keeps one MediaData document per provider. Merge overwrites
// top-level fields and leaves the others untouched.
type MediaCache interface {
	Merge(ctx context.Context, provider string, fields MediaData) (MediaData, error)
	Get(ctx context.Context, provider string) (MediaData, error)
}

// MemoryMediaCache is the in-process MediaCache.
type MemoryMediaCache struct {
	mu   sync.Mutex
	docs map[string]MediaData
}

func NewMemoryMediaCache() *MemoryMediaCache {
	return &MemoryMediaCache{docs: make(map[string]MediaData)}
}

func (c *MemoryMediaCache) Merge(_ context.Context, provider string, fields MediaData) (MediaData, error) {
	if provider == "" {
		return nil, ErrEmptyProvider
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[provider]
	if !ok {
		doc = make(MediaData, len(fields))
		c.docs[provider] = doc
	}
	maps.Copy(doc, fields)
	return maps.Clone(doc), nil
}

func (c *MemoryMediaCache) Get(_ context.Context, provider string) (MediaData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := c.docs[provider]
	if doc == nil {
		return MediaData{}, nil
	}
	return maps.Clone(doc), nil
}

// RedisMediaCache stores each provider document as a hash, one field per
// top-level key, so HSET is the shallow merge.
type RedisMediaCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisMediaCache(client redis.UniversalClient, prefix string) *RedisMediaCache {
	if prefix == "" {
		prefix = "keewacker:media:"
	}
	return &RedisMediaCache{client: client, prefix: prefix}
}

func (c *RedisMediaCache) Merge(ctx context.Context, provider string, fields MediaData) (MediaData, error) {
	if provider == "" {
		return nil, ErrEmptyProvider
	}
	key := c.prefix + provider

	var all *redis.MapStringStringCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(fields) > 0 {
			values := make([]any, 0, len(fields)*2)
			for k, v := range fields {
				values = append(values, k, string(v))
			}
			pipe.HSet(ctx, key, values...)
		}
		all = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("media data merge %s: %w", provider, err)
	}
	return toMediaData(all.Val()), nil
}

func (c *RedisMediaCache) Get(ctx context.Context, provider string) (MediaData, error) {
	vals, err := c.client.HGetAll(ctx, c.prefix+provider).Result()
	if err != nil {
		return nil, fmt.Errorf("media data get %s: %w", provider, err)
	}
	return toMediaData(vals), nil
}

func toMediaData(vals map[string]string) MediaData {
	out := make(MediaData, len(vals))
	for k, v := range vals {
		out[k] = json.RawMessage(v)
	}
	return out
}

var (
	_ MediaCache = (*MemoryMediaCache)(nil)
	_ MediaCache = (*RedisMediaCache)(nil)
)
