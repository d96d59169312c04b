// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allnine-dev/keewacker/internal/cache"
	"github.com/allnine-dev/keewacker/internal/provider"
	"golang.org/x/sync/singleflight"
)

// Cached decorates a Source with a TTL cache. Concurrent misses for the same
// id share one upstream call. Misses (ErrNotFound) are cached for negTTL.
type Cached struct {
	src    Source
	cache  cache.Cache
	ttl    time.Duration
	negTTL time.Duration
	group  singleflight.Group
}

// NewCached wraps src.
func NewCached(src Source, c cache.Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{src: src, cache: c, ttl: ttl, negTTL: min(ttl, 10*time.Minute)}
}

type cachedEntry struct {
	Found   bool    `json:"found"`
	Details Details `json:"details"`
}

func cacheKey(mt provider.MediaType, id int) string {
	return fmt.Sprintf("metadata:%s:%d", mt, id)
}

func (c *Cached) Lookup(ctx context.Context, mt provider.MediaType, tmdbID int) (Details, error) {
	key := cacheKey(mt, tmdbID)
	if raw, ok := c.cache.Get(ctx, key); ok {
		var e cachedEntry
		if err := json.Unmarshal(raw, &e); err == nil {
			if !e.Found {
				return Details{}, ErrNotFound
			}
			return e.Details, nil
		}
		c.cache.Delete(ctx, key)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		d, err := c.src.Lookup(ctx, mt, tmdbID)
		switch {
		case err == nil:
			c.store(ctx, key, cachedEntry{Found: true, Details: d}, c.ttl)
		case errors.Is(err, ErrNotFound):
			c.store(ctx, key, cachedEntry{}, c.negTTL)
		}
		return d, err
	})
	if err != nil {
		return Details{}, err
	}
	return v.(Details), nil
}

func (c *Cached) store(ctx context.Context, key string, e cachedEntry, ttl time.Duration) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	c.cache.Set(ctx, key, raw, ttl)
}
