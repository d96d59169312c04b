// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progress

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	xglog "github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/metrics"
)

// LRUStore is a bounded Store. Recency is write order: Upsert moves a key to
// the head and reads never reorder. Inserting past capacity evicts the least
// recently watched record.
type LRUStore struct {
	// mu serialises read-merge-write in Upsert and guards the cache
	// pointer, which Close replaces.
	mu       sync.RWMutex
	cache    *lru.Cache[string, Record]
	capacity int
	label    string
}

// NewLRUStore creates a bounded in-memory store.
func NewLRUStore(capacity int) (*LRUStore, error) {
	return newLRUStore(capacity, BackendMemory)
}

func newLRUStore(capacity int, label string) (*LRUStore, error) {
	s := &LRUStore{capacity: capacity, label: label}
	c, err := lru.NewWithEvict[string, Record](capacity, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.cache = c
	return s, nil
}

func (s *LRUStore) onEvict(key string, rec Record) {
	metrics.RecordProgressEvictions(s.label, 1)
	logger := xglog.WithComponent("progress")
	logger.Debug().
		Str(xglog.FieldEvent, "progress.evicted").
		Str(xglog.FieldStore, s.label).
		Str(xglog.FieldContentKey, key).
		Time("last_watched_at", rec.LastWatchedAt).
		Msg("retention cap reached, evicted least recently watched record")
}

func (s *LRUStore) Get(ctx context.Context, contentKey string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cache.Peek(contentKey)
	return rec, ok, nil
}

func (s *LRUStore) Upsert(ctx context.Context, rec Record) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.cache.Peek(rec.ContentKey); ok {
		rec = rec.mergeOnto(prev)
	}
	s.cache.Add(rec.ContentKey, rec)
	metrics.RecordProgressUpsert(s.label)
	return nil
}

// List returns records newest first.
func (s *LRUStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.cache.Keys() // oldest to newest
	out := make([]Record, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if rec, ok := s.cache.Peek(keys[i]); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *LRUStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Len(), nil
}

// Capacity returns the retention cap.
func (s *LRUStore) Capacity() int {
	return s.capacity
}

func (s *LRUStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Purge fires the eviction callback; detach it first.
	c, err := lru.New[string, Record](s.capacity)
	if err != nil {
		return err
	}
	s.cache = c
	return nil
}
