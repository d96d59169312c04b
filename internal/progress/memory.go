// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progress

import (
	"context"
	"sort"
	"sync"

	"github.com/allnine-dev/keewacker/internal/metrics"
)

// MemoryStore is an unbounded, map-backed Store.
type MemoryStore struct {
	label string
	mu    sync.RWMutex
	data  map[string]Record
	seq   map[string]uint64
	next  uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return newMemoryStore(BackendMemory)
}

func newMemoryStore(label string) *MemoryStore {
	return &MemoryStore{
		label: label,
		data:  make(map[string]Record),
		seq:   make(map[string]uint64),
	}
}

func (s *MemoryStore) Get(ctx context.Context, contentKey string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[contentKey]
	return rec, ok, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec Record) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.data[rec.ContentKey]; ok {
		rec = rec.mergeOnto(prev)
	}
	s.next++
	s.data[rec.ContentKey] = rec
	s.seq[rec.ContentKey] = s.next
	metrics.RecordProgressUpsert(s.label)
	return nil
}

// List returns records in write order, newest first.
func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ContentKey] > s.seq[out[j].ContentKey]
	})
	return out, nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = make(map[string]Record)
	s.seq = make(map[string]uint64)
	s.mu.Unlock()
	return nil
}
