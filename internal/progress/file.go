// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	xglog "github.com/allnine-dev/keewacker/internal/log"
)

// FileStore is a Store persisted as one JSON array (newest first). Every
// upsert rewrites the snapshot atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
	mem  Store

	// skipped counts snapshot entries dropped by the last load.
	skipped int
}

// NewFileStore opens the snapshot at path, creating it on first write. A
// positive capacity evicts the least recently watched record past the cap;
// zero or less keeps every record.
func NewFileStore(path string, capacity int) (*FileStore, error) {
	var mem Store = newMemoryStore(BackendFile)
	if capacity > 0 {
		lru, err := newLRUStore(capacity, BackendFile)
		if err != nil {
			return nil, err
		}
		mem = lru
	}
	s := &FileStore{path: path, mem: mem}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("progress: read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var history []Record
	if err := json.Unmarshal(data, &history); err != nil {
		return fmt.Errorf("progress: decode snapshot %s: %w", s.path, err)
	}
	// Replay oldest first so the newest entry ends at the head. Entries that
	// no longer validate are skipped.
	ctx := context.Background()
	skipped := 0
	for i := len(history) - 1; i >= 0; i-- {
		if err := s.mem.Upsert(ctx, history[i]); err != nil {
			skipped++
			logger := xglog.WithComponent("progress")
			logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "progress.snapshot_entry_skipped").
				Str(xglog.FieldStore, BackendFile).
				Str(xglog.FieldContentKey, history[i].ContentKey).
				Str("path", s.path).
				Msg("skipping invalid record in history snapshot")
		}
	}
	s.skipped = skipped
	return nil
}

func (s *FileStore) Get(ctx context.Context, contentKey string) (Record, bool, error) {
	return s.mem.Get(ctx, contentKey)
}

// Upsert applies rec in memory, then persists. A failed persist is returned
// but the in-memory write stands.
func (s *FileStore) Upsert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Upsert(ctx, rec); err != nil {
		return err
	}
	return s.flush(ctx)
}

func (s *FileStore) flush(ctx context.Context) error {
	history, err := s.mem.List(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("progress: create snapshot dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("progress: write snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	return s.mem.List(ctx)
}

func (s *FileStore) Len(ctx context.Context) (int, error) {
	return s.mem.Len(ctx)
}

func (s *FileStore) Close() error {
	return nil
}
