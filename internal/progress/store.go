// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progress

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// Store is the progress storage port. Upsert is last-writer-wins per content
// key and atomic per key. List returns records most recently written first.
type Store interface {
	Get(ctx context.Context, contentKey string) (Record, bool, error)
	Upsert(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// Supported backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultCapacity is the retention cap of the continue-watching cache.
const DefaultCapacity = 50

// SQLiteFileName is the sqlite backend's database file inside Options.Dir.
const SQLiteFileName = "progress.sqlite"

// Options configures NewStore.
type Options struct {
	// Dir holds file and sqlite data. An empty Dir makes sqlite fall back to memory.
	Dir string
	// Capacity bounds memory, file and redis stores. Zero leaves memory
	// unbounded and gives file and redis DefaultCapacity.
	Capacity int
	// Unbounded disables the retention cap of the file and redis backends.
	// The authoritative store behind the progress endpoint sets it.
	Unbounded bool
	// Redis is required by the redis backend.
	Redis redis.UniversalClient
	// RedisPrefix namespaces redis keys.
	RedisPrefix string
	// FileName overrides the file backend's snapshot name.
	FileName string
}

// ErrUnknownBackend is returned for unsupported backend names.
var ErrUnknownBackend = errors.New("unknown progress store backend")

// NewStore creates a progress store for backend.
func NewStore(backend string, opts Options) (Store, error) {
	if backend == "" {
		backend = BackendSQLite
	}

	switch backend {
	case BackendSQLite:
		if opts.Dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSqliteStore(filepath.Join(opts.Dir, SQLiteFileName))
	case BackendMemory:
		if opts.Capacity > 0 {
			return NewLRUStore(opts.Capacity)
		}
		return NewMemoryStore(), nil
	case BackendFile:
		if opts.Dir == "" {
			return nil, fmt.Errorf("progress: file backend requires a data directory")
		}
		name := opts.FileName
		if name == "" {
			name = "watch_history.json"
		}
		return NewFileStore(filepath.Join(opts.Dir, name), opts.retention())
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("progress: redis backend requires a client")
		}
		return NewRedisStore(opts.Redis, opts.RedisPrefix, opts.retention()), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: memory, file, sqlite, redis)", ErrUnknownBackend, backend)
	}
}

// retention is the cap for the file and redis backends; zero means none.
func (o Options) retention() int {
	switch {
	case o.Unbounded:
		return 0
	case o.Capacity <= 0:
		return DefaultCapacity
	default:
		return o.Capacity
	}
}
