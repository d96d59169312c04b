// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/allnine-dev/keewacker/internal/metrics"
	"github.com/allnine-dev/keewacker/internal/persistence/sqlite"
	"github.com/allnine-dev/keewacker/internal/provider"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS progress_records (
	content_key TEXT PRIMARY KEY,
	tmdb_id INTEGER NOT NULL,
	media_type TEXT NOT NULL,
	season INTEGER NOT NULL DEFAULT 0,
	episode INTEGER NOT NULL DEFAULT 0,
	position_seconds REAL NOT NULL,
	duration_seconds REAL NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	poster_path TEXT NOT NULL DEFAULT '',
	last_watched_at_ms INTEGER NOT NULL,
	write_seq INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_progress_write_seq ON progress_records(write_seq);
`

// SqliteStore is the authoritative, unbounded Store.
type SqliteStore struct {
	DB *sql.DB

	// Upserts read MAX(write_seq) and write in one statement; serialising
	// them avoids SQLITE_BUSY_SNAPSHOT between pooled connections.
	writeMu sync.Mutex
}

// NewSqliteStore opens (and migrates) the database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	if err := sqlite.Migrate(context.Background(), db, schemaVersion, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("progress store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Upsert(ctx context.Context, rec Record) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO progress_records (content_key, tmdb_id, media_type, season, episode,
		position_seconds, duration_seconds, title, poster_path, last_watched_at_ms, write_seq)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		(SELECT COALESCE(MAX(write_seq), 0) + 1 FROM progress_records))
	ON CONFLICT(content_key) DO UPDATE SET
		tmdb_id = excluded.tmdb_id,
		media_type = excluded.media_type,
		season = excluded.season,
		episode = excluded.episode,
		position_seconds = excluded.position_seconds,
		duration_seconds = excluded.duration_seconds,
		title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE progress_records.title END,
		poster_path = CASE WHEN excluded.poster_path <> '' THEN excluded.poster_path ELSE progress_records.poster_path END,
		last_watched_at_ms = excluded.last_watched_at_ms,
		write_seq = excluded.write_seq
	`
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.DB.ExecContext(ctx, query,
		rec.ContentKey, rec.TMDBID, string(rec.MediaType), rec.Season, rec.Episode,
		rec.CurrentTime, rec.Duration, rec.Title, rec.PosterPath, rec.LastWatchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("progress store: upsert %s: %w", rec.ContentKey, err)
	}
	metrics.RecordProgressUpsert(BackendSQLite)
	return nil
}

const selectColumns = `content_key, tmdb_id, media_type, season, episode, position_seconds,
	duration_seconds, title, poster_path, last_watched_at_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		mediaType string
		lastMs    int64
	)
	err := row.Scan(&rec.ContentKey, &rec.TMDBID, &mediaType, &rec.Season, &rec.Episode,
		&rec.CurrentTime, &rec.Duration, &rec.Title, &rec.PosterPath, &lastMs)
	if err != nil {
		return Record{}, err
	}
	rec.MediaType = provider.MediaType(mediaType)
	rec.LastWatchedAt = time.UnixMilli(lastMs).UTC()
	return rec, nil
}

func (s *SqliteStore) Get(ctx context.Context, contentKey string) (Record, bool, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM progress_records WHERE content_key = ?`, contentKey)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *SqliteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM progress_records ORDER BY write_seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM progress_records`).Scan(&n)
	return n, err
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
