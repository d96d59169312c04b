// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package continuewatching derives the "continue watching" row from stored
// progress. It never fetches metadata; display fields come from the records.
package continuewatching

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/provider"
)

const (
	DefaultLimit               = 10
	DefaultCompletionThreshold = 0.95
)

// Options tunes the projection. Zero values select the defaults.
type Options struct {
	Limit               int
	CompletionThreshold float64
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.CompletionThreshold <= 0 || o.CompletionThreshold > 1 {
		o.CompletionThreshold = DefaultCompletionThreshold
	}
	return o
}

// Entry is one partially watched item.
type Entry struct {
	ContentKey    string             `json:"contentKey"`
	TMDBID        int                `json:"tmdbId"`
	MediaType     provider.MediaType `json:"mediaType"`
	Season        int                `json:"season,omitempty"`
	Episode       int                `json:"episode,omitempty"`
	Title         string             `json:"title"`
	PosterPath    string             `json:"posterPath,omitempty"`
	CurrentTime   float64            `json:"currentTime"`
	Duration      float64            `json:"duration"`
	LastWatchedAt time.Time          `json:"lastWatchedAt"`

	Percent          float64 `json:"percent"`
	RemainingMinutes int     `json:"remainingMinutes"`
	WatchURL         string  `json:"watchUrl"`
}

// Project filters out unstarted and finished records, orders the rest by
// LastWatchedAt descending and keeps the first Limit. The result is never nil.
func Project(records []progress.Record, opts Options) []Entry {
	opts = opts.withDefaults()

	kept := make([]progress.Record, 0, len(records))
	for _, r := range records {
		if r.Duration <= 0 || r.CurrentTime <= 0 {
			continue
		}
		if r.CurrentTime >= r.Duration*opts.CompletionThreshold {
			continue
		}
		kept = append(kept, r)
	}

	slices.SortStableFunc(kept, func(a, b progress.Record) int {
		return b.LastWatchedAt.Compare(a.LastWatchedAt)
	})
	if len(kept) > opts.Limit {
		kept = kept[:opts.Limit]
	}

	out := make([]Entry, 0, len(kept))
	for _, r := range kept {
		out = append(out, toEntry(r))
	}
	return out
}

// FromStore lists store and projects it.
func FromStore(ctx context.Context, store progress.Store, opts Options) ([]Entry, error) {
	records, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("continue watching: list progress: %w", err)
	}
	return Project(records, opts), nil
}

func toEntry(r progress.Record) Entry {
	key := r.ContentKey
	if key == "" {
		key = r.Key()
	}
	return Entry{
		ContentKey:       key,
		TMDBID:           r.TMDBID,
		MediaType:        r.MediaType,
		Season:           r.Season,
		Episode:          r.Episode,
		Title:            r.Title,
		PosterPath:       r.PosterPath,
		CurrentTime:      r.CurrentTime,
		Duration:         r.Duration,
		LastWatchedAt:    r.LastWatchedAt,
		Percent:          r.Fraction() * 100,
		RemainingMinutes: int(math.Floor((r.Duration - r.CurrentTime) / 60)),
		WatchURL:         WatchURL(r),
	}
}

// WatchURL is the in-app resume link. Episodic content without a stored
// season or episode resumes at 1.
func WatchURL(r progress.Record) string {
	id := strconv.Itoa(r.TMDBID)
	if !r.MediaType.Episodic() {
		return "/watch/movie/" + id
	}
	season, episode := max(r.Season, 1), max(r.Episode, 1)
	return fmt.Sprintf("/watch/%s/%s?season=%d&episode=%d", r.MediaType, id, season, episode)
}
