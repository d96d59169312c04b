// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package progress stores playback positions keyed by content identity.
package progress

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/allnine-dev/keewacker/internal/provider"
	"github.com/allnine-dev/keewacker/internal/validate"
)

// ErrInvalidRecord wraps validation failures of records handed to Upsert.
var ErrInvalidRecord = errors.New("invalid progress record")

// Record is the last known playback position for one content key.
type Record struct {
	ContentKey    string             `json:"contentKey"`
	TMDBID        int                `json:"tmdbId"`
	MediaType     provider.MediaType `json:"mediaType"`
	Season        int                `json:"season,omitempty"`
	Episode       int                `json:"episode,omitempty"`
	CurrentTime   float64            `json:"currentTime"`
	Duration      float64            `json:"duration"`
	LastWatchedAt time.Time          `json:"lastWatchedAt"`

	// Display metadata captured when the record was written.
	Title      string `json:"title,omitempty"`
	PosterPath string `json:"posterPath,omitempty"`
}

// KeyFor derives the content key: the TMDB id, then "-s{season}" and
// "-e{episode}" for each part that is set. Zero means unset.
func KeyFor(tmdbID, season, episode int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(tmdbID))
	if season > 0 {
		b.WriteString("-s")
		b.WriteString(strconv.Itoa(season))
	}
	if episode > 0 {
		b.WriteString("-e")
		b.WriteString(strconv.Itoa(episode))
	}
	return b.String()
}

// Key returns the record's derived content key.
func (r Record) Key() string {
	return KeyFor(r.TMDBID, r.Season, r.Episode)
}

// Normalize clamps the position into [0, duration], drops season/episode from
// movies and sets ContentKey.
func (r Record) Normalize() Record {
	if r.MediaType == provider.Movie {
		r.Season, r.Episode = 0, 0
	}
	if r.CurrentTime < 0 {
		r.CurrentTime = 0
	}
	if r.Duration > 0 && r.CurrentTime > r.Duration {
		r.CurrentTime = r.Duration
	}
	r.ContentKey = r.Key()
	return r
}

// Validate rejects partial records.
func (r Record) Validate() error {
	v := validate.New()
	v.Positive("tmdbId", r.TMDBID)
	v.OneOf("mediaType", string(r.MediaType), []string{"movie", "tv", "anime"})
	v.NonNegative("season", r.Season)
	v.NonNegative("episode", r.Episode)
	if r.Duration <= 0 {
		v.AddError("duration", "must be positive", r.Duration)
	}
	if r.CurrentTime < 0 {
		v.AddError("currentTime", "cannot be negative", r.CurrentTime)
	}
	if r.LastWatchedAt.IsZero() {
		v.Required("lastWatchedAt", false)
	}
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}

// Fraction returns the watched share in [0, 1].
func (r Record) Fraction() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return r.CurrentTime / r.Duration
}

// mergeOnto overwrites prev with r. Display metadata missing from r is kept
// from prev.
func (r Record) mergeOnto(prev Record) Record {
	if r.Title == "" {
		r.Title = prev.Title
	}
	if r.PosterPath == "" {
		r.PosterPath = prev.PosterPath
	}
	return r
}

// prepare normalises and validates a record before it is written.
func prepare(r Record) (Record, error) {
	r = r.Normalize()
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}
