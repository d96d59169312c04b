// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metadata is the read-only port to the title catalogue. It supplies
// display titles, poster paths and runtime hints; it is never written to.
package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/allnine-dev/keewacker/internal/provider"
)

var (
	// ErrNotFound is returned when the catalogue has no entry for the id.
	ErrNotFound = errors.New("metadata: not found")
	// ErrUnavailable wraps transport and upstream failures.
	ErrUnavailable = errors.New("metadata: source unavailable")
)

// Details are the display hints captured when a session opens.
type Details struct {
	Title      string        `json:"title"`
	PosterPath string        `json:"posterPath,omitempty"`
	Runtime    time.Duration `json:"runtime,omitempty"`
}

// Source looks up details by media type and TMDB id.
type Source interface {
	Lookup(ctx context.Context, mt provider.MediaType, tmdbID int) (Details, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, mt provider.MediaType, tmdbID int) (Details, error)

func (f SourceFunc) Lookup(ctx context.Context, mt provider.MediaType, tmdbID int) (Details, error) {
	return f(ctx, mt, tmdbID)
}

// Nop never finds anything. Used when no catalogue is configured.
type Nop struct{}

func (Nop) Lookup(context.Context, provider.MediaType, int) (Details, error) {
	return Details{}, ErrNotFound
}

// Static serves details from a fixed table keyed by TMDB id.
type Static map[int]Details

func (s Static) Lookup(_ context.Context, _ provider.MediaType, tmdbID int) (Details, error) {
	d, ok := s[tmdbID]
	if !ok {
		return Details{}, ErrNotFound
	}
	return d, nil
}
