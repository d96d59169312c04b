// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/allnine-dev/keewacker/internal/platform/httpx"
	"github.com/allnine-dev/keewacker/internal/provider"
	"golang.org/x/text/unicode/norm"
)

// DefaultTMDBBaseURL is the public TMDB v3 API.
const DefaultTMDBBaseURL = "https://api.themoviedb.org/3"

// TMDB reads movie and series details from the TMDB v3 API. Anime entries
// are looked up as series.
type TMDB struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// TMDBOption customises the client.
type TMDBOption func(*TMDB)

// WithHTTPClient replaces the default traced client.
func WithHTTPClient(c *http.Client) TMDBOption {
	return func(t *TMDB) { t.client = c }
}

// NewTMDB builds a TMDB source. An empty baseURL uses DefaultTMDBBaseURL.
func NewTMDB(baseURL, apiKey string, opts ...TMDBOption) *TMDB {
	if baseURL == "" {
		baseURL = DefaultTMDBBaseURL
	}
	t := &TMDB{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpx.NewTracedClient(5*time.Second, "metadata.tmdb"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type tmdbDetails struct {
	Title          string `json:"title"`
	Name           string `json:"name"`
	PosterPath     string `json:"poster_path"`
	Runtime        int    `json:"runtime"`
	EpisodeRunTime []int  `json:"episode_run_time"`
}

func (t *TMDB) Lookup(ctx context.Context, mt provider.MediaType, tmdbID int) (Details, error) {
	if tmdbID <= 0 {
		return Details{}, ErrNotFound
	}
	kind := "tv"
	if mt == provider.Movie {
		kind = "movie"
	}

	q := url.Values{}
	q.Set("api_key", t.apiKey)
	endpoint := fmt.Sprintf("%s/%s/%s?%s", t.baseURL, kind, strconv.Itoa(tmdbID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Details{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Details{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Details{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Details{}, fmt.Errorf("%w: tmdb status %d", ErrUnavailable, resp.StatusCode)
	}

	var raw tmdbDetails
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return Details{}, fmt.Errorf("%w: decode: %w", ErrUnavailable, err)
	}

	d := Details{
		Title:      norm.NFC.String(strings.TrimSpace(raw.Title)),
		PosterPath: raw.PosterPath,
	}
	if d.Title == "" {
		d.Title = norm.NFC.String(strings.TrimSpace(raw.Name))
	}
	minutes := raw.Runtime
	if minutes == 0 && len(raw.EpisodeRunTime) > 0 {
		minutes = raw.EpisodeRunTime[0]
	}
	d.Runtime = time.Duration(minutes) * time.Minute
	return d, nil
}
