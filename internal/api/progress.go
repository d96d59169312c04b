// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/provider"
)

type progressResponse struct {
	Progress *progress.Record `json:"progress"`
}

type progressSaved struct {
	Success  bool            `json:"success"`
	Progress progress.Record `json:"progress"`
}

// progressBody is the POST /progress request. Pointers distinguish absent
// from zero where the distinction matters.
type progressBody struct {
	TMDBID      int                `json:"tmdbId"`
	MediaType   provider.MediaType `json:"mediaType"`
	Season      int                `json:"season"`
	Episode     int                `json:"episode"`
	CurrentTime *float64           `json:"currentTime"`
	Duration    float64            `json:"duration"`
	Title       string             `json:"title"`
	PosterPath  string             `json:"posterPath"`
}

func (b progressBody) complete() bool {
	return b.TMDBID != 0 && b.MediaType != "" && b.CurrentTime != nil && b.Duration != 0
}

// handleGetProgress answers GET /progress?tmdbId&season&episode.
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawID := strings.TrimSpace(q.Get("tmdbId"))
	if rawID == "" {
		writeError(w, http.StatusBadRequest, "tmdbId required")
		return
	}
	tmdbID, err := strconv.Atoi(rawID)
	if err != nil || tmdbID <= 0 {
		writeError(w, http.StatusBadRequest, "tmdbId must be a positive integer")
		return
	}
	season, ok1 := optionalInt(q.Get("season"))
	episode, ok2 := optionalInt(q.Get("episode"))
	if !ok1 || !ok2 {
		writeError(w, http.StatusBadRequest, "season and episode must be non-negative integers")
		return
	}

	rec, found, err := s.progress.Get(r.Context(), progress.KeyFor(tmdbID, season, episode))
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str(log.FieldEvent, "progress.read_failed").Msg("progress lookup failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, progressResponse{})
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Progress: &rec})
}

// handlePostProgress answers POST /progress. The record is stored under its
// derived content key, overwriting any previous one.
func (s *Server) handlePostProgress(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	var body progressBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !body.complete() {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	rec := progress.Record{
		TMDBID:        body.TMDBID,
		MediaType:     provider.MediaType(strings.ToLower(string(body.MediaType))),
		Season:        body.Season,
		Episode:       body.Episode,
		CurrentTime:   *body.CurrentTime,
		Duration:      body.Duration,
		LastWatchedAt: s.now().UTC(),
		Title:         norm.NFC.String(body.Title),
		PosterPath:    body.PosterPath,
	}.Normalize()

	if err := s.progress.Upsert(r.Context(), rec); err != nil {
		if errors.Is(err, progress.ErrInvalidRecord) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error().Err(err).
			Str(log.FieldEvent, "progress.write_failed").
			Str(log.FieldContentKey, rec.ContentKey).
			Msg("saving progress failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Reply with the stored view so display metadata kept from an earlier
	// write is visible to the caller.
	if stored, ok, err := s.progress.Get(r.Context(), rec.ContentKey); err == nil && ok {
		rec = stored
	}
	writeJSON(w, http.StatusOK, progressSaved{Success: true, Progress: rec})
}

// optionalInt parses an absent-or-non-negative integer query value.
func optionalInt(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
