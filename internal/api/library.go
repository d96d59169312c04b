// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/allnine-dev/keewacker/internal/cache"
	"github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/progress/continuewatching"
)

const maxContinueWatchingLimit = 50

type continueWatchingView struct {
	Items []continuewatching.Entry `json:"items"`
}

type mediaDataView struct {
	Provider string          `json:"provider"`
	Data     cache.MediaData `json:"data"`
}

// handleContinueWatching answers GET /api/continue-watching[?limit=].
func (s *Server) handleContinueWatching(w http.ResponseWriter, r *http.Request) {
	opts := s.cw
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxContinueWatchingLimit {
			writeProblem(w, r, http.StatusBadRequest, "request/invalid", "Bad Request", "INVALID_LIMIT",
				"limit must be between 1 and "+strconv.Itoa(maxContinueWatchingLimit))
			return
		}
		opts.Limit = n
	}

	entries, err := continuewatching.FromStore(r.Context(), s.local, opts)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str(log.FieldEvent, "continue_watching.failed").Msg("continue watching projection failed")
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL", "")
		return
	}
	writeJSON(w, http.StatusOK, continueWatchingView{Items: entries})
}

// handleMediaData answers GET /api/media-data/{provider} with the merged
// MEDIA_DATA document.
func (s *Server) handleMediaData(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	if s.media == nil {
		writeJSON(w, http.StatusOK, mediaDataView{Provider: providerID, Data: cache.MediaData{}})
		return
	}

	data, err := s.media.Get(r.Context(), providerID)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str(log.FieldProvider, providerID).Msg("media data lookup failed")
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL", "")
		return
	}
	if data == nil {
		data = cache.MediaData{}
	}
	writeJSON(w, http.StatusOK, mediaDataView{Provider: providerID, Data: data})
}
