// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/allnine-dev/keewacker/internal/bridge"
	"github.com/allnine-dev/keewacker/internal/embed"
	"github.com/allnine-dev/keewacker/internal/log"
)

// openSessionBody is the POST /api/sessions request: the playback request
// plus an optional provider preference.
type openSessionBody struct {
	Provider string `json:"provider"`
	embed.Request
}

type switchProviderBody struct {
	Provider string `json:"provider"`
}

// frameMessage is one message the host page received from the player frame.
// Origin is the MessageEvent origin as observed by the browser.
type frameMessage struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

type sessionView struct {
	Session  bridge.Snapshot `json:"session"`
	EmbedURL string          `json:"embedUrl"`
}

type sessionList struct {
	Sessions []bridge.Snapshot `json:"sessions"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionList{Sessions: s.bridge.Sessions()})
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var body openSessionBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "request/invalid", "Bad Request", "INVALID_JSON", err.Error())
		return
	}

	sess, url, err := s.bridge.Open(r.Context(), body.Request, strings.TrimSpace(body.Provider))
	if err != nil {
		writeBuildError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, sessionView{Session: sess.Snapshot(), EmbedURL: url})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.bridge.Session(chi.URLParam(r, "id"))
	if !ok {
		writeSessionError(w, r, bridge.ErrSessionNotFound)
		return
	}
	snap := sess.Snapshot()
	writeJSON(w, http.StatusOK, sessionView{Session: snap, EmbedURL: snap.EmbedURL})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.Close(chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionLoaded(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.Loaded(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSwitchProvider(w http.ResponseWriter, r *http.Request) {
	var body switchProviderBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "request/invalid", "Bad Request", "INVALID_JSON", err.Error())
		return
	}

	sess, url, err := s.bridge.Switch(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(body.Provider))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView{Session: sess.Snapshot(), EmbedURL: url})
}

// handleSessionMessage enqueues a frame message. Acceptance says nothing
// about the message's validity; malformed and foreign messages are dropped
// asynchronously.
func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	var msg frameMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "request/invalid", "Bad Request", "INVALID_JSON", err.Error())
		return
	}
	if strings.TrimSpace(msg.Origin) == "" {
		writeProblem(w, r, http.StatusBadRequest, "request/invalid", "Bad Request", "INVALID_INPUT", "origin is required")
		return
	}

	id := chi.URLParam(r, "id")
	ctx := log.ContextWithSessionID(r.Context(), id)
	if err := s.bridge.Deliver(ctx, id, msg.Origin, msg.Data); err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, bridge.ErrSessionNotFound):
		writeProblem(w, r, http.StatusNotFound, "sessions/not_found", "Not Found", "SESSION_NOT_FOUND", "")
	case errors.Is(err, bridge.ErrSessionEnded):
		writeProblem(w, r, http.StatusConflict, "sessions/ended", "Conflict", "SESSION_ENDED", "")
	case errors.Is(err, bridge.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeProblem(w, r, http.StatusTooManyRequests, "sessions/rate_limited", "Too Many Requests", "SESSION_RATE_LIMITED", "")
	case errors.Is(err, bridge.ErrQueueFull), errors.Is(err, bridge.ErrStopped):
		w.Header().Set("Retry-After", "1")
		writeProblem(w, r, http.StatusServiceUnavailable, "sessions/unavailable", "Service Unavailable", "BRIDGE_UNAVAILABLE", err.Error())
	default:
		writeBuildError(w, r, err)
	}
}
