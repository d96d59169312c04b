// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the playback HTTP API: the progress endpoint, the
// provider catalogue, embed URL building and player sessions.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/allnine-dev/keewacker/internal/api/middleware"
	"github.com/allnine-dev/keewacker/internal/bridge"
	"github.com/allnine-dev/keewacker/internal/cache"
	"github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/progress/continuewatching"
	"github.com/allnine-dev/keewacker/internal/provider"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// HealthCheck is a named readiness check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps wires the server to its collaborators. Registry, Progress and Local
// are required; the session routes are mounted only when Bridge is set.
type Deps struct {
	// Registry returns the current provider table.
	Registry func() *provider.Registry
	// Progress backs the /progress endpoint.
	Progress progress.Store
	// Local is the continue-watching store written by the bridge.
	Local progress.Store
	// MediaCache exposes merged MEDIA_DATA documents; optional.
	MediaCache cache.MediaCache
	Bridge     *bridge.Bridge

	ContinueWatching continuewatching.Options
	Checks           []HealthCheck
	Stack            middleware.StackConfig

	Now    func() time.Time
	Logger *zerolog.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	registry func() *provider.Registry
	progress progress.Store
	local    progress.Store
	media    cache.MediaCache
	bridge   *bridge.Bridge
	cw       continuewatching.Options
	checks   []HealthCheck
	stack    middleware.StackConfig
	now      func() time.Time
	logger   zerolog.Logger
	started  time.Time
}

// New validates deps and builds a Server.
func New(deps Deps) (*Server, error) {
	if deps.Registry == nil {
		return nil, errors.New("api: registry is required")
	}
	if deps.Progress == nil {
		return nil, errors.New("api: progress store is required")
	}
	if deps.Local == nil {
		return nil, errors.New("api: local progress store is required")
	}

	s := &Server{
		registry: deps.Registry,
		progress: deps.Progress,
		local:    deps.Local,
		media:    deps.MediaCache,
		bridge:   deps.Bridge,
		cw:       deps.ContinueWatching,
		checks:   deps.Checks,
		stack:    deps.Stack,
		now:      deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if deps.Logger != nil {
		s.logger = *deps.Logger
	} else {
		s.logger = log.WithComponent("api")
	}
	if s.stack.CSP == nil {
		s.stack.CSP = func() string { return middleware.FrameCSP(s.registry().Origins()) }
	}
	s.started = s.now()
	return s, nil
}

// Handler returns the routed handler with the ingress stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(s.stack)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Get("/progress", s.handleGetProgress)
	r.Post("/progress", s.handlePostProgress)

	r.Route("/api", func(r chi.Router) {
		r.Get("/openapi.yaml", handleOpenAPI)

		r.Get("/progress", s.handleGetProgress)
		r.Post("/progress", s.handlePostProgress)

		r.Get("/providers", s.handleListProviders)
		r.Get("/embed", s.handleEmbed)
		r.Get("/continue-watching", s.handleContinueWatching)
		r.Get("/media-data/{provider}", s.handleMediaData)

		if s.bridge != nil {
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Post("/", s.handleOpenSession)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSession)
					r.Delete("/", s.handleCloseSession)
					r.Post("/loaded", s.handleSessionLoaded)
					r.Post("/messages", s.handleSessionMessage)
					r.Put("/provider", s.handleSwitchProvider)
				})
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "system/not_found", "Not Found", "NOT_FOUND", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "system/method_not_allowed", "Method Not Allowed", "METHOD_NOT_ALLOWED", "")
	})
	return r
}
