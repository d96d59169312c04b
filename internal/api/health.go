// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/allnine-dev/keewacker/internal/log"
)

const readinessTimeout = 2 * time.Second

type healthView struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz is the liveness check.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthView{
		Status: "ok",
		Uptime: s.now().Sub(s.started).Truncate(time.Second).String(),
	})
}

// handleReadyz runs every readiness check and fails if any does.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	view := healthView{Status: "ok", Checks: make(map[string]string, len(s.checks)+1)}
	status := http.StatusOK

	if _, err := s.progress.Len(ctx); err != nil {
		view.Checks["progress_store"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		view.Checks["progress_store"] = "ok"
	}

	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			view.Checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		view.Checks[c.Name] = "ok"
	}

	if status != http.StatusOK {
		view.Status = "unavailable"
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Str(log.FieldEvent, "health.not_ready").Interface("checks", view.Checks).Msg("readiness check failed")
	}
	writeJSON(w, status, view)
}
