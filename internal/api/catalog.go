// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/allnine-dev/keewacker/internal/embed"
	"github.com/allnine-dev/keewacker/internal/metrics"
	"github.com/allnine-dev/keewacker/internal/provider"
)

type providerView struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Origin     string               `json:"origin"`
	MediaTypes []provider.MediaType `json:"mediaTypes"`
	Hints      bool                 `json:"hints"`
}

type providerList struct {
	Default   string         `json:"default"`
	Providers []providerView `json:"providers"`
}

type embedView struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
	// Fallback is set when the requested provider could not serve the request.
	Fallback bool `json:"fallback"`
}

func viewOf(d provider.Descriptor) providerView {
	v := providerView{
		ID:         d.ID,
		Name:       d.DisplayName,
		Origin:     d.Origin,
		MediaTypes: make([]provider.MediaType, 0, len(provider.MediaTypes)),
		Hints:      d.SupportsHints,
	}
	for _, mt := range provider.MediaTypes {
		if d.Supports(mt) {
			v.MediaTypes = append(v.MediaTypes, mt)
		}
	}
	return v
}

// handleListProviders answers GET /api/providers?mediaType=.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	reg := s.registry()

	var mt provider.MediaType
	if raw := strings.TrimSpace(r.URL.Query().Get("mediaType")); raw != "" {
		parsed, err := provider.ParseMediaType(raw)
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, "request/invalid", "Bad Request", "INVALID_MEDIA_TYPE", err.Error())
			return
		}
		mt = parsed
	}

	descs := reg.All()
	if mt != "" {
		descs = reg.List(mt)
	}
	out := providerList{Default: reg.Default().ID, Providers: make([]providerView, 0, len(descs))}
	for _, d := range descs {
		out.Providers = append(out.Providers, viewOf(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEmbed answers GET /api/embed?provider=&mediaType=&tmdbId=... with the
// embed URL, without opening a session.
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := embed.ParseQuery(q)
	if err != nil {
		if !writeValidationProblem(w, r, err) {
			writeProblem(w, r, http.StatusBadRequest, "request/invalid", "Bad Request", "INVALID_INPUT", err.Error())
		}
		return
	}

	requested := strings.TrimSpace(q.Get("provider"))
	d, exact := s.registry().Resolve(requested, req.MediaType)
	url, err := embed.Build(req, d)
	metrics.RecordEmbedBuild(d.ID, string(req.MediaType), err)
	if err != nil {
		writeBuildError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, embedView{Provider: d.ID, URL: url, Fallback: requested != "" && !exact})
}

func writeBuildError(w http.ResponseWriter, r *http.Request, err error) {
	if writeValidationProblem(w, r, err) {
		return
	}
	if errors.Is(err, embed.ErrUnsupportedMediaType) {
		writeProblem(w, r, http.StatusUnprocessableEntity, "embed/unsupported", "Unprocessable Entity", "UNSUPPORTED_MEDIA_TYPE", err.Error())
		return
	}
	writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL", "")
}
