// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/allnine-dev/keewacker/internal/api/problem"
	"github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/validate"
)

var errEmptyBody = errors.New("request body is empty")

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.L().Debug().Err(err).Msg("failed to encode response")
	}
}

// writeError writes the {"error": "..."} shape used by the progress endpoint.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, title, code, detail string) {
	problem.Write(w, r, status, problemType, title, code, detail, nil)
}

// writeValidationProblem reports every invalid field of err. It returns
// false when err is not a validation error.
func writeValidationProblem(w http.ResponseWriter, r *http.Request, err error) bool {
	var verr validate.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	fields := make([]map[string]string, 0, len(verr.Errors()))
	for _, e := range verr.Errors() {
		fields = append(fields, map[string]string{"field": e.Field, "message": e.Message})
	}
	problem.Write(w, r, http.StatusBadRequest, "request/invalid", "Bad Request", "INVALID_INPUT", verr.Error(),
		map[string]any{"fields": fields})
	return true
}

// decodeJSON reads one JSON document into v, bounded by maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
