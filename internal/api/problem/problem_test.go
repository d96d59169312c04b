// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package problem

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allnine-dev/keewacker/internal/log"
)

func TestWrite_Members(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil)
	req = req.WithContext(log.ContextWithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	Write(rec, req, http.StatusNotFound, "sessions/not_found", "Not Found", "SESSION_NOT_FOUND", "no such session",
		map[string]any{"sessionId": "abc", "status": 200})

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-1", rec.Header().Get(HeaderRequestID))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sessions/not_found", body["type"])
	assert.Equal(t, "SESSION_NOT_FOUND", body["code"])
	assert.Equal(t, "no such session", body["detail"])
	assert.Equal(t, "/api/sessions/abc", body["instance"])
	assert.Equal(t, "req-1", body[JSONKeyRequestID])
	assert.Equal(t, "abc", body["sessionId"])
	assert.EqualValues(t, http.StatusNotFound, body["status"], "reserved members cannot be overridden")
}

func TestWrite_OmitsEmptyDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	rec := httptest.NewRecorder()

	Write(rec, req, http.StatusBadRequest, "request/invalid", "Bad Request", "INVALID_INPUT", "", nil)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "detail")
	assert.NotContains(t, body, JSONKeyRequestID)
}
