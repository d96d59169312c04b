// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestConfigure_ServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "kw-test", Version: "1.2.3"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("bridge")
	l.Info().Str(FieldEvent, "bridge.test").Msg("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kw-test", lines[0]["service"])
	assert.Equal(t, "1.2.3", lines[0]["version"])
	assert.Equal(t, "bridge", lines[0][FieldComponent])
	assert.Equal(t, "bridge.test", lines[0][FieldEvent])
}

func TestWithContext_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSessionID(ctx, "sess-1")
	l := WithComponentFromContext(ctx, "api")
	l.Info().Msg("x")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "req-1", lines[0][FieldRequestID])
	assert.Equal(t, "sess-1", lines[0][FieldSessionID])
}

func TestWithContext_NilAndEmpty(t *testing.T) {
	base := WithComponent("x")
	//nolint:staticcheck
	assert.Equal(t, base, WithContext(nil, base))
	assert.Equal(t, base, WithContext(context.Background(), base))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestMiddleware_LogsStatus(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/progress", nil))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "http.request", lines[0][FieldEvent])
	assert.Equal(t, "/progress", lines[0]["path"])
	assert.EqualValues(t, http.StatusTeapot, lines[0]["status"])
}
