// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package progressclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/allnine-dev/keewacker/internal/metrics"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/provider"
	"github.com/allnine-dev/keewacker/internal/resilience"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func episode() progress.Record {
	return progress.Record{
		TMDBID:        1399,
		MediaType:     provider.TV,
		Season:        1,
		Episode:       1,
		CurrentTime:   600,
		Duration:      3000,
		LastWatchedAt: time.UnixMilli(1_700_000_000_000),
		Title:         "Game of Thrones",
	}
}

func TestHTTPWriter_PostsPayload(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/progress", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	w := NewHTTPWriter(srv.URL+"/progress", time.Second, WithClient(srv.Client()))
	require.NoError(t, w.Write(context.Background(), episode()))

	assert.Equal(t, Payload{
		TMDBID: 1399, MediaType: provider.TV, Season: 1, Episode: 1,
		CurrentTime: 600, Duration: 3000, Title: "Game of Thrones",
	}, got)
}

func TestHTTPWriter_StatusClassification(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker("test_progress_endpoint", 2, time.Minute,
		resilience.WithFailurePredicate(func(err error) bool { return !errors.Is(err, ErrRejected) }))
	w := NewHTTPWriter(srv.URL, time.Second, WithClient(srv.Client()), WithBreaker(cb))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, w.Write(ctx, episode()), ErrRejected)
	}
	assert.Equal(t, resilience.StateClosed, cb.State(), "4xx must not trip the breaker")

	status = http.StatusInternalServerError
	assert.ErrorIs(t, w.Write(ctx, episode()), ErrServer)
	assert.ErrorIs(t, w.Write(ctx, episode()), ErrServer)
	assert.Equal(t, resilience.StateOpen, cb.State())
	assert.ErrorIs(t, w.Write(ctx, episode()), resilience.ErrCircuitOpen)
}

func TestStoreWriter(t *testing.T) {
	store := progress.NewMemoryStore()
	now := time.UnixMilli(1_700_000_100_000)
	w := StoreWriter{Store: store, Now: func() time.Time { return now }}

	rec := episode()
	rec.LastWatchedAt = time.Time{}
	require.NoError(t, w.Write(context.Background(), rec))

	got, ok, err := store.Get(context.Background(), "1399-s1-e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now, got.LastWatchedAt)

	bad := episode()
	bad.Duration = 0
	assert.ErrorIs(t, w.Write(context.Background(), bad), ErrRejected)
}

type recordingWriter struct {
	mu    sync.Mutex
	recs  []progress.Record
	err   error
	block chan struct{}
}

func (w *recordingWriter) Write(ctx context.Context, rec progress.Record) error {
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recs = append(w.recs, rec)
	return w.err
}

func TestDispatcher_SurvivesCallerCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := &recordingWriter{block: make(chan struct{})}
	d := NewDispatcher(w, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, d.Submit(ctx, episode()))
	cancel()
	close(w.block)

	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, w.recs, 1)
	assert.False(t, d.Submit(context.Background(), episode()))
}

func TestDispatcher_RecordsFailures(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	before := testutil.ToFloat64(metrics.DurableWritesTotal.WithLabelValues(ResultError))
	d := NewDispatcher(&recordingWriter{err: ErrServer}, time.Second)
	d.Submit(context.Background(), episode())
	require.NoError(t, d.Close(context.Background()))

	after := testutil.ToFloat64(metrics.DurableWritesTotal.WithLabelValues(ResultError))
	assert.Equal(t, before+1, after)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ResultOK, classify(nil))
	assert.Equal(t, ResultCircuitOpen, classify(resilience.ErrCircuitOpen))
	assert.Equal(t, ResultRejected, classify(ErrRejected))
	assert.Equal(t, ResultError, classify(ErrServer))
}
