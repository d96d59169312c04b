// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package progressclient performs the best-effort durable progress write
// that accompanies every local progress upsert.
package progressclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/allnine-dev/keewacker/internal/platform/httpx"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/provider"
	"github.com/allnine-dev/keewacker/internal/resilience"
)

var (
	// ErrRejected means the endpoint refused the payload (4xx). It does not
	// count against the circuit breaker.
	ErrRejected = errors.New("progress endpoint rejected write")
	// ErrServer means the endpoint failed (5xx or transport error).
	ErrServer = errors.New("progress endpoint failed")
)

// Writer persists a progress record somewhere durable.
type Writer interface {
	Write(ctx context.Context, rec progress.Record) error
}

// Payload is the POST /progress request body.
type Payload struct {
	TMDBID      int                `json:"tmdbId"`
	MediaType   provider.MediaType `json:"mediaType"`
	Season      int                `json:"season,omitempty"`
	Episode     int                `json:"episode,omitempty"`
	CurrentTime float64            `json:"currentTime"`
	Duration    float64            `json:"duration"`
	Title       string             `json:"title,omitempty"`
	PosterPath  string             `json:"posterPath,omitempty"`
}

// PayloadFor converts a record to the wire body.
func PayloadFor(rec progress.Record) Payload {
	return Payload{
		TMDBID:      rec.TMDBID,
		MediaType:   rec.MediaType,
		Season:      rec.Season,
		Episode:     rec.Episode,
		CurrentTime: rec.CurrentTime,
		Duration:    rec.Duration,
		Title:       rec.Title,
		PosterPath:  rec.PosterPath,
	}
}

// HTTPWriter posts records to a progress endpoint behind a circuit breaker.
type HTTPWriter struct {
	endpoint string
	client   *http.Client
	breaker  *resilience.CircuitBreaker
}

// HTTPOption customises an HTTPWriter.
type HTTPOption func(*HTTPWriter)

// WithClient replaces the default traced client.
func WithClient(c *http.Client) HTTPOption {
	return func(w *HTTPWriter) { w.client = c }
}

// WithBreaker replaces the default breaker.
func WithBreaker(cb *resilience.CircuitBreaker) HTTPOption {
	return func(w *HTTPWriter) { w.breaker = cb }
}

// NewHTTPWriter targets endpoint, the full URL of the POST /progress route.
func NewHTTPWriter(endpoint string, timeout time.Duration, opts ...HTTPOption) *HTTPWriter {
	w := &HTTPWriter{
		endpoint: endpoint,
		client:   httpx.NewTracedClient(timeout, "progress.durable_write"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.breaker == nil {
		w.breaker = resilience.NewCircuitBreaker("progress_endpoint", 5, 30*time.Second,
			resilience.WithFailurePredicate(func(err error) bool { return !errors.Is(err, ErrRejected) }))
	}
	return w
}

// Write posts rec. The response body is drained and discarded.
func (w *HTTPWriter) Write(ctx context.Context, rec progress.Record) error {
	body, err := json.Marshal(PayloadFor(rec))
	if err != nil {
		return fmt.Errorf("encode progress payload: %w", err)
	}

	return w.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrServer, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrServer, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		default:
			return fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
		}
	})
}

// StoreWriter writes straight into a progress store, for deployments where
// the progress endpoint is served by this process.
type StoreWriter struct {
	Store progress.Store
	Now   func() time.Time
}

func (w StoreWriter) Write(ctx context.Context, rec progress.Record) error {
	if rec.LastWatchedAt.IsZero() {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		rec.LastWatchedAt = now()
	}
	if err := w.Store.Upsert(ctx, rec); err != nil {
		if errors.Is(err, progress.ErrInvalidRecord) {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return fmt.Errorf("%w: %w", ErrServer, err)
	}
	return nil
}

var (
	_ Writer = (*HTTPWriter)(nil)
	_ Writer = StoreWriter{}
)
