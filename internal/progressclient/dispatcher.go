// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package progressclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/metrics"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/resilience"
	"github.com/rs/zerolog"
)

// Write results recorded in metrics.
const (
	ResultOK          = "ok"
	ResultRejected    = "rejected"
	ResultError       = "error"
	ResultCircuitOpen = "circuit_open"
)

// Dispatcher runs durable writes in the background. Submit never blocks the
// caller; a failed write is logged and counted. Writes are detached from the
// submitting context, so ending a session does not cancel them.
type Dispatcher struct {
	writer  Writer
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher wraps writer. Each write gets timeout.
func NewDispatcher(writer Writer, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		writer:  writer,
		timeout: timeout,
		logger:  log.WithComponent("progressclient"),
	}
}

// Submit starts a durable write for rec. It returns false after Close.
func (d *Dispatcher) Submit(ctx context.Context, rec progress.Record) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		d.write(ctx, rec)
	}()
	return true
}

func (d *Dispatcher) write(ctx context.Context, rec progress.Record) {
	err := d.writer.Write(ctx, rec)
	result := classify(err)
	metrics.RecordDurableWrite(result)
	if err == nil {
		return
	}

	logger := log.WithContext(ctx, d.logger)
	logger.Warn().
		Err(err).
		Str(log.FieldEvent, "progress.durable_write_failed").
		Str(log.FieldContentKey, rec.Key()).
		Str("result", result).
		Msg("durable progress write failed")
}

func classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ResultCircuitOpen
	case errors.Is(err, ErrRejected):
		return ResultRejected
	default:
		return ResultError
	}
}

// Close stops accepting writes and waits for in-flight ones or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
