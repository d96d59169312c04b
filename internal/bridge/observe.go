// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"context"

	"github.com/allnine-dev/keewacker/internal/metrics"
	"github.com/allnine-dev/keewacker/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "keewacker.bridge"

// Outcome is the terminal classification of one inbound message.
type Outcome string

const (
	OutcomeDispatched     Outcome = "dispatched"
	OutcomeUnknownType    Outcome = "ignored_unknown_type"
	OutcomeMalformed      Outcome = "malformed"
	OutcomeOriginRejected Outcome = "origin_rejected"
	OutcomeUnknownSession Outcome = "unknown_session"
	OutcomeSessionEnded   Outcome = "session_ended"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeInvalidRecord  Outcome = "invalid_record"
	OutcomeInternalError  Outcome = "internal_error"
)

// startDispatchSpan looks the tracer up at call time so tests can swap the
// global provider.
func startDispatchSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(instrumentationName)
	return tracer.Start(ctx, "bridge.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(telemetry.SessionAttributes(sessionID, "", "")...),
	)
}

// emitOutcome records the outcome on the span, the OTel counter and the
// Prometheus counter.
func emitOutcome(ctx context.Context, kind Kind, origin string, outcome Outcome) {
	k := string(kind)
	if k == "" {
		k = "unknown"
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.MessageAttributes(k, origin, string(outcome))...)

	meter := otel.GetMeterProvider().Meter(instrumentationName)
	if counter, err := meter.Int64Counter("keewacker.bridge.dispatch",
		metric.WithDescription("Inbound bridge messages by kind and outcome")); err == nil {
		counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", k),
			attribute.String("outcome", string(outcome)),
		))
	}

	metrics.RecordBridgeMessage(k, string(outcome))
}
