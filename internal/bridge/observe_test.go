// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"context"
	"testing"

	"github.com/allnine-dev/keewacker/internal/metrics"
	"github.com/allnine-dev/keewacker/internal/provider"
	"github.com/allnine-dev/keewacker/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestDispatchObservability(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans)))
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	defer func() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(noop.NewMeterProvider())
	}()

	f := newFixture(t, nil)
	sess, _, err := f.bridge.Open(context.Background(), tvRequest(), provider.VidLink)
	require.NoError(t, err)

	promBefore := testutil.ToFloat64(metrics.BridgeMessagesTotal.WithLabelValues("unknown", string(OutcomeUnknownType)))

	f.dispatch(t, sess.ID(), vidlinkOrigin, []byte(`{"type":"UNKNOWN"}`))
	f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("timeupdate", 600, 3000))
	f.dispatch(t, sess.ID(), "https://evil.example", playerEvent("timeupdate", 600, 3000))

	assert.Equal(t, promBefore+1, testutil.ToFloat64(metrics.BridgeMessagesTotal.WithLabelValues("unknown", string(OutcomeUnknownType))))

	// Spans
	ended := spans.GetSpans()
	require.Len(t, ended, 3)
	outcomes := make([]string, 0, len(ended))
	for _, s := range ended {
		assert.Equal(t, "bridge.dispatch", s.Name)
		for _, kv := range s.Attributes {
			if string(kv.Key) == telemetry.OutcomeKey {
				outcomes = append(outcomes, kv.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{
		string(OutcomeUnknownType),
		string(OutcomeDispatched),
		string(OutcomeOriginRejected),
	}, outcomes)

	// Metrics
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "keewacker.bridge.dispatch" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				kind, _ := dp.Attributes.Value(attribute.Key("kind"))
				counts[kind.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"unknown/" + string(OutcomeUnknownType):     1,
		"PLAYER_EVENT/" + string(OutcomeDispatched): 1,
		"unknown/" + string(OutcomeOriginRejected):  1,
	}, counts)
}
