// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the playback subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// No session, content or request ids in labels.
var (
	// BridgeMessagesTotal counts inbound frame messages by kind and outcome.
	BridgeMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keewacker_bridge_messages_total",
		Help: "Inbound player frame messages, by kind and outcome (dispatched, dropped reason).",
	}, []string{"kind", "outcome"})

	// BridgeSessionsActive tracks open playback sessions.
	BridgeSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keewacker_bridge_sessions_active",
		Help: "Current number of open playback sessions.",
	})

	// EmbedBuildsTotal counts embed URL builds.
	EmbedBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keewacker_embed_builds_total",
		Help: "Embed URL builds, by provider, media type and result.",
	}, []string{"provider", "media_type", "result"})
)

// RecordBridgeMessage increments the bridge message counter.
func RecordBridgeMessage(kind, outcome string) {
	if kind == "" {
		kind = "unknown"
	}
	BridgeMessagesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordEmbedBuild increments the embed build counter.
func RecordEmbedBuild(provider, mediaType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if mediaType == "" {
		mediaType = "unknown"
	}
	EmbedBuildsTotal.WithLabelValues(provider, mediaType, result).Inc()
}

// GetBridgeSessionsActive returns the current value of the session gauge.
func GetBridgeSessionsActive() float64 {
	var m dto.Metric
	if err := BridgeSessionsActive.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
