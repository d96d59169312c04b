// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a bus message is dropped.
const (
	BusDropFull     = "full"
	BusDropTimeout  = "timeout"
	BusDropCanceled = "canceled"
	BusDropUnknown  = "unknown"
)

var (
	// BusDroppedTotal counts messages a bus refused. On the bridge.inbound
	// topic each drop is a player frame message that was never dispatched.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keewacker_bus_dropped_total",
		Help: "Messages refused by the in-memory bus before delivery, by topic and reason (full, timeout, canceled)",
	}, []string{"topic", "reason"})

	busPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keewacker_bus_published_total",
		Help: "Messages accepted by every subscriber of a topic, e.g. frame messages queued on bridge.inbound",
	}, []string{"topic"})
)

func busTopic(topic string) string {
	if topic == "" {
		return "unknown"
	}
	return topic
}

// IncBusPublished counts a message delivered to every subscriber of topic.
func IncBusPublished(topic string) {
	busPublishedTotal.WithLabelValues(busTopic(topic)).Inc()
}

// IncBusDropReason counts a message dropped on topic for reason.
func IncBusDropReason(topic, reason string) {
	if reason == "" {
		reason = BusDropUnknown
	}
	BusDroppedTotal.WithLabelValues(busTopic(topic), reason).Inc()
}
