// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breakers are named after the remote they guard, e.g. progress_endpoint for
// the durable progress writer.
var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keewacker_circuit_breaker_state",
		Help: "One-hot state of the breaker guarding a remote such as the durable progress endpoint (1 marks the current state)",
	}, []string{"breaker", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keewacker_circuit_breaker_trips_total",
		Help: "Breaker transitions to open, by breaker and trigger (threshold_exceeded, half_open_failure)",
	}, []string{"breaker", "reason"})

	circuitBreakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keewacker_circuit_breaker_rejected_total",
		Help: "Calls refused without reaching the remote because the breaker was open or a half-open trial was in flight",
	}, []string{"breaker"})
)

var circuitStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState marks state as the breaker's current state.
func SetCircuitBreakerState(breaker, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(breaker, s).Set(value)
	}
}

// RecordCircuitBreakerTrip counts a transition to open.
func RecordCircuitBreakerTrip(breaker, reason string) {
	circuitBreakerTrips.WithLabelValues(breaker, reason).Inc()
}

// RecordCircuitBreakerRejection counts a call the breaker refused. For the
// durable writer each one is a progress record that stayed local only.
func RecordCircuitBreakerRejection(breaker string) {
	circuitBreakerRejected.WithLabelValues(breaker).Inc()
}
