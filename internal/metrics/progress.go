// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProgressUpsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keewacker_progress_upserts_total",
		Help: "Progress record upserts, by store backend.",
	}, []string{"store"})

	ProgressEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keewacker_progress_evictions_total",
		Help: "Progress records evicted by the retention cap, by store backend.",
	}, []string{"store"})

	DurableWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keewacker_durable_writes_total",
		Help: "Durable progress writes, by result (ok, error, rejected, circuit_open).",
	}, []string{"result"})
)

// RecordProgressUpsert increments the upsert counter for a store backend.
func RecordProgressUpsert(store string) {
	ProgressUpsertsTotal.WithLabelValues(store).Inc()
}

// RecordProgressEvictions adds n evictions for a store backend.
func RecordProgressEvictions(store string, n int) {
	if n <= 0 {
		return
	}
	ProgressEvictionsTotal.WithLabelValues(store).Add(float64(n))
}

// RecordDurableWrite increments the durable write counter.
func RecordDurableWrite(result string) {
	DurableWritesTotal.WithLabelValues(result).Inc()
}
