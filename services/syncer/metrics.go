// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ===== Label Values =====

const (
	// ResultAdopted labels reconciles that adopted the remote copy.
	ResultAdopted = "adopted"

	// ResultPushed labels reconciles that pushed local state to the cloud.
	ResultPushed = "pushed"

	// ResultNoop labels reconciles where both sides already agreed.
	ResultNoop = "noop"

	// ResultDegraded labels reconciles that fell back to local-only state.
	ResultDegraded = "degraded"
)

// Metrics instruments the reconcile loop. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry collisions.
type Metrics struct {
	reconciles     *prometheus.CounterVec
	reconcileTime  prometheus.Histogram
	debounceResets prometheus.Counter
	coalesced      prometheus.Counter
	refRecoveries  prometheus.Counter
	sessionActive  prometheus.Gauge
}

// NewMetrics registers the sync metrics with the given registerer.
//
// # Inputs
//
//   - reg: target registry. Pass prometheus.DefaultRegisterer in
//     production; tests pass a fresh prometheus.NewRegistry().
//
// # Outputs
//
//   - *Metrics: registered collectors, ready for use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reconciles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musclepro",
			Subsystem: "sync",
			Name:      "reconciles_total",
			Help:      "Reconcile attempts partitioned by outcome.",
		}, []string{"result"}),
		reconcileTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "musclepro",
			Subsystem: "sync",
			Name:      "reconcile_duration_seconds",
			Help:      "Wall time of a full reconcile round trip.",
			Buckets:   prometheus.DefBuckets,
		}),
		debounceResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "musclepro",
			Subsystem: "sync",
			Name:      "debounce_resets_total",
			Help:      "Mutations that re-armed the quiet-interval timer.",
		}),
		coalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "musclepro",
			Subsystem: "sync",
			Name:      "mutations_coalesced_total",
			Help:      "Mutations absorbed into an already pending sync.",
		}),
		refRecoveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "musclepro",
			Subsystem: "sync",
			Name:      "record_ref_recoveries_total",
			Help:      "Stale cached record refs repaired via rediscovery.",
		}),
		sessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "musclepro",
			Subsystem: "sync",
			Name:      "session_active",
			Help:      "1 while an owner session is active on this device.",
		}),
	}
}

func (m *Metrics) SetSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.sessionActive.Set(1)
	} else {
		m.sessionActive.Set(0)
	}
}

func (m *Metrics) ObserveReconcile(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(result).Inc()
	m.reconcileTime.Observe(elapsed.Seconds())
}

func (m *Metrics) IncDebounceReset() {
	if m == nil {
		return
	}
	m.debounceResets.Inc()
}

func (m *Metrics) IncCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) IncRefRecovery() {
	if m == nil {
		return
	}
	m.refRecoveries.Inc()
}
