// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the inference collectors, registered on one registry.
//
// Labels: model (engine model name), result (hit, miss, error) where listed.
type Metrics struct {
	// cacheLookups counts cache lookups by result (hit, miss).
	cacheLookups *prometheus.CounterVec

	// upstreamCalls counts engine calls by outcome (success, error).
	upstreamCalls *prometheus.CounterVec

	// inFlight is the number of engine calls currently running.
	inFlight prometheus.Gauge

	// requestDuration measures end-to-end request latency including cache.
	requestDuration *prometheus.HistogramVec

	// batchItems counts batch items by status (ok, failed).
	batchItems *prometheus.CounterVec
}

// NewMetrics registers the inference collectors on reg.
//
// A nil reg creates unregistered collectors, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aleutian_provision",
			Subsystem: "inference",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"model", "result"}),
		upstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aleutian_provision",
			Subsystem: "inference",
			Name:      "upstream_calls_total",
			Help:      "Engine generate calls by status",
		}, []string{"model", "status"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aleutian_provision",
			Subsystem: "inference",
			Name:      "in_flight",
			Help:      "Engine generate calls currently in flight",
		}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aleutian_provision",
			Subsystem: "inference",
			Name:      "request_duration_seconds",
			Help:      "Generate latency in seconds, cache included",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model", "cached"}),
		batchItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aleutian_provision",
			Subsystem: "inference",
			Name:      "batch_items_total",
			Help:      "Batch items processed by status",
		}, []string{"model", "status"}),
	}
}
