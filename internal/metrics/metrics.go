// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package metrics provides Prometheus instrumentation for the crawl
// pipeline, the canonical store, the cache and the API surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Crawl pipeline metrics
	CrawlCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_cycles_total",
			Help: "Total number of crawl cycles by source and terminal status",
		},
		[]string{"source", "status"},
	)

	CrawlCyclesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_cycles_skipped_total",
			Help: "Timer ticks skipped because a cycle was already in flight",
		},
		[]string{"source"},
	)

	CrawlCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawl_cycle_duration_seconds",
			Help:    "Duration of crawl cycles in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"source"},
	)

	CrawlRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_records_total",
			Help: "Records processed per source by outcome (inserted, updated, deactivated, unchanged, rejected, failed)",
		},
		[]string{"source", "outcome"},
	)

	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_fetch_errors_total",
			Help: "Fetch failures by source and kind (network, throttled, parse)",
		},
		[]string{"source", "kind"},
	)

	// Circuit breaker metrics (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_circuit_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions per source",
		},
		[]string{"source", "from", "to"},
	)

	// Canonical store metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache hits by namespace (list, detail)",
		},
		[]string{"namespace"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache misses by namespace (list, detail)",
		},
		[]string{"namespace"},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Cache invalidations by namespace and trigger (event, ttl)",
		},
		[]string{"namespace", "trigger"},
	)

	CacheGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_generation",
			Help: "Current cache generation stamp (increments on invalidation)",
		},
	)

	// Change-event metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_events_published_total",
			Help: "Course change events published by type",
		},
		[]string{"type"},
	)

	EventsPoisoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "course_events_poisoned_total",
			Help: "Course change events routed to the poison queue after retry exhaustion",
		},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)
