// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package metrics instruments the event pipeline with Prometheus. Every
// loss boundary in the pipeline (queue drop, spool eviction, upload
// failure, dispatch timeout) has a counter so operators can see where
// records go missing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture metrics
	CaptureRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_capture_records_total",
			Help: "Captured records by outcome",
		},
		[]string{"outcome"}, // "enqueued", "filtered", "exempt", "no_identity", "queue_full"
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_queue_depth",
			Help: "Current bounded queue occupancy",
		},
	)

	BatchesAssembled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_batches_assembled_total",
			Help: "Batches drained from the queue",
		},
	)

	// Spool metrics
	SpoolWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_spool_writes_total",
			Help: "Spool batch writes by outcome",
		},
		[]string{"outcome"}, // "published", "failed"
	)

	SpoolEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_spool_evictions_total",
			Help: "Spool files evicted by quota enforcement",
		},
	)

	SpoolBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_spool_bytes",
			Help: "Total bytes of published spool files",
		},
	)

	// Uploader metrics
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_uploads_total",
			Help: "Spool file upload attempts by outcome",
		},
		[]string{"outcome"}, // "acked", "transient_error", "quarantined", "breaker_open"
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_upload_duration_seconds",
			Help:    "Duration of spool file uploads",
			Buckets: prometheus.DefBuckets,
		},
	)

	QuarantinedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_quarantined_files",
			Help: "Spool files moved aside after permanent rejection",
		},
	)

	// Ingestion metrics
	IngestBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_ingest_batches_total",
			Help: "Ingested batches by outcome",
		},
		[]string{"outcome"}, // "indexed", "duplicate", "invalid"
	)

	IngestRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_ingest_records_total",
			Help: "Records accepted across all indexed batches",
		},
	)

	// Dispatch metrics
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_dispatch_duration_seconds",
			Help:    "Per-module batch handling duration",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"module"},
	)

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_dispatch_total",
			Help: "Per-module dispatch outcomes",
		},
		[]string{"module", "outcome"}, // "ok", "error", "timeout", "dropped"
	)

	// State store metrics
	StateOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_state_ops_total",
			Help: "Player state store operations",
		},
		[]string{"op"}, // "batch_get", "batch_set"
	)

	StateOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_state_op_duration_seconds",
			Help:    "Player state store operation duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"op"},
	)

	// Findings metrics
	Findings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_findings_total",
			Help: "Findings submissions by outcome",
		},
		[]string{"outcome"}, // "stored", "duplicate"
	)
)
