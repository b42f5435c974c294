// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package capture

import (
	"sync/atomic"

	"github.com/vigil-ac/vigil/internal/metrics"
)

// Pipeline is the capture hot path: identity check, exemption check,
// filter decision, enqueue. It runs inline with the host's packet
// handling and must never block it; every rejection is a silent counted
// drop, never an error surfaced to the game session.
type Pipeline struct {
	filter     *EventFilter
	exemptions *ExemptionTracker
	queue      *BoundedEventQueue

	filtered   atomic.Int64
	exempt     atomic.Int64
	noIdentity atomic.Int64
}

// NewPipeline wires the capture stages together.
func NewPipeline(filter *EventFilter, exemptions *ExemptionTracker, queue *BoundedEventQueue) *Pipeline {
	return &Pipeline{
		filter:     filter,
		exemptions: exemptions,
		queue:      queue,
	}
}

// Observe runs one captured event through the pipeline. Returns true if
// the record was enqueued for batching.
//
// Records without a resolved entity identity are dropped in both
// directions. The upstream implementation forwarded identity-less
// clientbound events; that asymmetry let anonymous records reach
// per-entity analysis, so both directions now require identity.
func (p *Pipeline) Observe(rec *PacketRecord) bool {
	if rec.EntityID == "" {
		p.noIdentity.Add(1)
		metrics.CaptureRecords.WithLabelValues("no_identity").Inc()
		return false
	}
	if p.exemptions.IsExempt(rec.EntityID) {
		p.exempt.Add(1)
		metrics.CaptureRecords.WithLabelValues("exempt").Inc()
		return false
	}
	if !p.filter.ShouldCapture(rec.EventType) {
		p.filtered.Add(1)
		metrics.CaptureRecords.WithLabelValues("filtered").Inc()
		return false
	}
	if !p.queue.TryEnqueue(rec) {
		return false
	}
	metrics.CaptureRecords.WithLabelValues("enqueued").Inc()
	return true
}

// Stats is a point-in-time snapshot of pipeline drop counters, logged
// periodically by the agent.
type Stats struct {
	Enqueued   int64 `json:"enqueued"`
	QueueFull  int64 `json:"queue_full"`
	Filtered   int64 `json:"filtered"`
	Exempt     int64 `json:"exempt"`
	NoIdentity int64 `json:"no_identity"`
}

// Stats returns current counter values.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Enqueued:   p.queue.Enqueued(),
		QueueFull:  p.queue.Dropped(),
		Filtered:   p.filtered.Load(),
		Exempt:     p.exempt.Load(),
		NoIdentity: p.noIdentity.Load(),
	}
}
