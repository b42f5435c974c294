// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package capture implements the agent-side hot path: deciding which
// protocol events are worth keeping (filter + exemptions), absorbing
// them into a bounded queue without ever blocking packet handling, and
// assembling drained records into batches for the spool.
package capture

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Direction indicates which way a captured event traveled.
type Direction string

const (
	// Serverbound events travel from the client to the game server.
	Serverbound Direction = "serverbound"

	// Clientbound events travel from the game server to the client.
	Clientbound Direction = "clientbound"
)

// PacketRecord is one captured protocol event. Records are immutable
// once constructed and consumed exactly once by batch assembly.
//
// A record must carry a resolved entity identity. Events whose entity
// cannot be resolved are dropped at capture time in both directions;
// forwarding them under a placeholder identity would corrupt per-entity
// analysis downstream.
type PacketRecord struct {
	// Timestamp is wall-clock epoch milliseconds at capture.
	Timestamp int64 `json:"ts"`

	// Dir is the traffic direction.
	Dir Direction `json:"dir"`

	// EventType is the protocol event name, e.g. "player_move".
	EventType string `json:"event"`

	// EntityID is the stable entity identifier.
	EntityID string `json:"entity_id"`

	// EntityName is the entity's display name, if known.
	EntityName string `json:"entity_name,omitempty"`

	// Fields holds extracted field name -> scalar value. Values are
	// whatever the protocol extractor produced: numbers, strings,
	// booleans, or null.
	Fields map[string]any `json:"fields,omitempty"`
}

// NewPacketRecord constructs a record stamped with the current time.
func NewPacketRecord(dir Direction, eventType, entityID, entityName string, fields map[string]any) *PacketRecord {
	return &PacketRecord{
		Timestamp:  time.Now().UnixMilli(),
		Dir:        dir,
		EventType:  eventType,
		EntityID:   entityID,
		EntityName: entityName,
		Fields:     fields,
	}
}

// PacketBatch is an ordered sequence of records plus transport metadata.
// Batches are the unit of durability, transport, and dispatch; once
// spooled a batch is immutable.
type PacketBatch struct {
	// BatchID uniquely identifies this batch.
	BatchID string `json:"batch_id"`

	// SourceID identifies the originating capture agent.
	SourceID string `json:"source_id"`

	// SessionID identifies the game session the records belong to.
	SessionID string `json:"session_id"`

	// CreatedAt is when the batch was assembled (epoch milliseconds).
	CreatedAt int64 `json:"created_at"`

	// RecordCount is len(Records), duplicated so the metadata header of
	// a spool file can be validated without reading every line.
	RecordCount int `json:"record_count"`

	// Records are the captured events in capture order.
	Records []*PacketRecord `json:"-"`
}

// NewPacketBatch assembles a batch from drained records.
func NewPacketBatch(sourceID, sessionID string, records []*PacketRecord) *PacketBatch {
	return &PacketBatch{
		BatchID:     uuid.New().String(),
		SourceID:    sourceID,
		SessionID:   sessionID,
		CreatedAt:   time.Now().UnixMilli(),
		RecordCount: len(records),
		Records:     records,
	}
}

// Header returns the batch metadata encoded as a single JSON line, the
// first line of a spool file.
func (b *PacketBatch) Header() ([]byte, error) {
	return json.Marshal(b)
}
