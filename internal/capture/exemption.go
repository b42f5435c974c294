// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package capture

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// ExemptionTracker suppresses capture for entities inside a grace window
// (just connected, just transferred between platforms) or belonging to
// an exempt client category. It layers above the EventFilter: an exempt
// entity's traffic is dropped regardless of the filter outcome.
//
// Entity state lives in an arena keyed by the stable entity identifier.
// Entries are removed on disconnect and swept by TTL, never left for
// garbage collection to find.
type ExemptionTracker struct {
	mu       sync.RWMutex
	entities map[string]*entityState

	connectGrace  time.Duration
	transferGrace time.Duration
	entityTTL     time.Duration
	exemptClients map[string]struct{}

	clock clock.Clock
}

// entityState is one arena slot.
type entityState struct {
	connectedAt   time.Time
	transferredAt time.Time
	clientKind    string
	devSession    *DevSession

	// lastSeen is unix nanoseconds. Atomic so the per-packet read path
	// can touch it under the arena's shared lock; every other field is
	// written only by lifecycle events under the write lock.
	lastSeen atomic.Int64
}

// ExemptionConfig configures an ExemptionTracker.
type ExemptionConfig struct {
	ConnectGrace  time.Duration
	TransferGrace time.Duration
	EntityTTL     time.Duration
	ExemptClients []string
}

// NewExemptionTracker creates a tracker using the real clock.
func NewExemptionTracker(cfg ExemptionConfig) *ExemptionTracker {
	return NewExemptionTrackerWithClock(cfg, clock.New())
}

// NewExemptionTrackerWithClock creates a tracker with an injected clock.
// Tests use clock.NewMock() to step through grace windows without
// sleeping.
func NewExemptionTrackerWithClock(cfg ExemptionConfig, clk clock.Clock) *ExemptionTracker {
	exempt := make(map[string]struct{}, len(cfg.ExemptClients))
	for _, kind := range cfg.ExemptClients {
		exempt[strings.ToLower(kind)] = struct{}{}
	}
	return &ExemptionTracker{
		entities:      make(map[string]*entityState),
		connectGrace:  cfg.ConnectGrace,
		transferGrace: cfg.TransferGrace,
		entityTTL:     cfg.EntityTTL,
		exemptClients: exempt,
		clock:         clk,
	}
}

// OnConnect records an entity connecting with the given client kind,
// starting its connect grace window.
func (t *ExemptionTracker) OnConnect(entityID, clientKind string) {
	now := t.clock.Now()
	state := &entityState{
		connectedAt: now,
		clientKind:  strings.ToLower(clientKind),
	}
	state.lastSeen.Store(now.UnixNano())
	t.mu.Lock()
	t.entities[entityID] = state
	t.mu.Unlock()
}

// OnTransfer records a platform transfer, starting the transfer grace
// window. Unknown entities are treated as a fresh connect.
func (t *ExemptionTracker) OnTransfer(entityID string) {
	now := t.clock.Now()
	t.mu.Lock()
	state, ok := t.entities[entityID]
	if !ok {
		state = &entityState{connectedAt: now}
		t.entities[entityID] = state
	}
	state.transferredAt = now
	state.lastSeen.Store(now.UnixNano())
	t.mu.Unlock()
}

// OnDisconnect removes the entity's arena slot, destroying any dev
// session attached to it.
func (t *ExemptionTracker) OnDisconnect(entityID string) {
	t.mu.Lock()
	delete(t.entities, entityID)
	t.mu.Unlock()
}

// IsExempt reports whether the entity's traffic is currently suppressed.
// Unknown entities are not exempt: capture proceeds for traffic from
// entities we never saw connect (their grace already passed or the agent
// restarted mid-session).
func (t *ExemptionTracker) IsExempt(entityID string) bool {
	now := t.clock.Now()

	t.mu.RLock()
	state, ok := t.entities[entityID]
	if !ok {
		t.mu.RUnlock()
		return false
	}
	exempt := t.isExemptLocked(state, now)
	if !exempt {
		// Touch lastSeen so active entities are not TTL-swept. Atomic,
		// so the per-packet path never promotes to the write lock.
		state.lastSeen.Store(now.UnixNano())
	}
	t.mu.RUnlock()
	return exempt
}

func (t *ExemptionTracker) isExemptLocked(state *entityState, now time.Time) bool {
	if _, ok := t.exemptClients[state.clientKind]; ok {
		return true
	}
	if t.connectGrace > 0 && now.Sub(state.connectedAt) < t.connectGrace {
		return true
	}
	if t.transferGrace > 0 && !state.transferredAt.IsZero() && now.Sub(state.transferredAt) < t.transferGrace {
		return true
	}
	return false
}

// Sweep removes entity records idle longer than the TTL. Returns the
// number of records removed. Called periodically by the agent.
func (t *ExemptionTracker) Sweep() int {
	if t.entityTTL <= 0 {
		return 0
	}
	cutoff := t.clock.Now().Add(-t.entityTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, state := range t.entities {
		lastSeen := time.Unix(0, state.lastSeen.Load())
		if lastSeen.Before(cutoff) && state.connectedAt.Before(cutoff) {
			delete(t.entities, id)
			removed++
		}
	}
	return removed
}

// TrackedEntities returns the current arena size.
func (t *ExemptionTracker) TrackedEntities() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entities)
}

// DevSessionFor returns the entity's dev session, or nil.
func (t *ExemptionTracker) DevSessionFor(entityID string) *DevSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if state, ok := t.entities[entityID]; ok {
		return state.devSession
	}
	return nil
}

// StartDevSession attaches a labeled recording session to a tracked
// entity. Returns nil if the entity is unknown.
func (t *ExemptionTracker) StartDevSession(entityID string, warmup time.Duration) *DevSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.entities[entityID]
	if !ok {
		return nil
	}
	state.devSession = newDevSession(t.clock, warmup)
	return state.devSession
}

// StopDevSession destroys the entity's dev session, if any.
func (t *ExemptionTracker) StopDevSession(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.entities[entityID]; ok && state.devSession != nil {
		state.devSession.stop()
		state.devSession = nil
	}
}
