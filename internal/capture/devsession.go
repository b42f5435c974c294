// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package capture

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DevSessionState is a phase of the labeled-recording state machine.
type DevSessionState string

const (
	// DevIdle is the initial state before recording starts.
	DevIdle DevSessionState = "idle"

	// DevWarmup covers the fixed settling window after start, before
	// traffic is labeled.
	DevWarmup DevSessionState = "warmup"

	// DevActive is the recording phase; traffic is labeled clean or
	// cheat according to the toggle.
	DevActive DevSessionState = "active"

	// DevStopped is terminal.
	DevStopped DevSessionState = "stopped"
)

// DevSession labels an entity's traffic for detector tuning. Operators
// start a session, wait out the warmup, then toggle between clean and
// cheat labels while reproducing behavior. The session is destroyed on
// stop or disconnect.
//
// State machine: idle -> warmup -> active(clean|cheat) -> stopped.
// Elapsed time advances only while active.
type DevSession struct {
	mu         sync.Mutex
	clock      clock.Clock
	state      DevSessionState
	warmup     time.Duration
	startedAt  time.Time // entered warmup
	activeAt   time.Time // entered active
	cheatLabel bool

	// stoppedElapsed preserves the active duration at stop time.
	stoppedElapsed time.Duration
}

// newDevSession creates a session in the idle state.
func newDevSession(clk clock.Clock, warmup time.Duration) *DevSession {
	return &DevSession{
		clock:  clk,
		state:  DevIdle,
		warmup: warmup,
	}
}

// Begin moves idle -> warmup. No-op in any other state.
func (s *DevSession) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != DevIdle {
		return
	}
	s.state = DevWarmup
	s.startedAt = s.clock.Now()
}

// State returns the current phase, promoting warmup to active once the
// warmup window has elapsed.
func (s *DevSession) State() DevSessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteLocked()
	return s.state
}

// promoteLocked advances warmup -> active when the window has passed.
func (s *DevSession) promoteLocked() {
	if s.state == DevWarmup && s.clock.Now().Sub(s.startedAt) >= s.warmup {
		s.state = DevActive
		s.activeAt = s.startedAt.Add(s.warmup)
	}
}

// ToggleCheat flips the label between clean and cheat. Only meaningful
// while active; returns the new label.
func (s *DevSession) ToggleCheat() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteLocked()
	if s.state == DevActive {
		s.cheatLabel = !s.cheatLabel
	}
	return s.cheatLabel
}

// Label returns "cheat" or "clean" for the current toggle.
func (s *DevSession) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cheatLabel {
		return "cheat"
	}
	return "clean"
}

// ElapsedSeconds returns whole seconds spent in the active state.
// Monotonically non-decreasing while active; frozen after stop.
func (s *DevSession) ElapsedSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteLocked()
	switch s.state {
	case DevActive:
		return int(s.clock.Now().Sub(s.activeAt) / time.Second)
	case DevStopped:
		if s.activeAt.IsZero() {
			return 0
		}
		return int(s.stoppedElapsed / time.Second)
	default:
		return 0
	}
}

// stop transitions to the terminal state, freezing elapsed time.
func (s *DevSession) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteLocked()
	if s.state == DevActive {
		s.stoppedElapsed = s.clock.Now().Sub(s.activeAt)
	}
	s.state = DevStopped
}
