// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package capture

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestDevSessionLifecycle(t *testing.T) {
	clk := clock.NewMock()
	tr := newTestTracker(clk)
	tr.OnConnect("e1", "vanilla")

	s := tr.StartDevSession("e1", 3*time.Second)
	if s == nil {
		t.Fatal("StartDevSession returned nil for tracked entity")
	}
	if s.State() != DevIdle {
		t.Errorf("state = %s, want idle", s.State())
	}

	s.Begin()
	if s.State() != DevWarmup {
		t.Errorf("state = %s, want warmup", s.State())
	}
	if s.ElapsedSeconds() != 0 {
		t.Errorf("elapsed = %d during warmup, want 0", s.ElapsedSeconds())
	}

	clk.Add(3 * time.Second)
	if s.State() != DevActive {
		t.Errorf("state = %s, want active after warmup", s.State())
	}

	clk.Add(7 * time.Second)
	if got := s.ElapsedSeconds(); got != 7 {
		t.Errorf("elapsed = %d, want 7", got)
	}

	if s.Label() != "clean" {
		t.Errorf("initial label = %s, want clean", s.Label())
	}
	s.ToggleCheat()
	if s.Label() != "cheat" {
		t.Errorf("label after toggle = %s, want cheat", s.Label())
	}
	s.ToggleCheat()
	if s.Label() != "clean" {
		t.Errorf("label after second toggle = %s, want clean", s.Label())
	}
}

func TestDevSessionStopFreezesElapsed(t *testing.T) {
	clk := clock.NewMock()
	tr := newTestTracker(clk)
	tr.OnConnect("e1", "vanilla")

	s := tr.StartDevSession("e1", 1*time.Second)
	s.Begin()
	clk.Add(1 * time.Second)
	clk.Add(5 * time.Second)

	tr.StopDevSession("e1")
	if s.State() != DevStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}

	elapsed := s.ElapsedSeconds()
	clk.Add(1 * time.Minute)
	if s.ElapsedSeconds() != elapsed {
		t.Error("elapsed advanced after stop")
	}
	if tr.DevSessionFor("e1") != nil {
		t.Error("session should be detached after stop")
	}
}

func TestDevSessionDestroyedOnDisconnect(t *testing.T) {
	clk := clock.NewMock()
	tr := newTestTracker(clk)
	tr.OnConnect("e1", "vanilla")
	tr.StartDevSession("e1", time.Second)

	tr.OnDisconnect("e1")
	if tr.DevSessionFor("e1") != nil {
		t.Error("session should be destroyed on disconnect")
	}
}

func TestStartDevSessionUnknownEntity(t *testing.T) {
	tr := newTestTracker(clock.NewMock())
	if s := tr.StartDevSession("ghost", time.Second); s != nil {
		t.Error("expected nil session for unknown entity")
	}
}
