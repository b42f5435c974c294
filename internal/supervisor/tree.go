// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package supervisor builds the suture service trees the two binaries
// run under. Layers isolate failures: a crashing uploader restarts
// without touching capture, and a crashing dispatcher restarts without
// taking down the HTTP listener.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/vigil-ac/vigil/internal/logging"
)

// TreeConfig holds restart and shutdown tuning. Zero values take
// suture's defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func (c *TreeConfig) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5.0
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30.0
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Tree is a two-level supervisor: a root plus named layer supervisors.
type Tree struct {
	root   *suture.Supervisor
	layers map[string]*suture.Supervisor
	config TreeConfig
}

// NewTree creates the root supervisor and one child supervisor per
// layer name, in order.
func NewTree(name string, config TreeConfig, layers ...string) *Tree {
	config.applyDefaults()

	// Suture reports through slog; route that into zerolog.
	handler := &sutureslog.Handler{
		Logger: slog.New(logging.NewSlogHandler()),
	}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	t := &Tree{
		root:   suture.New(name, rootSpec),
		layers: make(map[string]*suture.Supervisor, len(layers)),
		config: config,
	}
	for _, layer := range layers {
		sup := suture.New(name+"/"+layer, childSpec)
		t.root.Add(sup)
		t.layers[layer] = sup
	}
	return t
}

// Add places a service in the named layer. Unknown layers fall back to
// the root so a misnamed layer degrades to coarser supervision rather
// than a dropped service.
func (t *Tree) Add(layer string, svc suture.Service) suture.ServiceToken {
	if sup, ok := t.layers[layer]; ok {
		return sup.Add(svc)
	}
	logging.Warn().Str("layer", layer).Msg("unknown supervisor layer, adding to root")
	return t.root.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree and returns its completion channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown
// timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// serviceFunc adapts a plain Serve func to suture.Service.
type serviceFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// ServiceFunc wraps fn as a named suture service.
func ServiceFunc(name string, fn func(ctx context.Context) error) suture.Service {
	return &serviceFunc{name: name, fn: fn}
}

func (s *serviceFunc) Serve(ctx context.Context) error {
	return s.fn(ctx)
}

func (s *serviceFunc) String() string {
	return s.name
}
