// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the route-level policies.
type RouterConfig struct {
	// TokenSecret signs and verifies module callback tokens.
	TokenSecret []byte

	// RateLimitRequests per RateLimitWindow per client IP on the
	// ingest and callback routes.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter wires all backend routes.
func NewRouter(cfg RouterConfig, h *Handler) http.Handler {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 600
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger)
	r.Use(Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	// Health endpoints get their own generous limit so monitoring never
	// competes with ingest traffic for quota.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/", h.Health)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	// Agent-facing ingest.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/ingest", h.Ingest)
	})

	// Module callbacks, bearer-token gated.
	r.Route("/callbacks", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(ModuleAuth(cfg.TokenSecret))
		r.Post("/player-states/batch-get", h.StatesBatchGet)
		r.Post("/player-states/batch-set", h.StatesBatchSet)
		r.Post("/findings", h.SubmitFindings)
	})

	// Operator read API. Sits behind the deployment's perimeter; the
	// pipeline carries no player-facing auth of its own.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/findings", h.ListFindings)
		r.Get("/batches", h.ListBatches)
		r.Get("/pipeline/stats", h.PipelineStats)
	})

	if h.hub != nil {
		r.Get("/ws/findings", h.hub.ServeHTTP)
	}

	return r
}
