// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vigil-ac/vigil/internal/dispatch"
	"github.com/vigil-ac/vigil/internal/findings"
	"github.com/vigil-ac/vigil/internal/ingest"
	"github.com/vigil-ac/vigil/internal/state"
)

// Handler carries the backend services the routes call into.
type Handler struct {
	ingest        *ingest.Service
	index         *ingest.BatchIndex
	states        *state.Store
	findings      *findings.Sink
	hub           *findings.Hub
	dispatcher    *dispatch.Dispatcher
	ready         func() bool
	maxBatchBytes int64
	started       time.Time
}

// HandlerConfig groups the Handler's dependencies.
type HandlerConfig struct {
	Ingest        *ingest.Service
	Index         *ingest.BatchIndex
	States        *state.Store
	Findings      *findings.Sink
	Hub           *findings.Hub
	Dispatcher    *dispatch.Dispatcher
	Ready         func() bool
	MaxBatchBytes int64
}

// NewHandler constructs the route handler set.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = 32 << 20
	}
	if cfg.Ready == nil {
		cfg.Ready = func() bool { return true }
	}
	return &Handler{
		ingest:        cfg.Ingest,
		index:         cfg.Index,
		states:        cfg.States,
		findings:      cfg.Findings,
		hub:           cfg.Hub,
		dispatcher:    cfg.Dispatcher,
		ready:         cfg.Ready,
		maxBatchBytes: cfg.MaxBatchBytes,
		started:       time.Now(),
	}
}

// Ingest accepts one uploaded batch in the spool wire format.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBatchBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable request body")
		return
	}
	if int64(len(body)) > h.maxBatchBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "batch exceeds size limit")
		return
	}

	res, err := h.ingest.Ingest(r.Context(), body, r.RemoteAddr)
	switch {
	case errors.Is(err, ingest.ErrMalformed):
		writeError(w, http.StatusBadRequest, "malformed_batch", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", "ingestion failed")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// batchGetRequest is the player-state read contract for modules.
type batchGetRequest struct {
	EntityID string   `json:"entity_id"`
	Keys     []string `json:"keys"`
}

type batchGetResponse struct {
	EntityID string                 `json:"entity_id"`
	Values   map[string]state.Value `json:"values"`
}

// StatesBatchGet reads player-state keys for one entity.
func (h *Handler) StatesBatchGet(w http.ResponseWriter, r *http.Request) {
	var req batchGetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(req.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "keys is required")
		return
	}

	values, err := h.states.BatchGet(r.Context(), req.EntityID, req.Keys)
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchGetResponse{EntityID: req.EntityID, Values: values})
}

// batchSetRequest is the player-state write contract for modules.
type batchSetRequest struct {
	EntityID string                 `json:"entity_id"`
	Values   map[string]state.Value `json:"values"`
}

// StatesBatchSet writes player-state keys for one entity.
func (h *Handler) StatesBatchSet(w http.ResponseWriter, r *http.Request) {
	var req batchSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(req.Values) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "values is required")
		return
	}

	if err := h.states.BatchSet(r.Context(), req.EntityID, req.Values); err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(req.Values)})
}

func writeStateError(w http.ResponseWriter, err error) {
	if errors.Is(err, state.ErrEmptyEntity) || errors.Is(err, state.ErrEmptyKey) {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", "state operation failed")
}

// SubmitFindings accepts a findings array from an authenticated
// module. The module name from the token overrides whatever the body
// claims, so a module cannot report as another.
func (h *Handler) SubmitFindings(w http.ResponseWriter, r *http.Request) {
	var batch []findings.Finding
	if err := decodeJSON(r, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "empty findings array")
		return
	}

	if module := ModuleFromContext(r.Context()); module != "" {
		for i := range batch {
			batch[i].Module = module
		}
	}

	stored, err := h.findings.Submit(r.Context(), batch)
	if err != nil {
		if errors.Is(err, findings.ErrInvalidFinding) {
			writeError(w, http.StatusBadRequest, "invalid_finding", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "findings submission failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stored": stored, "received": len(batch)})
}

// Health reports overall status and uptime.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// HealthLive is the liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe.
func (h *Handler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	if !h.ready() {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "backend not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListFindings serves the operator findings feed.
func (h *Handler) ListFindings(w http.ResponseWriter, r *http.Request) {
	list, err := h.findings.List(queryLimit(r), r.URL.Query().Get("entity"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "findings query failed")
		return
	}
	if list == nil {
		list = []*findings.Finding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": list, "count": len(list)})
}

// ListBatches serves the operator batch index view.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	entries, err := h.index.List(queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "batch index query failed")
		return
	}
	if entries == nil {
		entries = []*ingest.IndexEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": entries, "count": len(entries)})
}

// PipelineStats summarizes the backend's runtime shape for operators.
// Per-counter detail lives in /metrics; this is the at-a-glance view.
func (h *Handler) PipelineStats(w http.ResponseWriter, _ *http.Request) {
	modules := make([]map[string]any, 0)
	if h.dispatcher != nil {
		for _, m := range h.dispatcher.Modules() {
			modules = append(modules, map[string]any{
				"name":       m.Name,
				"tier":       string(m.Tier),
				"categories": m.Categories,
			})
		}
	}
	stats := map[string]any{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"modules":        modules,
	}
	if h.hub != nil {
		stats["ws_clients"] = h.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
