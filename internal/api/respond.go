// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package api provides HTTP routing for the backend using the chi
// router: the agent-facing ingest endpoint, module callback endpoints,
// and the operator read API.
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/vigil-ac/vigil/internal/logging"
)

// errorBody is the structured error envelope every non-2xx response
// carries.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeJSON encodes v with the given status. Encoding failures are
// logged, not surfaced: headers are already gone by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encode response body")
	}
}

// writeError sends the structured error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// decodeJSON decodes a request body, rejecting unknown fields so
// module authors find contract typos immediately.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
