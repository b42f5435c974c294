// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package findings persists detection results reported by modules and
// feeds them to operator dashboards. Storage is append-only; repeated
// submissions of the same finding are absorbed by a dedup window so
// module retries do not multiply alerts.
package findings

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInvalidFinding = errors.New("invalid finding")
)

// Finding is one detection result from a module.
type Finding struct {
	// ID is assigned by the sink at storage time.
	ID string `json:"id,omitempty"`

	// Module is the reporting module's name.
	Module string `json:"module"`

	// EntityID is the implicated entity.
	EntityID string `json:"entity_id"`

	// Check names the specific detection that fired, e.g. "speed".
	Check string `json:"check"`

	// Timestamp is when the detection fired (epoch milliseconds).
	Timestamp int64 `json:"ts"`

	// Severity is a module-defined label such as "low" or "high".
	Severity string `json:"severity,omitempty"`

	// Confidence in [0,1], module-defined.
	Confidence float64 `json:"confidence,omitempty"`

	// Details carries module-specific evidence.
	Details map[string]any `json:"details,omitempty"`
}

// Validate checks the fields the pipeline requires.
func (f *Finding) Validate() error {
	switch {
	case f.Module == "":
		return fmt.Errorf("%w: module is required", ErrInvalidFinding)
	case f.EntityID == "":
		return fmt.Errorf("%w: entity_id is required", ErrInvalidFinding)
	case f.Check == "":
		return fmt.Errorf("%w: check is required", ErrInvalidFinding)
	case f.Timestamp <= 0:
		return fmt.Errorf("%w: ts must be positive", ErrInvalidFinding)
	case f.Confidence < 0 || f.Confidence > 1:
		return fmt.Errorf("%w: confidence must be within [0,1]", ErrInvalidFinding)
	}
	return nil
}

// dedupKey identifies a finding for the dedup window.
func (f *Finding) dedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", f.Module, f.EntityID, f.Check, f.Timestamp)
}
