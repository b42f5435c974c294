// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package capture

import (
	"strings"
	"sync/atomic"
)

// EventFilter decides whether a protocol event type is worth forwarding.
//
// Policy, in priority order:
//  1. An explicit deny-list entry always wins.
//  2. A non-empty explicit allow-list is authoritative.
//  3. Otherwise a conservative default list of category substrings
//     (movement, combat, block interaction, inventory) decides.
//
// ShouldCapture runs inline with packet handling, so the decision is a
// couple of map lookups against an immutable snapshot and allocates
// nothing. Reloading configuration swaps the snapshot atomically.
type EventFilter struct {
	snapshot atomic.Pointer[filterSnapshot]
}

// filterSnapshot is the immutable compiled form of the filter lists.
type filterSnapshot struct {
	deny       map[string]struct{}
	allow      map[string]struct{}
	categories []string
}

// FilterLists is the configuration input for an EventFilter.
type FilterLists struct {
	Deny              []string
	Allow             []string
	DefaultCategories []string
}

// NewEventFilter compiles the given lists into a filter.
func NewEventFilter(lists FilterLists) *EventFilter {
	f := &EventFilter{}
	f.Reload(lists)
	return f
}

// Reload atomically replaces the filter's lists. In-flight decisions
// finish against the old snapshot.
func (f *EventFilter) Reload(lists FilterLists) {
	snap := &filterSnapshot{
		deny:       make(map[string]struct{}, len(lists.Deny)),
		allow:      make(map[string]struct{}, len(lists.Allow)),
		categories: make([]string, len(lists.DefaultCategories)),
	}
	for _, name := range lists.Deny {
		snap.deny[strings.ToLower(name)] = struct{}{}
	}
	for _, name := range lists.Allow {
		snap.allow[strings.ToLower(name)] = struct{}{}
	}
	for i, cat := range lists.DefaultCategories {
		snap.categories[i] = strings.ToLower(cat)
	}
	f.snapshot.Store(snap)
}

// ShouldCapture reports whether events of the given type should be
// forwarded. Side-effect free.
func (f *EventFilter) ShouldCapture(eventType string) bool {
	snap := f.snapshot.Load()
	name := strings.ToLower(eventType)

	if _, denied := snap.deny[name]; denied {
		return false
	}
	if len(snap.allow) > 0 {
		_, allowed := snap.allow[name]
		return allowed
	}
	for _, cat := range snap.categories {
		if strings.Contains(name, cat) {
			return true
		}
	}
	return false
}
