// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package main

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"

	"github.com/vigil-ac/vigil/internal/capture"
	"github.com/vigil-ac/vigil/internal/logging"
)

// tapReader consumes the game-side tap protocol: one JSON object per
// line. Event lines carry a captured record; lifecycle lines drive the
// exemption tracker and dev sessions.
//
//	{"type":"record","record":{"ts":...,"dir":"serverbound",...}}
//	{"type":"connect","entity_id":"e1","client":"vanilla"}
//	{"type":"transfer","entity_id":"e1"}
//	{"type":"disconnect","entity_id":"e1"}
//	{"type":"dev_start","entity_id":"e1"}
//	{"type":"dev_toggle","entity_id":"e1"}
//	{"type":"dev_stop","entity_id":"e1"}
type tapReader struct {
	src      io.Reader
	pipeline *capture.Pipeline
	tracker  *capture.ExemptionTracker
	warmup   time.Duration
}

type tapLine struct {
	Type     string                `json:"type"`
	EntityID string                `json:"entity_id,omitempty"`
	Client   string                `json:"client,omitempty"`
	Record   *capture.PacketRecord `json:"record,omitempty"`
}

func newTapReader(src io.Reader, pipeline *capture.Pipeline, tracker *capture.ExemptionTracker, warmupSeconds int) *tapReader {
	return &tapReader{
		src:      src,
		pipeline: pipeline,
		tracker:  tracker,
		warmup:   time.Duration(warmupSeconds) * time.Second,
	}
}

func (t *tapReader) String() string { return "tap-reader" }

// Serve reads tap lines until EOF or cancellation. EOF means the game
// side went away; the agent keeps running so spooled batches still
// upload, and the reader is not restarted.
func (t *tapReader) Serve(ctx context.Context) error {
	sc := bufio.NewScanner(t.src)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var malformed int64
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var tl tapLine
		if err := json.Unmarshal(line, &tl); err != nil {
			malformed++
			if malformed%1000 == 1 {
				logging.Warn().Err(err).Int64("total", malformed).Msg("malformed tap line")
			}
			continue
		}
		t.apply(&tl)
	}
	if err := sc.Err(); err != nil {
		logging.Error().Err(err).Msg("tap read failed")
		return err
	}

	logging.Info().Msg("tap closed, capture input ended")
	return suture.ErrDoNotRestart
}

func (t *tapReader) apply(tl *tapLine) {
	switch tl.Type {
	case "record":
		if tl.Record != nil {
			t.pipeline.Observe(tl.Record)
		}
	case "connect":
		t.tracker.OnConnect(tl.EntityID, tl.Client)
	case "transfer":
		t.tracker.OnTransfer(tl.EntityID)
	case "disconnect":
		t.tracker.OnDisconnect(tl.EntityID)
	case "dev_start":
		if s := t.tracker.StartDevSession(tl.EntityID, t.warmup); s != nil {
			s.Begin()
		}
	case "dev_toggle":
		if s := t.tracker.DevSessionFor(tl.EntityID); s != nil {
			s.ToggleCheat()
		}
	case "dev_stop":
		t.tracker.StopDevSession(tl.EntityID)
	default:
		logging.Debug().Str("type", tl.Type).Msg("unknown tap line type")
	}
}
