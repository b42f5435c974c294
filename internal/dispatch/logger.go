// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package dispatch

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/vigil-ac/vigil/internal/logging"
)

// watermillLogger adapts Watermill's logging to zerolog. Watermill's
// info-level chatter (subscriber lifecycle) is demoted to debug.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]any(l.fields.Add(fields))).Msg("watermill: " + msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(l.fields.Add(fields))).Msg("watermill: " + msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(l.fields.Add(fields))).Msg("watermill: " + msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Trace().Fields(map[string]any(l.fields.Add(fields))).Msg("watermill: " + msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}
