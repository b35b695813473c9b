// Zaparoo Kodi Next Up
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Kodi Next Up.
//
// Zaparoo Kodi Next Up is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Kodi Next Up is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Kodi Next Up.  If not, see <http://www.gnu.org/licenses/>.

package service

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// schedulerLogger routes gocron's key/value logs into zerolog.
type schedulerLogger struct {
	log zerolog.Logger
}

func newSchedulerLogger() schedulerLogger {
	return schedulerLogger{log: log.With().Str("component", "scheduler").Logger()}
}

func (l schedulerLogger) Debug(msg string, args ...any) {
	l.log.Debug().Fields(args).Msg(msg)
}

func (l schedulerLogger) Info(msg string, args ...any) {
	l.log.Info().Fields(args).Msg(msg)
}

func (l schedulerLogger) Warn(msg string, args ...any) {
	l.log.Warn().Fields(args).Msg(msg)
}

func (l schedulerLogger) Error(msg string, args ...any) {
	l.log.Error().Fields(args).Msg(msg)
}
