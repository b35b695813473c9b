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

package helpers

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/adrg/xdg"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogging(t *testing.T) {
	// Not parallel: InitLogging replaces the global logger and level.
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	t.Run("creates nested log dir", func(t *testing.T) {
		logDir := filepath.Join(t.TempDir(), "logs", "nested")

		require.NoError(t, InitLogging(logDir, false, nil))

		info, err := os.Stat(logDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		if runtime.GOOS != "windows" {
			assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
		}
		assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	})

	t.Run("writes to file and extra writers", func(t *testing.T) {
		logDir := t.TempDir()
		var buf bytes.Buffer

		require.NoError(t, InitLogging(logDir, true, []io.Writer{&buf}))
		assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

		log.Debug().Msg("hello from test")
		assert.Contains(t, buf.String(), "hello from test")

		data, err := os.ReadFile(filepath.Join(logDir, config.LogFile))
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello from test")
	})

	t.Run("log writer is shared", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, InitLogging(t.TempDir(), false, []io.Writer{&buf}))

		_, err := LogWriter().Write([]byte("raw line\n"))
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "raw line")
	})

	t.Run("stack traces are marshalled", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, InitLogging(t.TempDir(), false, []io.Writer{&buf}))

		log.Error().Stack().Err(pkgerrors.New("boom")).Msg("failed")
		assert.Contains(t, buf.String(), `"stack"`)
	})

	t.Run("invalid dir", func(t *testing.T) {
		err := InitLogging("/proc/invalid\x00path", false, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create log directory")
	})
}

func TestSetLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	SetLogLevel(true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
	SetLogLevel(false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestDefaultDirs(t *testing.T) {
	t.Parallel()

	assert.True(t, strings.HasPrefix(ConfigDir(), xdg.ConfigHome))
	assert.Equal(t, config.AppName, filepath.Base(ConfigDir()))
	assert.Equal(t, filepath.Join(xdg.StateHome, config.AppName, LogsDir), LogDir())
}
