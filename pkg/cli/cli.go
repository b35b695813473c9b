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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ZaparooProject/kodi-nextup/internal/telemetry"
	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/ZaparooProject/kodi-nextup/pkg/helpers"
	"github.com/ZaparooProject/kodi-nextup/pkg/nextup"
	"github.com/rs/zerolog/log"
)

const clientTimeout = 10 * time.Second

var ErrAPIDisabled = errors.New("api is disabled in the config")

type Flags struct {
	ConfigDir *string
	LogDir    *string
	Version   *bool
	Daemon    *bool
	Status    *bool
	Refresh   *bool
}

// SetupFlags defines the command line flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		ConfigDir: fs.String(
			"config",
			helpers.ConfigDir(),
			"directory holding "+config.CfgFile,
		),
		LogDir: fs.String(
			"logs",
			helpers.LogDir(),
			"directory for the rotating log file",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		Daemon: fs.Bool(
			"daemon",
			false,
			"run in the foreground and also log to stderr",
		),
		Status: fs.Bool(
			"status",
			false,
			"print the sensors of the running instance and exit",
		),
		Refresh: fs.Bool(
			"refresh",
			false,
			"ask the running instance to update its sensors and exit",
		),
	}
}

// Pre handles flags that need no config or logging. It reports whether the
// program should exit.
func (f *Flags) Pre(out io.Writer) bool {
	if *f.Version {
		_, _ = fmt.Fprintf(out, "%s v%s\n", config.AppDisplayName, config.AppVersion)
		return true
	}
	return false
}

// Post handles flags that talk to an already running instance. It reports
// whether a flag was handled and the program should exit.
func (f *Flags) Post(ctx context.Context, cfg *config.Instance, out io.Writer) (bool, error) {
	switch {
	case *f.Status:
		resp, err := LocalClient(ctx, cfg, http.MethodGet, "/api/sensors")
		if err != nil {
			return true, err
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, resp, "", "  "); err != nil {
			return true, fmt.Errorf("invalid response from api: %w", err)
		}
		_, _ = fmt.Fprintln(out, pretty.String())
		return true, nil
	case *f.Refresh:
		_, err := LocalClient(ctx, cfg, http.MethodPost, "/api/sensors/"+nextup.NextUpTVID+"/refresh")
		if err != nil {
			return true, err
		}
		_, _ = fmt.Fprintln(out, "refresh queued")
		return true, nil
	}
	return false, nil
}

// Setup initializes logging, the user config and opt-in error reporting.
func Setup(configDir, logDir string, writers []io.Writer) (*config.Instance, error) {
	err := helpers.InitLogging(logDir, false, writers)
	if err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(nil, configDir, config.BaseDefaults)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	helpers.SetLogLevel(cfg.DebugLogging())

	if err := telemetry.Init(cfg.ErrorReporting(), cfg.SentryDSN(), config.AppVersion); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}

// LocalClient sends a request to the API of the instance running on this
// machine and returns the response body.
func LocalClient(ctx context.Context, cfg *config.Instance, method, path string) ([]byte, error) {
	apiCfg := cfg.API()
	if !apiCfg.Enabled {
		return nil, ErrAPIDisabled
	}

	u := url.URL{
		Scheme: "http",
		Host:   "localhost:" + strconv.Itoa(apiCfg.Port),
		Path:   path,
	}

	ctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling api, is the service running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading api response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("api returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return body, nil
}
