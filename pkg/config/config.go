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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/kodi-nextup/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1

	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

type Values struct {
	MQTT           MQTT      `toml:"mqtt"`
	SentryDSN      string    `toml:"sentry_dsn,omitempty"`
	Kodi           Kodi      `toml:"kodi"`
	API            API       `toml:"api"`
	Discovery      Discovery `toml:"discovery"`
	Poll           Poll      `toml:"poll"`
	ConfigSchema   int       `toml:"config_schema"`
	DebugLogging   bool      `toml:"debug_logging"`
	ErrorReporting bool      `toml:"error_reporting"`
}

// Kodi holds the connection settings for the media center. Credentials are
// optional but must be given as a pair.
type Kodi struct {
	Host      string `toml:"host" validate:"required"`
	Username  string `toml:"username,omitempty" validate:"required_with=Password"`
	Password  string `toml:"password,omitempty" validate:"required_with=Username"`
	Transport string `toml:"transport,omitempty" validate:"omitempty,oneof=http websocket"`
	Timeout   string `toml:"timeout,omitempty" validate:"omitempty,duration"`
	Port      int    `toml:"port" validate:"min=1,max=65535"`
	WSPort    int    `toml:"ws_port,omitempty" validate:"omitempty,min=1,max=65535"`
	SSL       bool   `toml:"ssl"`
}

type Poll struct {
	Interval          string `toml:"interval" validate:"required,duration"`
	ReconnectInterval string `toml:"reconnect_interval,omitempty" validate:"omitempty,duration"`
}

type MQTT struct {
	Broker          string `toml:"broker,omitempty" validate:"required_if=Enabled true"`
	Topic           string `toml:"topic,omitempty"`
	DiscoveryPrefix string `toml:"discovery_prefix,omitempty"`
	Enabled         bool   `toml:"enabled"`
}

type API struct {
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
	Port           int      `toml:"port" validate:"omitempty,min=1,max=65535"`
	Enabled        bool     `toml:"enabled"`
}

// Discovery controls mDNS advertising of the API.
type Discovery struct {
	InstanceName string `toml:"instance_name,omitempty"`
	Enabled      bool   `toml:"enabled"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Kodi: Kodi{
		Host:      "localhost",
		Port:      8080,
		WSPort:    9090,
		Transport: TransportHTTP,
		Timeout:   "10s",
	},
	Poll: Poll{
		Interval:          "30s",
		ReconnectInterval: "15s",
	},
	MQTT: MQTT{
		Topic:           "kodinextup",
		DiscoveryPrefix: "homeassistant",
	},
	API: API{
		Enabled: true,
		Port:    7498,
	},
	Discovery: Discovery{
		Enabled: true,
	},
}

type Instance struct {
	fs       afero.Fs
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// NewConfig loads the config file from configDir, writing the defaults to
// disk first if no file exists yet. A nil fs means the OS filesystem.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		fs:       fs,
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	exists, err := afero.Exists(fs, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !exists {
		log.Info().Msg("saving new default config to disk")

		err := fs.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err = cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Fields missing from the file keep their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	if err := Validate(&newVals); err != nil {
		return fmt.Errorf("invalid config %s: %w", c.cfgPath, err)
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfgPath
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}

func (c *Instance) ErrorReporting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.ErrorReporting && c.vals.SentryDSN != ""
}

func (c *Instance) SentryDSN() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.SentryDSN
}

func (c *Instance) Kodi() Kodi {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Kodi
}

func (c *Instance) MQTT() MQTT {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.MQTT
}

func (c *Instance) API() API {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.vals.API
	api.AllowedOrigins = append([]string(nil), c.vals.API.AllowedOrigins...)
	return api
}

func (c *Instance) Discovery() Discovery {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Discovery
}

// PollInterval returns how often the Kodi library is polled.
func (c *Instance) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Poll.Interval, 30*time.Second)
}

// ReconnectInterval returns how often a dropped Kodi connection is retried.
func (c *Instance) ReconnectInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Poll.ReconnectInterval, 15*time.Second)
}

// RequestTimeout returns the timeout applied to a single RPC round trip.
func (k Kodi) RequestTimeout() time.Duration {
	return parseDuration(k.Timeout, 10*time.Second)
}

// HasAuth reports whether both credentials are set. Kodi only gets
// credentials when it has the full pair.
func (k Kodi) HasAuth() bool {
	return k.Username != "" && k.Password != ""
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		log.Warn().Str("value", s).Msgf("invalid duration, using %s", fallback)
		return fallback
	}
	return d
}
