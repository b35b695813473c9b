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

package nextup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/ZaparooProject/kodi-nextup/pkg/helpers/syncutil"
	"github.com/ZaparooProject/kodi-nextup/pkg/kodi"
	"github.com/go-viper/mapstructure/v2"
	"github.com/jonboulle/clockwork"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// imagePath is the Kodi image proxy prefix. Asset paths appended to it
// are themselves an encoded "image://" URL.
const imagePath = "/image/image%3A%2F%2F"

var errNoResult = errors.New("kodi returned no result")

// Query is the fixed request a poller sends every cycle.
type Query struct {
	Method     kodi.APIMethod
	ResultKey  string
	Properties []string
}

type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock sets the clock used to stamp completed updates.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// Poller runs one Kodi query per update cycle and keeps the decoded rows
// and health state of the most recent cycle.
type Poller[R any] struct {
	conn        kodi.Connection
	clock       clockwork.Clock
	lastUpdated time.Time
	log         zerolog.Logger
	baseWebURL  string
	state       HealthState
	query       Query
	rows        []R
	updateMu    syncutil.Mutex
	mu          syncutil.RWMutex
}

func NewPoller[R any](
	conn kodi.Connection,
	cfg config.Kodi,
	q Query,
	logger zerolog.Logger,
	opts ...Option,
) *Poller[R] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Poller[R]{
		conn:       conn,
		clock:      o.clock,
		log:        logger,
		baseWebURL: BaseWebURL(cfg),
		state:      StateUnknown,
		query:      q,
	}
}

// BaseWebURL builds the image proxy prefix for a Kodi instance. Credentials
// are only embedded when both username and password are set.
func BaseWebURL(cfg config.Kodi) string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	if cfg.SSL {
		u.Scheme = "https"
	}
	if cfg.HasAuth() {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String() + imagePath
}

// Update runs one polling cycle. It never returns an error: every outcome
// ends in a state transition. Cycles are serialized per poller.
func (p *Poller[R]) Update(ctx context.Context) {
	p.updateMu.Lock()
	defer p.updateMu.Unlock()

	if !p.conn.Connected() {
		p.log.Debug().Msg("kodi is not connected, skipping update")
		return
	}

	if err := p.poll(ctx); err != nil {
		p.logFailure(err)
		p.setState(StateOff)
	}
}

func (p *Poller[R]) poll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("recovered panic during update: %v", r)
		}
	}()

	result, err := p.conn.Call(ctx, p.query.Method, kodi.PropertiesParams{
		Properties: p.query.Properties,
	})
	if err != nil {
		var protoErr *kodi.ProtocolError
		var transportErr *kodi.TransportError
		if errors.As(err, &protoErr) || errors.As(err, &transportErr) {
			return err
		}
		return pkgerrors.WithStack(err)
	}

	if !truthy(result) {
		return errNoResult
	}

	return p.handleResult(result)
}

func (p *Poller[R]) handleResult(raw json.RawMessage) error {
	var result map[string]json.RawMessage
	if err := json.Unmarshal(raw, &result); err != nil {
		return pkgerrors.Wrapf(err, "unexpected result from %s", p.query.Method)
	}

	if errRaw, ok := result["error"]; ok && truthy(errRaw) {
		var apiErr kodi.APIError
		if err := json.Unmarshal(errRaw, &apiErr); err != nil {
			p.log.Debug().Err(err).Msg("error payload is not a json-rpc error object")
		}
		p.log.Error().Msgf("error while fetching %s: [%d] %s",
			p.query.ResultKey, apiErr.Code, apiErr.Message)
		p.setState(StateProblem)
		return nil
	}

	rowsRaw, ok := result[p.query.ResultKey]
	if !ok || !truthy(rowsRaw) {
		p.log.Warn().Msgf("no %s found after requesting data from kodi, assuming empty",
			p.query.ResultKey)
		p.setRows(nil, StateUnknown)
		return nil
	}

	rows, err := decodeRows[R](rowsRaw)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid %s", p.query.ResultKey)
	}

	p.setRows(rows, StateOn)
	return nil
}

func (p *Poller[R]) logFailure(err error) {
	var protoErr *kodi.ProtocolError
	var transportErr *kodi.TransportError
	switch {
	case errors.As(err, &protoErr):
		p.log.Error().
			Str("method", string(p.query.Method)).
			Strs("properties", p.query.Properties).
			Interface("error", protoErr.Err).
			Msg("kodi api method returned an error")
	case errors.As(err, &transportErr):
		p.log.Debug().
			Err(err).
			Str("method", string(p.query.Method)).
			Strs("properties", p.query.Properties).
			Msg("transport error calling kodi api method")
	case errors.Is(err, errNoResult):
		p.log.Debug().Str("method", string(p.query.Method)).Msg("kodi returned an empty result")
	default:
		p.log.Error().Stack().Err(err).Msg("error updating sensor, is kodi running?")
	}
}

func (p *Poller[R]) setState(state HealthState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.lastUpdated = p.clock.Now()
}

func (p *Poller[R]) setRows(rows []R, state HealthState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = rows
	p.state = state
	p.lastUpdated = p.clock.Now()
}

// State returns the health state of the last cycle.
func (p *Poller[R]) State() HealthState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Rows returns a copy of the rows from the last successful fetch.
func (p *Poller[R]) Rows() []R {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.rows)
}

// LastUpdated returns when the last cycle finished. It is zero until a
// cycle has run against a connected Kodi.
func (p *Poller[R]) LastUpdated() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastUpdated
}

// WebURL resolves an asset path to a URL served by the Kodi image proxy.
// Paths that are already absolute http(s) URLs are returned unchanged.
func (p *Poller[R]) WebURL(path string) string {
	if strings.HasPrefix(strings.ToLower(path), "http") {
		return path
	}
	return p.baseWebURL + quote(quote(path))
}

// quote percent-encodes every byte except RFC 3986 unreserved characters.
// url.PathEscape and url.QueryEscape both leave some reserved characters
// alone, which the image proxy does not accept.
func quote(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := range len(s) {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

// unquote decodes every valid %XX escape and leaves malformed ones as they
// are. Invalid UTF-8 in the result is replaced with U+FFFD.
func unquote(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b = append(b, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		b = append(b, s[i])
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	default:
		return false
	}
}

// truthy reports whether a JSON value is non-empty: not null, false, zero,
// an empty string, an empty list or an empty object.
func truthy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return len(raw) > 0
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// decodeRows decodes a JSON list into rows. Any row missing a field of R
// fails the whole list.
func decodeRows[R any](raw json.RawMessage) ([]R, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("rows are not a list of objects: %w", err)
	}

	rows := make([]R, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("row %d is null", i)
		}

		var row R
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:     &row,
			ErrorUnset: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder: %w", err)
		}
		if err := decoder.Decode(item); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
