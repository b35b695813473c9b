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

package kodi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HTTPConnection talks to Kodi's /jsonrpc endpoint with one POST per call.
// HTTP has no session, so Connected reflects the outcome of the last ping
// or call.
type HTTPConnection struct {
	client    *http.Client
	url       string
	username  string
	password  string
	connected atomic.Bool
}

// Ensure HTTPConnection implements Connection at compile time
var _ Connection = (*HTTPConnection)(nil)

func NewHTTPConnection(cfg config.Kodi) *HTTPConnection {
	c := &HTTPConnection{
		client: &http.Client{
			Timeout: cfg.RequestTimeout(),
		},
		url: jsonRPCURL(cfg, false),
	}
	if cfg.HasAuth() {
		c.username = cfg.Username
		c.password = cfg.Password
	}
	return c
}

// URL returns the JSON-RPC endpoint this connection posts to.
func (c *HTTPConnection) URL() string {
	return c.url
}

func (c *HTTPConnection) Connect(ctx context.Context) error {
	_, err := c.Call(ctx, APIMethodJSONRPCPing, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to kodi at %s: %w", c.url, err)
	}
	log.Info().Msgf("connected to kodi at %s", c.url)
	return nil
}

func (c *HTTPConnection) Connected() bool {
	return c.connected.Load()
}

func (c *HTTPConnection) Close() error {
	c.connected.Store(false)
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPConnection) Call(ctx context.Context, method APIMethod, params any) (json.RawMessage, error) {
	req := APIPayload{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
		Params:  params,
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	log.Trace().Msgf("kodi request: %s", string(reqJSON))

	kodiReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	kodiReq.Header.Set("Content-Type", "application/json")
	kodiReq.Header.Set("Accept", "application/json")
	if c.username != "" {
		kodiReq.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(kodiReq)
	if err != nil {
		c.connected.Store(false)
		return nil, &TransportError{Method: method, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close() // Ignore close error in defer
	}()

	if resp.StatusCode != http.StatusOK {
		c.connected.Store(false)
		return nil, &TransportError{Method: method, Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.connected.Store(false)
		return nil, &TransportError{Method: method, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.connected.Store(true)

	var apiResp APIResponse
	err = json.Unmarshal(body, &apiResp)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, &ProtocolError{Method: method, Err: *apiResp.Error}
	}

	return apiResp.Result, nil
}

func jsonRPCURL(cfg config.Kodi, websocket bool) string {
	scheme := "http"
	port := cfg.Port
	if websocket {
		scheme = "ws"
		port = cfg.WSPort
	}
	if cfg.SSL {
		scheme += "s"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/jsonrpc",
	}
	return u.String()
}
