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
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/ZaparooProject/kodi-nextup/pkg/helpers/syncutil"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const wsCloseTimeout = time.Second

var errConnectionClosed = errors.New("connection closed")

// WSConnection keeps a websocket open to Kodi's TCP JSON-RPC bridge. A read
// loop routes responses to waiting callers by request id and passes
// notifications to onNotify.
type WSConnection struct {
	dialer    *websocket.Dialer
	conn      *websocket.Conn
	pending   map[string]chan wsMessage
	header    http.Header
	onNotify  func(Notification)
	url       string
	timeout   time.Duration
	mu        syncutil.Mutex
	writeMu   syncutil.Mutex
	connected atomic.Bool
}

// Ensure WSConnection implements Connection at compile time
var _ Connection = (*WSConnection)(nil)

func NewWSConnection(cfg config.Kodi, onNotify func(Notification)) *WSConnection {
	c := &WSConnection{
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.RequestTimeout(),
		},
		header:   http.Header{},
		onNotify: onNotify,
		url:      jsonRPCURL(cfg, true),
		timeout:  cfg.RequestTimeout(),
	}
	if cfg.HasAuth() {
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		c.header.Set("Authorization", "Basic "+creds)
	}
	return c
}

// URL returns the websocket endpoint this connection dials.
func (c *WSConnection) URL() string {
	return c.url
}

func (c *WSConnection) Connected() bool {
	return c.connected.Load()
}

func (c *WSConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Unlock()
		return &TransportError{
			Method: APIMethodJSONRPCPing,
			Err:    fmt.Errorf("failed to dial %s: %w", c.url, err),
		}
	}

	c.conn = conn
	c.pending = make(map[string]chan wsMessage)
	c.connected.Store(true)
	c.mu.Unlock()

	go c.readLoop(conn)

	if _, err := c.Call(ctx, APIMethodJSONRPCPing, nil); err != nil {
		c.teardown(conn)
		return fmt.Errorf("failed to connect to kodi at %s: %w", c.url, err)
	}

	log.Info().Msgf("connected to kodi at %s", c.url)
	return nil
}

func (c *WSConnection) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseTimeout),
	)
	c.writeMu.Unlock()
	if err != nil {
		log.Debug().Err(err).Msg("failed to send websocket close message")
	}

	c.teardown(conn)
	return nil
}

func (c *WSConnection) Call(ctx context.Context, method APIMethod, params any) (json.RawMessage, error) {
	id := uuid.New().String()
	ch := make(chan wsMessage, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, &TransportError{Method: method, Err: ErrNotConnected}
	}
	c.pending[id] = ch
	c.mu.Unlock()

	reqJSON, err := json.Marshal(APIPayload{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	log.Trace().Msgf("kodi request: %s", string(reqJSON))

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, reqJSON)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		c.teardown(conn)
		return nil, &TransportError{Method: method, Err: fmt.Errorf("failed to send request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, &TransportError{Method: method, Err: errConnectionClosed}
		}
		if msg.Error != nil {
			return nil, &ProtocolError{Method: method, Err: *msg.Error}
		}
		return msg.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, &TransportError{Method: method, Err: ctx.Err()}
	}
}

func (c *WSConnection) readLoop(conn *websocket.Conn) {
	defer c.teardown(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("kodi websocket closed")
			} else {
				log.Debug().Err(err).Msg("kodi websocket read loop stopped")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("ignoring malformed message from kodi")
			continue
		}

		if msg.ID == nil {
			if msg.Method != "" && c.onNotify != nil {
				c.onNotify(Notification{Method: msg.Method, Params: msg.Params})
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.mu.Unlock()

		if !ok {
			log.Debug().Str("id", *msg.ID).Msg("response for unknown request id")
			continue
		}
		ch <- msg
	}
}

// teardown drops conn if it is still the active connection and fails
// every call waiting on it.
func (c *WSConnection) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected.Store(false)
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	_ = conn.Close()
}

func (c *WSConnection) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
