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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
)

// ErrNotConnected is returned by calls made while no connection is open.
var ErrNotConnected = errors.New("not connected to kodi")

// Connection is a JSON-RPC session with a Kodi instance.
type Connection interface {
	// Connect opens the session and checks it with a ping. Calling it on an
	// open session is a no-op.
	Connect(ctx context.Context) error

	// Connected reports whether the last known state of the session is up.
	Connected() bool

	// Call runs a method and returns the raw result member of the response.
	// Failures to reach Kodi are *TransportError, error objects returned by
	// Kodi are *ProtocolError.
	Call(ctx context.Context, method APIMethod, params any) (json.RawMessage, error)

	// Close ends the session.
	Close() error
}

// TransportError means the request never produced a JSON-RPC response:
// Kodi was unreachable, the socket dropped or the HTTP layer refused it.
type TransportError struct {
	Err    error
	Method APIMethod
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError means Kodi ran the method and answered with an error object.
type ProtocolError struct {
	Method APIMethod
	Err    APIError
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("error from kodi api calling %s: [%d] %s", e.Method, e.Err.Code, e.Err.Message)
}

// NewConnection builds the transport selected in the config. onNotify
// receives server notifications and is only used by the websocket
// transport; it may be nil.
func NewConnection(cfg config.Kodi, onNotify func(Notification)) Connection {
	if cfg.Transport == config.TransportWebSocket {
		return NewWSConnection(cfg, onNotify)
	}
	return NewHTTPConnection(cfg)
}
