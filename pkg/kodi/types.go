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

import "encoding/json"

// APIMethod represents Kodi JSON-RPC API methods
type APIMethod string

const (
	APIMethodJSONRPCPing            APIMethod = "JSONRPC.Ping"
	APIMethodVideoLibraryGetTVShows APIMethod = "VideoLibrary.GetTVShows"
)

// Notifications Kodi pushes over the websocket transport that mean the
// library view may have changed.
const (
	NotificationVideoLibraryOnUpdate        = "VideoLibrary.OnUpdate"
	NotificationVideoLibraryOnScanFinished  = "VideoLibrary.OnScanFinished"
	NotificationVideoLibraryOnCleanFinished = "VideoLibrary.OnCleanFinished"
	NotificationPlayerOnStop                = "Player.OnStop"
)

// APIPayload represents a Kodi JSON-RPC request
type APIPayload struct {
	Params  any       `json:"params,omitempty"`
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  APIMethod `json:"method"`
}

// APIError represents a Kodi JSON-RPC error object
type APIError struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
}

// APIResponse represents a Kodi JSON-RPC response
type APIResponse struct {
	Error   *APIError       `json:"error,omitempty"`
	ID      string          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
}

// Notification is a server initiated message. It carries a method but no id.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// PropertiesParams is the params object for library listing methods.
type PropertiesParams struct {
	Properties []string `json:"properties"`
}

// wsMessage is anything Kodi can send over the websocket: a response to
// one of our requests, or a notification.
type wsMessage struct {
	ID     *string         `json:"id,omitempty"`
	Error  *APIError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}
