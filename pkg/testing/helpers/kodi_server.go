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
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/ZaparooProject/kodi-nextup/pkg/helpers/syncutil"
	"github.com/ZaparooProject/kodi-nextup/pkg/kodi"
	"github.com/ZaparooProject/kodi-nextup/pkg/testing/fixtures"
	"github.com/gorilla/websocket"
)

// MockKodiServer provides a mock Kodi JSON-RPC server for integration
// testing. It answers on /jsonrpc over both HTTP POST and websocket.
type MockKodiServer struct {
	*httptest.Server
	apiErr   *kodi.APIError
	result   json.RawMessage
	calls    []kodi.APIPayload
	sockets  []*websocket.Conn
	upgrader websocket.Upgrader
	status   int
	mu       syncutil.Mutex
}

// NewMockKodiServer creates a mock server answering VideoLibrary.GetTVShows
// with fixtures.TestShows. The server is closed when the test ends.
func NewMockKodiServer(t *testing.T) *MockKodiServer {
	mock := &MockKodiServer{
		status: http.StatusOK,
	}
	mock.WithShows(fixtures.TestShows())

	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", mock.handleJSONRPC)
	mock.Server = httptest.NewServer(mux)
	t.Cleanup(mock.Close)

	return mock
}

// Close drops websocket clients and shuts the server down.
func (m *MockKodiServer) Close() {
	m.mu.Lock()
	for _, conn := range m.sockets {
		_ = conn.Close()
	}
	m.sockets = nil
	m.mu.Unlock()
	m.Server.Close()
}

// KodiConfig returns connection settings pointing at the mock server.
func (m *MockKodiServer) KodiConfig() config.Kodi {
	host, portStr, _ := net.SplitHostPort(m.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return config.Kodi{
		Host:      host,
		Port:      port,
		WSPort:    port,
		Transport: config.TransportHTTP,
		Timeout:   "2s",
	}
}

// WithShows sets the rows returned under the tvshows key.
func (m *MockKodiServer) WithShows(shows []map[string]any) *MockKodiServer {
	result, _ := json.Marshal(map[string]any{
		"limits":  map[string]any{"start": 0, "end": len(shows), "total": len(shows)},
		"tvshows": shows,
	})
	return m.WithResult(string(result))
}

// WithResult sets the raw result member returned for library calls.
func (m *MockKodiServer) WithResult(raw string) *MockKodiServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = json.RawMessage(raw)
	m.apiErr = nil
	return m
}

// WithError makes library calls answer with a JSON-RPC error object.
func (m *MockKodiServer) WithError(code int, message string) *MockKodiServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiErr = &kodi.APIError{Code: code, Message: message}
	return m
}

// WithStatus makes HTTP requests fail with the given status code.
func (m *MockKodiServer) WithStatus(status int) *MockKodiServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	return m
}

// Calls returns every request the server has received.
func (m *MockKodiServer) Calls() []kodi.APIPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kodi.APIPayload(nil), m.calls...)
}

// CallCount returns how many times method was requested.
func (m *MockKodiServer) CallCount(method kodi.APIMethod) int {
	count := 0
	for _, call := range m.Calls() {
		if call.Method == method {
			count++
		}
	}
	return count
}

// Notify pushes a notification to every connected websocket client.
func (m *MockKodiServer) Notify(method string) error {
	data, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  map[string]any{"sender": "xbmc", "data": nil},
	})
	if err != nil {
		return err //nolint:wrapcheck // test helper
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.sockets {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err //nolint:wrapcheck // test helper
		}
	}
	return nil
}

func (m *MockKodiServer) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		m.handleWebSocket(w, r)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	status := m.status
	m.mu.Unlock()
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	var payload kodi.APIPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.respond(payload))
}

func (m *MockKodiServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.sockets = append(m.sockets, conn)
	m.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var payload kodi.APIPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			continue
		}

		resp, err := json.Marshal(m.respond(payload))
		if err != nil {
			continue
		}

		m.mu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, resp)
		m.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (m *MockKodiServer) respond(payload kodi.APIPayload) kodi.APIResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, payload)

	response := kodi.APIResponse{
		ID:      payload.ID,
		JSONRPC: "2.0",
	}

	switch {
	case payload.Method == kodi.APIMethodJSONRPCPing:
		response.Result = json.RawMessage(`"pong"`)
	case m.apiErr != nil:
		apiErr := *m.apiErr
		response.Error = &apiErr
	default:
		response.Result = m.result
	}
	return response
}
