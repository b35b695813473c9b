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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/ZaparooProject/kodi-nextup/pkg/nextup"
	"github.com/ZaparooProject/kodi-nextup/pkg/testing/fixtures"
	"github.com/ZaparooProject/kodi-nextup/pkg/testing/mocks"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testSensor(t *testing.T) *nextup.NextUpTV {
	t.Helper()
	result, err := json.Marshal(map[string]any{"tvshows": fixtures.TestShows()})
	require.NoError(t, err)

	conn := mocks.NewMockKodiConnection()
	conn.On("Call", mock.Anything, mock.Anything, mock.Anything).Return(string(result), nil)

	sensor := nextup.NewNextUpTV(conn, config.Kodi{Host: "kodi.local", Port: 8080}, zerolog.Nop())
	sensor.Update(context.Background())
	return sensor
}

func newTestServer(t *testing.T, refresh RefreshFunc) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(config.API{Enabled: true}, []nextup.Sensor{testSensor(t)}, refresh,
		WithClock(clockwork.NewFakeClock()))
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp
}

func TestHealth(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	var body healthResponse
	resp := getJSON(t, ts.URL+"/health", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, config.AppVersion, body.Version)
}

func TestListSensors(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	var snaps []nextup.Snapshot
	resp := getJSON(t, ts.URL+"/api/sensors", &snaps)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Len(t, snaps, 1)
	assert.Equal(t, nextup.NextUpTVID, snaps[0].ID)
	assert.Equal(t, nextup.StateOn, snaps[0].State)
	assert.Contains(t, snaps[0].Attributes, "data")
}

func TestGetSensor(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	var snap nextup.Snapshot
	resp := getJSON(t, ts.URL+"/api/sensors/kodi_next_up_tv", &snap)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Kodi Next Up TV", snap.Name)
	assert.Equal(t, "mdi:television-play", snap.Icon)

	var cards []map[string]any
	require.NoError(t, json.Unmarshal([]byte(snap.Attributes["data"]), &cards))
	assert.Len(t, cards, 4)
}

func TestGetSensor_NotFound(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	var body errorResponse
	resp := getJSON(t, ts.URL+"/api/sensors/nope", &body)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body.Error, "nope")
}

func TestGetCards(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	var cards []map[string]any
	resp := getJSON(t, ts.URL+"/api/sensors/kodi_next_up_tv/cards", &cards)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, cards, 4)
	assert.Equal(t, "$title", cards[0]["title_default"])
	assert.Equal(t, "Pilot", cards[1]["episode"])
	assert.Equal(t, "S01E03", cards[1]["number"])
	assert.Equal(t, "★ 8.7", cards[1]["rating"])
}

func TestGetCards_CSV(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/sensors/kodi_next_up_tv/cards?format=csv")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 4, "header plus one line per card")
	assert.Equal(t, "episode,fanart,number,poster,title,rating,runtime,flag", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Pilot,"))
	assert.Contains(t, lines[1], "S01E03")
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var refreshed []string
	_, ts := newTestServer(t, func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		refreshed = append(refreshed, id)
		return nil
	})

	resp := post(t, ts.URL+"/api/sensors/kodi_next_up_tv/refresh")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	mu.Lock()
	assert.Equal(t, []string{nextup.NextUpTVID}, refreshed)
	mu.Unlock()

	resp = post(t, ts.URL+"/api/sensors/nope/refresh")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRefresh_Errors(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, func(context.Context, string) error {
		return errors.New("service stopping")
	})
	resp := post(t, ts.URL+"/api/sensors/kodi_next_up_tv/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, ts = newTestServer(t, nil)
	resp = post(t, ts.URL+"/api/sensors/kodi_next_up_tv/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRefresh_RateLimited(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	_, ts := newTestServer(t, func(context.Context, string) error {
		calls.Add(1)
		return nil
	})

	codes := make([]int, 0, 4)
	for range 4 {
		codes = append(codes, post(t, ts.URL+"/api/sensors/kodi_next_up_tv/refresh").StatusCode)
	}

	assert.Equal(t, []int{
		http.StatusAccepted,
		http.StatusAccepted,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
	}, codes)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefresh_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	resp := getJSON(t, ts.URL+"/api/sensors/kodi_next_up_tv/refresh", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	t.Parallel()

	s := NewServer(config.API{AllowedOrigins: []string{"http://ha.local:8123"}}, nil, nil)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	for origin, allowed := range map[string]bool{
		"http://ha.local:8123": true,
		"http://evil.example":  false,
	} {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/health", http.NoBody)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()

		if allowed {
			assert.Equal(t, origin, resp.Header.Get("Access-Control-Allow-Origin"))
		} else {
			assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
		}
	}
}

func TestServe_WebSocket(t *testing.T) {
	t.Parallel()

	sensor := testSensor(t)
	s := NewServer(config.API{Enabled: true}, []nextup.Sensor{sensor}, nil)

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	snapshots := make(chan nextup.Snapshot, 1)
	served := make(chan error, 1)
	go func() {
		served <- s.Serve(ctx, ln, snapshots)
	}()

	wsURL := "ws://" + ln.Addr().String() + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	readNotification := func() Notification {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var raw struct {
			Params  nextup.Snapshot `json:"params"`
			JSONRPC string          `json:"jsonrpc"`
			Method  string          `json:"method"`
		}
		require.NoError(t, json.Unmarshal(data, &raw))
		return Notification{JSONRPC: raw.JSONRPC, Method: raw.Method, Params: raw.Params}
	}

	// current state on connect
	initial := readNotification()
	assert.Equal(t, MethodSensorsUpdated, initial.Method)
	assert.Equal(t, "2.0", initial.JSONRPC)
	snap, ok := initial.Params.(nextup.Snapshot)
	require.True(t, ok)
	assert.Equal(t, nextup.StateOn, snap.State)

	// broadcast of a later snapshot
	snapshots <- nextup.Snapshot{ID: nextup.NextUpTVID, State: nextup.StateOff}
	pushed := readNotification()
	snap, ok = pushed.Params.(nextup.Snapshot)
	require.True(t, ok)
	assert.Equal(t, nextup.StateOff, snap.State)

	// heartbeat
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_ListenError(t *testing.T) {
	t.Parallel()

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", ":0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	cfg := config.API{Enabled: true}
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	s := NewServer(cfg, nil, nil)
	err = s.ListenAndServe(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestServe_ListenerFailureReturns(t *testing.T) {
	t.Parallel()

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	s := NewServer(config.API{Enabled: true}, nil, nil, WithClock(clockwork.NewFakeClock()))
	snapshots := make(chan nextup.Snapshot)

	served := make(chan error, 1)
	go func() {
		served <- s.Serve(context.Background(), ln, snapshots)
	}()

	select {
	case err := <-served:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api server stopped")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not return after listener failure")
	}
}
