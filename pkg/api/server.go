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

// Package api serves sensor state over HTTP and pushes snapshot updates to
// websocket clients.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ZaparooProject/kodi-nextup/pkg/api/middleware"
	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/ZaparooProject/kodi-nextup/pkg/nextup"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gocarina/gocsv"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const (
	MethodSensorsUpdated = "sensors.updated"

	shutdownTimeout = 10 * time.Second
)

var defaultAllowedOrigins = []string{"https://*", "http://*"}

// RefreshFunc queues an immediate update of the sensor with the given id.
type RefreshFunc func(ctx context.Context, id string) error

// Notification is the message pushed to websocket clients.
type Notification struct {
	Params  any    `json:"params"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type Server struct {
	refresh        RefreshFunc
	session        *melody.Melody
	readLimiter    *middleware.IPRateLimiter
	refreshLimiter *middleware.IPRateLimiter
	sensors        map[string]nextup.Sensor
	order          []string
	cfg            config.API
}

type Option func(*serverOptions)

type serverOptions struct {
	clock clockwork.Clock
}

// WithClock sets the clock used by the rate limiters.
func WithClock(clock clockwork.Clock) Option {
	return func(o *serverOptions) {
		o.clock = clock
	}
}

func NewServer(cfg config.API, sensors []nextup.Sensor, refresh RefreshFunc, opts ...Option) *Server {
	o := serverOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		cfg:            cfg,
		refresh:        refresh,
		session:        melody.New(),
		readLimiter:    middleware.NewIPRateLimiter(middleware.RequestsPerMinute, middleware.BurstSize, o.clock),
		refreshLimiter: middleware.NewIPRateLimiter(middleware.RefreshPerMinute, middleware.RefreshBurst, o.clock),
		sensors:        make(map[string]nextup.Sensor, len(sensors)),
	}
	for _, sensor := range sensors {
		s.sensors[sensor.UniqueID()] = sensor
		s.order = append(s.order, sensor.UniqueID())
	}

	s.session.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	s.session.HandleConnect(s.handleWSConnect)
	s.session.HandleMessage(handleWSMessage)

	return s
}

// Router builds the HTTP handler for every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.NoCache)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultAllowedOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{},
	}))

	r.Get("/health", handleHealth)

	// websocket sessions outlive the request timeout
	r.Get("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := s.session.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.APIWriteTimeout))
		r.Use(middleware.HTTPRateLimitMiddleware(s.readLimiter))

		r.Get("/api/sensors", s.handleSensors)
		r.Get("/api/sensors/{id}", s.handleSensor)
		r.Get("/api/sensors/{id}/cards", s.handleCards)

		r.With(middleware.HTTPRateLimitMiddleware(s.refreshLimiter)).
			Post("/api/sensors/{id}/refresh", s.handleRefresh)
	})

	return r
}

// ListenAndServe serves on the configured port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, snapshots <-chan nextup.Snapshot) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on api port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln, snapshots)
}

// Serve serves on ln and broadcasts snapshots to websocket clients until
// ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener, snapshots <-chan nextup.Snapshot) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.readLimiter.StartCleanup(ctx)
	s.refreshLimiter.StartCleanup(ctx)

	bctx, bcancel := context.WithCancel(ctx)
	defer bcancel()
	broadcastDone := make(chan struct{})
	go func() {
		defer close(broadcastDone)
		s.broadcastSnapshots(bctx, snapshots)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("api server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("api server stopped: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful api shutdown failed")
			_ = srv.Close()
		}
		cancel()
	}

	if err := s.session.Close(); err != nil {
		log.Debug().Err(err).Msg("closing websocket sessions")
	}
	bcancel()
	<-broadcastDone
	log.Debug().Msg("api server stopped")
	return serveErr
}

func (s *Server) broadcastSnapshots(ctx context.Context, snapshots <-chan nextup.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}

			data, err := json.Marshal(newNotification(snap))
			if err != nil {
				log.Error().Err(err).Msg("marshalling snapshot notification")
				continue
			}

			if err := s.session.Broadcast(data); err != nil {
				log.Debug().Err(err).Msg("broadcasting snapshot")
			}
		}
	}
}

func newNotification(snap nextup.Snapshot) Notification {
	return Notification{
		JSONRPC: "2.0",
		Method:  MethodSensorsUpdated,
		Params:  snap,
	}
}

// handleWSConnect sends the current state so a new client does not wait
// for the next cycle.
func (s *Server) handleWSConnect(session *melody.Session) {
	for _, snap := range s.snapshots() {
		data, err := json.Marshal(newNotification(snap))
		if err != nil {
			log.Error().Err(err).Msg("marshalling snapshot notification")
			return
		}
		if err := session.Write(data); err != nil {
			log.Debug().Err(err).Msg("sending initial snapshot")
			return
		}
	}
}

// handleWSMessage answers heartbeats. Clients have nothing else to send.
func handleWSMessage(session *melody.Session, msg []byte) {
	if bytes.Equal(msg, []byte("ping")) {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}
	log.Debug().Int("size", len(msg)).Msg("ignoring websocket message")
}

func (s *Server) snapshots() []nextup.Snapshot {
	snaps := make([]nextup.Snapshot, 0, len(s.order))
	for _, id := range s.order {
		snaps = append(snaps, nextup.TakeSnapshot(s.sensors[id]))
	}
	return snaps
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: config.AppVersion})
}

func (s *Server) handleSensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshots())
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	sensor, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nextup.TakeSnapshot(sensor))
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	sensor, ok := s.lookup(w, r)
	if !ok {
		return
	}
	source, ok := sensor.(nextup.CardSource)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "sensor has no cards"})
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, source.Cards())
		return
	}
	writeJSON(w, http.StatusOK, source.CardData())
}

// writeCSV writes cards without the template row, one card per line.
func writeCSV(w http.ResponseWriter, cards []nextup.Card) {
	if cards == nil {
		cards = []nextup.Card{}
	}
	data, err := gocsv.MarshalBytes(&cards)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode cards as csv")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to encode cards"})
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Msg("failed to write csv response")
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sensor, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.refresh == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "refresh not available"})
		return
	}
	if err := s.refresh(r.Context(), sensor.UniqueID()); err != nil {
		log.Error().Err(err).Str("sensor", sensor.UniqueID()).Msg("failed to queue refresh")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (nextup.Sensor, bool) {
	id := chi.URLParam(r, "id")
	sensor, ok := s.sensors[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "sensor not found: " + id})
		return nil, false
	}
	return sensor, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("writing json response")
	}
}
