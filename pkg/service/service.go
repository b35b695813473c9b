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

// Package service wires the Kodi connection, the sensors and the host
// adapters together and drives the update cycle on a schedule.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/ZaparooProject/kodi-nextup/pkg/api"
	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/ZaparooProject/kodi-nextup/pkg/helpers"
	"github.com/ZaparooProject/kodi-nextup/pkg/helpers/syncutil"
	"github.com/ZaparooProject/kodi-nextup/pkg/kodi"
	"github.com/ZaparooProject/kodi-nextup/pkg/nextup"
	"github.com/ZaparooProject/kodi-nextup/pkg/service/broker"
	"github.com/ZaparooProject/kodi-nextup/pkg/service/discovery"
	"github.com/ZaparooProject/kodi-nextup/pkg/service/publishers"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	subscriberBuffer = 16
	jobStopTimeout   = 10 * time.Second
	reconnectJobName = "kodi-reconnect"
)

var ErrUnknownSensor = errors.New("unknown sensor")

// Kodi notifications that mean the next-up list may have changed.
var refreshTriggers = map[string]bool{
	kodi.NotificationVideoLibraryOnUpdate:        true,
	kodi.NotificationVideoLibraryOnScanFinished:  true,
	kodi.NotificationVideoLibraryOnCleanFinished: true,
	kodi.NotificationPlayerOnStop:                true,
}

type Option func(*options)

type options struct {
	clock       clockwork.Clock
	conn        kodi.Connection
	apiListener net.Listener
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithConnection replaces the connection built from the config.
func WithConnection(conn kodi.Connection) Option {
	return func(o *options) {
		o.conn = conn
	}
}

// WithAPIListener serves the API on ln instead of the configured port.
func WithAPIListener(ln net.Listener) Option {
	return func(o *options) {
		o.apiListener = ln
	}
}

// Service is a running instance. It stops when Stop is called or when a
// required component fails.
type Service struct {
	ctx       context.Context
	err       error
	clock     clockwork.Clock
	conn      kodi.Connection
	scheduler gocron.Scheduler
	cfg       *config.Instance
	broker    *broker.Broker
	publisher *publishers.MQTTPublisher
	discovery *discovery.Service
	group     *errgroup.Group
	cancel    context.CancelFunc
	snapshots chan nextup.Snapshot
	done      chan struct{}
	jobs      map[string]gocron.Job
	sensors   []nextup.Sensor
	jobsMu    syncutil.RWMutex
}

// Start connects to Kodi, schedules the sensor updates and starts every
// enabled host adapter. A Kodi that is down at startup is not an error; the
// reconnect job keeps trying.
func Start(cfg *config.Instance, opts ...Option) (*Service, error) {
	log.Info().Msgf("version: %s", config.AppVersion)

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		clock:     o.clock,
		snapshots: make(chan nextup.Snapshot),
		done:      make(chan struct{}),
		jobs:      make(map[string]gocron.Job),
	}

	s.conn = o.conn
	if s.conn == nil {
		s.conn = kodi.NewConnection(cfg.Kodi(), s.handleNotification)
	}

	s.sensors = []nextup.Sensor{
		nextup.NewNextUpTV(s.conn, cfg.Kodi(), log.Logger, nextup.WithClock(s.clock)),
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLogger(newSchedulerLogger()),
		gocron.WithStopTimeout(jobStopTimeout),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.scheduler = scheduler

	s.broker = broker.NewBroker(ctx, s.snapshots)
	s.broker.Start()

	group, gctx := errgroup.WithContext(ctx)
	s.group = group

	if err := s.scheduleJobs(); err != nil {
		cancel()
		_ = scheduler.Shutdown()
		<-s.broker.Done()
		return nil, err
	}

	log.Info().Msg("connecting to kodi")
	if err := s.conn.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("kodi not reachable yet, will keep retrying")
	}

	if mqttCfg := cfg.MQTT(); mqttCfg.Enabled {
		log.Info().Msg("starting mqtt publisher")
		snaps, _ := s.broker.Subscribe(subscriberBuffer)
		s.publisher = publishers.NewMQTTPublisher(mqttCfg, s.sensors)
		if err := s.publisher.Start(snaps); err != nil {
			log.Error().Err(err).Msg("failed to start mqtt publisher (continuing without it)")
		}
	}

	if apiCfg := cfg.API(); apiCfg.Enabled {
		log.Info().Msg("starting api server")
		snaps, _ := s.broker.Subscribe(subscriberBuffer)
		server := api.NewServer(apiCfg, s.sensors, s.Refresh, api.WithClock(s.clock))
		group.Go(func() error {
			if o.apiListener != nil {
				return server.Serve(gctx, o.apiListener, snaps)
			}
			return server.ListenAndServe(gctx, snaps)
		})

		s.discovery = discovery.New(cfg.Discovery(), apiPort(apiCfg, o.apiListener), s.clock)
		s.discovery.Start()
	}

	if err := cfg.Watch(ctx, s.applyConfig); err != nil {
		log.Warn().Err(err).Msg("config file watching unavailable")
	}

	scheduler.Start()
	log.Info().Msg("service started")

	go func() {
		<-gctx.Done()
		cancel()
		s.shutdown()
	}()

	return s, nil
}

func (s *Service) scheduleJobs() error {
	for _, sensor := range s.sensors {
		job, err := s.scheduler.NewJob(
			gocron.DurationJob(s.cfg.PollInterval()),
			gocron.NewTask(func() { s.runUpdate(sensor) }),
			gocron.WithName(sensor.UniqueID()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", sensor.UniqueID(), err)
		}
		s.jobsMu.Lock()
		s.jobs[sensor.UniqueID()] = job
		s.jobsMu.Unlock()
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.cfg.ReconnectInterval()),
		gocron.NewTask(s.reconnect),
		gocron.WithName(reconnectJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule reconnect: %w", err)
	}
	return nil
}

// runUpdate runs one update cycle and hands the resulting snapshot to the
// broker.
func (s *Service) runUpdate(sensor nextup.Sensor) {
	sensor.Update(s.ctx)
	snap := nextup.TakeSnapshot(sensor)
	select {
	case s.snapshots <- snap:
	case <-s.ctx.Done():
	}
}

func (s *Service) reconnect() {
	if s.conn.Connected() {
		return
	}
	if err := s.conn.Connect(s.ctx); err != nil {
		log.Debug().Err(err).Msg("kodi still unreachable")
		return
	}
	log.Info().Msg("reconnected to kodi")
	s.refreshAll()
}

func (s *Service) handleNotification(n kodi.Notification) {
	if !refreshTriggers[n.Method] {
		return
	}
	log.Debug().Str("method", n.Method).Msg("kodi library changed, refreshing sensors")
	// Called from the socket read loop, which the refresh needs to stay free.
	go s.refreshAll()
}

func (s *Service) refreshAll() {
	s.jobsMu.RLock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.jobsMu.RUnlock()

	for _, id := range ids {
		if err := s.Refresh(s.ctx, id); err != nil {
			log.Warn().Err(err).Str("sensor", id).Msg("failed to refresh sensor")
		}
	}
}

// Refresh queues an immediate update of one sensor. The update runs on the
// scheduler, so a cycle already in flight is not doubled up.
func (s *Service) Refresh(_ context.Context, id string) error {
	s.jobsMu.RLock()
	job, ok := s.jobs[id]
	s.jobsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}
	if err := job.RunNow(); err != nil {
		return fmt.Errorf("failed to run update for %s: %w", id, err)
	}
	return nil
}

// applyConfig picks up settings that can change without a restart.
func (s *Service) applyConfig(cfg *config.Instance) {
	helpers.SetLogLevel(cfg.DebugLogging())
	log.Info().Bool("debug", cfg.DebugLogging()).Msg("applied reloaded config, other changes need a restart")
}

func (s *Service) Sensors() []nextup.Sensor {
	return slices.Clone(s.sensors)
}

// Done is closed once the service has fully stopped.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Stop shuts the service down and waits for it to finish. It returns the
// error of the component that failed, if any.
func (s *Service) Stop() error {
	s.cancel()
	<-s.done
	return s.err
}

func (s *Service) shutdown() {
	log.Info().Msg("service context cancelled, running cleanup")

	if err := s.scheduler.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("error shutting down scheduler")
	}

	if s.discovery != nil {
		s.discovery.Stop()
	}
	if s.publisher != nil {
		s.publisher.Stop()
	}

	err := s.group.Wait()
	<-s.broker.Done()

	if closeErr := s.conn.Close(); closeErr != nil {
		log.Debug().Err(closeErr).Msg("error closing kodi connection")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("service stopped with error")
		s.err = err
	}

	log.Info().Msg("service stopped")
	close(s.done)
}

func apiPort(cfg config.API, ln net.Listener) int {
	if ln != nil {
		if addr, ok := ln.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return cfg.Port
}
