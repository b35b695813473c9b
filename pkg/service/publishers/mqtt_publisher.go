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

package publishers

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/ZaparooProject/kodi-nextup/pkg/nextup"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	qosAtLeastOnce  = 1
	disconnectQuiet = 250
	connectWait     = 10 * time.Second
)

// DiscoveryDevice groups every sensor under one device in Home Assistant.
type DiscoveryDevice struct {
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version"`
	Identifiers  []string `json:"identifiers"`
}

// DiscoveryConfig is the Home Assistant MQTT discovery document for one
// sensor.
type DiscoveryConfig struct {
	Device              DiscoveryDevice `json:"device"`
	Name                string          `json:"name"`
	UniqueID            string          `json:"unique_id"`
	Icon                string          `json:"icon,omitempty"`
	StateTopic          string          `json:"state_topic"`
	AttributesTopic     string          `json:"json_attributes_topic"`
	AvailabilityTopic   string          `json:"availability_topic"`
	PayloadAvailable    string          `json:"payload_available"`
	PayloadNotAvailable string          `json:"payload_not_available"`
}

// MQTTPublisher announces sensors to Home Assistant over MQTT discovery and
// publishes their state and attributes as retained messages.
type MQTTPublisher struct {
	client    mqtt.Client
	stopCh    chan struct{}
	broker    string
	topic     string
	discovery string
	sensors   []nextup.Sensor
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

func NewMQTTPublisher(cfg config.MQTT, sensors []nextup.Sensor) *MQTTPublisher {
	return &MQTTPublisher{
		broker:    cfg.Broker,
		topic:     strings.TrimSuffix(cfg.Topic, "/"),
		discovery: strings.TrimSuffix(cfg.DiscoveryPrefix, "/"),
		sensors:   sensors,
		stopCh:    make(chan struct{}),
	}
}

func (p *MQTTPublisher) AvailabilityTopic() string {
	return p.topic + "/status"
}

func (p *MQTTPublisher) StateTopic(id string) string {
	return p.topic + "/" + id + "/state"
}

func (p *MQTTPublisher) AttributesTopic(id string) string {
	return p.topic + "/" + id + "/attributes"
}

func (p *MQTTPublisher) DiscoveryTopic(id string) string {
	return p.discovery + "/sensor/" + id + "/config"
}

// Start connects to the broker and publishes every snapshot received until
// Stop is called or the channel closes.
func (p *MQTTPublisher) Start(snapshots <-chan nextup.Snapshot) error {
	broker := p.broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(config.AppName + "-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectWait)
	opts.SetWill(p.AvailabilityTopic(), payloadOffline, qosAtLeastOnce, true)

	opts.OnConnect = p.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}

	p.client = mqtt.NewClient(opts)

	// with connect retry on, the token only completes once connected
	token := p.client.Connect()
	switch {
	case !token.WaitTimeout(connectWait):
		log.Warn().Msgf("mqtt publisher: %s not reachable yet, retrying in background", p.broker)
	case token.Error() != nil:
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	default:
		log.Info().Msgf("mqtt publisher: connected to %s (topic: %s)", p.broker, p.topic)
	}

	p.wg.Add(1)
	go p.publishSnapshots(snapshots)

	return nil
}

// Stop marks the sensors unavailable, disconnects and waits for the
// publishing goroutine to exit.
func (p *MQTTPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()

	if p.client == nil {
		return
	}
	if p.client.IsConnected() {
		p.publish(p.AvailabilityTopic(), []byte(payloadOffline))
	}
	// also cancels a connect still retrying in the background
	log.Debug().Msg("mqtt publisher: disconnecting")
	p.client.Disconnect(disconnectQuiet)
}

// onConnect runs on every (re)connect: retained discovery documents and
// availability may have been lost with the broker, so they are sent again
// along with the current state of every sensor.
func (p *MQTTPublisher) onConnect(_ mqtt.Client) {
	log.Info().Msgf("mqtt publisher: connected to %s", p.broker)

	for _, sensor := range p.sensors {
		doc, err := json.Marshal(p.discoveryConfig(sensor))
		if err != nil {
			log.Error().Err(err).Str("sensor", sensor.UniqueID()).
				Msg("mqtt publisher: failed to marshal discovery config")
			continue
		}
		p.publish(p.DiscoveryTopic(sensor.UniqueID()), doc)
	}

	p.publish(p.AvailabilityTopic(), []byte(payloadOnline))

	for _, sensor := range p.sensors {
		p.publishSnapshot(nextup.TakeSnapshot(sensor))
	}
}

func (p *MQTTPublisher) discoveryConfig(sensor nextup.Sensor) DiscoveryConfig {
	return DiscoveryConfig{
		Device: DiscoveryDevice{
			Name:         config.AppDisplayName,
			Manufacturer: "Zaparoo",
			SWVersion:    config.AppVersion,
			Identifiers:  []string{config.AppName},
		},
		Name:                sensor.Name(),
		UniqueID:            sensor.UniqueID(),
		Icon:                sensor.Icon(),
		StateTopic:          p.StateTopic(sensor.UniqueID()),
		AttributesTopic:     p.AttributesTopic(sensor.UniqueID()),
		AvailabilityTopic:   p.AvailabilityTopic(),
		PayloadAvailable:    payloadOnline,
		PayloadNotAvailable: payloadOffline,
	}
}

func (p *MQTTPublisher) publishSnapshots(snapshots <-chan nextup.Snapshot) {
	defer p.wg.Done()
	log.Debug().Msg("mqtt publisher: starting snapshot publisher goroutine")

	for {
		select {
		case <-p.stopCh:
			log.Debug().Msg("mqtt publisher: stopping snapshot publisher")
			return
		case snap, ok := <-snapshots:
			if !ok {
				log.Debug().Msg("mqtt publisher: snapshot channel closed")
				return
			}
			p.publishSnapshot(snap)
		}
	}
}

func (p *MQTTPublisher) publishSnapshot(snap nextup.Snapshot) {
	attrs, err := json.Marshal(snap.Attributes)
	if err != nil {
		log.Error().Err(err).Msg("mqtt publisher: failed to marshal attributes")
		return
	}

	if p.publish(p.StateTopic(snap.ID), []byte(snap.State.String())) &&
		p.publish(p.AttributesTopic(snap.ID), attrs) {
		log.Debug().Msgf("mqtt publisher: published %s state %s", snap.ID, snap.State)
	}
}

func (p *MQTTPublisher) publish(topic string, payload []byte) bool {
	token := p.client.Publish(topic, qosAtLeastOnce, true, payload)
	if token.Wait() && token.Error() != nil {
		log.Error().Err(token.Error()).Str("topic", topic).Msg("mqtt publisher: failed to publish message")
		return false
	}
	return true
}
