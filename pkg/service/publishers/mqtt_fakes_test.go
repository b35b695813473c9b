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
	"github.com/ZaparooProject/kodi-nextup/pkg/helpers/syncutil"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeMQTTClient records publishes. Methods the publisher does not call
// after connecting are left to the embedded nil interface.
type fakeMQTTClient struct {
	mqtt.Client
	publishError   error
	published      []publishedMessage
	disconnectCall int
	connected      bool
	mu             syncutil.Mutex
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newFakeMQTTClient() *fakeMQTTClient {
	return &fakeMQTTClient{}
}

func (m *fakeMQTTClient) getPublishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// messagesFor returns the payloads published to topic, oldest first.
func (m *fakeMQTTClient) messagesFor(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var msgs []publishedMessage
	for _, msg := range m.published {
		if msg.topic == topic {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func (m *fakeMQTTClient) getDisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCall
}

func (m *fakeMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *fakeMQTTClient) Disconnect(_ uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnectCall++
}

func (m *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	if m.publishError != nil {
		return &doneToken{err: m.publishError}
	}
	data, _ := payload.([]byte)
	m.mu.Lock()
	m.published = append(m.published, publishedMessage{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  data,
	})
	m.mu.Unlock()
	return &doneToken{}
}

// doneToken is an already completed token.
type doneToken struct {
	mqtt.Token
	err error
}

func (*doneToken) Wait() bool {
	return true
}

func (t *doneToken) Error() error {
	return t.err
}
