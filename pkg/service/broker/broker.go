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

// Package broker fans sensor snapshots out to every host adapter without
// letting a slow adapter hold up the others.
package broker

import (
	"context"

	"github.com/ZaparooProject/kodi-nextup/pkg/helpers/syncutil"
	"github.com/ZaparooProject/kodi-nextup/pkg/nextup"
	"github.com/rs/zerolog/log"
)

// Broker reads snapshots from a source channel and copies each one to all
// subscribers. Sends are non-blocking: a full subscriber misses the
// snapshot, and since every snapshot is complete the next one catches it up.
type Broker struct {
	ctx         context.Context
	source      <-chan nextup.Snapshot
	subscribers map[int]chan nextup.Snapshot
	done        chan struct{}
	mu          syncutil.RWMutex
	nextID      int
}

func NewBroker(ctx context.Context, source <-chan nextup.Snapshot) *Broker {
	return &Broker{
		ctx:         ctx,
		source:      source,
		subscribers: make(map[int]chan nextup.Snapshot),
		done:        make(chan struct{}),
	}
}

// Start runs the broadcast loop until the source closes or the context is
// cancelled. Subscriber channels are closed on exit.
func (b *Broker) Start() {
	go func() {
		defer close(b.done)
		for {
			select {
			case snap, ok := <-b.source:
				if !ok {
					log.Debug().Msg("broker: source channel closed")
					b.closeAllSubscribers()
					return
				}
				b.broadcast(snap)
			case <-b.ctx.Done():
				log.Debug().Msg("broker: context cancelled, shutting down")
				b.closeAllSubscribers()
				return
			}
		}
	}()
}

// Done is closed once the broadcast loop has exited.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

func (b *Broker) broadcast(snap nextup.Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- snap:
		default:
			log.Warn().
				Int("subscriber_id", id).
				Str("sensor", snap.ID).
				Msg("subscriber channel full, dropping snapshot")
		}
	}
}

// Subscribe registers a subscriber with a buffer of bufferSize snapshots.
// The returned id is used to unsubscribe.
func (b *Broker) Subscribe(bufferSize int) (snapChan <-chan nextup.Snapshot, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id = b.nextID
	b.nextID++

	ch := make(chan nextup.Snapshot, bufferSize)
	b.subscribers[id] = ch

	log.Debug().
		Int("subscriber_id", id).
		Int("buffer_size", bufferSize).
		Msg("new subscriber registered")

	return ch, id
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// ignored.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("subscriber unsubscribed")
	}
}

// Stop closes all subscriber channels.
func (b *Broker) Stop() {
	b.closeAllSubscribers()
}

func (b *Broker) closeAllSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("closed subscriber channel on shutdown")
	}
	b.subscribers = make(map[int]chan nextup.Snapshot)
}
