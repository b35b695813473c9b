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

package nextup

import (
	"context"
	"time"
)

// Sensor is what the host adapters publish: an identity, a health state
// and a set of string attributes.
type Sensor interface {
	Update(ctx context.Context)
	LastUpdated() time.Time
	ExtraAttributes() map[string]string
	UniqueID() string
	Name() string
	Icon() string
	State() HealthState
}

// CardSource is implemented by sensors that expose display cards.
type CardSource interface {
	CardData() []any
	Cards() []Card
}

// Snapshot is a point in time copy of a sensor.
type Snapshot struct {
	UpdatedAt  time.Time         `json:"updatedAt"`
	Attributes map[string]string `json:"attributes"`
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Icon       string            `json:"icon"`
	State      HealthState       `json:"state"`
}

func TakeSnapshot(s Sensor) Snapshot {
	return Snapshot{
		ID:         s.UniqueID(),
		Name:       s.Name(),
		Icon:       s.Icon(),
		State:      s.State(),
		Attributes: s.ExtraAttributes(),
		UpdatedAt:  s.LastUpdated(),
	}
}
