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

// HealthState is the coarse status a sensor reports to the host.
type HealthState string

const (
	// StateOn means fresh data is available.
	StateOn HealthState = "on"
	// StateOff means Kodi could not be reached or the update failed
	// unexpectedly.
	StateOff HealthState = "off"
	// StateProblem means Kodi answered with an explicit error payload.
	StateProblem HealthState = "problem"
	// StateUnknown means Kodi answered without any rows, or no update has
	// run yet.
	StateUnknown HealthState = "unknown"
)

func (s HealthState) String() string {
	return string(s)
}
