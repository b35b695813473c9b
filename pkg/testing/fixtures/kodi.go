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

package fixtures

// Rows as Kodi returns them from VideoLibrary.GetTVShows with the next-up
// property list. JSON numbers decode as float64, so they are written that
// way here.

// PilotShow is an unwatched show with fanart but no poster.
func PilotShow() map[string]any {
	return map[string]any{
		"tvshowid":   float64(1),
		"label":      "Show",
		"title":      "Pilot",
		"showtitle":  "Show",
		"season":     float64(1),
		"episode":    float64(3),
		"playcount":  float64(0),
		"runtime":    float64(1500),
		"rating":     8.67,
		"firstaired": "2008-01-20",
		"fanart":     "image://%2Fpath%2Fto%2Fart.jpg/",
		"art": map[string]any{
			"tvshow.fanart": "image://%2Fpath%2Fto%2Fart.jpg/",
		},
	}
}

// WatchedShow has been played, has no rating and carries both art kinds.
func WatchedShow() map[string]any {
	return map[string]any{
		"tvshowid":   float64(2),
		"label":      "The Office",
		"title":      "Diversity Day",
		"showtitle":  "The Office",
		"season":     float64(1),
		"episode":    float64(2),
		"playcount":  float64(4),
		"runtime":    float64(1319),
		"rating":     0.0,
		"firstaired": "2005-03-29",
		"fanart":     "",
		"art": map[string]any{
			"tvshow.fanart": "image://http%3A%2F%2Fimages.example.com%2Ffanart%2Foffice.jpg/",
			"tvshow.poster": "image://smb%3A%2F%2Fnas%2Ftv%2FThe%20Office%2Fposter.jpg/",
		},
	}
}

// LongRunningShow has three digit season and episode numbers and no art.
func LongRunningShow() map[string]any {
	return map[string]any{
		"tvshowid":   float64(3),
		"label":      "Daily",
		"title":      "Episode 1234",
		"showtitle":  "Daily",
		"season":     float64(112),
		"episode":    float64(104),
		"playcount":  float64(0),
		"runtime":    float64(59),
		"rating":     6.04,
		"firstaired": "1999-09-09",
		"fanart":     "",
		"art":        map[string]any{},
	}
}

// TestShows is the default library the mock Kodi server answers with.
func TestShows() []map[string]any {
	return []map[string]any{PilotShow(), WatchedShow(), LongRunningShow()}
}
