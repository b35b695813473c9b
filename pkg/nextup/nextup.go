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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ZaparooProject/kodi-nextup/pkg/config"
	"github.com/ZaparooProject/kodi-nextup/pkg/kodi"
	"github.com/rs/zerolog"
)

const (
	NextUpTVID   = "kodi_next_up_tv"
	NextUpTVName = "Kodi Next Up TV"
	NextUpTVIcon = "mdi:television-play"

	artFanart = "tvshow.fanart"
	artPoster = "tvshow.poster"

	// artSchemeLen is the length of the "image://" prefix on Kodi art paths.
	artSchemeLen = 8
)

// TVShowsQuery lists TV shows with the playback state needed for cards.
var TVShowsQuery = Query{
	Method:    kodi.APIMethodVideoLibraryGetTVShows,
	ResultKey: "tvshows",
	Properties: []string{
		"art",
		"episode",
		"fanart",
		"firstaired",
		"playcount",
		"rating",
		"runtime",
		"season",
		"showtitle",
		"title",
	},
}

// Show is one row of a VideoLibrary.GetTVShows result. Every field must be
// present in the response.
type Show struct {
	Art       map[string]string `mapstructure:"art"`
	ShowTitle string            `mapstructure:"showtitle"`
	Title     string            `mapstructure:"title"`
	Rating    float64           `mapstructure:"rating"`
	Episode   int               `mapstructure:"episode"`
	PlayCount int               `mapstructure:"playcount"`
	Runtime   int               `mapstructure:"runtime"`
	Season    int               `mapstructure:"season"`
}

// Card is the display record for one upcoming episode.
type Card struct {
	Episode string `json:"episode" csv:"episode"`
	Fanart  string `json:"fanart"  csv:"fanart"`
	Number  string `json:"number"  csv:"number"`
	Poster  string `json:"poster"  csv:"poster"`
	Title   string `json:"title"   csv:"title"`
	Rating  string `json:"rating"  csv:"rating"`
	Runtime int    `json:"runtime" csv:"runtime"`
	Flag    bool   `json:"flag"    csv:"flag"`
}

// CardTemplate tells the dashboard card which placeholders go on which line.
type CardTemplate struct {
	TitleDefault string `json:"title_default"`
	Line1Default string `json:"line1_default"`
	Line2Default string `json:"line2_default"`
	Line3Default string `json:"line3_default"`
	Line4Default string `json:"line4_default"`
	Icon         string `json:"icon"`
}

var DefaultCardTemplate = CardTemplate{
	TitleDefault: "$title",
	Line1Default: "$episode",
	Line2Default: "$firstaired",
	Line3Default: "$rating - $runtime",
	Line4Default: "$number",
	Icon:         "mdi:eye-off",
}

// NextUpTV is the sensor listing the next episodes of TV shows.
type NextUpTV struct {
	*Poller[Show]
	encode func(v any) (string, error)
}

var _ Sensor = (*NextUpTV)(nil)

func NewNextUpTV(
	conn kodi.Connection,
	cfg config.Kodi,
	logger zerolog.Logger,
	opts ...Option,
) *NextUpTV {
	logger = logger.With().Str("sensor", NextUpTVID).Logger()
	return &NextUpTV{
		Poller: NewPoller[Show](conn, cfg, TVShowsQuery, logger, opts...),
		encode: encodeJSON,
	}
}

func (*NextUpTV) UniqueID() string {
	return NextUpTVID
}

func (*NextUpTV) Name() string {
	return NextUpTVName
}

func (*NextUpTV) Icon() string {
	return NextUpTVIcon
}

// Cards derives one card per stored row.
func (n *NextUpTV) Cards() []Card {
	shows := n.Rows()
	cards := make([]Card, 0, len(shows))
	for _, show := range shows {
		cards = append(cards, n.card(show))
	}
	return cards
}

// CardData is the card sequence sent to the dashboard: the template
// followed by every card.
func (n *NextUpTV) CardData() []any {
	cards := n.Cards()
	data := make([]any, 0, len(cards)+1)
	data = append(data, DefaultCardTemplate)
	for _, card := range cards {
		data = append(data, card)
	}
	return data
}

// ExtraAttributes returns the card sequence JSON encoded under "data".
// If the cards cannot be encoded the sequence falls back to the template
// alone.
func (n *NextUpTV) ExtraAttributes() map[string]string {
	data, err := n.encode(n.CardData())
	if err != nil {
		n.log.Error().Err(err).Msg("failed to encode card data")
		return map[string]string{"data": templateOnlyData}
	}
	return map[string]string{"data": data}
}

var templateOnlyData = mustEncodeJSON([]any{DefaultCardTemplate})

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode json: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func mustEncodeJSON(v any) string {
	s, err := encodeJSON(v)
	if err != nil {
		panic(err)
	}
	return s
}

func (n *NextUpTV) card(show Show) Card {
	return Card{
		Episode: show.Title,
		Title:   show.ShowTitle,
		Flag:    show.PlayCount == 0,
		Number:  fmt.Sprintf("S%02dE%02d", show.Season, show.Episode),
		Runtime: floorDiv(show.Runtime, 60),
		Rating:  formatRating(show.Rating),
		Fanart:  n.artURL(show.Art[artFanart]),
		Poster:  n.artURL(show.Art[artPoster]),
	}
}

// artURL turns a Kodi art reference like "image://<encoded path>/" into an
// image proxy URL.
func (n *NextUpTV) artURL(art string) string {
	if art == "" {
		return ""
	}

	decoded := unquote(art)

	runes := []rune(decoded)
	if len(runes) > artSchemeLen {
		decoded = string(runes[artSchemeLen:])
	} else {
		decoded = ""
	}

	return n.WebURL(strings.Trim(decoded, "/"))
}

// formatRating rounds to one decimal and prefixes a star. A rating that
// rounds to zero is rendered empty.
func formatRating(rating float64) string {
	s := strconv.FormatFloat(rating, 'f', 1, 64)
	if v, err := strconv.ParseFloat(s, 64); err != nil || v == 0 {
		return ""
	}
	return "★ " + s
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
