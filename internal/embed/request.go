// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package embed turns playback requests into provider embed URLs.
package embed

import (
	"github.com/allnine-dev/keewacker/internal/provider"
	"github.com/allnine-dev/keewacker/internal/validate"
)

// Request identifies what to play. Integer ids of zero mean "absent".
type Request struct {
	MediaType provider.MediaType `json:"mediaType"`
	TMDBID    int                `json:"tmdbId,omitempty"`
	MALID     int                `json:"malId,omitempty"`
	Season    int                `json:"season,omitempty"`
	Episode   int                `json:"episode,omitempty"`
	AnimeType provider.AnimeType `json:"animeType,omitempty"`
	// Fallback lets the anime player switch between sub and dub when the
	// requested track is missing.
	Fallback *bool `json:"fallback,omitempty"`

	Presentation Presentation `json:"presentation"`
}

// Presentation carries display hints. They never affect content identity and
// are only emitted when set.
type Presentation struct {
	PrimaryColor   string `json:"primaryColor,omitempty"`
	SecondaryColor string `json:"secondaryColor,omitempty"`
	IconColor      string `json:"iconColor,omitempty"`
	Icons          string `json:"icons,omitempty"`
	Title          *bool  `json:"title,omitempty"`
	Poster         *bool  `json:"poster,omitempty"`
	Autoplay       *bool  `json:"autoplay,omitempty"`
	NextButton     *bool  `json:"nextButton,omitempty"`
	Player         string `json:"player,omitempty"`
	StartAt        *int   `json:"startAt,omitempty"`
	SubFile        string `json:"subFile,omitempty"`
	SubLabel       string `json:"subLabel,omitempty"`
}

var (
	iconStyles  = []string{"vid", "default"}
	playerKinds = []string{"jw", "default"}
	animeTypes  = []string{string(provider.Sub), string(provider.Dub)}
)

// Validate checks the identity fields required by the media type. Missing
// fields are reported by name and never defaulted.
func (r Request) Validate() error {
	v := validate.New()

	switch r.MediaType {
	case provider.Movie:
		requirePositive(v, "tmdbId", r.TMDBID)
	case provider.TV:
		requirePositive(v, "tmdbId", r.TMDBID)
		requirePositive(v, "season", r.Season)
		requirePositive(v, "episode", r.Episode)
	case provider.Anime:
		requirePositive(v, "malId", r.MALID)
		requirePositive(v, "episode", r.Episode)
		if r.AnimeType == "" {
			v.Required("animeType", false)
		} else {
			v.OneOf("animeType", string(r.AnimeType), animeTypes)
		}
	case "":
		v.Required("mediaType", false)
	default:
		v.OneOf("mediaType", string(r.MediaType), []string{"movie", "tv", "anime"})
	}

	p := r.Presentation
	if p.Icons != "" {
		v.OneOf("icons", p.Icons, iconStyles)
	}
	if p.Player != "" {
		v.OneOf("player", p.Player, playerKinds)
	}
	if p.StartAt != nil {
		v.NonNegative("startAt", *p.StartAt)
	}
	if p.SubLabel != "" && p.SubFile == "" {
		v.AddError("subLabel", "requires subFile", p.SubLabel)
	}

	return v.Err()
}

func requirePositive(v *validate.Validator, field string, value int) {
	if value == 0 {
		v.Required(field, false)
		return
	}
	v.Positive(field, value)
}

// Target projects the identity fields into the provider grammar input.
func (r Request) Target() provider.Target {
	t := provider.Target{MediaType: r.MediaType}
	switch r.MediaType {
	case provider.Anime:
		t.MALID = r.MALID
		t.Episode = r.Episode
		t.AnimeType = r.AnimeType
	case provider.TV:
		t.TMDBID = r.TMDBID
		t.Season = r.Season
		t.Episode = r.Episode
	default:
		t.TMDBID = r.TMDBID
	}
	return t
}
