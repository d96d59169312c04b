// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package provider holds the immutable table of embed providers and their
// URL grammars.
package provider

import (
	"fmt"
	"strings"
)

// MediaType discriminates playback requests.
type MediaType string

const (
	Movie MediaType = "movie"
	TV    MediaType = "tv"
	Anime MediaType = "anime"
)

// MediaTypes lists every supported media type in canonical order.
var MediaTypes = []MediaType{Movie, TV, Anime}

// ParseMediaType accepts the wire spelling of a media type.
func ParseMediaType(s string) (MediaType, error) {
	switch mt := MediaType(strings.ToLower(strings.TrimSpace(s))); mt {
	case Movie, TV, Anime:
		return mt, nil
	default:
		return "", fmt.Errorf("unknown media type %q", s)
	}
}

// Episodic reports whether the media type is tracked per season/episode.
func (m MediaType) Episodic() bool {
	return m == TV || m == Anime
}

// AnimeType selects the audio track variant for anime playback.
type AnimeType string

const (
	Sub AnimeType = "sub"
	Dub AnimeType = "dub"
)

// Target is the validated identity a URL grammar renders. Fields that do not
// apply to the media type are zero.
type Target struct {
	MediaType MediaType
	TMDBID    int
	MALID     int
	Season    int
	Episode   int
	AnimeType AnimeType
}

// URLFunc renders the provider-private path/query grammar for a target.
// Implementations must be pure.
type URLFunc func(origin string, t Target) string

// Descriptor describes one embed provider. Descriptors are values; a
// Registry never hands out references into its table.
type Descriptor struct {
	ID            string
	DisplayName   string
	Origin        string
	SupportsMovie bool
	SupportsTV    bool
	SupportsAnime bool
	// SupportsHints marks providers that understand presentation query hints.
	SupportsHints bool

	url URLFunc
}

// Supports reports whether the provider can serve the media type.
func (d Descriptor) Supports(mt MediaType) bool {
	switch mt {
	case Movie:
		return d.SupportsMovie
	case TV:
		return d.SupportsTV
	case Anime:
		return d.SupportsAnime
	default:
		return false
	}
}

// URL renders the embed URL for t. The caller validates t beforehand.
func (d Descriptor) URL(t Target) string {
	return d.url(d.Origin, t)
}

// WithURL returns a copy of d using fn as its grammar.
func (d Descriptor) WithURL(fn URLFunc) Descriptor {
	d.url = fn
	return d
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return d.ID
}
