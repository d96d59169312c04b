// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"fmt"
	"strings"
)

// Built-in provider identifiers, in registration order.
const (
	VidLink      = "vidlink"
	VidSrcPro    = "vidsrc-pro"
	VidSrcCC     = "vidsrc-cc"
	VidSrcXYZ    = "vidsrc-xyz"
	VidSrcICU    = "vidsrc-icu"
	TwoEmbed     = "2embed"
	AutoEmbed    = "autoembed"
	MultiEmbed   = "multiembed"
	MoviesAPI    = "moviesapi"
	SmashyStream = "smashystream"
)

// DefaultVidLinkOrigin is used when no override is configured.
const DefaultVidLinkOrigin = "https://vidlink.pro"

// BuiltinOptions tunes the built-in table.
type BuiltinOptions struct {
	// VidLinkOrigin overrides the vidlink origin (self-hosted mirrors).
	VidLinkOrigin string
}

func pathStyle(movieFmt, tvFmt string) URLFunc {
	return func(origin string, t Target) string {
		if t.MediaType == TV {
			return origin + fmt.Sprintf(tvFmt, t.TMDBID, t.Season, t.Episode)
		}
		return origin + fmt.Sprintf(movieFmt, t.TMDBID)
	}
}

func vidLinkURL(origin string, t Target) string {
	switch t.MediaType {
	case Anime:
		return fmt.Sprintf("%s/anime/%d/%d/%s", origin, t.MALID, t.Episode, t.AnimeType)
	case TV:
		return fmt.Sprintf("%s/tv/%d/%d/%d", origin, t.TMDBID, t.Season, t.Episode)
	default:
		return fmt.Sprintf("%s/movie/%d", origin, t.TMDBID)
	}
}

func multiEmbedURL(origin string, t Target) string {
	if t.MediaType == TV {
		return fmt.Sprintf("%s/?video_id=%d&tmdb=1&s=%d&e=%d", origin, t.TMDBID, t.Season, t.Episode)
	}
	return fmt.Sprintf("%s/?video_id=%d&tmdb=1", origin, t.TMDBID)
}

func standard(id, name, origin string, fn URLFunc) Descriptor {
	return Descriptor{
		ID:            id,
		DisplayName:   name,
		Origin:        origin,
		SupportsMovie: true,
		SupportsTV:    true,
		url:           fn,
	}
}

// BuiltinDescriptors returns the built-in providers in registration order.
func BuiltinDescriptors(opts BuiltinOptions) []Descriptor {
	vidlinkOrigin := strings.TrimRight(opts.VidLinkOrigin, "/")
	if vidlinkOrigin == "" {
		vidlinkOrigin = DefaultVidLinkOrigin
	}

	vidlink := standard(VidLink, "KWM 1", vidlinkOrigin, vidLinkURL)
	vidlink.SupportsAnime = true
	vidlink.SupportsHints = true

	return []Descriptor{
		vidlink,
		standard(VidSrcPro, "KWM 2", "https://vidsrc.pro", pathStyle("/embed/movie/%d", "/embed/tv/%d/%d/%d")),
		standard(VidSrcCC, "KWM 3", "https://vidsrc.cc", pathStyle("/v2/embed/movie/%d", "/v2/embed/tv/%d/%d/%d")),
		standard(VidSrcXYZ, "KWM 4", "https://vidsrc.xyz", pathStyle("/embed/movie/%d", "/embed/tv/%d/%d/%d")),
		standard(VidSrcICU, "KWM 5", "https://vidsrc.icu", pathStyle("/embed/movie/%d", "/embed/tv/%d/%d/%d")),
		standard(TwoEmbed, "KWM 6", "https://www.2embed.cc", pathStyle("/embed/%d", "/embedtv/%d&s=%d&e=%d")),
		standard(AutoEmbed, "KWM 7", "https://autoembed.co", pathStyle("/movie/tmdb/%d", "/tv/tmdb/%d-%d-%d")),
		standard(MultiEmbed, "KWM 8", "https://multiembed.mov", multiEmbedURL),
		standard(MoviesAPI, "KWM 9", "https://moviesapi.club", pathStyle("/movie/%d", "/tv/%d-%d-%d")),
		standard(SmashyStream, "KWM 10", "https://player.smashy.stream", pathStyle("/movie/%d", "/tv/%d?s=%d&e=%d")),
	}
}

// Builtin constructs a Registry over the built-in table.
func Builtin(opts BuiltinOptions) (*Registry, error) {
	return New(BuiltinDescriptors(opts)...)
}
