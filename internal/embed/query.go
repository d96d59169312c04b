// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package embed

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/allnine-dev/keewacker/internal/provider"
	"github.com/allnine-dev/keewacker/internal/validate"
)

// ParseQuery reads a Request from URL query parameters using the same key
// names the hints are emitted with. Non-numeric ids are reported by field.
func ParseQuery(q url.Values) (Request, error) {
	v := validate.New()
	var req Request

	if raw := strings.TrimSpace(q.Get("mediaType")); raw != "" {
		mt, err := provider.ParseMediaType(raw)
		if err != nil {
			v.AddError("mediaType", err.Error(), raw)
		}
		req.MediaType = mt
	}

	req.TMDBID = parseInt(v, q, "tmdbId")
	req.MALID = parseInt(v, q, "malId")
	req.Season = parseInt(v, q, "season")
	req.Episode = parseInt(v, q, "episode")
	req.AnimeType = provider.AnimeType(strings.ToLower(strings.TrimSpace(q.Get("animeType"))))
	req.Fallback = parseBool(v, q, "fallback")

	p := &req.Presentation
	p.PrimaryColor = q.Get("primaryColor")
	p.SecondaryColor = q.Get("secondaryColor")
	p.IconColor = q.Get("iconColor")
	p.Icons = q.Get("icons")
	p.Title = parseBool(v, q, "title")
	p.Poster = parseBool(v, q, "poster")
	p.Autoplay = parseBool(v, q, "autoplay")
	p.NextButton = parseBool(v, q, "nextbutton")
	p.Player = q.Get("player")
	if q.Has("startAt") {
		n := parseInt(v, q, "startAt")
		p.StartAt = &n
	}
	p.SubFile = q.Get("sub_file")
	p.SubLabel = norm.NFC.String(q.Get("sub_label"))

	return req, v.Err()
}

func parseInt(v *validate.Validator, q url.Values, key string) int {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		v.AddError(key, fmt.Sprintf("must be numeric, got %q", raw), raw)
		return 0
	}
	return n
}

func parseBool(v *validate.Validator, q url.Values, key string) *bool {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		v.AddError(key, fmt.Sprintf("must be a boolean, got %q", raw), raw)
		return nil
	}
	return &b
}
