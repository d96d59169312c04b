// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package embed

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/allnine-dev/keewacker/internal/provider"
)

// ErrUnsupportedMediaType is returned when the provider cannot serve the
// request's media type.
var ErrUnsupportedMediaType = errors.New("provider does not support media type")

// Build validates req and renders the embed URL using d's grammar. It is
// pure: equal inputs always yield the same string.
func Build(req Request, d provider.Descriptor) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if !d.Supports(req.MediaType) {
		return "", fmt.Errorf("%w: %s cannot serve %s", ErrUnsupportedMediaType, d.ID, req.MediaType)
	}

	base := d.URL(req.Target())
	if !d.SupportsHints {
		return base, nil
	}

	query := encodeHints(req)
	if query == "" {
		return base, nil
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + query, nil
}

type pair struct{ key, value string }

// encodeHints renders the set hints in a fixed key order.
func encodeHints(req Request) string {
	p := req.Presentation
	var pairs []pair
	addBool := func(key string, b *bool) {
		if b != nil {
			pairs = append(pairs, pair{key, strconv.FormatBool(*b)})
		}
	}
	addString := func(key, s string) {
		if s != "" {
			pairs = append(pairs, pair{key, s})
		}
	}

	addBool("fallback", req.Fallback)
	addString("primaryColor", stripHash(p.PrimaryColor))
	addString("secondaryColor", stripHash(p.SecondaryColor))
	addString("iconColor", stripHash(p.IconColor))
	addString("icons", p.Icons)
	addBool("title", p.Title)
	addBool("poster", p.Poster)
	addBool("autoplay", p.Autoplay)
	addBool("nextbutton", p.NextButton)
	addString("player", p.Player)
	if p.StartAt != nil {
		pairs = append(pairs, pair{"startAt", strconv.Itoa(*p.StartAt)})
	}
	if p.SubFile != "" {
		addString("sub_file", p.SubFile)
		addString("sub_label", p.SubLabel)
	}

	var b strings.Builder
	for i, kv := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv.key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.value))
	}
	return b.String()
}

func stripHash(color string) string {
	return strings.TrimPrefix(strings.TrimSpace(color), "#")
}
