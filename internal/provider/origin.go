// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidOrigin is returned for origins that are not scheme://host[:port].
var ErrInvalidOrigin = errors.New("invalid origin")

// CanonicalOrigin normalises a browser origin: lowercase scheme, ASCII
// (punycode) host, default ports removed, no path.
func CanonicalOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidOrigin, u.Scheme)
	}
	if u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: %q carries more than scheme and host", ErrInvalidOrigin, raw)
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidOrigin)
	}
	asciiHost, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		return "", fmt.Errorf("%w: host %q: %v", ErrInvalidOrigin, host, err)
	}

	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		asciiHost = net.JoinHostPort(asciiHost, port)
	} else if strings.Contains(asciiHost, ":") {
		asciiHost = "[" + asciiHost + "]"
	}
	return scheme + "://" + asciiHost, nil
}
