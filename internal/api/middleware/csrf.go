// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/allnine-dev/keewacker/internal/api/problem"
	"github.com/allnine-dev/keewacker/internal/provider"
)

var proxyHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Forwarded-Server",
}

// CSRFProtection checks the Origin (or Referer) of state-changing requests.
//
//  1. GET, HEAD and OPTIONS pass.
//  2. Other methods must carry an Origin or Referer.
//  3. The origin must be on the allow list or be strictly same-origin.
//     Same-origin is not trusted when forwarding headers are present.
//
// Requests without any browser headers (curl, other services) are let
// through when allowHeadless is set.
func CSRFProtection(allowedOrigins []string, allowHeadless bool) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowed["*"] = true
			continue
		}
		if canonical, err := provider.CanonicalOrigin(origin); err == nil {
			allowed[canonical] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			origin, present := requestOrigin(r)
			if !present {
				if allowHeadless {
					next.ServeHTTP(w, r)
					return
				}
				writeCSRFProblem(w, r, "Missing origin or referer header")
				return
			}
			if origin == "" || !originAllowed(origin, allowed, r) {
				writeCSRFProblem(w, r, "CSRF check failed: origin not trusted")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeCSRFProblem(w http.ResponseWriter, r *http.Request, detail string) {
	problem.Write(w, r, http.StatusForbidden, "auth/csrf", "Forbidden", "CSRF_FORBIDDEN", detail, nil)
}

// requestOrigin returns the canonical origin from Origin, then Referer.
// present reports whether either header was sent at all.
func requestOrigin(r *http.Request) (origin string, present bool) {
	if raw := r.Header.Get("Origin"); raw != "" {
		canonical, err := provider.CanonicalOrigin(raw)
		if err != nil {
			return "", true
		}
		return canonical, true
	}

	referer := r.Header.Get("Referer")
	if referer == "" {
		return "", false
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", true
	}
	canonical, err := provider.CanonicalOrigin(u.Scheme + "://" + u.Host)
	if err != nil {
		return "", true
	}
	return canonical, true
}

func originAllowed(origin string, allowed map[string]bool, r *http.Request) bool {
	if allowed["*"] || allowed[origin] {
		return true
	}
	for _, h := range proxyHeaders {
		if r.Header.Get(h) != "" {
			return false
		}
	}
	return origin == strictSameOrigin(r)
}

// strictSameOrigin rebuilds the server origin from Host and the connection,
// ignoring forwarding headers.
func strictSameOrigin(r *http.Request) string {
	if r.Host == "" {
		return ""
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	origin, err := provider.CanonicalOrigin(scheme + "://" + r.Host)
	if err != nil {
		return ""
	}
	return origin
}
