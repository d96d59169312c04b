// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strings"
)

// DefaultCSP is used when no frame origins are known.
const DefaultCSP = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https://image.tmdb.org; frame-src 'none'; connect-src 'self'; frame-ancestors 'none'"

// FrameCSP returns a policy that lets the host page embed the given provider
// origins and nothing else.
func FrameCSP(frameOrigins []string) string {
	if len(frameOrigins) == 0 {
		return DefaultCSP
	}
	frames := strings.Join(frameOrigins, " ")
	return "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https://image.tmdb.org; " +
		"frame-src " + frames + "; connect-src 'self'; frame-ancestors 'none'"
}

// SecurityHeaders adds common security headers to all responses. csp is
// consulted per request so a reloaded provider set takes effect at once; a
// nil csp uses DefaultCSP.
func SecurityHeaders(csp func() string) func(http.Handler) http.Handler {
	if csp == nil {
		csp = func() string { return DefaultCSP }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
			}
			h.Set("Content-Security-Policy", csp())
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")

			next.ServeHTTP(w, r)
		})
	}
}
