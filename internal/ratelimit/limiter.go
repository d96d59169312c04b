// SPDX-License-Identifier: MIT

package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	rateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keewacker",
			Name:      "ratelimit_exceeded_total",
			Help:      "Total rate limit rejections",
		},
		[]string{"limit_type"},
	)
)

// Config holds rate limiting configuration
type Config struct {
	// Global limit across all keys; zero disables it.
	GlobalRate  rate.Limit
	GlobalBurst int

	// Per-key limit (one key per player session).
	PerKeyRate  rate.Limit
	PerKeyBurst int

	// Keys unused for IdleTTL are dropped.
	IdleTTL time.Duration
}

// DefaultConfig returns sensible defaults. A player reports progress a few
// times per second at most.
func DefaultConfig() Config {
	return Config{
		GlobalRate:  500,
		GlobalBurst: 1000,

		PerKeyRate:  20,
		PerKeyBurst: 40,

		IdleTTL: 10 * time.Minute,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter applies a global and a per-key token bucket.
type Limiter struct {
	config Config

	global *rate.Limiter
	perKey map[string]*entry
	mu     sync.Mutex
	now    func() time.Time

	lastCleanup time.Time
}

// New creates a new rate limiter with the given config
func New(config Config) *Limiter {
	if config.PerKeyRate <= 0 {
		config.PerKeyRate = rate.Inf
	}
	if config.PerKeyBurst <= 0 {
		config.PerKeyBurst = 1
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultConfig().IdleTTL
	}
	l := &Limiter{
		config:      config,
		perKey:      make(map[string]*entry),
		now:         time.Now,
		lastCleanup: time.Now(),
	}
	if config.GlobalRate > 0 {
		l.global = rate.NewLimiter(config.GlobalRate, max(config.GlobalBurst, 1))
	}
	return l
}

// Allow reports whether one event for key is allowed now.
func (l *Limiter) Allow(key string) bool {
	if l.global != nil && !l.global.Allow() {
		rateLimitExceeded.WithLabelValues("global").Inc()
		return false
	}

	if !l.keyLimiter(key).Allow() {
		rateLimitExceeded.WithLabelValues("per_key").Inc()
		return false
	}
	return true
}

// Forget drops the limiter for key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.perKey, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perKey)
}

func (l *Limiter) keyLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanupLocked(now)

	e, exists := l.perKey[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(l.config.PerKeyRate, l.config.PerKeyBurst)}
		l.perKey[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// cleanupLocked removes idle keys at most once per IdleTTL.
func (l *Limiter) cleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < l.config.IdleTTL {
		return
	}
	for k, e := range l.perKey {
		if now.Sub(e.lastSeen) >= l.config.IdleTTL {
			delete(l.perKey, k)
		}
	}
	l.lastCleanup = now
}

// RecordExceeded counts a rejection made outside a Limiter, such as the
// HTTP ingress limiter.
func RecordExceeded(limitType string) {
	rateLimitExceeded.WithLabelValues(limitType).Inc()
}

// GetClientIP extracts the real client IP from the request
func GetClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2"
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
