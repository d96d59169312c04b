// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"net"
	"strings"

	"github.com/allnine-dev/keewacker/internal/bridge"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/validate"
)

var (
	durableBackends = []string{progress.BackendSQLite, progress.BackendMemory, progress.BackendFile, progress.BackendRedis}
	localBackends   = []string{progress.BackendMemory, progress.BackendFile, progress.BackendRedis}
	originPolicies  = []string{string(bridge.OriginActive), string(bridge.OriginRegistered)}
	exporters       = []string{"grpc", "http"}
)

// Validate validates an AppConfig using the centralized validation package.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.Directory("DataDir", cfg.DataDir, false)

	v.ListenAddr("API.ListenAddr", cfg.API.ListenAddr)
	v.NonNegative("API.RateLimitPerMinute", cfg.API.RateLimitPerMinute)
	for _, origin := range cfg.API.AllowedOrigins {
		if origin == "*" {
			continue
		}
		v.URL("API.AllowedOrigins", origin, []string{"http", "https"})
	}
	for _, entry := range cfg.API.RateLimitWhitelist {
		entry = strings.TrimSpace(entry)
		if entry == "" || net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			v.AddError("API.RateLimitWhitelist", "must be a valid IP or CIDR", entry)
		}
	}
	if cfg.API.ShutdownTimeout <= 0 {
		v.AddError("API.ShutdownTimeout", "must be positive", cfg.API.ShutdownTimeout.String())
	}

	if cfg.Metrics.Enabled {
		v.ListenAddr("Metrics.ListenAddr", cfg.Metrics.ListenAddr)
		if cfg.Metrics.ListenAddr == cfg.API.ListenAddr {
			v.AddError("Metrics.ListenAddr", "must differ from API.ListenAddr", cfg.Metrics.ListenAddr)
		}
	}

	v.OneOf("Progress.Backend", cfg.Progress.Backend, durableBackends)
	v.OneOf("Progress.LocalBackend", cfg.Progress.LocalBackend, localBackends)
	v.Positive("Progress.Capacity", cfg.Progress.Capacity)
	v.Range("Progress.ContinueWatchingLimit", cfg.Progress.ContinueWatchingLimit, 1, 50)
	v.FloatRange("Progress.CompletionThreshold", cfg.Progress.CompletionThreshold, 0, 1)
	if usesRedis(cfg) && strings.TrimSpace(cfg.Redis.Addr) == "" {
		v.AddError("Redis.Addr", "required by the redis progress backend", "")
	}
	v.NonNegative("Redis.DB", cfg.Redis.DB)

	if cfg.Providers.VidLinkOrigin != "" {
		v.URL("Providers.VidLinkOrigin", cfg.Providers.VidLinkOrigin, []string{"https", "http"})
	}
	if _, err := cfg.Registry(); err != nil {
		v.AddError("Providers.Enabled", err.Error(), strings.Join(cfg.Providers.Enabled, ","))
	}

	v.OneOf("Bridge.OriginPolicy", cfg.Bridge.OriginPolicy, originPolicies)
	if cfg.Bridge.MessageRate < 0 {
		v.AddError("Bridge.MessageRate", "must not be negative", cfg.Bridge.MessageRate)
	}
	v.NonNegative("Bridge.MessageBurst", cfg.Bridge.MessageBurst)
	v.Positive("Bridge.QueueSize", cfg.Bridge.QueueSize)
	if cfg.Bridge.SessionIdleTTL <= 0 {
		v.AddError("Bridge.SessionIdleTTL", "must be positive", cfg.Bridge.SessionIdleTTL)
	}

	if cfg.Durable.Endpoint != "" {
		v.URL("Durable.Endpoint", cfg.Durable.Endpoint, []string{"http", "https"})
		v.Positive("Durable.BreakerThreshold", cfg.Durable.BreakerThreshold)
	}
	if cfg.Durable.Timeout <= 0 {
		v.AddError("Durable.Timeout", "must be positive", cfg.Durable.Timeout.String())
	}

	if cfg.TMDB.APIKey != "" {
		v.URL("TMDB.BaseURL", cfg.TMDB.BaseURL, []string{"https", "http"})
	}

	if cfg.Tracing.Enabled {
		v.OneOf("Tracing.Exporter", cfg.Tracing.Exporter, exporters)
		v.NotEmpty("Tracing.Endpoint", cfg.Tracing.Endpoint)
		v.FloatRange("Tracing.SamplingRate", cfg.Tracing.SamplingRate, 0, 1)
	}

	return v.Err()
}

func usesRedis(cfg AppConfig) bool {
	return cfg.Progress.Backend == progress.BackendRedis || cfg.Progress.LocalBackend == progress.BackendRedis
}
