// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the resolved daemon configuration. Field tags name the YAML
// keys; the matching environment variables are listed in loader.go.
type AppConfig struct {
	Version  string `yaml:"-"`
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Progress  ProgressConfig  `yaml:"progress"`
	Providers ProvidersConfig `yaml:"providers"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Durable   DurableConfig   `yaml:"durable"`
	Redis     RedisConfig     `yaml:"redis"`
	TMDB      TMDBConfig      `yaml:"tmdb"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type APIConfig struct {
	ListenAddr         string        `yaml:"listenAddr"`
	AllowedOrigins     []string      `yaml:"allowedOrigins"`
	EnableCSRF         bool          `yaml:"enableCsrf"`
	AllowHeadless      bool          `yaml:"allowHeadless"`
	RateLimitPerMinute int           `yaml:"rateLimitPerMinute"`
	RateLimitWhitelist []string      `yaml:"rateLimitWhitelist"`
	ShutdownTimeout    time.Duration `yaml:"shutdownTimeout"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// ProgressConfig selects the durable and local progress stores.
type ProgressConfig struct {
	// Backend is the durable store behind POST /progress.
	Backend string `yaml:"backend"`
	// LocalBackend holds the bounded continue-watching cache.
	LocalBackend          string  `yaml:"localBackend"`
	Capacity              int     `yaml:"capacity"`
	ContinueWatchingLimit int     `yaml:"continueWatchingLimit"`
	CompletionThreshold   float64 `yaml:"completionThreshold"`
	RedisPrefix           string  `yaml:"redisPrefix"`
}

type ProvidersConfig struct {
	// Enabled restricts and orders the built-in table. Empty keeps all.
	Enabled       []string `yaml:"enabled"`
	VidLinkOrigin string   `yaml:"vidlinkOrigin"`
}

type BridgeConfig struct {
	OriginPolicy string  `yaml:"originPolicy"`
	MessageRate  float64 `yaml:"messageRate"`
	MessageBurst int     `yaml:"messageBurst"`
	QueueSize    int     `yaml:"queueSize"`

	// SessionIdleTTL closes sessions that receive no traffic for this long.
	SessionIdleTTL time.Duration `yaml:"sessionIdleTtl"`
}

// DurableConfig points the durable writer at a remote progress endpoint.
// An empty Endpoint writes to the in-process durable store instead.
type DurableConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type TMDBConfig struct {
	APIKey   string        `yaml:"apiKey"`
	BaseURL  string        `yaml:"baseUrl"`
	CacheTTL time.Duration `yaml:"cacheTtl"`
	Timeout  time.Duration `yaml:"timeout"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}
