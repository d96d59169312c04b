// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/allnine-dev/keewacker/internal/bridge"
	"github.com/allnine-dev/keewacker/internal/metadata"
	"github.com/allnine-dev/keewacker/internal/progress"
)

// Environment variables. Each overrides the YAML key of the same meaning.
const (
	EnvConfigFile            = "KW_CONFIG"
	EnvDataDir               = "KW_DATA_DIR"
	EnvLogLevel              = "KW_LOG_LEVEL"
	EnvListenAddr            = "KW_LISTEN_ADDR"
	EnvAllowedOrigins        = "KW_ALLOWED_ORIGINS"
	EnvEnableCSRF            = "KW_ENABLE_CSRF"
	EnvAllowHeadless         = "KW_ALLOW_HEADLESS"
	EnvRateLimitPerMinute    = "KW_RATE_LIMIT_PER_MINUTE"
	EnvRateLimitWhitelist    = "KW_RATE_LIMIT_WHITELIST"
	EnvShutdownTimeout       = "KW_SHUTDOWN_TIMEOUT"
	EnvMetricsEnabled        = "KW_METRICS_ENABLED"
	EnvMetricsAddr           = "KW_METRICS_ADDR"
	EnvProgressBackend       = "KW_PROGRESS_BACKEND"
	EnvLocalBackend          = "KW_LOCAL_BACKEND"
	EnvProgressCapacity      = "KW_PROGRESS_CAPACITY"
	EnvContinueWatchingLimit = "KW_CONTINUE_WATCHING_LIMIT"
	EnvCompletionThreshold   = "KW_COMPLETION_THRESHOLD"
	EnvRedisPrefix           = "KW_REDIS_PREFIX"
	EnvProviders             = "KW_PROVIDERS"
	EnvVidLinkOrigin         = "KW_VIDLINK_ORIGIN"
	EnvOriginPolicy          = "KW_ORIGIN_POLICY"
	EnvMessageRate           = "KW_MESSAGE_RATE"
	EnvMessageBurst          = "KW_MESSAGE_BURST"
	EnvQueueSize             = "KW_QUEUE_SIZE"
	EnvSessionIdleTTL        = "KW_SESSION_IDLE_TTL"
	EnvDurableEndpoint       = "KW_DURABLE_ENDPOINT"
	EnvDurableTimeout        = "KW_DURABLE_TIMEOUT"
	EnvBreakerThreshold      = "KW_BREAKER_THRESHOLD"
	EnvBreakerReset          = "KW_BREAKER_RESET"
	EnvRedisAddr             = "KW_REDIS_ADDR"
	EnvRedisPassword         = "KW_REDIS_PASSWORD"
	EnvRedisDB               = "KW_REDIS_DB"
	EnvTMDBAPIKey            = "KW_TMDB_API_KEY"
	EnvTMDBBaseURL           = "KW_TMDB_BASE_URL"
	EnvTMDBCacheTTL          = "KW_TMDB_CACHE_TTL"
	EnvTracingEnabled        = "KW_TRACING_ENABLED"
	EnvTracingExporter       = "KW_TRACING_EXPORTER"
	EnvTracingEndpoint       = "KW_TRACING_ENDPOINT"
	EnvTracingSamplingRate   = "KW_TRACING_SAMPLING_RATE"
	EnvTracingEnvironment    = "KW_TRACING_ENVIRONMENT"
)

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "data",
		LogLevel: "info",
		API:      apiDefaults(),
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9477",
		},
		Progress: ProgressConfig{
			Backend:               progress.BackendSQLite,
			LocalBackend:          progress.BackendMemory,
			Capacity:              progress.DefaultCapacity,
			ContinueWatchingLimit: 10,
			CompletionThreshold:   0.95,
			RedisPrefix:           "keewacker:",
		},
		Bridge: BridgeConfig{
			OriginPolicy: string(bridge.OriginActive),
			MessageRate:  20,
			MessageBurst: 40,
			QueueSize:    256,

			SessionIdleTTL: 30 * time.Minute,
		},
		Durable: DurableConfig{
			Timeout:          5 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		TMDB: TMDBConfig{
			BaseURL:  metadata.DefaultTMDBBaseURL,
			CacheTTL: 24 * time.Hour,
			Timeout:  5 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 0.1,
		},
	}
}

func apiDefaults() APIConfig {
	return APIConfig{
		ListenAddr:         ":8787",
		EnableCSRF:         true,
		AllowHeadless:      true,
		RateLimitPerMinute: 600,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. An empty configPath loads
// defaults and environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the config file path, or "" when none is used.
func (l *Loader) Path() string { return l.configPath }

// Load resolves and validates the configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file onto cfg with strict parsing. Keys absent from
// the file keep their current value; unknown keys are an error.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func mergeEnv(cfg *AppConfig) {
	cfg.DataDir = ParseString(EnvDataDir, cfg.DataDir)
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)

	cfg.API.ListenAddr = ParseString(EnvListenAddr, cfg.API.ListenAddr)
	cfg.API.AllowedOrigins = ParseList(EnvAllowedOrigins, cfg.API.AllowedOrigins)
	cfg.API.EnableCSRF = ParseBool(EnvEnableCSRF, cfg.API.EnableCSRF)
	cfg.API.AllowHeadless = ParseBool(EnvAllowHeadless, cfg.API.AllowHeadless)
	cfg.API.RateLimitPerMinute = ParseInt(EnvRateLimitPerMinute, cfg.API.RateLimitPerMinute)
	cfg.API.RateLimitWhitelist = ParseList(EnvRateLimitWhitelist, cfg.API.RateLimitWhitelist)
	cfg.API.ShutdownTimeout = ParseDuration(EnvShutdownTimeout, cfg.API.ShutdownTimeout)

	cfg.Metrics.Enabled = ParseBool(EnvMetricsEnabled, cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = ParseString(EnvMetricsAddr, cfg.Metrics.ListenAddr)

	cfg.Progress.Backend = strings.ToLower(ParseString(EnvProgressBackend, cfg.Progress.Backend))
	cfg.Progress.LocalBackend = strings.ToLower(ParseString(EnvLocalBackend, cfg.Progress.LocalBackend))
	cfg.Progress.Capacity = ParseInt(EnvProgressCapacity, cfg.Progress.Capacity)
	cfg.Progress.ContinueWatchingLimit = ParseInt(EnvContinueWatchingLimit, cfg.Progress.ContinueWatchingLimit)
	cfg.Progress.CompletionThreshold = ParseFloat(EnvCompletionThreshold, cfg.Progress.CompletionThreshold)
	cfg.Progress.RedisPrefix = ParseString(EnvRedisPrefix, cfg.Progress.RedisPrefix)

	cfg.Providers.Enabled = ParseList(EnvProviders, cfg.Providers.Enabled)
	cfg.Providers.VidLinkOrigin = ParseString(EnvVidLinkOrigin, cfg.Providers.VidLinkOrigin)

	cfg.Bridge.OriginPolicy = strings.ToLower(ParseString(EnvOriginPolicy, cfg.Bridge.OriginPolicy))
	cfg.Bridge.MessageRate = ParseFloat(EnvMessageRate, cfg.Bridge.MessageRate)
	cfg.Bridge.MessageBurst = ParseInt(EnvMessageBurst, cfg.Bridge.MessageBurst)
	cfg.Bridge.QueueSize = ParseInt(EnvQueueSize, cfg.Bridge.QueueSize)
	cfg.Bridge.SessionIdleTTL = ParseDuration(EnvSessionIdleTTL, cfg.Bridge.SessionIdleTTL)

	cfg.Durable.Endpoint = ParseString(EnvDurableEndpoint, cfg.Durable.Endpoint)
	cfg.Durable.Timeout = ParseDuration(EnvDurableTimeout, cfg.Durable.Timeout)
	cfg.Durable.BreakerThreshold = ParseInt(EnvBreakerThreshold, cfg.Durable.BreakerThreshold)
	cfg.Durable.BreakerReset = ParseDuration(EnvBreakerReset, cfg.Durable.BreakerReset)

	cfg.Redis.Addr = ParseString(EnvRedisAddr, cfg.Redis.Addr)
	cfg.Redis.Password = ParseString(EnvRedisPassword, cfg.Redis.Password)
	cfg.Redis.DB = ParseInt(EnvRedisDB, cfg.Redis.DB)

	cfg.TMDB.APIKey = ParseString(EnvTMDBAPIKey, cfg.TMDB.APIKey)
	cfg.TMDB.BaseURL = ParseString(EnvTMDBBaseURL, cfg.TMDB.BaseURL)
	cfg.TMDB.CacheTTL = ParseDuration(EnvTMDBCacheTTL, cfg.TMDB.CacheTTL)

	cfg.Tracing.Enabled = ParseBool(EnvTracingEnabled, cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = strings.ToLower(ParseString(EnvTracingExporter, cfg.Tracing.Exporter))
	cfg.Tracing.Endpoint = ParseString(EnvTracingEndpoint, cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = ParseFloat(EnvTracingSamplingRate, cfg.Tracing.SamplingRate)
	cfg.Tracing.Environment = ParseString(EnvTracingEnvironment, cfg.Tracing.Environment)
}
