// SPDX-License-Identifier: MIT

// Package daemon wires the configured stores, bridge and API into a running
// process and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/allnine-dev/keewacker/internal/api"
	"github.com/allnine-dev/keewacker/internal/api/middleware"
	"github.com/allnine-dev/keewacker/internal/bridge"
	"github.com/allnine-dev/keewacker/internal/cache"
	"github.com/allnine-dev/keewacker/internal/config"
	"github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/metadata"
	"github.com/allnine-dev/keewacker/internal/platform/httpx"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/progress/continuewatching"
	"github.com/allnine-dev/keewacker/internal/progressclient"
	"github.com/allnine-dev/keewacker/internal/ratelimit"
	"github.com/allnine-dev/keewacker/internal/resilience"
	"github.com/allnine-dev/keewacker/internal/telemetry"
)

// ServiceName identifies the daemon in logs, traces and metrics.
const ServiceName = "keewacker"

// Runtime is a fully wired daemon, ready for App.Run.
type Runtime struct {
	Holder  *config.Holder
	Bridge  *bridge.Bridge
	Server  *api.Server
	Manager Manager

	Durable progress.Store
	Local   progress.Store
}

type closer struct {
	name string
	fn   ShutdownHook
}

// Bootstrap builds every component the current configuration selects. On
// failure the components already opened are closed again.
func Bootstrap(ctx context.Context, holder *config.Holder) (rt *Runtime, err error) {
	cfg := holder.Get()
	logger := log.WithComponent("daemon")

	var closers []closer
	defer func() {
		if err == nil {
			return
		}
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].fn(cleanupCtx)
		}
	}()
	onClose := func(name string, fn ShutdownHook) {
		closers = append(closers, closer{name: name, fn: fn})
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Tracing.Environment,
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.init_failed").Msg("telemetry initialization failed, continuing without tracing")
		err = nil
	} else {
		onClose("telemetry", tp.Shutdown)
	}

	var checks []api.HealthCheck

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		onClose("redis", func(context.Context) error { return rdb.Close() })
		checks = append(checks, api.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	prefix := cfg.Progress.RedisPrefix

	durable, err := progress.NewStore(cfg.Progress.Backend, progress.Options{
		Dir:         cfg.DataDir,
		Redis:       redisOrNil(rdb),
		RedisPrefix: prefix + "progress:",
		FileName:    "progress.json",
		Unbounded:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	onClose("progress_store", func(context.Context) error { return durable.Close() })

	local, err := progress.NewStore(cfg.Progress.LocalBackend, progress.Options{
		Dir:         cfg.DataDir,
		Capacity:    cfg.Progress.Capacity,
		Redis:       redisOrNil(rdb),
		RedisPrefix: prefix + "history:",
	})
	if err != nil {
		return nil, fmt.Errorf("open continue-watching store: %w", err)
	}
	onClose("history_store", func(context.Context) error { return local.Close() })

	var media cache.MediaCache = cache.NewMemoryMediaCache()
	if rdb != nil {
		media = cache.NewRedisMediaCache(rdb, prefix+"media:")
	}

	var meta metadata.Source
	if cfg.TMDB.APIKey != "" {
		var metaCache cache.Cache
		if rdb != nil {
			metaCache = cache.NewRedisCache(rdb, prefix+"tmdb:", log.WithComponent("cache"))
		} else {
			mc := cache.NewMemoryCache(time.Minute)
			onClose("metadata_cache", func(context.Context) error { return mc.Close() })
			metaCache = mc
		}
		tmdb := metadata.NewTMDB(cfg.TMDB.BaseURL, cfg.TMDB.APIKey,
			metadata.WithHTTPClient(httpx.NewTracedClient(cfg.TMDB.Timeout, "tmdb.lookup")))
		meta = metadata.NewCached(tmdb, metaCache, cfg.TMDB.CacheTTL)
	}

	var writer progressclient.Writer = progressclient.StoreWriter{Store: durable}
	if cfg.Durable.Endpoint != "" {
		breaker := resilience.NewCircuitBreaker("progress_endpoint", cfg.Durable.BreakerThreshold, cfg.Durable.BreakerReset,
			resilience.WithFailurePredicate(func(err error) bool { return !errors.Is(err, progressclient.ErrRejected) }))
		writer = progressclient.NewHTTPWriter(cfg.Durable.Endpoint, cfg.Durable.Timeout, progressclient.WithBreaker(breaker))
	}
	dispatcher := progressclient.NewDispatcher(writer, cfg.Durable.Timeout)
	onClose("durable_writer", dispatcher.Close)

	var limiter *ratelimit.Limiter
	if cfg.Bridge.MessageRate > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			PerKeyRate:  rate.Limit(cfg.Bridge.MessageRate),
			PerKeyBurst: max(cfg.Bridge.MessageBurst, 1),
			IdleTTL:     10 * time.Minute,
		})
	}

	policy, err := bridge.ParseOriginPolicy(cfg.Bridge.OriginPolicy)
	if err != nil {
		return nil, err
	}

	br, err := bridge.New(bridge.Options{
		Registry:        holder.Registry,
		Local:           local,
		Durable:         dispatcher,
		MediaCache:      media,
		Metadata:        meta,
		MetadataTimeout: cfg.TMDB.Timeout,
		OriginPolicy:    policy,
		Limiter:         limiter,
		QueueSize:       cfg.Bridge.QueueSize,
		IdleTTL:         cfg.Bridge.SessionIdleTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create bridge: %w", err)
	}

	stack := middleware.StackConfig{
		EnableCORS:            len(cfg.API.AllowedOrigins) > 0,
		AllowedOrigins:        cfg.API.AllowedOrigins,
		EnableCSRF:            cfg.API.EnableCSRF,
		AllowHeadless:         cfg.API.AllowHeadless,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableLogging:         true,
		RateLimitPerMinute:    cfg.API.RateLimitPerMinute,
		RateLimitWhitelist:    cfg.API.RateLimitWhitelist,
	}
	if cfg.Tracing.Enabled {
		stack.TracingService = ServiceName
	}

	srv, err := api.New(api.Deps{
		Registry:   holder.Registry,
		Progress:   durable,
		Local:      local,
		MediaCache: media,
		Bridge:     br,
		ContinueWatching: continuewatching.Options{
			Limit:               cfg.Progress.ContinueWatchingLimit,
			CompletionThreshold: cfg.Progress.CompletionThreshold,
		},
		Checks: checks,
		Stack:  stack,
	})
	if err != nil {
		return nil, fmt.Errorf("create API server: %w", err)
	}

	deps := Deps{
		Logger:     logger,
		APIHandler: srv.Handler(),
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = metricsMux()
		deps.MetricsAddr = cfg.Metrics.ListenAddr
	}
	serverCfg := DefaultServerConfig(cfg.API.ListenAddr)
	serverCfg.ShutdownTimeout = cfg.API.ShutdownTimeout

	mgr, err := NewManager(serverCfg, deps)
	if err != nil {
		return nil, err
	}
	for _, c := range closers {
		mgr.RegisterShutdownHook(c.name, c.fn)
	}

	logStartup(logger, cfg, holder)
	return &Runtime{
		Holder:  holder,
		Bridge:  br,
		Server:  srv,
		Manager: mgr,
		Durable: durable,
		Local:   local,
	}, nil
}

// redisOrNil keeps a nil *redis.Client from becoming a non-nil interface.
func redisOrNil(c *redis.Client) redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func logStartup(logger zerolog.Logger, cfg config.AppConfig, holder *config.Holder) {
	reg := holder.Registry()
	logger.Info().
		Str(log.FieldEvent, "daemon.configured").
		Str("version", cfg.Version).
		Str("listen", cfg.API.ListenAddr).
		Str("progress_backend", cfg.Progress.Backend).
		Str("history_backend", cfg.Progress.LocalBackend).
		Int("history_capacity", cfg.Progress.Capacity).
		Str("origin_policy", cfg.Bridge.OriginPolicy).
		Str("default_provider", reg.Default().ID).
		Int("providers", reg.Len()).
		Bool("durable_remote", cfg.Durable.Endpoint != "").
		Bool("metadata", cfg.TMDB.APIKey != "").
		Bool("tracing", cfg.Tracing.Enabled).
		Msg("daemon configured")
}
