// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/provider"
)

const defaultDebounce = 500 * time.Millisecond

// Holder holds configuration with atomic reloading capability. Each
// successful reload also swaps in a freshly built provider Registry.
type Holder struct {
	mu       sync.RWMutex
	current  AppConfig
	registry *provider.Registry

	loader   *Loader
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	debounce time.Duration

	listenMu  sync.RWMutex
	listeners []chan<- AppConfig
}

// NewHolder creates a holder around an already loaded and validated config.
func NewHolder(initial AppConfig, loader *Loader) (*Holder, error) {
	reg, err := initial.Registry()
	if err != nil {
		return nil, err
	}
	return &Holder{
		current:  initial,
		registry: reg,
		loader:   loader,
		logger:   log.WithComponent("config"),
		debounce: defaultDebounce,
	}, nil
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Registry returns the provider table of the current configuration.
func (h *Holder) Registry() *provider.Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry
}

// Reload reloads configuration from file and environment. If loading or
// validation fails, the old configuration is kept and an error is returned.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := newCfg.Registry()
	if err != nil {
		h.logger.Error().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("new provider selection is invalid")
		return err
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.registry = reg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().Str(log.FieldEvent, "config.reload_success").Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher watches the config file and reloads on change until ctx is
// done. Without a config file this is a no-op.
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().Str(log.FieldEvent, "config.watcher_disabled").Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	h.watcher = watcher

	h.logger.Info().Str(log.FieldEvent, "config.watcher_started").Str("path", path).Msg("watching config file for changes")
	go h.watchLoop(ctx, watcher)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Write covers in-place edits; Create covers editors that replace the file.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().Str(log.FieldEvent, "config.file_changed").Str("op", event.Op.String()).Msg("config file changed")

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(h.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().Err(err).Str(log.FieldEvent, "config.auto_reload_failed").Msg("automatic config reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str(log.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}

// RegisterListener registers a channel that receives the new config after
// each successful reload. Sends never block; a full channel misses the update.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(cfg AppConfig) {
	h.listenMu.RLock()
	defer h.listenMu.RUnlock()

	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str(log.FieldEvent, "config.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

// logChanges logs the settings that take effect without a restart.
func (h *Holder) logChanges(old, newCfg AppConfig) {
	if !slices.Equal(old.Providers.Enabled, newCfg.Providers.Enabled) {
		h.logger.Info().
			Strs("old", old.Providers.Enabled).
			Strs("new", newCfg.Providers.Enabled).
			Msg("config changed: Providers.Enabled")
	}
	if old.Providers.VidLinkOrigin != newCfg.Providers.VidLinkOrigin {
		h.logger.Info().
			Str("old", old.Providers.VidLinkOrigin).
			Str("new", newCfg.Providers.VidLinkOrigin).
			Msg("config changed: Providers.VidLinkOrigin")
	}
	if old.LogLevel != newCfg.LogLevel {
		h.logger.Info().
			Str("old", old.LogLevel).
			Str("new", newCfg.LogLevel).
			Msg("config changed: LogLevel")
	}
	if old.API.ListenAddr != newCfg.API.ListenAddr {
		h.logger.Warn().
			Str("old", old.API.ListenAddr).
			Str("new", newCfg.API.ListenAddr).
			Msg("config changed: API.ListenAddr (requires restart)")
	}
	if old.Progress.Backend != newCfg.Progress.Backend || old.Progress.LocalBackend != newCfg.Progress.LocalBackend {
		h.logger.Warn().
			Str("old", old.Progress.Backend+"/"+old.Progress.LocalBackend).
			Str("new", newCfg.Progress.Backend+"/"+newCfg.Progress.LocalBackend).
			Msg("config changed: progress backends (requires restart)")
	}
}
