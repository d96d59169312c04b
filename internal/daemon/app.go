// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/allnine-dev/keewacker/internal/config"
	"github.com/allnine-dev/keewacker/internal/log"
)

// Dispatcher is the long-running message loop the App drives next to the
// servers.
type Dispatcher interface {
	Run(ctx context.Context) error
}

// App owns the long-lived runtime lifecycle (watchers, reload wiring, the
// bridge loop) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	dispatcher   Dispatcher
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder and dispatcher may be nil.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, dispatcher Dispatcher) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		dispatcher:   dispatcher,
		reloadSignal: syscall.SIGHUP,
	}
}

// NewAppFromRuntime wires an App around a bootstrapped Runtime.
func NewAppFromRuntime(rt *Runtime) *App {
	return NewApp(log.WithComponent("daemon"), rt.Manager, rt.Holder, rt.Bridge)
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.applyConfig(cfg)
				}
			}
		})
	}

	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(ctx); err != nil {
						a.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
					}
				}
			}
		})
	}

	if a.dispatcher != nil {
		g.Go(func() error {
			return a.dispatcher.Run(ctx)
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// applyConfig applies the settings that change without a restart. The
// provider table is swapped by the holder itself.
func (a *App) applyConfig(cfg config.AppConfig) {
	if cfg.LogLevel == "" {
		return
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		a.logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("ignoring invalid log level")
		return
	}
	if zerolog.GlobalLevel() != level {
		zerolog.SetGlobalLevel(level)
		a.logger.Info().Str("level", level.String()).Msg("log level changed")
	}
}
