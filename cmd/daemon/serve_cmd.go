// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/allnine-dev/keewacker/internal/config"
	"github.com/allnine-dev/keewacker/internal/daemon"
	"github.com/allnine-dev/keewacker/internal/log"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the playback API and bridge",
		Long:  "Run the HTTP API, the frame message bridge and the metrics listener until SIGINT or SIGTERM. SIGHUP reloads the configuration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	loader := config.NewLoader(configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Output:  os.Stdout,
		Service: daemon.ServiceName,
		Version: version,
	})
	logger := log.WithComponent("daemon")
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("config", configPath).
		Msg("starting keewacker")

	holder, err := config.NewHolder(cfg, loader)
	if err != nil {
		return err
	}
	rt, err := daemon.Bootstrap(ctx, holder)
	if err != nil {
		return err
	}
	return daemon.NewAppFromRuntime(rt).Run(ctx)
}
