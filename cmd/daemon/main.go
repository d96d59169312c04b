// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/allnine-dev/keewacker/internal/config"
	"github.com/allnine-dev/keewacker/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "keewacker",
		Short:         "Embedded-player playback bridge and progress service",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv(config.EnvConfigFile), "path to config file (YAML)")

	root.AddCommand(
		newServeCmd(opts),
		newProvidersCmd(opts),
		newEmbedCmd(opts),
		newProgressCmd(opts),
	)
	return root
}

// loadConfig resolves the configuration for one-shot commands.
func (o *rootOptions) loadConfig() (config.AppConfig, error) {
	cfg, err := config.NewLoader(o.configPath, version).Load()
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func main() {
	log.Configure(log.Config{
		Level:   "info",
		Output:  os.Stderr,
		Service: "keewacker",
		Version: version,
	})

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
