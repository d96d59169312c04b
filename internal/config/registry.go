// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"

	"github.com/allnine-dev/keewacker/internal/provider"
)

// Registry builds the provider table this configuration selects: the built-in
// table with the vidlink origin override applied, restricted and reordered by
// Providers.Enabled. The first enabled provider becomes the default.
func (c AppConfig) Registry() (*provider.Registry, error) {
	reg, err := provider.Builtin(provider.BuiltinOptions{VidLinkOrigin: c.Providers.VidLinkOrigin})
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}
	sub, err := reg.Subset(c.Providers.Enabled...)
	if err != nil {
		return nil, fmt.Errorf("select providers: %w", err)
	}
	return sub, nil
}
