// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration from defaults, a strict YAML
// file and KW_* environment variables, in increasing precedence, and keeps it
// current through file-watch reloads.
package config
