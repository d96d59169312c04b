// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
)

// CheckMode selects the integrity pragma VerifyIntegrity runs.
type CheckMode string

const (
	QuickCheck CheckMode = "quick" // PRAGMA quick_check
	FullCheck  CheckMode = "full"  // PRAGMA integrity_check
)

// VerifyIntegrity opens path read-only and runs the pragma for mode. It
// returns nil for a healthy database, otherwise the diagnostic rows.
func VerifyIntegrity(ctx context.Context, path string, mode CheckMode) ([]string, error) {
	dsn := (&url.URL{Scheme: "file", Opaque: path, RawQuery: "mode=ro&_pragma=busy_timeout(2000)"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s for verification: %w", path, err)
	}
	defer db.Close()

	pragma := "PRAGMA quick_check"
	if mode == FullCheck {
		pragma = "PRAGMA integrity_check"
	}

	rows, err := db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pragma, err)
	}
	defer rows.Close()

	var diag []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", pragma, err)
		}
		diag = append(diag, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(diag) == 1 && strings.EqualFold(diag[0], "ok"):
		return nil, nil
	case len(diag) == 0:
		return []string{pragma + " returned no rows"}, nil
	default:
		return diag, nil
	}
}
