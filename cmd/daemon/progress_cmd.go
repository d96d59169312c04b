// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/allnine-dev/keewacker/internal/persistence/sqlite"
	"github.com/allnine-dev/keewacker/internal/progress"
)

var errNoDatabase = errors.New("no progress database")

func newProgressCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect the durable progress database",
		Long:  "Read-only access to the sqlite progress database under the data directory.",
	}
	cmd.AddCommand(
		newProgressGetCmd(opts),
		newProgressListCmd(opts),
		newProgressVerifyCmd(opts),
	)
	return cmd
}

func (o *rootOptions) progressDBPath() (string, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return "", err
	}
	path := filepath.Join(cfg.DataDir, progress.SQLiteFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w at %s", errNoDatabase, path)
		}
		return "", err
	}
	return path, nil
}

func openProgressStore(opts *rootOptions) (*progress.SqliteStore, error) {
	path, err := opts.progressDBPath()
	if err != nil {
		return nil, err
	}
	return progress.NewSqliteStore(path)
}

func newProgressGetCmd(opts *rootOptions) *cobra.Command {
	var tmdbID, season, episode int
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the stored position for one title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tmdbID <= 0 {
				return errors.New("--tmdb-id must be positive")
			}
			store, err := openProgressStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			key := progress.KeyFor(tmdbID, season, episode)
			rec, ok, err := store.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "no progress for %s\n", key)
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
	cmd.Flags().IntVar(&tmdbID, "tmdb-id", 0, "TMDB id")
	cmd.Flags().IntVar(&season, "season", 0, "season number")
	cmd.Flags().IntVar(&episode, "episode", 0, "episode number")
	_ = cmd.MarkFlagRequired("tmdb-id")
	return cmd
}

func newProgressListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored positions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openProgressStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[:limit]
			}
			return printRecords(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (0 = all)")
	return cmd
}

func printRecords(w io.Writer, recs []progress.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tPOSITION\tDURATION\tWATCHED\tLAST WATCHED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
			r.ContentKey,
			r.MediaType,
			seconds(r.CurrentTime),
			seconds(r.Duration),
			r.Fraction()*100,
			r.LastWatchedAt.Local().Format(time.DateTime),
		)
	}
	return tw.Flush()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Second)
}

func newProgressVerifyCmd(opts *rootOptions) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run a sqlite integrity check on the progress database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.progressDBPath()
			if err != nil {
				return err
			}
			mode := sqlite.QuickCheck
			if full {
				mode = sqlite.FullCheck
			}
			problems, err := sqlite.VerifyIntegrity(cmd.Context(), path, mode)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintln(out, p)
				}
				return fmt.Errorf("%s: %d integrity problem(s)", path, len(problems))
			}
			fmt.Fprintf(out, "%s: ok (%s)\n", path, mode)
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "run integrity_check instead of quick_check")
	return cmd
}
