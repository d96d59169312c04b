// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/allnine-dev/keewacker/internal/embed"
	"github.com/allnine-dev/keewacker/internal/provider"
)

func newProvidersCmd(opts *rootOptions) *cobra.Command {
	var (
		mediaType string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List the configured embed providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}

			descs := reg.All()
			if mediaType != "" {
				mt, err := provider.ParseMediaType(mediaType)
				if err != nil {
					return err
				}
				descs = reg.List(mt)
			}
			return printProviders(cmd.OutOrStdout(), descs, reg.Default().ID, asJSON)
		},
	}
	cmd.Flags().StringVar(&mediaType, "media-type", "", "only list providers serving movie, tv or anime")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

type providerRow struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Origin     string   `json:"origin"`
	MediaTypes []string `json:"mediaTypes"`
	Default    bool     `json:"default"`
}

func printProviders(w io.Writer, descs []provider.Descriptor, defaultID string, asJSON bool) error {
	rows := make([]providerRow, 0, len(descs))
	for _, d := range descs {
		row := providerRow{ID: d.ID, Name: d.DisplayName, Origin: d.Origin, Default: d.ID == defaultID}
		for _, mt := range provider.MediaTypes {
			if d.Supports(mt) {
				row.MediaTypes = append(row.MediaTypes, string(mt))
			}
		}
		rows = append(rows, row)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tORIGIN\tMEDIA\tDEFAULT")
	for _, r := range rows {
		def := ""
		if r.Default {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Origin, strings.Join(r.MediaTypes, ","), def)
	}
	return tw.Flush()
}

func newEmbedCmd(opts *rootOptions) *cobra.Command {
	var (
		providerID string
		mediaType  string
		tmdbID     int
		malID      int
		season     int
		episode    int
		animeType  string
		hints      []string
	)
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Print the embed URL for a title",
		Example: `  keewacker embed --media-type tv --tmdb-id 1399 --season 1 --episode 1
  keewacker embed --provider vidlink --media-type anime --mal-id 5114 --episode 5 --anime-type dub
  keewacker embed --media-type movie --tmdb-id 603 --hint primaryColor=#B20710 --hint autoplay=true`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}

			q := url.Values{}
			q.Set("mediaType", mediaType)
			setPositive(q, "tmdbId", tmdbID)
			setPositive(q, "malId", malID)
			setPositive(q, "season", season)
			setPositive(q, "episode", episode)
			if animeType != "" {
				q.Set("animeType", animeType)
			}
			for _, h := range hints {
				k, v, ok := strings.Cut(h, "=")
				if !ok {
					return fmt.Errorf("hint %q: want key=value", h)
				}
				q.Set(k, v)
			}

			req, err := embed.ParseQuery(q)
			if err != nil {
				return err
			}
			d, exact := reg.Resolve(providerID, req.MediaType)
			embedURL, err := embed.Build(req, d)
			if err != nil {
				return err
			}
			if providerID != "" && !exact {
				fmt.Fprintf(cmd.ErrOrStderr(), "provider %q unavailable for %s, using %s\n", providerID, req.MediaType, d.ID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), embedURL)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&providerID, "provider", "", "preferred provider id (falls back to the default)")
	f.StringVar(&mediaType, "media-type", "", "movie, tv or anime")
	f.IntVar(&tmdbID, "tmdb-id", 0, "TMDB id (movie, tv)")
	f.IntVar(&malID, "mal-id", 0, "MyAnimeList id (anime)")
	f.IntVar(&season, "season", 0, "season number (tv)")
	f.IntVar(&episode, "episode", 0, "episode number (tv, anime)")
	f.StringVar(&animeType, "anime-type", "", "sub or dub (anime)")
	f.StringArrayVar(&hints, "hint", nil, "presentation hint as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("media-type")
	return cmd
}

func setPositive(q url.Values, key string, v int) {
	if v != 0 {
		q.Set(key, strconv.Itoa(v))
	}
}
