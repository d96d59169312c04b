// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allnine-dev/keewacker/internal/provider"
	"github.com/allnine-dev/keewacker/internal/validate"
)

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "603", KeyFor(603, 0, 0))
	assert.Equal(t, "1399-s1-e1", KeyFor(1399, 1, 1))
	assert.Equal(t, "1399-s2", KeyFor(1399, 2, 0))
	assert.Equal(t, "1399-e4", KeyFor(1399, 0, 4))
	assert.NotEqual(t, KeyFor(1399, 1, 2), KeyFor(1399, 1, 3))
	assert.NotEqual(t, KeyFor(1399, 1, 12), KeyFor(1399, 11, 2))
}

func TestNormalize(t *testing.T) {
	r := Record{TMDBID: 603, MediaType: provider.Movie, Season: 1, Episode: 2, CurrentTime: 9000, Duration: 8160}.Normalize()
	assert.Equal(t, "603", r.ContentKey)
	assert.Zero(t, r.Season)
	assert.Zero(t, r.Episode)
	assert.Equal(t, 8160.0, r.CurrentTime, "position clamps to duration")

	r = Record{TMDBID: 1399, MediaType: provider.TV, Season: 1, Episode: 1, CurrentTime: -4, Duration: 3000}.Normalize()
	assert.Equal(t, "1399-s1-e1", r.ContentKey)
	assert.Zero(t, r.CurrentTime)
}

func TestValidate_RejectsPartialRecords(t *testing.T) {
	err := Record{MediaType: provider.TV, Duration: 0}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	var ve validate.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ElementsMatch(t, []string{"tmdbId", "duration", "lastWatchedAt"}, ve.Fields())
}

func TestFraction(t *testing.T) {
	assert.Equal(t, 0.2, Record{CurrentTime: 600, Duration: 3000}.Fraction())
	assert.Zero(t, Record{CurrentTime: 600}.Fraction())
}

func TestMergeOnto_KeepsDisplayMetadata(t *testing.T) {
	prev := Record{Title: "Game of Thrones", PosterPath: "/p.jpg", CurrentTime: 10}
	next := Record{CurrentTime: 20, LastWatchedAt: time.Unix(5, 0)}.mergeOnto(prev)
	assert.Equal(t, "Game of Thrones", next.Title)
	assert.Equal(t, "/p.jpg", next.PosterPath)
	assert.Equal(t, 20.0, next.CurrentTime)

	renamed := Record{Title: "GoT"}.mergeOnto(prev)
	assert.Equal(t, "GoT", renamed.Title)
}
