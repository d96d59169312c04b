// SPDX-License-Identifier: MIT

package validate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_EmptyIsValid(t *testing.T) {
	v := New()
	assert.True(t, v.IsValid())
	assert.NoError(t, v.Err())
}

func TestValidator_Accumulates(t *testing.T) {
	v := New()
	v.Required("episode", false)
	v.Positive("season", 0)
	v.Required("tmdbId", true)

	err := v.Err()
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"episode", "season"}, ve.Fields())
	assert.True(t, ve.HasField("episode"))
	assert.False(t, ve.HasField("tmdbId"))
	assert.Contains(t, err.Error(), "validation failed for episode")
	assert.Contains(t, err.Error(), "; ")
}

func TestValidator_SingleErrorMessage(t *testing.T) {
	v := New()
	v.OneOf("mediaType", "music", []string{"movie", "tv", "anime"})
	assert.Equal(t,
		`validation failed for mediaType: value must be one of [movie tv anime], got "music"`,
		v.Err().Error())
}

func TestValidator_ErrIsSnapshot(t *testing.T) {
	v := New()
	v.NotEmpty("a", " ")
	err := v.Err()
	v.NotEmpty("b", "")

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors(), 1)
	assert.Len(t, v.Errors(), 2)
}

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"valid https", "https://vidlink.pro", true},
		{"empty", "", false},
		{"no host", "https://", false},
		{"bad scheme", "ftp://vidlink.pro", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("origin", tt.value, []string{"http", "https"})
			assert.Equal(t, tt.ok, v.IsValid())
		})
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	v := New()
	v.ListenAddr("a", ":8080")
	v.ListenAddr("b", "127.0.0.1:9090")
	assert.True(t, v.IsValid())

	v.ListenAddr("c", "8080")
	v.ListenAddr("d", ":http")
	assert.Len(t, v.Errors(), 2)
}

func TestValidator_Ranges(t *testing.T) {
	v := New()
	v.Range("cap", 50, 1, 1000)
	v.FloatRange("threshold", 0.95, 0, 1)
	v.NonNegative("db", 0)
	assert.True(t, v.IsValid())

	v.FloatRange("threshold", 0, 0, 1)
	v.FloatRange("threshold", 1.5, 0, 1)
	v.Range("cap", 0, 1, 1000)
	v.NonNegative("db", -1)
	assert.Len(t, v.Errors(), 4)
}

func TestValidator_Directory(t *testing.T) {
	dir := t.TempDir()

	v := New()
	v.Directory("dataDir", filepath.Join(dir, "created"), false)
	assert.True(t, v.IsValid())
	info, err := os.Stat(filepath.Join(dir, "created"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	v.Directory("dataDir", filepath.Join(dir, "missing"), true)
	v.Directory("dataDir", "../escape", false)
	v.Directory("dataDir", "", false)
	assert.Len(t, v.Errors(), 3)
}
