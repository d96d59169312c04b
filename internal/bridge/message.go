// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/allnine-dev/keewacker/internal/cache"
	"github.com/allnine-dev/keewacker/internal/provider"
)

var (
	// ErrUnknownType marks payloads that are not bridge messages at all. The
	// frame channel is shared with unrelated page code; these are ignored.
	ErrUnknownType = errors.New("bridge: unknown message type")
	// ErrMalformed marks recognised messages with missing or invalid fields.
	ErrMalformed = errors.New("bridge: malformed message")
)

// Kind is the message discriminator carried in the "type" field.
type Kind string

const (
	KindPlayerEvent Kind = "PLAYER_EVENT"
	KindMediaData   Kind = "MEDIA_DATA"
)

// EventName is the player lifecycle event inside a PLAYER_EVENT.
type EventName string

const (
	EventPlay       EventName = "play"
	EventPause      EventName = "pause"
	EventSeeked     EventName = "seeked"
	EventTimeUpdate EventName = "timeupdate"
	EventEnded      EventName = "ended"
)

// WritesProgress reports whether the event produces a progress record.
func (e EventName) WritesProgress() bool {
	return e == EventTimeUpdate || e == EventEnded
}

// PlayerEvent is a validated PLAYER_EVENT payload. The frame's own view of
// the content (media type, ids) is informational; records are keyed by the
// session's request.
type PlayerEvent struct {
	Event       EventName          `json:"event"`
	CurrentTime float64            `json:"currentTime"`
	Duration    float64            `json:"duration"`
	MediaType   provider.MediaType `json:"mediaType,omitempty"`
	Season      int                `json:"season,omitempty"`
	Episode     int                `json:"episode,omitempty"`
	TMDBID      int                `json:"tmdbId,omitempty"`
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Classify reads the message envelope. Anything that is not a JSON object
// with a recognised "type" yields ErrUnknownType.
func Classify(payload []byte) (Kind, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", nil, ErrUnknownType
	}
	switch k := Kind(env.Type); k {
	case KindPlayerEvent, KindMediaData:
		return k, env.Data, nil
	default:
		return "", nil, ErrUnknownType
	}
}

// flexInt accepts a JSON number, a numeric string, or null.
type flexInt struct {
	value int
	set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		f.value, f.set = n, true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	i, err := strconv.Atoi(n.String())
	if err != nil {
		fl, ferr := n.Float64()
		if ferr != nil || fl != float64(int(fl)) {
			return fmt.Errorf("not an integer: %s", n)
		}
		i = int(fl)
	}
	f.value, f.set = i, true
	return nil
}

type rawPlayerEvent struct {
	Event       *string  `json:"event"`
	CurrentTime *float64 `json:"currentTime"`
	Duration    *float64 `json:"duration"`
	MediaType   string   `json:"mediaType"`
	Season      flexInt  `json:"season"`
	Episode     flexInt  `json:"episode"`
	TMDBID      flexInt  `json:"tmdbId"`
	// Some player builds misspell the id field.
	MTMDBID flexInt `json:"mtmdbId"`
}

// ParsePlayerEvent validates a PLAYER_EVENT data object. event, currentTime
// and duration are required; progress-writing events also need a positive
// duration and a non-negative position.
func ParsePlayerEvent(data json.RawMessage) (PlayerEvent, error) {
	var raw rawPlayerEvent
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return PlayerEvent{}, fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return PlayerEvent{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var missing []string
	if raw.Event == nil || strings.TrimSpace(*raw.Event) == "" {
		missing = append(missing, "event")
	}
	if raw.CurrentTime == nil {
		missing = append(missing, "currentTime")
	}
	if raw.Duration == nil {
		missing = append(missing, "duration")
	}
	if len(missing) > 0 {
		return PlayerEvent{}, fmt.Errorf("%w: missing %s", ErrMalformed, strings.Join(missing, ", "))
	}

	ev := PlayerEvent{
		Event:       EventName(strings.ToLower(strings.TrimSpace(*raw.Event))),
		CurrentTime: *raw.CurrentTime,
		Duration:    *raw.Duration,
		Season:      raw.Season.value,
		Episode:     raw.Episode.value,
		TMDBID:      raw.TMDBID.value,
	}
	if !raw.TMDBID.set {
		ev.TMDBID = raw.MTMDBID.value
	}
	if mt, err := provider.ParseMediaType(raw.MediaType); err == nil {
		ev.MediaType = mt
	}

	if ev.Event.WritesProgress() {
		if ev.Duration <= 0 {
			return PlayerEvent{}, fmt.Errorf("%w: duration must be positive", ErrMalformed)
		}
		if ev.CurrentTime < 0 {
			return PlayerEvent{}, fmt.Errorf("%w: currentTime cannot be negative", ErrMalformed)
		}
	}
	return ev, nil
}

// ParseMediaData requires the MEDIA_DATA payload to be a JSON object.
func ParseMediaData(data json.RawMessage) (cache.MediaData, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: media data must be an object", ErrMalformed)
	}
	var doc cache.MediaData
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return doc, nil
}
