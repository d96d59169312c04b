// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/allnine-dev/keewacker/internal/embed"
	"github.com/allnine-dev/keewacker/internal/fsm"
	"github.com/allnine-dev/keewacker/internal/metadata"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/provider"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateEnded   State = "ended"
)

type sessionEvent string

const (
	evLoad   sessionEvent = "load"
	evLoaded sessionEvent = "loaded"
	evSwitch sessionEvent = "switch"
	evEnd    sessionEvent = "ended"
)

// Ended is terminal; resuming the same content needs a new session.
var sessionTransitions = []fsm.Transition[State, sessionEvent]{
	{From: StateIdle, Event: evLoad, To: StateLoading},
	{From: StateLoading, Event: evLoaded, To: StateReady},
	{From: StateReady, Event: evLoaded, To: StateReady},
	{From: StateLoading, Event: evSwitch, To: StateLoading},
	{From: StateReady, Event: evSwitch, To: StateLoading},
	{From: StateReady, Event: evEnd, To: StateEnded},
}

// Session is one mounted player frame bound to a playback request.
type Session struct {
	id      string
	request embed.Request
	opened  time.Time
	meta    metadata.Details
	machine *fsm.Machine[State, sessionEvent]

	mu        sync.Mutex
	tmdbID    int
	provider  provider.Descriptor
	embedURL  string
	playing   bool
	lastEvent EventName
	position  float64
	duration  float64
	lastSeen  time.Time
}

func newSession(id string, req embed.Request, d provider.Descriptor, url string, meta metadata.Details, now time.Time) (*Session, error) {
	m, err := fsm.New(StateIdle, sessionTransitions)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:       id,
		request:  req,
		tmdbID:   req.TMDBID,
		opened:   now,
		meta:     meta,
		machine:  m,
		provider: d,
		embedURL: url,
		lastSeen: now,
	}
	if _, err := m.Fire(context.Background(), evLoad); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State { return s.machine.State() }

// ContentKey is the progress key every record of this session is written to.
func (s *Session) ContentKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentKeyLocked()
}

func (s *Session) contentKeyLocked() string {
	if s.tmdbID <= 0 {
		return ""
	}
	if s.request.MediaType == provider.Movie {
		return progress.KeyFor(s.tmdbID, 0, 0)
	}
	return progress.KeyFor(s.tmdbID, s.request.Season, s.request.Episode)
}

// record builds the progress record for a progress-writing event. Anime
// requests are addressed by MAL id; their TMDB id is learned from the frame.
func (s *Session) record(ev PlayerEvent, now time.Time) progress.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tmdbID == 0 && ev.TMDBID > 0 {
		s.tmdbID = ev.TMDBID
	}
	return progress.Record{
		TMDBID:        s.tmdbID,
		MediaType:     s.request.MediaType,
		Season:        s.request.Season,
		Episode:       s.request.Episode,
		CurrentTime:   ev.CurrentTime,
		Duration:      ev.Duration,
		LastWatchedAt: now,
		Title:         s.meta.Title,
		PosterPath:    s.meta.PosterPath,
	}.Normalize()
}

// touch records activity at now.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
}

func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

func (s *Session) current() (provider.Descriptor, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider, s.embedURL
}

func (s *Session) setProvider(d provider.Descriptor, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = d
	s.embedURL = url
	s.playing = false
}

func (s *Session) observe(ev PlayerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Event {
	case EventPlay:
		s.playing = true
	case EventPause, EventEnded:
		s.playing = false
	}
	s.lastEvent = ev.Event
	s.position = ev.CurrentTime
	if ev.Duration > 0 {
		s.duration = ev.Duration
	}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID          string             `json:"id"`
	State       State              `json:"state"`
	ProviderID  string             `json:"provider"`
	Origin      string             `json:"origin"`
	EmbedURL    string             `json:"embedUrl"`
	MediaType   provider.MediaType `json:"mediaType"`
	ContentKey  string             `json:"contentKey"`
	Title       string             `json:"title,omitempty"`
	Playing     bool               `json:"playing"`
	LastEvent   EventName          `json:"lastEvent,omitempty"`
	CurrentTime float64            `json:"currentTime"`
	Duration    float64            `json:"duration"`
	OpenedAt    time.Time          `json:"openedAt"`
}

// Snapshot returns the session's current view.
func (s *Session) Snapshot() Snapshot {
	state := s.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.id,
		State:       state,
		ProviderID:  s.provider.ID,
		Origin:      s.provider.Origin,
		EmbedURL:    s.embedURL,
		MediaType:   s.request.MediaType,
		ContentKey:  s.contentKeyLocked(),
		Title:       s.meta.Title,
		Playing:     s.playing,
		LastEvent:   s.lastEvent,
		CurrentTime: s.position,
		Duration:    s.duration,
		OpenedAt:    s.opened,
	}
}
