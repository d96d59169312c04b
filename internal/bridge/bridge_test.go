// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/allnine-dev/keewacker/internal/cache"
	"github.com/allnine-dev/keewacker/internal/embed"
	"github.com/allnine-dev/keewacker/internal/metadata"
	"github.com/allnine-dev/keewacker/internal/metrics"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/progress/continuewatching"
	"github.com/allnine-dev/keewacker/internal/provider"
	"github.com/allnine-dev/keewacker/internal/ratelimit"
	"github.com/allnine-dev/keewacker/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const vidlinkOrigin = "https://vidlink.pro"

var fixedNow = time.UnixMilli(1_700_000_000_000).UTC()

type durableRecorder struct {
	mu     sync.Mutex
	recs   []progress.Record
	reject bool
}

func (d *durableRecorder) Submit(_ context.Context, rec progress.Record) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reject {
		return false
	}
	d.recs = append(d.recs, rec)
	return true
}

func (d *durableRecorder) records() []progress.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]progress.Record(nil), d.recs...)
}

type fixture struct {
	bridge  *Bridge
	store   *progress.LRUStore
	durable *durableRecorder
	media   *cache.MemoryMediaCache
	reg     *provider.Registry
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	reg, err := provider.Builtin(provider.BuiltinOptions{})
	require.NoError(t, err)
	store, err := progress.NewLRUStore(progress.DefaultCapacity)
	require.NoError(t, err)

	f := &fixture{store: store, durable: &durableRecorder{}, media: cache.NewMemoryMediaCache(), reg: reg}
	ids := 0
	opts := Options{
		Registry:   StaticRegistry(reg),
		Local:      store,
		Durable:    f.durable,
		MediaCache: f.media,
		Metadata:   metadata.Static{1399: {Title: "Game of Thrones", PosterPath: "/got.jpg"}},
		Now:        func() time.Time { return fixedNow },
		NewID: func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.bridge, err = New(opts)
	require.NoError(t, err)
	return f
}

func tvRequest() embed.Request {
	return embed.Request{MediaType: provider.TV, TMDBID: 1399, Season: 1, Episode: 1}
}

func playerEvent(event string, current, duration float64) []byte {
	return []byte(fmt.Sprintf(`{"type":"PLAYER_EVENT","data":{"event":%q,"currentTime":%v,"duration":%v,"mediaType":"tv","season":1,"episode":1,"tmdbId":1399}}`, event, current, duration))
}

func (f *fixture) dispatch(t *testing.T, sessionID, origin string, payload []byte) Outcome {
	t.Helper()
	return f.bridge.Dispatch(context.Background(), Inbound{SessionID: sessionID, Origin: origin, Payload: payload})
}

func (f *fixture) storeLen(t *testing.T) int {
	t.Helper()
	n, err := f.store.Len(context.Background())
	require.NoError(t, err)
	return n
}

func TestBridge_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, url, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)
	assert.Equal(t, "https://vidlink.pro/tv/1399/1/1", url)
	assert.Equal(t, StateLoading, sess.State())
	assert.Equal(t, "1399-s1-e1", sess.ContentKey())

	require.NoError(t, f.bridge.Loaded(ctx, sess.ID()))
	assert.Equal(t, StateReady, sess.State())

	out := f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("timeupdate", 600, 3000))
	require.Equal(t, OutcomeDispatched, out)

	rec, ok, err := f.store.Get(ctx, "1399-s1-e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, progress.Record{
		ContentKey:    "1399-s1-e1",
		TMDBID:        1399,
		MediaType:     provider.TV,
		Season:        1,
		Episode:       1,
		CurrentTime:   600,
		Duration:      3000,
		LastWatchedAt: fixedNow,
		Title:         "Game of Thrones",
		PosterPath:    "/got.jpg",
	}, rec)

	durable := f.durable.records()
	require.Len(t, durable, 1)
	assert.Equal(t, "1399-s1-e1", durable[0].ContentKey)

	entries, err := continuewatching.FromStore(ctx, f.store, continuewatching.Options{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1399-s1-e1", entries[0].ContentKey)
	assert.InDelta(t, 20.0, entries[0].Percent, 1e-9)
}

func TestBridge_UnknownTypeIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	sess, _, err := f.bridge.Open(context.Background(), tvRequest(), provider.VidLink)
	require.NoError(t, err)

	for _, payload := range []string{
		`{"type":"UNKNOWN","data":{"event":"timeupdate","currentTime":600,"duration":3000}}`,
		`not json at all`,
		`{"source":"react-devtools"}`,
	} {
		assert.NotPanics(t, func() {
			assert.Equal(t, OutcomeUnknownType, f.dispatch(t, sess.ID(), vidlinkOrigin, []byte(payload)))
		})
	}
	assert.Equal(t, 0, f.storeLen(t))
	assert.Empty(t, f.durable.records())
	assert.Equal(t, StateLoading, sess.State(), "ignored messages do not count as frame activity")
}

func TestBridge_MalformedEventsNeverWrite(t *testing.T) {
	f := newFixture(t, nil)
	sess, _, err := f.bridge.Open(context.Background(), tvRequest(), provider.VidLink)
	require.NoError(t, err)

	for _, payload := range []string{
		`{"type":"PLAYER_EVENT","data":{"event":"timeupdate","currentTime":600}}`,
		`{"type":"PLAYER_EVENT","data":{"event":"timeupdate","currentTime":600,"duration":0}}`,
		`{"type":"PLAYER_EVENT"}`,
		`{"type":"PLAYER_EVENT","data":"timeupdate"}`,
		`{"type":"MEDIA_DATA","data":[1,2,3]}`,
	} {
		assert.Equal(t, OutcomeMalformed, f.dispatch(t, sess.ID(), vidlinkOrigin, []byte(payload)), payload)
	}
	assert.Equal(t, 0, f.storeLen(t))
	assert.Empty(t, f.durable.records())
}

func TestBridge_OriginPolicyActive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, _, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)

	assert.Equal(t, OutcomeOriginRejected, f.dispatch(t, sess.ID(), "https://evil.example", playerEvent("timeupdate", 10, 100)))
	assert.Equal(t, OutcomeOriginRejected, f.dispatch(t, sess.ID(), "", playerEvent("timeupdate", 10, 100)))
	// Case and default port do not matter.
	assert.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), "HTTPS://VidLink.pro:443", playerEvent("timeupdate", 10, 100)))

	_, url, err := f.bridge.Switch(ctx, sess.ID(), provider.TwoEmbed)
	require.NoError(t, err)
	assert.Equal(t, "https://www.2embed.cc/embedtv/1399&s=1&e=1", url)
	assert.Equal(t, StateLoading, sess.State())

	// Late message from the old frame.
	assert.Equal(t, OutcomeOriginRejected, f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("timeupdate", 999, 1000)))
	rec, _, err := f.store.Get(ctx, "1399-s1-e1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, rec.CurrentTime)

	assert.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), "https://www.2embed.cc", playerEvent("timeupdate", 20, 100)))
	assert.Equal(t, StateReady, sess.State())
}

func TestBridge_OriginPolicyRegistered(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.OriginPolicy = OriginRegistered })
	ctx := context.Background()
	sess, _, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)
	_, _, err = f.bridge.Switch(ctx, sess.ID(), provider.TwoEmbed)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("pause", 5, 100)))
	assert.Equal(t, OutcomeOriginRejected, f.dispatch(t, sess.ID(), "https://evil.example", playerEvent("pause", 5, 100)))
}

func TestBridge_PlayPauseDoNotWrite(t *testing.T) {
	var (
		mu     sync.Mutex
		events []EventName
	)
	f := newFixture(t, func(o *Options) {
		o.OnEvent = func(s Snapshot, ev PlayerEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev.Event)
		}
	})
	sess, _, err := f.bridge.Open(context.Background(), tvRequest(), provider.VidLink)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("play", 0, 3000)))
	assert.True(t, sess.Snapshot().Playing)
	assert.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("seeked", 120, 3000)))
	assert.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("pause", 120, 3000)))

	snap := sess.Snapshot()
	assert.False(t, snap.Playing)
	assert.Equal(t, EventPause, snap.LastEvent)
	assert.Equal(t, 120.0, snap.CurrentTime)

	assert.Equal(t, 0, f.storeLen(t))
	assert.Empty(t, f.durable.records())
	assert.Equal(t, []EventName{EventPlay, EventSeeked, EventPause}, events)
}

func TestBridge_EndedIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, _, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("ended", 3000, 3000)))
	assert.Equal(t, StateEnded, sess.State())

	rec, ok, err := f.store.Get(ctx, "1399-s1-e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3000.0, rec.CurrentTime)

	assert.Equal(t, OutcomeSessionEnded, f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("timeupdate", 5, 3000)))
	assert.ErrorIs(t, f.bridge.Loaded(ctx, sess.ID()), ErrSessionEnded)
	_, _, err = f.bridge.Switch(ctx, sess.ID(), provider.TwoEmbed)
	assert.ErrorIs(t, err, ErrSessionEnded)

	// A new session may resume the same key.
	next, _, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, f.dispatch(t, next.ID(), vidlinkOrigin, playerEvent("timeupdate", 30, 3000)))
	assert.Equal(t, 1, f.storeLen(t))
}

func TestBridge_MediaDataMerged(t *testing.T) {
	var got cache.MediaData
	f := newFixture(t, func(o *Options) {
		o.OnMediaData = func(_ Snapshot, doc cache.MediaData) { got = doc }
	})
	ctx := context.Background()
	sess, _, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)

	require.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), vidlinkOrigin,
		[]byte(`{"type":"MEDIA_DATA","data":{"1399":{"watched":1},"603":{"watched":2}}}`)))
	require.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), vidlinkOrigin,
		[]byte(`{"type":"MEDIA_DATA","data":{"1399":{"watched":9}}}`)))

	doc, err := f.media.Get(ctx, provider.VidLink)
	require.NoError(t, err)
	assert.JSONEq(t, `{"watched":9}`, string(doc["1399"]))
	assert.JSONEq(t, `{"watched":2}`, string(doc["603"]))
	assert.Len(t, got, 2)
	assert.Equal(t, 0, f.storeLen(t))
}

func TestBridge_ClosedSessionDropsMessages(t *testing.T) {
	f := newFixture(t, nil)
	active := metrics.GetBridgeSessionsActive()
	sess, _, err := f.bridge.Open(context.Background(), tvRequest(), provider.VidLink)
	require.NoError(t, err)
	assert.Equal(t, active+1, metrics.GetBridgeSessionsActive())
	require.NoError(t, f.bridge.Close(sess.ID()))
	assert.ErrorIs(t, f.bridge.Close(sess.ID()), ErrSessionNotFound)
	assert.Equal(t, active, metrics.GetBridgeSessionsActive())

	assert.Equal(t, OutcomeUnknownSession, f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("timeupdate", 10, 100)))
	assert.ErrorIs(t, f.bridge.Deliver(context.Background(), sess.ID(), vidlinkOrigin, playerEvent("timeupdate", 10, 100)), ErrSessionNotFound)
	assert.Equal(t, 0, f.storeLen(t))
	assert.Empty(t, f.bridge.Sessions())
}

func TestBridge_ReapIdleSessions(t *testing.T) {
	now := fixedNow
	f := newFixture(t, func(o *Options) {
		o.Now = func() time.Time { return now }
		o.IdleTTL = 10 * time.Minute
	})
	ctx := context.Background()
	active := metrics.GetBridgeSessionsActive()

	idle, _, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)
	busy, _, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)
	assert.Equal(t, active+2, metrics.GetBridgeSessionsActive())

	now = now.Add(6 * time.Minute)
	assert.Equal(t, OutcomeDispatched, f.dispatch(t, busy.ID(), vidlinkOrigin, playerEvent("timeupdate", 10, 100)))
	assert.Zero(t, f.bridge.reapIdle(now))

	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, f.bridge.reapIdle(now))

	_, ok := f.bridge.Session(idle.ID())
	assert.False(t, ok, "idle session should be closed")
	_, ok = f.bridge.Session(busy.ID())
	assert.True(t, ok, "active session should survive")
	assert.Equal(t, active+1, metrics.GetBridgeSessionsActive())
	assert.ErrorIs(t, f.bridge.Close(idle.ID()), ErrSessionNotFound)
	assert.Equal(t, OutcomeUnknownSession, f.dispatch(t, idle.ID(), vidlinkOrigin, playerEvent("timeupdate", 20, 100)))

	require.NoError(t, f.bridge.Close(busy.ID()))
	assert.Equal(t, active, metrics.GetBridgeSessionsActive())
}

func TestBridge_ReapInterval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{0, time.Minute},
		{10 * time.Second, 5 * time.Second},
		{time.Second, time.Second},
	}
	for _, tt := range tests {
		f := newFixture(t, func(o *Options) { o.IdleTTL = tt.ttl })
		assert.Equal(t, tt.want, f.bridge.reapInterval(), "ttl %s", tt.ttl)
	}
}

func TestBridge_DurableRefusalKeepsLocalWrite(t *testing.T) {
	f := newFixture(t, nil)
	f.durable.reject = true
	sess, _, err := f.bridge.Open(context.Background(), tvRequest(), provider.VidLink)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("timeupdate", 10, 100)))
	assert.Equal(t, 1, f.storeLen(t))
}

func TestBridge_CallbackPanicIsContained(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.OnEvent = func(Snapshot, PlayerEvent) { panic("consumer bug") }
	})
	sess, _, err := f.bridge.Open(context.Background(), tvRequest(), provider.VidLink)
	require.NoError(t, err)

	var out Outcome
	assert.NotPanics(t, func() {
		out = f.dispatch(t, sess.ID(), vidlinkOrigin, playerEvent("timeupdate", 10, 100))
	})
	assert.Equal(t, OutcomeInternalError, out)
	assert.Equal(t, 1, f.storeLen(t), "the write happened before the callback")
}

func TestBridge_AnimeLearnsTMDBIDFromFrame(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := embed.Request{MediaType: provider.Anime, MALID: 5114, Episode: 5, AnimeType: provider.Sub}

	sess, url, err := f.bridge.Open(ctx, req, provider.TwoEmbed)
	require.NoError(t, err)
	assert.Equal(t, "https://vidlink.pro/anime/5114/5/sub", url, "anime falls back to an anime-capable provider")
	assert.Equal(t, provider.VidLink, sess.Snapshot().ProviderID)

	// No TMDB id yet: the record cannot be formed.
	assert.Equal(t, OutcomeInvalidRecord, f.dispatch(t, sess.ID(), vidlinkOrigin,
		[]byte(`{"type":"PLAYER_EVENT","data":{"event":"timeupdate","currentTime":60,"duration":1440}}`)))

	assert.Equal(t, OutcomeDispatched, f.dispatch(t, sess.ID(), vidlinkOrigin,
		[]byte(`{"type":"PLAYER_EVENT","data":{"event":"timeupdate","currentTime":60,"duration":1440,"mtmdbId":"31911"}}`)))
	_, ok, err := f.store.Get(ctx, "31911-e5")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "31911-e5", sess.ContentKey())
}

func TestBridge_InvalidRecordStillReachesCallback(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []PlayerEvent
	)
	f := newFixture(t, func(o *Options) {
		o.OnEvent = func(_ Snapshot, ev PlayerEvent) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev)
		}
	})
	ctx := context.Background()
	req := embed.Request{MediaType: provider.Anime, MALID: 5114, Episode: 5, AnimeType: provider.Sub}
	sess, _, err := f.bridge.Open(ctx, req, provider.VidLink)
	require.NoError(t, err)

	assert.Equal(t, OutcomeInvalidRecord, f.dispatch(t, sess.ID(), vidlinkOrigin,
		[]byte(`{"type":"PLAYER_EVENT","data":{"event":"timeupdate","currentTime":60,"duration":1440}}`)))
	assert.Equal(t, 0, f.storeLen(t))
	assert.Empty(t, f.durable.records())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, EventTimeUpdate, seen[0].Event)
	assert.InDelta(t, 60, seen[0].CurrentTime, 0.001)
}

func TestBridge_OpenValidation(t *testing.T) {
	f := newFixture(t, nil)
	req := tvRequest()
	req.Episode = 0

	_, _, err := f.bridge.Open(context.Background(), req, provider.VidLink)
	var ve validate.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"episode"}, ve.Fields())
	assert.Empty(t, f.bridge.Sessions())
}

func TestBridge_UnknownProviderFallsBack(t *testing.T) {
	f := newFixture(t, nil)
	sess, url, err := f.bridge.Open(context.Background(), embed.Request{MediaType: provider.Movie, TMDBID: 603}, "nope")
	require.NoError(t, err)
	assert.Equal(t, "https://vidlink.pro/movie/603", url)
	assert.Equal(t, "603", sess.ContentKey())
}

func TestBridge_DeliverAdmission(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.QueueSize = 1
		o.Limiter = ratelimit.New(ratelimit.Config{PerKeyRate: 0.001, PerKeyBurst: 2})
	})
	ctx := context.Background()
	sess, _, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)

	require.NoError(t, f.bridge.Deliver(ctx, sess.ID(), vidlinkOrigin, playerEvent("play", 0, 1)))
	assert.ErrorIs(t, f.bridge.Deliver(ctx, sess.ID(), vidlinkOrigin, playerEvent("play", 0, 1)), ErrQueueFull)
	assert.ErrorIs(t, f.bridge.Deliver(ctx, sess.ID(), vidlinkOrigin, playerEvent("play", 0, 1)), ErrRateLimited)
}

func TestBridge_RunLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sess, _, err := f.bridge.Open(ctx, tvRequest(), provider.VidLink)
	require.NoError(t, err)

	// Delivered before Run starts: buffered.
	require.NoError(t, f.bridge.Deliver(ctx, sess.ID(), vidlinkOrigin, []byte(`{"type":"UNKNOWN"}`)))
	require.NoError(t, f.bridge.Deliver(ctx, sess.ID(), vidlinkOrigin, playerEvent("timeupdate", 600, 3000)))

	done := make(chan error, 1)
	go func() { done <- f.bridge.Run(ctx) }()

	assert.Eventually(t, func() bool { return f.storeLen(t) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}

	assert.ErrorIs(t, f.bridge.Run(context.Background()), ErrAlreadyRunning)
	assert.ErrorIs(t, f.bridge.Deliver(context.Background(), sess.ID(), vidlinkOrigin, playerEvent("play", 0, 1)), ErrStopped)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	store := progress.NewMemoryStore()
	reg := provider.MustNew(provider.BuiltinDescriptors(provider.BuiltinOptions{})...)

	_, err := New(Options{Local: store})
	assert.Error(t, err)
	_, err = New(Options{Registry: StaticRegistry(reg)})
	assert.Error(t, err)
	_, err = New(Options{Registry: StaticRegistry(reg), Local: store, OriginPolicy: "any"})
	assert.Error(t, err)

	b, err := New(Options{Registry: StaticRegistry(reg), Local: store})
	require.NoError(t, err)
	assert.Equal(t, OriginActive, b.Policy())
}
