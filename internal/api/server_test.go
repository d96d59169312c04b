// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allnine-dev/keewacker/internal/bridge"
	"github.com/allnine-dev/keewacker/internal/cache"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/provider"
)

var fixedNow = time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

type testEnv struct {
	handler http.Handler
	server  *Server
	bridge  *bridge.Bridge
	durable *progress.MemoryStore
	local   *progress.LRUStore
	media   *cache.MemoryMediaCache
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	reg, err := provider.Builtin(provider.BuiltinOptions{})
	require.NoError(t, err)
	local, err := progress.NewLRUStore(progress.DefaultCapacity)
	require.NoError(t, err)

	env := &testEnv{durable: progress.NewMemoryStore(), local: local, media: cache.NewMemoryMediaCache()}
	env.bridge, err = bridge.New(bridge.Options{
		Registry:   bridge.StaticRegistry(reg),
		Local:      local,
		MediaCache: env.media,
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	deps := Deps{
		Registry:   bridge.StaticRegistry(reg),
		Progress:   env.durable,
		Local:      local,
		MediaCache: env.media,
		Bridge:     env.bridge,
		Now:        func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.server, err = New(deps)
	require.NoError(t, err)
	env.handler = env.server.Handler()
	return env
}

// run starts the bridge dispatch loop for the test's lifetime.
func (e *testEnv) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.bridge.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type failingStore struct{ progress.Store }

func (failingStore) Get(context.Context, string) (progress.Record, bool, error) {
	return progress.Record{}, false, errors.New("disk on fire")
}

func (failingStore) Upsert(context.Context, progress.Record) error { return errors.New("disk on fire") }

func (failingStore) Len(context.Context) (int, error) { return 0, errors.New("disk on fire") }

func TestGetProgress_RequiresTMDBID(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/progress", "/api/progress", "/progress?season=1"} {
		rec := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, map[string]string{"error": "tmdbId required"}, decode[map[string]string](t, rec))
	}

	rec := env.do(t, http.MethodGet, "/progress?tmdbId=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProgress_MissIsNull(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/progress?tmdbId=1399&season=1&episode=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"progress":null}`, rec.Body.String())
}

func TestPostProgress_MissingFields(t *testing.T) {
	env := newTestEnv(t, nil)

	bodies := []string{
		`{}`,
		`{"mediaType":"tv","currentTime":10,"duration":100}`,
		`{"tmdbId":1399,"currentTime":10,"duration":100}`,
		`{"tmdbId":1399,"mediaType":"tv","duration":100}`,
		`{"tmdbId":1399,"mediaType":"tv","currentTime":10}`,
		`{"tmdbId":1399,"mediaType":"tv","currentTime":10,"duration":0}`,
	}
	for _, body := range bodies {
		rec := env.do(t, http.MethodPost, "/progress", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Missing required fields", decode[map[string]string](t, rec)["error"], body)
	}

	n, err := env.durable.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostProgress_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/progress", `{"tmdbId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostProgress_InvalidRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/progress", `{"tmdbId":1399,"mediaType":"cartoon","currentTime":10,"duration":100}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "mediaType")
}

func TestProgress_RoundTripOverwrites(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.do(t, http.MethodPost, "/api/progress",
		`{"tmdbId":1399,"mediaType":"tv","season":1,"episode":1,"currentTime":0,"duration":3000,"title":"Game of Thrones"}`)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	second := env.do(t, http.MethodPost, "/progress",
		`{"tmdbId":1399,"mediaType":"tv","season":1,"episode":1,"currentTime":600,"duration":3000}`)
	require.Equal(t, http.StatusOK, second.Code)
	saved := decode[progressSaved](t, second)
	assert.True(t, saved.Success)
	assert.Equal(t, "1399-s1-e1", saved.Progress.ContentKey)
	assert.Equal(t, "Game of Thrones", saved.Progress.Title)

	rec := env.do(t, http.MethodGet, "/progress?tmdbId=1399&season=1&episode=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[progressResponse](t, rec)
	require.NotNil(t, got.Progress)
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
	}, *got.Progress)

	// Another episode is a separate record.
	rec = env.do(t, http.MethodGet, "/progress?tmdbId=1399&season=1&episode=2", nil)
	assert.JSONEq(t, `{"progress":null}`, rec.Body.String())
}

func TestProgress_MovieKeyIgnoresSeason(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/progress", `{"tmdbId":603,"mediaType":"movie","season":2,"currentTime":60,"duration":8160}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "603", decode[progressSaved](t, rec).Progress.ContentKey)

	rec = env.do(t, http.MethodGet, "/progress?tmdbId=603", nil)
	require.NotNil(t, decode[progressResponse](t, rec).Progress)
}

func TestProgress_StoreFailureIs500(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Progress = failingStore{} })

	rec := env.do(t, http.MethodPost, "/progress", `{"tmdbId":603,"mediaType":"movie","currentTime":60,"duration":8160}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decode[map[string]string](t, rec)["error"])

	rec = env.do(t, http.MethodGet, "/progress?tmdbId=603", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListProviders(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[providerList](t, rec)
	assert.Equal(t, provider.VidLink, all.Default)
	require.Len(t, all.Providers, 10)
	assert.Equal(t, providerView{
		ID:         provider.VidLink,
		Name:       "KWM 1",
		Origin:     "https://vidlink.pro",
		MediaTypes: []provider.MediaType{provider.Movie, provider.TV, provider.Anime},
		Hints:      true,
	}, all.Providers[0])

	rec = env.do(t, http.MethodGet, "/api/providers?mediaType=anime", nil)
	anime := decode[providerList](t, rec)
	require.Len(t, anime.Providers, 1)
	assert.Equal(t, provider.VidLink, anime.Providers[0].ID)

	rec = env.do(t, http.MethodGet, "/api/providers?mediaType=cartoon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestEmbed(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/embed?provider=vidlink&mediaType=tv&tmdbId=1399&season=1&episode=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, embedView{Provider: provider.VidLink, URL: "https://vidlink.pro/tv/1399/1/1"}, decode[embedView](t, rec))

	rec = env.do(t, http.MethodGet, "/api/embed?provider=nope&mediaType=movie&tmdbId=603", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, embedView{Provider: provider.VidLink, URL: "https://vidlink.pro/movie/603", Fallback: true}, decode[embedView](t, rec))

	rec = env.do(t, http.MethodGet, "/api/embed?provider=2embed&mediaType=anime&malId=5114&episode=5&animeType=sub", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[embedView](t, rec)
	assert.True(t, got.Fallback)
	assert.Equal(t, "https://vidlink.pro/anime/5114/5/sub", got.URL)
}

func TestEmbed_ValidationNamesField(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/embed?mediaType=tv&tmdbId=1399&season=1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "INVALID_INPUT", body["code"])
	assert.Contains(t, body["detail"], "episode")
	fields, ok := body["fields"].([]any)
	require.True(t, ok)
	require.Len(t, fields, 1)
	assert.Equal(t, "episode", fields[0].(map[string]any)["field"])
}

func TestSessions_Lifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.run(t)

	rec := env.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"provider":  provider.VidLink,
		"mediaType": "tv",
		"tmdbId":    1399,
		"season":    1,
		"episode":   1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode[sessionView](t, rec)
	assert.Equal(t, "https://vidlink.pro/tv/1399/1/1", opened.EmbedURL)
	assert.Equal(t, bridge.StateLoading, opened.Session.State)
	id := opened.Session.ID
	assert.Equal(t, "/api/sessions/"+id, rec.Header().Get("Location"))

	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/loaded", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	msg := map[string]any{
		"origin": "https://vidlink.pro",
		"data": map[string]any{
			"type": "PLAYER_EVENT",
			"data": map[string]any{"event": "timeupdate", "currentTime": 600, "duration": 3000, "mediaType": "tv", "season": 1, "episode": 1, "tmdbId": 1399},
		},
	}
	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", msg)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		n, err := env.local.Len(context.Background())
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/api/continue-watching", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cw := decode[continueWatchingView](t, rec)
	require.Len(t, cw.Items, 1)
	assert.Equal(t, "1399-s1-e1", cw.Items[0].ContentKey)
	assert.InDelta(t, 20.0, cw.Items[0].Percent, 1e-9)

	rec = env.do(t, http.MethodPut, "/api/sessions/"+id+"/provider", map[string]string{"provider": provider.TwoEmbed})
	require.Equal(t, http.StatusOK, rec.Code)
	switched := decode[sessionView](t, rec)
	assert.Equal(t, "https://www.2embed.cc/embedtv/1399&s=1&e=1", switched.EmbedURL)
	assert.Equal(t, provider.TwoEmbed, switched.Session.ProviderID)

	rec = env.do(t, http.MethodGet, "/api/sessions", nil)
	require.Len(t, decode[sessionList](t, rec).Sessions, 1)

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", msg)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessions_OpenValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/sessions", `{"mediaType":"tv","tmdbId":1399,"season":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"episode"`)

	rec = env.do(t, http.MethodPost, "/api/sessions", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sessions", ``)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessions_MessageRequiresOrigin(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/sessions", `{"mediaType":"movie","tmdbId":603}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[sessionView](t, rec).Session.ID

	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", `{"data":{"type":"PLAYER_EVENT"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessions_LoadedAfterEndIsConflict(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/sessions", `{"mediaType":"movie","tmdbId":603}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[sessionView](t, rec).Session.ID
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/sessions/"+id+"/loaded", nil).Code)

	out := env.bridge.Dispatch(context.Background(), bridge.Inbound{
		SessionID: id,
		Origin:    "https://vidlink.pro",
		Payload:   []byte(`{"type":"PLAYER_EVENT","data":{"event":"ended","currentTime":8160,"duration":8160,"mediaType":"movie","tmdbId":603}}`),
	})
	require.Equal(t, bridge.OutcomeDispatched, out)

	rec = env.do(t, http.MethodPost, "/api/sessions/"+id+"/loaded", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/sessions/"+id+"/provider", `{"provider":"vidsrc-cc"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMediaData(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/media-data/vidlink", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"provider":"vidlink","data":{}}`, rec.Body.String())

	_, err := env.media.Merge(context.Background(), provider.VidLink, cache.MediaData{"1399": json.RawMessage(`{"progress":{"watched":600}}`)})
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/media-data/vidlink", nil)
	assert.JSONEq(t, `{"provider":"vidlink","data":{"1399":{"progress":{"watched":600}}}}`, rec.Body.String())
}

func TestContinueWatching_Limit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for i := 1; i <= 12; i++ {
		require.NoError(t, env.local.Upsert(ctx, progress.Record{
			TMDBID:        100 + i,
			MediaType:     provider.Movie,
			CurrentTime:   10,
			Duration:      100,
			LastWatchedAt: fixedNow.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := env.do(t, http.MethodGet, "/api/continue-watching", nil)
	items := decode[continueWatchingView](t, rec).Items
	require.Len(t, items, 10)
	assert.Equal(t, "112", items[0].ContentKey)

	rec = env.do(t, http.MethodGet, "/api/continue-watching?limit=3", nil)
	assert.Len(t, decode[continueWatchingView](t, rec).Items, 3)

	rec = env.do(t, http.MethodGet, "/api/continue-watching?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Checks = []HealthCheck{{Name: "redis", Check: func(context.Context) error { return fmt.Errorf("connection refused") }}}
	})

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthView](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	view := decode[healthView](t, rec)
	assert.Equal(t, "ok", view.Checks["progress_store"])
	assert.Equal(t, "connection refused", view.Checks["redis"])
}

func TestNotFoundIsProblem(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/problem+json"))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestSessionRoutesNeedBridge(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Bridge = nil })
	rec := env.do(t, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
