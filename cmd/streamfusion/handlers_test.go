package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/kv"
	"github.com/doingodswork/streamfusion/pkg/mediaflow"
	"github.com/doingodswork/streamfusion/pkg/playback"
	"github.com/doingodswork/streamfusion/pkg/stremio"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

const testInfoHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestKV(t *testing.T) *kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return kv.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
}

func TestSplitVideoID(t *testing.T) {
	for _, tc := range []struct {
		in      string
		id      string
		season  int
		episode int
	}{
		{"tt0111161", "tt0111161", 0, 0},
		{"tt0903747:5:14", "tt0903747", 5, 14},
		{"tmdb:1396", "tmdb:1396", 0, 0},
		{"tmdb:1396:2:3", "tmdb:1396", 2, 3},
		{"sf:delete_all_watchlist", "sf:delete_all_watchlist", 0, 0},
	} {
		id, season, episode := splitVideoID(tc.in)
		require.Equal(t, tc.id, id, tc.in)
		require.Equal(t, tc.season, season, tc.in)
		require.Equal(t, tc.episode, episode, tc.in)
	}
}

func TestParseExtras(t *testing.T) {
	extras := parseExtras("search=the%20example&skip=50.json")
	require.Equal(t, "the example", extras.Get("search"))
	require.Equal(t, "50", extras.Get("skip"))
	require.Empty(t, parseExtras("").Get("search"))
}

func TestCatalogSort(t *testing.T) {
	sort, asc := catalogSort(userdata.UserData{}, "sf_latest")
	require.Equal(t, catalog.SortLatest, sort)
	require.False(t, asc)

	sort, asc = catalogSort(userdata.UserData{}, "sf_popular")
	require.Equal(t, catalog.SortPopular, sort)
	require.False(t, asc)

	sort, _ = catalogSort(userdata.UserData{}, "sf_bogus")
	require.Equal(t, catalog.SortLatest, sort)

	// Title reads naturally ascending.
	sort, asc = catalogSort(userdata.UserData{}, "sf_title")
	require.Equal(t, catalog.SortTitle, sort)
	require.True(t, asc)

	// The user's "key:dir" preference wins, direction included.
	ud := userdata.UserData{CatalogSorts: map[string]string{"sf_latest": "rating:desc"}}
	sort, asc = catalogSort(ud, "sf_latest")
	require.Equal(t, catalog.SortRating, sort)
	require.False(t, asc)

	ud = userdata.UserData{CatalogSorts: map[string]string{"sf_latest": "year:asc"}}
	sort, asc = catalogSort(ud, "sf_latest")
	require.Equal(t, catalog.SortYear, sort)
	require.True(t, asc)
}

func TestManifestHandlerWatchlistCatalogs(t *testing.T) {
	cfg := config{AddonName: "StreamFusion"}
	key := userdata.DeriveKey("test-secret")
	secret, err := userdata.Encode(userdata.UserData{
		Providers: []userdata.StreamingProvider{
			{Service: "realdebrid", Token: "token1", EnableWatchlist: true},
		},
	}, key)
	require.NoError(t, err)

	app := fiber.New()
	handler := createManifestHandler(cfg)
	app.Get("/manifest.json", createUserDataMiddleware(key, zap.NewNop()), handler)
	app.Get("/:userData/manifest.json", createUserDataMiddleware(key, zap.NewNop()), handler)

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/"+secret+"/manifest.json", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	m := stremio.Manifest{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&m))
	var ids []string
	for _, cat := range m.Catalogs {
		ids = append(ids, cat.ID)
	}
	require.Contains(t, ids, "realdebrid_watchlist")

	// Anonymous manifests carry no watchlist catalogs.
	res, err = app.Test(httptest.NewRequest(http.MethodGet, "/manifest.json", nil))
	require.NoError(t, err)
	m = stremio.Manifest{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&m))
	for _, cat := range m.Catalogs {
		require.NotContains(t, cat.ID, "_watchlist")
	}
}

func TestCacheSubmitAndStatus(t *testing.T) {
	kvStore := newTestKV(t)
	app := fiber.New()
	app.Post("/api/v1/cache/status", createCacheStatusHandler(kvStore, zap.NewNop()))
	app.Post("/api/v1/cache/submit", createCacheSubmitHandler(kvStore, zap.NewNop()))

	submit := func(body string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/submit", bytes.NewReader([]byte(body)))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		res, err := app.Test(req)
		require.NoError(t, err)
		return res
	}

	res := submit(`{"service": "realdebrid", "info_hashes": ["` + testInfoHash + `"]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	// Malformed hashes don't make it into the set.
	res = submit(`{"service": "realdebrid", "info_hashes": ["not-a-hash"]}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/status",
		bytes.NewReader([]byte(`{"service": "realdebrid", "info_hashes": ["`+testInfoHash+`", "`+"b"+testInfoHash[1:]+`"]}`)))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	res, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)

	result := struct {
		CachedStatus map[string]bool `json:"cached_status"`
	}{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&result))
	require.True(t, result.CachedStatus[testInfoHash])
	require.False(t, result.CachedStatus["b"+testInfoHash[1:]])
}

func newPlaybackTestApp(t *testing.T) *fiber.App {
	t.Helper()
	store, err := catalog.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.UpsertStream(context.Background(), &catalog.Record{
		Stream:  catalog.Stream{Name: "Example.Movie.2021.1080p.WEB-DL", IsPublic: true},
		Torrent: &catalog.TorrentStream{InfoHash: testInfoHash},
	})
	require.NoError(t, err)

	coord := playback.NewCoordinator(store, newTestKV(t), mediaflow.NewClient(time.Second, nil), playback.Options{
		Secret:   "test-secret",
		AssetURL: "https://assets.example.com",
	})

	cfg := config{AssetURL: "https://assets.example.com"}
	app := fiber.New()
	app.Get("/:userData/playback/:service/:ref/:season?/:episode?/:filename?",
		createPlaybackHandler(coord, createClientIPresolver(mediaflow.NewClient(time.Second, nil), zap.NewNop()), cfg, zap.NewNop()))
	return app
}

func TestPlaybackHandlerBadRef(t *testing.T) {
	app := newPlaybackTestApp(t)
	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/u/playback/realdebrid/not-a-ref/0/0", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestPlaybackHandlerNoProvider(t *testing.T) {
	app := newPlaybackTestApp(t)
	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/u/playback/realdebrid/"+testInfoHash+"/0/0", nil), 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestPlaybackHandlerUnknownStream(t *testing.T) {
	app := newPlaybackTestApp(t)
	unknown := "c" + testInfoHash[1:]
	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/u/playback/realdebrid/"+unknown+"/0/0", nil), 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}
