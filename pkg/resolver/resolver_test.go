package resolver

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/kv"
	"github.com/doingodswork/streamfusion/pkg/provider"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

type stubProber struct {
	cached []string
}

func (s *stubProber) Name() string { return "stub" }
func (s *stubProber) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	return "", nil
}
func (s *stubProber) ProbeCache(ctx context.Context, creds provider.Credentials, hashes []string) ([]string, error) {
	return s.cached, nil
}
func (s *stubProber) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	return nil, nil
}
func (s *stubProber) DeleteAll(ctx context.Context, creds provider.Credentials) error { return nil }
func (s *stubProber) Validate(ctx context.Context, creds provider.Credentials) error  { return nil }

func newTestResolver(t *testing.T) (*Resolver, *catalog.Store, *stubProber) {
	t.Helper()
	store, err := catalog.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	kvStore := kv.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)

	prober := &stubProber{}
	r := New(store, kvStore, Options{BaseURL: "https://addon.example.com"})
	r.newResolver = func(service string, opts provider.Options) (provider.Resolver, error) {
		return prober, nil
	}
	return r, store, prober
}

func seedMedia(t *testing.T, store *catalog.Store) int64 {
	t.Helper()
	media := &catalog.Media{Type: catalog.TypeMovie, Title: "Example Movie", Year: 2020}
	require.NoError(t, store.CreateMedia(context.Background(), media))
	require.NoError(t, store.SetExternalID(context.Background(), media.ID, catalog.ProviderIMDB, "tt0000001"))
	return media.ID
}

func seedTorrent(t *testing.T, store *catalog.Store, mediaID int64, n int) []string {
	t.Helper()
	hashes := make([]string, n)
	for i := 0; i < n; i++ {
		hashes[i] = fmt.Sprintf("%040x", i+1)
		_, err := store.UpsertStream(context.Background(), &catalog.Record{
			Stream: catalog.Stream{
				Name: fmt.Sprintf("Example.Movie.2020.1080p.x264-%v", i), Source: "test",
				Size: int64(1000 - i), Resolution: "1080p", Codec: "x264",
				IsActive: true, IsPublic: true,
			},
			Torrent:    &catalog.TorrentStream{InfoHash: hashes[i], Seeders: 10},
			MediaLinks: []catalog.MediaLink{{MediaID: mediaID, IsPrimary: true}},
		})
		require.NoError(t, err)
	}
	return hashes
}

func seedHTTP(t *testing.T, store *catalog.Store, mediaID int64) {
	t.Helper()
	_, err := store.UpsertStream(context.Background(), &catalog.Record{
		Stream:     catalog.Stream{Name: "Example Movie Stream", Source: "iptv", IsActive: true, IsPublic: true},
		HTTP:       &catalog.HTTPStream{URL: "https://live.example.com/1.m3u8"},
		MediaLinks: []catalog.MediaLink{{MediaID: mediaID, IsPrimary: true}},
	})
	require.NoError(t, err)
}

func baseRequest(ud userdata.UserData) Request {
	return Request{ExternalID: "tt0000001", Type: catalog.TypeMovie, Secret: "SECRET", UserData: ud}
}

func TestStreamsUnknownMedia(t *testing.T) {
	r, _, _ := newTestResolver(t)
	items, err := r.Streams(context.Background(), Request{ExternalID: "tt9999999"})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestStreamsWithProviderURLs(t *testing.T) {
	r, store, _ := newTestResolver(t)
	mediaID := seedMedia(t, store)
	hashes := seedTorrent(t, store, mediaID, 2)

	ud := userdata.UserData{Providers: []userdata.StreamingProvider{{Service: "realdebrid", Token: "t"}}}
	items, err := r.Streams(context.Background(), baseRequest(ud))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "https://addon.example.com/SECRET/playback/realdebrid/"+hashes[0]+"/0/0", items[0].URL)
	require.Contains(t, items[0].Name, "RD")
	require.Contains(t, items[0].Name, "1080p")
	require.Contains(t, items[0].Description, "💾")
	require.Equal(t, "streamfusion|1080p|x264", items[0].BehaviorHints.BingeGroup)
}

// A row with a known file carries it as the playback URL's last segment, so
// the coordinator gets its file-selection hint.
func TestStreamsFilenameSegment(t *testing.T) {
	r, store, _ := newTestResolver(t)
	mediaID := seedMedia(t, store)
	_, err := store.UpsertStream(context.Background(), &catalog.Record{
		Stream: catalog.Stream{
			Name: "Example.Movie.2020.1080p.x264", Source: "test",
			Size: 2000, IsActive: true, IsPublic: true,
		},
		Torrent:    &catalog.TorrentStream{InfoHash: fmt.Sprintf("%040x", 99)},
		Files:      []catalog.StreamFile{{FileIndex: 0, Filename: "Example.Movie.2020.1080p.mkv", Size: 2000, FileType: "video"}},
		MediaLinks: []catalog.MediaLink{{MediaID: mediaID, IsPrimary: true}},
	})
	require.NoError(t, err)

	ud := userdata.UserData{Providers: []userdata.StreamingProvider{{Service: "realdebrid", Token: "t"}}}
	items, err := r.Streams(context.Background(), baseRequest(ud))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, strings.HasSuffix(items[0].URL, "/0/0/Example.Movie.2020.1080p.mkv"), items[0].URL)
}

func TestStreamsWithoutProviderFallsBackToInfoHash(t *testing.T) {
	r, store, _ := newTestResolver(t)
	mediaID := seedMedia(t, store)
	hashes := seedTorrent(t, store, mediaID, 1)

	items, err := r.Streams(context.Background(), baseRequest(userdata.UserData{}))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Empty(t, items[0].URL)
	require.Equal(t, hashes[0], items[0].InfoHash)
	require.Contains(t, items[0].Sources, "dht:"+hashes[0])
}

func TestStreamsCategoryMatrix(t *testing.T) {
	r, store, _ := newTestResolver(t)
	mediaID := seedMedia(t, store)
	seedHTTP(t, store, mediaID)
	_, err := store.UpsertStream(context.Background(), &catalog.Record{
		Stream:     catalog.Stream{Name: "Example.Movie.2020.1080p-NZB", Source: "nzbindexer", IsActive: true, IsPublic: true},
		Usenet:     &catalog.UsenetStream{NZBGUID: "guid-1", Indexer: "nzbindexer"},
		MediaLinks: []catalog.MediaLink{{MediaID: mediaID, IsPrimary: true}},
	})
	require.NoError(t, err)

	// Usenet opt-in without an NZB-capable provider stays hidden.
	ud := userdata.UserData{EnableUsenetStreams: true}
	items, err := r.Streams(context.Background(), baseRequest(ud))
	require.NoError(t, err)
	require.Len(t, items, 1) // http only

	ud.Providers = []userdata.StreamingProvider{{Service: "sabnzbd", URL: "http://sab.local"}}
	items, err = r.Streams(context.Background(), baseRequest(ud))
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		if strings.Contains(item.Description, "📰") {
			require.Contains(t, item.URL, "/playback/sabnzbd/")
		}
	}
}

func TestStreamsGroupingMixed(t *testing.T) {
	r, store, _ := newTestResolver(t)
	mediaID := seedMedia(t, store)
	seedTorrent(t, store, mediaID, 2)
	seedHTTP(t, store, mediaID)

	ud := userdata.UserData{
		Providers:      []userdata.StreamingProvider{{Service: "realdebrid", Token: "t"}},
		CategoryOrder:  []string{CategoryTorrent, CategoryHTTP},
		StreamGrouping: userdata.GroupingMixed,
	}
	items, err := r.Streams(context.Background(), baseRequest(ud))
	require.NoError(t, err)
	require.Len(t, items, 3)
	// Round-robin: torrent, http, torrent.
	require.Contains(t, items[0].URL, "/playback/realdebrid/")
	require.Contains(t, items[1].URL, "/playback/http/")
	require.Contains(t, items[2].URL, "/playback/realdebrid/")
}

func TestStreamsMaxStreamsTruncation(t *testing.T) {
	r, store, _ := newTestResolver(t)
	mediaID := seedMedia(t, store)
	seedTorrent(t, store, mediaID, 5)

	ud := userdata.UserData{
		Providers:  []userdata.StreamingProvider{{Service: "realdebrid", Token: "t"}},
		MaxStreams: 3,
	}
	items, err := r.Streams(context.Background(), baseRequest(ud))
	require.NoError(t, err)
	require.Len(t, items, 3)
}

func TestStreamsOnlyCachedFilter(t *testing.T) {
	r, store, prober := newTestResolver(t)
	mediaID := seedMedia(t, store)
	hashes := seedTorrent(t, store, mediaID, 3)
	prober.cached = hashes[:1]

	ud := userdata.UserData{
		Providers: []userdata.StreamingProvider{{Service: "realdebrid", Token: "t", OnlyShowCachedStreams: true}},
	}
	items, err := r.Streams(context.Background(), baseRequest(ud))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Contains(t, items[0].Name, "⚡")
	require.Contains(t, items[0].URL, hashes[0])
}

func TestStreamsDeterministicOrder(t *testing.T) {
	r, store, _ := newTestResolver(t)
	mediaID := seedMedia(t, store)
	seedTorrent(t, store, mediaID, 4)

	ud := userdata.UserData{Providers: []userdata.StreamingProvider{{Service: "realdebrid", Token: "t"}}}
	first, err := r.Streams(context.Background(), baseRequest(ud))
	require.NoError(t, err)
	second, err := r.Streams(context.Background(), baseRequest(ud))
	require.NoError(t, err)
	require.Equal(t, first, second)
}
