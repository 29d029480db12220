package playback

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/kv"
	"github.com/doingodswork/streamfusion/pkg/mediaflow"
	"github.com/doingodswork/streamfusion/pkg/provider"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type stubResolver struct {
	url   string
	err   error
	delay time.Duration

	mu       sync.Mutex
	calls    int
	gotAsset provider.Asset
}

func (s *stubResolver) Name() string { return "stub" }
func (s *stubResolver) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.calls++
	s.gotAsset = asset
	s.mu.Unlock()
	return s.url, s.err
}

func (s *stubResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
func (s *stubResolver) ProbeCache(ctx context.Context, creds provider.Credentials, hashes []string) ([]string, error) {
	return nil, nil
}
func (s *stubResolver) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	return nil, nil
}
func (s *stubResolver) DeleteAll(ctx context.Context, creds provider.Credentials) error { return nil }
func (s *stubResolver) Validate(ctx context.Context, creds provider.Credentials) error  { return nil }

func newTestCoordinator(t *testing.T, stub provider.Resolver) (*Coordinator, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	kvStore := kv.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)

	c := NewCoordinator(store, kvStore, mediaflow.NewClient(0, nil), Options{
		Secret:   "test-secret",
		AssetURL: "https://assets.example.com",
	})
	c.newResolver = func(service string, opts provider.Options) (provider.Resolver, error) {
		return stub, nil
	}
	return c, store
}

func seedTorrentStream(t *testing.T, store *catalog.Store) {
	t.Helper()
	media := &catalog.Media{Type: catalog.TypeMovie, Title: "Example Movie", Year: 2020}
	require.NoError(t, store.CreateMedia(context.Background(), media))
	_, err := store.UpsertStream(context.Background(), &catalog.Record{
		Stream:     catalog.Stream{Name: "Example.Movie.2020.1080p", Source: "test", Size: 1000, IsActive: true, IsPublic: true},
		Torrent:    &catalog.TorrentStream{InfoHash: testHash},
		MediaLinks: []catalog.MediaLink{{MediaID: media.ID, IsPrimary: true}},
	})
	require.NoError(t, err)
}

func baseRequest() Request {
	return Request{
		UserData: userdata.UserData{},
		Provider: &userdata.StreamingProvider{Service: "stub", Token: "t"},
		ClientIP: "198.51.100.1",
		Secret:   "envelope-a",
		InfoHash: testHash,
	}
}

func TestResolveFreshThenCached(t *testing.T) {
	stub := &stubResolver{url: "https://cdn.example.com/v/1"}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	res, err := c.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	require.True(t, res.Fresh)
	require.Equal(t, "https://cdn.example.com/v/1", res.URL)

	// Second request within the window never reaches the provider.
	res, err = c.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	require.False(t, res.Fresh)
	require.Equal(t, "https://cdn.example.com/v/1", res.URL)
	require.Equal(t, 1, stub.calls)
}

func TestResolveProviderErrorClip(t *testing.T) {
	stub := &stubResolver{err: provider.NewError(provider.ClipTooManyRequests, "slow down")}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	res, err := c.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	require.False(t, res.Fresh)
	require.Equal(t, "https://assets.example.com/"+provider.ClipTooManyRequests, res.URL)
}

func TestResolveUnknownErrorClip(t *testing.T) {
	stub := &stubResolver{err: context.DeadlineExceeded}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	res, err := c.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, "https://assets.example.com/"+provider.ClipAPIError, res.URL)
}

func TestResolveNoMatchingFileBlocksStream(t *testing.T) {
	stub := &stubResolver{err: provider.NewError(provider.ClipNoMatchingFile, "dead container")}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	_, err := c.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)

	_, err = store.StreamByInfoHash(context.Background(), testHash)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestResolveStreamNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t, &stubResolver{url: "x"})
	_, err := c.Resolve(context.Background(), baseRequest())
	require.ErrorIs(t, err, ErrStreamNotFound)
}

func TestResolveNoProvider(t *testing.T) {
	stub := &stubResolver{url: "x"}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	req := baseRequest()
	req.Provider = nil
	_, err := c.Resolve(context.Background(), req)
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestResolveMediaFlowWrap(t *testing.T) {
	stub := &stubResolver{url: "https://cdn.example.com/v/movie.mkv"}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	req := baseRequest()
	req.Provider.UseMediaFlow = true
	req.UserData.MediaFlow = &userdata.MediaFlowConfig{ProxyURL: "https://proxy.example.com", APIPassword: "pw"}

	res, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	parsed, err := url.Parse(res.URL)
	require.NoError(t, err)
	require.Equal(t, "proxy.example.com", parsed.Host)
	require.Equal(t, "https://cdn.example.com/v/movie.mkv", parsed.Query().Get("d"))
	require.Equal(t, "movie.mkv", parsed.Query().Get("filename"))
}

// listingStub also reports the container's files, like the debrid adapters.
type listingStub struct {
	stubResolver
	files []provider.File
}

func (s *listingStub) ListFiles(ctx context.Context, creds provider.Credentials, asset provider.Asset) ([]provider.File, error) {
	return s.files, nil
}

type captureNotifier struct {
	ch chan []provider.File
}

func (n *captureNotifier) AnnotationNeeded(_ context.Context, infoHash string, files []provider.File) {
	n.ch <- files
}

// A failed episode match submits the container listing for annotation, once
// per back-off window.
func TestResolveEpisodeNotFoundAnnotation(t *testing.T) {
	stub := &listingStub{
		stubResolver: stubResolver{err: provider.NewError(provider.ClipEpisodeNotFound, "no file matches S01E05")},
		files: []provider.File{
			{Index: 0, Name: "Example.Show.Part1.mkv", Size: 1000},
			{Index: 1, Name: "Example.Show.Part2.mkv", Size: 1000},
		},
	}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)
	notifier := &captureNotifier{ch: make(chan []provider.File, 1)}
	c.SetNotifier(notifier)

	req := baseRequest()
	req.Season, req.Episode = 1, 5
	res, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "https://assets.example.com/"+provider.ClipEpisodeNotFound, res.URL)

	select {
	case files := <-notifier.ch:
		require.Len(t, files, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no annotation request arrived")
	}

	// The back-off guard keeps a repeat failure quiet.
	req.Episode = 6
	_, err = c.Resolve(context.Background(), req)
	require.NoError(t, err)
	select {
	case <-notifier.ch:
		t.Fatal("annotation request repeated within the back-off window")
	case <-time.After(100 * time.Millisecond):
	}
}

// The client's filename hint drives file selection and the proxy wrap.
func TestResolveFilenameHint(t *testing.T) {
	stub := &stubResolver{url: "https://cdn.example.com/v/abc"}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	req := baseRequest()
	req.Filename = "Example.Movie.2020.1080p.mkv"
	req.Provider.UseMediaFlow = true
	req.UserData.MediaFlow = &userdata.MediaFlowConfig{ProxyURL: "https://proxy.example.com", APIPassword: "pw"}

	res, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "Example.Movie.2020.1080p.mkv", stub.gotAsset.Filename)

	parsed, err := url.Parse(res.URL)
	require.NoError(t, err)
	require.Equal(t, "Example.Movie.2020.1080p.mkv", parsed.Query().Get("filename"))
}

func TestResolveHTTPStreamByID(t *testing.T) {
	c, store := newTestCoordinator(t, &stubResolver{})
	media := &catalog.Media{Type: catalog.TypeMovie, Title: "Example Movie", Year: 2020}
	require.NoError(t, store.CreateMedia(context.Background(), media))
	streamID, err := store.UpsertStream(context.Background(), &catalog.Record{
		Stream:     catalog.Stream{Name: "Example Movie HTTP", Source: "test", IsActive: true, IsPublic: true},
		HTTP:       &catalog.HTTPStream{URL: "https://stream.example.com/live.m3u8"},
		MediaLinks: []catalog.MediaLink{{MediaID: media.ID, IsPrimary: true}},
	})
	require.NoError(t, err)

	req := baseRequest()
	req.InfoHash = ""
	req.StreamID = streamID
	res, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Fresh)
	require.Equal(t, "https://stream.example.com/live.m3u8", res.URL)
}

func TestResolveAnonymousTracking(t *testing.T) {
	stub := &stubResolver{url: "https://cdn.example.com/v/1"}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	_, err := c.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		row, err := store.StreamByInfoHash(context.Background(), testHash)
		return err == nil && row.PlaybackCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveAuthenticatedTracking(t *testing.T) {
	stub := &stubResolver{url: "https://cdn.example.com/v/1"}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	req := baseRequest()
	req.UserData.UserID = "user-1"
	_, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)

	row, err := store.StreamByInfoHash(context.Background(), testHash)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		tracking, err := store.GetPlayback(context.Background(), "user-1", row.ID, 0, 0)
		return err == nil && tracking.PlayCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFingerprintVariesByInput(t *testing.T) {
	c, _ := newTestCoordinator(t, &stubResolver{})
	a := c.fingerprint(baseRequest())
	require.True(t, strings.HasPrefix(a, "streaming_provider_"))

	b := baseRequest()
	b.Episode = 2
	require.NotEqual(t, a, c.fingerprint(b))

	d := baseRequest()
	d.ClientIP = "203.0.113.9"
	require.NotEqual(t, a, c.fingerprint(d))

	e := baseRequest()
	e.Secret = "envelope-b"
	require.NotEqual(t, a, c.fingerprint(e))
}

// Two accounts behind one IP must not share a cache entry: each envelope
// mints its own URL.
func TestResolveDistinctUsersSameIP(t *testing.T) {
	stub := &stubResolver{url: "https://cdn.example.com/v/1"}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	res, err := c.Resolve(context.Background(), baseRequest())
	require.NoError(t, err)
	require.True(t, res.Fresh)

	other := baseRequest()
	other.Secret = "envelope-b"
	other.Provider = &userdata.StreamingProvider{Service: "stub", Token: "other-token"}
	res, err = c.Resolve(context.Background(), other)
	require.NoError(t, err)
	require.True(t, res.Fresh)
	require.Equal(t, 2, stub.callCount())
}

// Concurrent requests on one fingerprint reach the provider exactly once;
// the rest wait on the lock and read the cached URL.
func TestResolveConcurrentSingleMint(t *testing.T) {
	stub := &stubResolver{url: "https://cdn.example.com/v/1", delay: 50 * time.Millisecond}
	c, store := newTestCoordinator(t, stub)
	seedTorrentStream(t, store)

	const n = 8
	results := make(chan Result, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Resolve(context.Background(), baseRequest())
			results <- res
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	fresh := 0
	for res := range results {
		require.Equal(t, "https://cdn.example.com/v/1", res.URL)
		if res.Fresh {
			fresh++
		}
	}
	require.Equal(t, 1, fresh)
	require.Equal(t, 1, stub.callCount())
}
