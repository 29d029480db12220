package realdebrid

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// fakeAPI simulates the RealDebrid REST API with a torrent that needs one
// poll round before it's downloaded.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id": "TORRENT1", "uri": "/torrents/info/TORRENT1"}`)
	})
	mux.HandleFunc("/torrents/info/TORRENT1", func(w http.ResponseWriter, r *http.Request) {
		status := "waiting_files_selection"
		links := "[]"
		if polls > 1 {
			status = "downloaded"
			links = `["https://real-debrid.com/d/LOCKED1"]`
		}
		polls++
		fmt.Fprintf(w, `{
			"id": "TORRENT1",
			"status": %q,
			"links": %v,
			"files": [
				{"id": 1, "path": "/Example.Movie.2020/Example.Movie.2020.1080p.mkv", "bytes": 2000},
				{"id": 2, "path": "/Example.Movie.2020/sample.mkv", "bytes": 10}
			]
		}`, status, links)
	})
	mux.HandleFunc("/torrents/selectFiles/TORRENT1", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "1", r.PostForm.Get("files"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/unrestrict/link", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "https://real-debrid.com/d/LOCKED1", r.PostForm.Get("link"))
		fmt.Fprint(w, `{"download": "https://download.real-debrid.com/v/UNLOCKED1"}`)
	})
	mux.HandleFunc("/torrents/instantAvailability/"+testHash, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{%q: {"rd": [{"1": {}}]}}`, testHash)
	})
	return httptest.NewServer(mux)
}

func newTestClient(baseURL string) *Client {
	return NewClient(provider.Options{
		BaseURL:         baseURL,
		Timeout:         time.Second,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
	})
}

func TestResolve(t *testing.T) {
	srv := fakeAPI(t)
	defer srv.Close()

	client := newTestClient(srv.URL)
	creds := provider.Credentials{Token: "test-token"}
	asset := provider.Asset{
		Name:      "Example.Movie.2020.1080p",
		InfoHash:  testHash,
		MagnetURL: "magnet:?xt=urn:btih:" + testHash,
	}

	streamURL, err := client.Resolve(context.Background(), creds, asset)
	require.NoError(t, err)
	require.Equal(t, "https://download.real-debrid.com/v/UNLOCKED1", streamURL)
}

func TestProbeCache(t *testing.T) {
	srv := fakeAPI(t)
	defer srv.Close()

	client := newTestClient(srv.URL)
	cached, err := client.ProbeCache(context.Background(), provider.Credentials{Token: "test-token"}, []string{testHash})
	require.NoError(t, err)
	require.Equal(t, []string{testHash}, cached)
}

func TestResolvePollTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "TORRENT1"}`)
	})
	mux.HandleFunc("/torrents/info/TORRENT1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "TORRENT1", "status": "downloading", "files": [{"id": 1, "path": "/movie.mkv", "bytes": 100}]}`)
	})
	mux.HandleFunc("/torrents/selectFiles/TORRENT1", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Resolve(context.Background(), provider.Credentials{Token: "t"}, provider.Asset{MagnetURL: "magnet:?"})
	require.Error(t, err)
	require.Equal(t, provider.ClipTorrentNotDownloaded, provider.ClipFor(err))
}

func TestErrorClipMapping(t *testing.T) {
	for _, tc := range []struct {
		status int
		clip   string
	}{
		{http.StatusUnauthorized, provider.ClipInvalidToken},
		{http.StatusPaymentRequired, provider.ClipNeedPremium},
		{http.StatusTooManyRequests, provider.ClipTooManyRequests},
		{http.StatusBadGateway, provider.ClipServiceDown},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := newTestClient(srv.URL)
		err := client.Validate(context.Background(), provider.Credentials{Token: "t"})
		require.Error(t, err)
		require.Equal(t, tc.clip, provider.ClipFor(err), "status %v", tc.status)
		srv.Close()
	}
}
