package offcloud

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

func newTestClient(baseURL string) *Client {
	return NewClient(provider.Options{
		BaseURL:         baseURL,
		Timeout:         time.Second,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
	})
}

func testAsset() provider.Asset {
	return provider.Asset{
		Name:      "Example.Movie.2020.1080p",
		InfoHash:  testHash,
		MagnetURL: "magnet:?xt=urn:btih:" + testHash,
	}
}

// The history already holds the torrent: Resolve must reuse its request ID
// instead of adding the magnet again.
func TestResolveFromHistory(t *testing.T) {
	added := false
	mux := http.NewServeMux()
	mux.HandleFunc("/cloud/history", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		fmt.Fprintf(w, `[{
			"requestId": "REQ1",
			"status": "downloaded",
			"fileName": "Example.Movie.2020.1080p.mkv",
			"originalLink": "magnet:?xt=urn:btih:%v"
		}]`, testHash)
	})
	mux.HandleFunc("/cloud", func(w http.ResponseWriter, r *http.Request) {
		added = true
		fmt.Fprint(w, `{"requestId": "REQ-NEW"}`)
	})
	mux.HandleFunc("/cloud/status/REQ1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": {"status": "downloaded"}}`)
	})
	mux.HandleFunc("/cloud/explore/REQ1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["https://dl.offcloud.com/REQ1/Example.Movie.2020.1080p.mkv"]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(srv.URL)
	streamURL, err := client.Resolve(context.Background(), provider.Credentials{Token: "test-key"}, testAsset())
	require.NoError(t, err)
	require.Equal(t, "https://dl.offcloud.com/REQ1/Example.Movie.2020.1080p.mkv", streamURL)
	require.False(t, added, "history hit must not add the magnet again")
}

// An empty history forces the fresh /cloud add, followed by one poll round.
func TestResolveFreshAdd(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/cloud/history", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/cloud", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "magnet:?xt=urn:btih:"+testHash, r.PostForm.Get("url"))
		fmt.Fprint(w, `{"requestId": "REQ2"}`)
	})
	mux.HandleFunc("/cloud/status/REQ2", func(w http.ResponseWriter, r *http.Request) {
		status := "downloading"
		if polls > 0 {
			status = "downloaded"
		}
		polls++
		fmt.Fprintf(w, `{"status": {"status": %q}}`, status)
	})
	mux.HandleFunc("/cloud/explore/REQ2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["https://dl.offcloud.com/REQ2/Example.Movie.2020.1080p.mkv"]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(srv.URL)
	streamURL, err := client.Resolve(context.Background(), provider.Credentials{Token: "test-key"}, testAsset())
	require.NoError(t, err)
	require.Equal(t, "https://dl.offcloud.com/REQ2/Example.Movie.2020.1080p.mkv", streamURL)
	require.GreaterOrEqual(t, polls, 2)
}

func TestResolveRejectedMagnet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cloud/history", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/cloud", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "premium membership required"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Resolve(context.Background(), provider.Credentials{Token: "test-key"}, testAsset())
	require.Error(t, err)
	require.Equal(t, provider.ClipNeedPremium, provider.ClipFor(err))
}

// ListDownloaded keeps only finished entries and extracts the info hash from
// the original magnet link.
func TestListDownloaded(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cloud/history", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[
			{"requestId": "REQ1", "status": "downloaded", "fileName": "Example.Movie.2020.1080p.mkv", "originalLink": "magnet:?xt=urn:btih:%v"},
			{"requestId": "REQ2", "status": "downloading", "fileName": "Other.Movie.2021.mkv", "originalLink": "magnet:?xt=urn:btih:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}
		]`, testHash)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(srv.URL)
	items, err := client.ListDownloaded(context.Background(), provider.Credentials{Token: "test-key"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Example.Movie.2020.1080p.mkv", items[0].Name)
	require.Equal(t, testHash, items[0].InfoHash)
}
