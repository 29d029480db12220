package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

const torznabResponse = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <item>
      <title>Example.Movie.2020.1080p.BluRay.x264</title>
      <guid>https://indexer.example.com/details/1</guid>
      <size>2000000000</size>
      <torznab:attr name="seeders" value="42"/>
      <torznab:attr name="infohash" value="AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"/>
      <torznab:attr name="magneturl" value="magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa&amp;tr=udp%3A%2F%2Ftracker.example.com%3A1337"/>
    </item>
    <item>
      <title>Result.Without.A.Hash.2020.720p</title>
      <guid>https://indexer.example.com/details/2</guid>
      <size>1000000000</size>
    </item>
  </channel>
</rss>`

func TestTorznabScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api", r.URL.Path)
		require.Equal(t, "secret", r.URL.Query().Get("apikey"))
		require.Equal(t, "search", r.URL.Query().Get("t"))
		require.Equal(t, "Example Movie", r.URL.Query().Get("q"))
		io.WriteString(w, torznabResponse)
	}))
	defer srv.Close()

	fetcher, err := NewFetcher(FetcherOptions{})
	require.NoError(t, err)
	scraper := NewTorznab(fetcher, 0, nil)

	q := Query{
		Media: catalog.Media{ID: 1, Type: catalog.TypeMovie, Title: "Example Movie", Year: 2020},
		UserData: userdata.UserData{
			Torznab: []userdata.IndexerConfig{{Name: "test-indexer", URL: srv.URL, APIKey: "secret"}},
		},
	}
	recs, err := scraper.Scrape(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	require.Equal(t, "Example.Movie.2020.1080p.BluRay.x264", rec.Stream.Name)
	require.Equal(t, "test-indexer", rec.Stream.Source)
	require.EqualValues(t, 2000000000, rec.Stream.Size)
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", rec.Torrent.InfoHash)
	require.Equal(t, 42, rec.Torrent.Seeders)
	require.Equal(t, []string{"udp://tracker.example.com:1337"}, rec.Torrent.AnnounceList)
}

func TestTorznabSeriesQueryShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tvsearch", r.URL.Query().Get("t"))
		require.Equal(t, "1", r.URL.Query().Get("season"))
		require.Equal(t, "2", r.URL.Query().Get("ep"))
		fmt.Fprint(w, `<rss><channel></channel></rss>`)
	}))
	defer srv.Close()

	fetcher, err := NewFetcher(FetcherOptions{})
	require.NoError(t, err)
	scraper := NewTorznab(fetcher, 0, nil)

	q := Query{
		Media:   catalog.Media{ID: 2, Type: catalog.TypeSeries, Title: "Example Show"},
		Season:  1,
		Episode: 2,
		UserData: userdata.UserData{
			Torznab: []userdata.IndexerConfig{{URL: srv.URL}},
		},
	}
	recs, err := scraper.Scrape(context.Background(), q)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestParseMagnet(t *testing.T) {
	hash, trackers := ParseMagnet("magnet:?xt=urn:btih:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA&dn=x&tr=udp%3A%2F%2Ft1%2Fannounce&tr=udp%3A%2F%2Ft2%2Fannounce")
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", hash)
	require.Equal(t, []string{"udp://t1/announce", "udp://t2/announce"}, trackers)

	hash, trackers = ParseMagnet("https://example.com/not-a-magnet")
	require.Empty(t, hash)
	require.Nil(t, trackers)
}

func TestBuildMagnet(t *testing.T) {
	magnet := BuildMagnet("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "Example Movie", []string{"udp://t1/announce"})
	hash, trackers := ParseMagnet(magnet)
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", hash)
	require.Equal(t, []string{"udp://t1/announce"}, trackers)
}

func TestParseHumanSize(t *testing.T) {
	require.EqualValues(t, 1<<30, parseHumanSize("1.0 GB"))
	require.EqualValues(t, 512*(1<<20), parseHumanSize("512 MiB"))
	require.EqualValues(t, 0, parseHumanSize("unknown"))
}
