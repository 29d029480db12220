package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/doingodswork/streamfusion/pkg/catalog"
)

const defaultYTSBaseURL = "https://yts.mx"

// YTS info hashes are announced on a fixed public tracker set.
var ytsTrackers = []string{
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.openbittorrent.com:80",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://p4p.arenabg.com:1337",
	"udp://tracker.leechers-paradise.org:6969",
}

// YTS queries the yts.mx JSON API. Movies only, looked up by IMDb ID.
type YTS struct {
	source
	fetcher *Fetcher
	baseURL string
}

func NewYTS(fetcher *Fetcher, baseURL string, ttl time.Duration) *YTS {
	if baseURL == "" {
		baseURL = defaultYTSBaseURL
	}
	if ttl == 0 {
		ttl = 12 * time.Hour
	}
	return &YTS{source: source{name: "yts", ttl: ttl}, fetcher: fetcher, baseURL: baseURL}
}

func (y *YTS) Scrape(ctx context.Context, q Query) ([]catalog.Record, error) {
	if q.IsSeries() || q.IMDBID == "" {
		return nil, nil
	}
	reqURL := y.baseURL + "/api/v2/list_movies.json?query_term=" + url.QueryEscape(q.IMDBID)
	resBody, err := y.fetcher.Fetch(ctx, "yts", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't query YTS: %w", err)
	}

	var recs []catalog.Record
	for _, movie := range gjson.GetBytes(resBody, "data.movies").Array() {
		titleLong := movie.Get("title_long").String()
		for _, torrent := range movie.Get("torrents").Array() {
			infoHash := strings.ToLower(torrent.Get("hash").String())
			if !catalog.ValidInfoHash(infoHash) {
				continue
			}
			name := fmt.Sprintf("%v %v %v YTS", titleLong, torrent.Get("quality").String(), torrent.Get("type").String())
			recs = append(recs, catalog.Record{
				Stream: catalog.Stream{
					Name:     name,
					Source:   "yts",
					Size:     torrent.Get("size_bytes").Int(),
					IsActive: true,
					IsPublic: true,
				},
				Torrent: &catalog.TorrentStream{
					InfoHash:     infoHash,
					AnnounceList: ytsTrackers,
					Seeders:      int(torrent.Get("seeds").Int()),
				},
			})
		}
	}
	return recs, nil
}
