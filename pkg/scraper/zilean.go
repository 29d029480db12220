package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/doingodswork/streamfusion/pkg/catalog"
)

// Zilean queries a Debrid Media Manager hash aggregator. Results are bare
// (hash, raw title, size) tuples with no seeder data.
type Zilean struct {
	source
	fetcher *Fetcher
	baseURL string
}

func NewZilean(fetcher *Fetcher, baseURL string, ttl time.Duration) *Zilean {
	if ttl == 0 {
		ttl = 6 * time.Hour
	}
	return &Zilean{source: source{name: "zilean", ttl: ttl}, fetcher: fetcher, baseURL: baseURL}
}

func (z *Zilean) Scrape(ctx context.Context, q Query) ([]catalog.Record, error) {
	if z.baseURL == "" {
		return nil, nil
	}
	values := url.Values{}
	values.Set("query", q.Media.Title)
	if q.IsSeries() {
		values.Set("season", strconv.Itoa(q.Season))
		values.Set("episode", strconv.Itoa(q.Episode))
	} else if q.Media.Year != 0 {
		values.Set("year", strconv.Itoa(q.Media.Year))
	}
	reqURL := strings.TrimSuffix(z.baseURL, "/") + "/dmm/filtered?" + values.Encode()

	resBody, err := z.fetcher.Fetch(ctx, "zilean", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't query zilean: %w", err)
	}

	var recs []catalog.Record
	for _, entry := range gjson.ParseBytes(resBody).Array() {
		infoHash := strings.ToLower(entry.Get("info_hash").String())
		if !catalog.ValidInfoHash(infoHash) {
			continue
		}
		recs = append(recs, catalog.Record{
			Stream: catalog.Stream{
				Name:     entry.Get("raw_title").String(),
				Source:   "zilean",
				Size:     entry.Get("size").Int(),
				IsActive: true,
				IsPublic: true,
			},
			Torrent: &catalog.TorrentStream{InfoHash: infoHash},
		})
	}
	return recs, nil
}
