package scraper

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

// Torznab indexers are chunked so the outer HTTP concurrency stays bounded
// no matter how many endpoints the user configured.
const torznabChunkSize = 3

// Torznab queries Jackett/Prowlarr-compatible indexers.
type Torznab struct {
	source
	fetcher *Fetcher
	logger  *zap.Logger
}

func NewTorznab(fetcher *Fetcher, ttl time.Duration, logger *zap.Logger) *Torznab {
	if ttl == 0 {
		ttl = 3 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Torznab{source: source{name: "torznab", ttl: ttl}, fetcher: fetcher, logger: logger}
}

func (t *Torznab) Scrape(ctx context.Context, q Query) ([]catalog.Record, error) {
	indexers := q.UserData.Torznab
	if len(indexers) == 0 {
		return nil, nil
	}

	var (
		g       errgroup.Group
		results = make([][]catalog.Record, (len(indexers)+torznabChunkSize-1)/torznabChunkSize)
	)
	for i := 0; i < len(indexers); i += torznabChunkSize {
		chunk := indexers[i : min(i+torznabChunkSize, len(indexers))]
		slot := i / torznabChunkSize
		g.Go(func() error {
			var errs error
			for _, indexer := range chunk {
				recs, err := t.scrapeIndexer(ctx, indexer, q)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				results[slot] = append(results[slot], recs...)
			}
			return errs
		})
	}
	err := g.Wait()

	var recs []catalog.Record
	for _, chunk := range results {
		recs = append(recs, chunk...)
	}
	// Partial indexer failures don't void the fan-out.
	if len(recs) > 0 {
		if err != nil {
			t.logger.Warn("Some torznab indexers failed", zap.Error(err))
		}
		return recs, nil
	}
	return nil, err
}

func (t *Torznab) scrapeIndexer(ctx context.Context, indexer userdata.IndexerConfig, q Query) ([]catalog.Record, error) {
	values := url.Values{}
	values.Set("apikey", indexer.APIKey)
	values.Set("q", q.Media.Title)
	if q.IsSeries() {
		values.Set("t", "tvsearch")
		values.Set("season", strconv.Itoa(q.Season))
		values.Set("ep", strconv.Itoa(q.Episode))
		values.Set("cat", "5000")
	} else {
		values.Set("t", "search")
		values.Set("cat", "2000")
	}
	reqURL := strings.TrimSuffix(indexer.URL, "/") + "/api?" + values.Encode()

	resBody, err := t.fetcher.Fetch(ctx, indexerName(indexer), reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't query torznab indexer %v: %w", indexerName(indexer), err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(resBody, &feed); err != nil {
		return nil, fmt.Errorf("couldn't parse torznab response from %v: %v", indexerName(indexer), err)
	}

	var recs []catalog.Record
	for _, item := range feed.Items {
		infoHash := strings.ToLower(item.attr("infohash"))
		var trackers []string
		if magnetURL := item.attr("magneturl"); magnetURL != "" {
			hash, tr := ParseMagnet(magnetURL)
			if infoHash == "" {
				infoHash = hash
			}
			trackers = tr
		}
		if !catalog.ValidInfoHash(infoHash) {
			continue
		}
		seeders, _ := strconv.Atoi(item.attr("seeders"))
		recs = append(recs, catalog.Record{
			Stream: catalog.Stream{
				Name:     item.Title,
				Source:   indexerName(indexer),
				Size:     item.Size,
				IsActive: true,
				IsPublic: true,
			},
			Torrent: &catalog.TorrentStream{
				InfoHash:     infoHash,
				AnnounceList: trackers,
				Seeders:      seeders,
			},
		})
	}
	return recs, nil
}

func indexerName(indexer userdata.IndexerConfig) string {
	if indexer.Name != "" {
		return indexer.Name
	}
	return indexer.URL
}

// rssFeed covers both Torznab and Newznab responses; the attr elements live
// in different namespaces but share the local name.
type rssFeed struct {
	Items []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title     string       `xml:"title"`
	GUID      string       `xml:"guid"`
	Link      string       `xml:"link"`
	Size      int64        `xml:"size"`
	Enclosure rssEnclosure `xml:"enclosure"`
	Attrs     []rssAttr    `xml:"attr"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
}

type rssAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (i rssItem) attr(name string) string {
	for _, a := range i.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}
