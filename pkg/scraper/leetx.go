package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/catalog"
)

const defaultLeetxBaseURL = "https://1337x.to"

// Each search hit costs a detail-page fetch, so the result set is capped.
const leetxMaxResults = 10

// Leetx scrapes 1337x search and detail pages. The site has no API, so this
// is plain HTML scraping and usually needs the SOCKS5 egress.
type Leetx struct {
	source
	fetcher *Fetcher
	baseURL string
	logger  *zap.Logger
}

func NewLeetx(fetcher *Fetcher, baseURL string, ttl time.Duration, logger *zap.Logger) *Leetx {
	if baseURL == "" {
		baseURL = defaultLeetxBaseURL
	}
	if ttl == 0 {
		ttl = 6 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Leetx{source: source{name: "1337x", ttl: ttl}, fetcher: fetcher, baseURL: baseURL, logger: logger}
}

func (l *Leetx) Scrape(ctx context.Context, q Query) ([]catalog.Record, error) {
	searchTerm := q.Media.Title
	if q.IsSeries() {
		searchTerm = fmt.Sprintf("%v S%02dE%02d", q.Media.Title, q.Season, q.Episode)
	}
	reqURL := l.baseURL + "/search/" + url.PathEscape(searchTerm) + "/1/"
	resBody, err := l.fetcher.Fetch(ctx, "1337x", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't search 1337x: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resBody))
	if err != nil {
		return nil, fmt.Errorf("couldn't parse 1337x search page: %v", err)
	}

	type hit struct {
		detailPath string
		seeders    int
	}
	var hits []hit
	doc.Find("table.table-list tbody tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		detailPath, ok := row.Find("td.name a[href^='/torrent/']").Attr("href")
		if !ok {
			return true
		}
		seeders, _ := strconv.Atoi(strings.TrimSpace(row.Find("td.seeds").Text()))
		hits = append(hits, hit{detailPath: detailPath, seeders: seeders})
		return len(hits) < leetxMaxResults
	})

	var recs []catalog.Record
	for _, h := range hits {
		rec, err := l.scrapeDetail(ctx, h.detailPath, h.seeders)
		if err != nil {
			l.logger.Debug("Couldn't scrape 1337x detail page", zap.String("path", h.detailPath), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (l *Leetx) scrapeDetail(ctx context.Context, detailPath string, seeders int) (catalog.Record, error) {
	resBody, err := l.fetcher.Fetch(ctx, "1337x", l.baseURL+detailPath, nil)
	if err != nil {
		return catalog.Record{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resBody))
	if err != nil {
		return catalog.Record{}, fmt.Errorf("couldn't parse detail page: %v", err)
	}

	magnetURL, ok := doc.Find("a[href^='magnet:']").Attr("href")
	if !ok {
		return catalog.Record{}, fmt.Errorf("no magnet link on detail page")
	}
	infoHash, trackers := ParseMagnet(magnetURL)
	if infoHash == "" {
		infoHash = strings.ToLower(strings.TrimSpace(doc.Find("div.infohash-box span").Text()))
		if !catalog.ValidInfoHash(infoHash) {
			return catalog.Record{}, fmt.Errorf("no valid info hash on detail page")
		}
	}
	name := strings.TrimSpace(doc.Find("div.box-info-heading h1").Text())
	if name == "" {
		return catalog.Record{}, fmt.Errorf("no release name on detail page")
	}

	return catalog.Record{
		Stream: catalog.Stream{
			Name:     name,
			Source:   "1337x",
			Size:     parseHumanSize(detailSize(doc)),
			IsActive: true,
			IsPublic: true,
		},
		Torrent: &catalog.TorrentStream{
			InfoHash:     infoHash,
			AnnounceList: trackers,
			Seeders:      seeders,
		},
	}, nil
}

func detailSize(doc *goquery.Document) string {
	var size string
	doc.Find("ul.list li").Each(func(_ int, item *goquery.Selection) {
		if strings.TrimSpace(item.Find("strong").Text()) == "Total size" {
			size = strings.TrimSpace(item.Find("span").Text())
		}
	})
	return size
}

var sizeUnits = map[string]int64{
	"kb": 1 << 10, "kib": 1 << 10,
	"mb": 1 << 20, "mib": 1 << 20,
	"gb": 1 << 30, "gib": 1 << 30,
	"tb": 1 << 40, "tib": 1 << 40,
}

// parseHumanSize converts "1.4 GB" style values to bytes. Unknown formats
// yield 0.
func parseHumanSize(s string) int64 {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(fields[0], ",", ""), 64)
	if err != nil {
		return 0
	}
	unit, ok := sizeUnits[fields[1]]
	if !ok {
		return 0
	}
	return int64(value * float64(unit))
}
