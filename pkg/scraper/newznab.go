package scraper

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/javi11/nzbparser"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

// Newznab queries Usenet search APIs and enriches the results with the NZB
// descriptor when the index reports no size.
type Newznab struct {
	source
	fetcher *Fetcher
	logger  *zap.Logger
}

func NewNewznab(fetcher *Fetcher, ttl time.Duration, logger *zap.Logger) *Newznab {
	if ttl == 0 {
		ttl = 3 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Newznab{source: source{name: "newznab", ttl: ttl}, fetcher: fetcher, logger: logger}
}

func (n *Newznab) Scrape(ctx context.Context, q Query) ([]catalog.Record, error) {
	var (
		recs []catalog.Record
		errs error
	)
	for _, indexer := range q.UserData.Newznab {
		indexerRecs, err := n.scrapeIndexer(ctx, indexer, q)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		recs = append(recs, indexerRecs...)
	}
	if len(recs) > 0 {
		if errs != nil {
			n.logger.Warn("Some newznab indexers failed", zap.Error(errs))
		}
		return recs, nil
	}
	return nil, errs
}

func (n *Newznab) scrapeIndexer(ctx context.Context, indexer userdata.IndexerConfig, q Query) ([]catalog.Record, error) {
	values := url.Values{}
	values.Set("apikey", indexer.APIKey)
	values.Set("q", q.Media.Title)
	if q.IsSeries() {
		values.Set("t", "tvsearch")
		values.Set("season", strconv.Itoa(q.Season))
		values.Set("ep", strconv.Itoa(q.Episode))
		values.Set("cat", "5000")
	} else {
		values.Set("t", "movie")
		values.Set("cat", "2000")
	}
	reqURL := strings.TrimSuffix(indexer.URL, "/") + "/api?" + values.Encode()

	resBody, err := n.fetcher.Fetch(ctx, indexerName(indexer), reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't query newznab indexer %v: %w", indexerName(indexer), err)
	}
	var feed rssFeed
	if err := xml.Unmarshal(resBody, &feed); err != nil {
		return nil, fmt.Errorf("couldn't parse newznab response from %v: %v", indexerName(indexer), err)
	}

	var recs []catalog.Record
	for _, item := range feed.Items {
		if item.GUID == "" {
			continue
		}
		nzbURL := item.Enclosure.URL
		if nzbURL == "" {
			nzbURL = item.Link
		}
		size := item.Size
		if size == 0 {
			size = item.Enclosure.Length
		}
		if size == 0 && nzbURL != "" {
			size = n.sizeFromNZB(ctx, indexerName(indexer), nzbURL)
		}
		grabs, _ := strconv.Atoi(item.attr("grabs"))
		var postedAt *time.Time
		if raw := item.attr("usenetdate"); raw != "" {
			if parsed, err := time.Parse(time.RFC1123Z, raw); err == nil {
				postedAt = &parsed
			}
		}
		recs = append(recs, catalog.Record{
			Stream: catalog.Stream{
				Name:     item.Title,
				Source:   indexerName(indexer),
				Size:     size,
				IsActive: true,
				IsPublic: true,
			},
			Usenet: &catalog.UsenetStream{
				NZBGUID:      item.GUID,
				NZBURL:       nzbURL,
				Indexer:      indexerName(indexer),
				GroupName:    item.attr("group"),
				Poster:       item.attr("poster"),
				PostedAt:     postedAt,
				IsPassworded: item.attr("password") == "1",
				Grabs:        grabs,
			},
		})
	}
	return recs, nil
}

// sizeFromNZB downloads the NZB descriptor and sums its segments. Failures
// only cost the size hint.
func (n *Newznab) sizeFromNZB(ctx context.Context, indexer, nzbURL string) int64 {
	resBody, err := n.fetcher.Fetch(ctx, indexer, nzbURL, nil)
	if err != nil {
		n.logger.Debug("Couldn't fetch NZB for size enrichment", zap.Error(err))
		return 0
	}
	nzb, err := nzbparser.Parse(bytes.NewReader(resBody))
	if err != nil {
		n.logger.Debug("Couldn't parse NZB", zap.Error(err))
		return 0
	}
	var size int64
	for _, file := range nzb.Files {
		for _, segment := range file.Segments {
			size += int64(segment.Bytes)
		}
	}
	return size
}
