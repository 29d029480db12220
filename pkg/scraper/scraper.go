// Package scraper fans a media query out across heterogeneous stream sources
// and normalizes their responses into catalog records.
package scraper

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

// Query is one media lookup. Season and Episode are 0 for movies.
type Query struct {
	Media   catalog.Media
	IMDBID  string
	Season  int
	Episode int

	UserData userdata.UserData
}

// Fingerprint identifies the query for the per-scraper TTL cache.
func (q Query) Fingerprint() string {
	return fmt.Sprintf("%v:%v:%v", q.Media.ID, q.Season, q.Episode)
}

// IsSeries reports whether the query targets an episode.
func (q Query) IsSeries() bool {
	return q.Media.Type == catalog.TypeSeries
}

// Scraper is one stream source. Scrape returns raw records; the fabric
// validates, deduplicates and persists them.
type Scraper interface {
	// Name is the TTL-cache prefix and the streams' source tag.
	Name() string
	// TTL is how long a fingerprint's results stay fresh.
	TTL() time.Duration
	Scrape(ctx context.Context, q Query) ([]catalog.Record, error)
}

// NaturalKey returns the specialization's dedup key.
func NaturalKey(r *catalog.Record) string {
	switch {
	case r.Torrent != nil:
		return r.Torrent.InfoHash
	case r.Usenet != nil:
		return "nzb:" + r.Usenet.NZBGUID
	case r.Telegram != nil:
		return "tg:" + strconv.FormatInt(r.Telegram.ChatID, 10) + ":" + strconv.FormatInt(r.Telegram.MessageID, 10)
	case r.HTTP != nil:
		return "url:" + r.HTTP.URL
	case r.Ace != nil:
		return "ace:" + r.Ace.ContentID
	}
	return ""
}
