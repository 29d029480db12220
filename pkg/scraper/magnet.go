package scraper

import (
	"net/url"
	"strings"
	"time"

	"github.com/doingodswork/streamfusion/pkg/catalog"
)

// ParseMagnet extracts the info hash and tracker list from a magnet URL.
// Returns an empty hash when the URL carries no valid btih.
func ParseMagnet(magnetURL string) (infoHash string, trackers []string) {
	parsed, err := url.Parse(magnetURL)
	if err != nil || parsed.Scheme != "magnet" {
		return "", nil
	}
	query := parsed.Query()
	for _, xt := range query["xt"] {
		if hash, ok := strings.CutPrefix(xt, "urn:btih:"); ok {
			hash = strings.ToLower(hash)
			if catalog.ValidInfoHash(hash) {
				infoHash = hash
			}
		}
	}
	if infoHash == "" {
		return "", nil
	}
	return infoHash, query["tr"]
}

// BuildMagnet composes a magnet URL from an info hash, display name and
// trackers.
func BuildMagnet(infoHash, name string, trackers []string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(infoHash)
	if name != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(name))
	}
	for _, tr := range trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}

// source carries the identity every scraper shares.
type source struct {
	name string
	ttl  time.Duration
}

func (s source) Name() string {
	return s.name
}

func (s source) TTL() time.Duration {
	return s.ttl
}
