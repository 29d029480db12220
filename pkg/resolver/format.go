package resolver

import (
	"context"
	"strconv"
	"strings"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/stremio"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

// Short display tags per service.
var serviceTags = map[string]string{
	"realdebrid":  "RD",
	"alldebrid":   "AD",
	"premiumize":  "PM",
	"debridlink":  "DL",
	"offcloud":    "OC",
	"easydebrid":  "ED",
	"torbox":      "TB",
	"stremthru":   "ST",
	"debrider":    "DB",
	"pikpak":      "PP",
	"sabnzbd":     "SAB",
	"nzbget":      "NZB",
	"nzbdav":      "DAV",
	"easynews":    "EN",
	"qbittorrent": "QB",
	"p2p":         "P2P",
}

func serviceTag(service string) string {
	if tag, ok := serviceTags[service]; ok {
		return tag
	}
	return strings.ToUpper(service)
}

// formatTorrents renders torrent rows. With a configured provider the URL
// redirects through the playback coordinator; without one the raw info hash
// is handed to the player's own engine.
func (r *Resolver) formatTorrents(ctx context.Context, rows []catalog.StreamRow, req Request, prov *userdata.StreamingProvider) []stremio.StreamItem {
	hashes := make([]string, 0, len(rows))
	for _, row := range rows {
		hashes = append(hashes, row.InfoHash)
	}
	cached := r.cachedHashes(ctx, prov, req.ClientIP, hashes)

	var items []stremio.StreamItem
	for i := range rows {
		row := &rows[i]
		if prov != nil && prov.OnlyShowCachedStreams && !cached[row.InfoHash] {
			continue
		}

		item := stremio.StreamItem{
			Name:        r.displayName(row, prov, cached[row.InfoHash]),
			Description: description(row, "🔗 "+row.Source),
			BehaviorHints: &stremio.StreamBehaviorHints{
				BingeGroup: bingeGroup(row),
				Filename:   row.Filename,
				VideoSize:  row.Size,
			},
		}
		if prov != nil {
			item.URL = r.playbackURL(req, prov.Service, row.InfoHash, row.Filename)
		} else {
			item.InfoHash = row.InfoHash
			item.FileIndex = row.FileIndex
			for _, tr := range row.AnnounceList {
				item.Sources = append(item.Sources, "tracker:"+tr)
			}
			item.Sources = append(item.Sources, "dht:"+row.InfoHash)
		}
		items = append(items, item)
	}
	return items
}

// formatByID renders the categories addressed by stream row ID.
func (r *Resolver) formatByID(rows []catalog.StreamRow, req Request, prov *userdata.StreamingProvider, category string) []stremio.StreamItem {
	service := category
	switch category {
	case CategoryUsenet:
		usenetProv := req.UserData.FirstUsenetProvider()
		if usenetProv == nil {
			return nil
		}
		service = usenetProv.Service
		prov = usenetProv
	case CategoryTelegram, CategoryAceStream, CategoryHTTP:
		// These categories resolve without a provider account.
	}

	var items []stremio.StreamItem
	for i := range rows {
		row := &rows[i]
		var sourceLine string
		switch category {
		case CategoryUsenet:
			sourceLine = "📰 " + row.Indexer
		case CategoryTelegram:
			sourceLine = "💬 telegram"
		case CategoryAceStream:
			sourceLine = "🧿 acestream"
		case CategoryHTTP:
			sourceLine = "🔗 " + row.Source
		}
		items = append(items, stremio.StreamItem{
			URL:         r.playbackURL(req, service, strconv.FormatInt(row.ID, 10), row.Filename),
			Name:        r.displayName(row, prov, false),
			Description: description(row, sourceLine),
			BehaviorHints: &stremio.StreamBehaviorHints{
				BingeGroup: bingeGroup(row),
				Filename:   row.Filename,
				VideoSize:  row.Size,
			},
		})
	}
	return items
}

func (r *Resolver) displayName(row *catalog.StreamRow, prov *userdata.StreamingProvider, isCached bool) string {
	parts := []string{r.opts.AddonName}
	if prov != nil {
		parts = append(parts, serviceTag(prov.Service))
	}
	if row.Resolution != "" {
		parts = append(parts, row.Resolution)
	}
	if isCached {
		parts = append(parts, "⚡")
	}
	return strings.Join(parts, " ")
}

// description composes the multi-line stream details shown under the name.
func description(row *catalog.StreamRow, sourceLine string) string {
	lines := []string{row.Name}

	var stats []string
	if size := humanSize(row.Size); size != "" {
		stats = append(stats, "💾 "+size)
	}
	if row.Seeders > 0 {
		stats = append(stats, "👤 "+strconv.Itoa(row.Seeders))
	}
	if sourceLine != "" {
		stats = append(stats, sourceLine)
	}
	if len(stats) > 0 {
		lines = append(lines, strings.Join(stats, " "))
	}
	if len(row.Languages) > 0 {
		lines = append(lines, "🌐 "+strings.Join(row.Languages, ", "))
	}
	return strings.Join(lines, "\n")
}

func bingeGroup(row *catalog.StreamRow) string {
	parts := []string{"streamfusion"}
	if row.Resolution != "" {
		parts = append(parts, row.Resolution)
	}
	if row.Codec != "" {
		parts = append(parts, row.Codec)
	}
	return strings.Join(parts, "|")
}
