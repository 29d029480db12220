// Package resolver turns a media reference plus a user configuration into
// the stream list of the add-on protocol: one catalog query per enabled
// category, per-category formatting, user-chosen ordering and grouping.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/kv"
	"github.com/doingodswork/streamfusion/pkg/provider"
	"github.com/doingodswork/streamfusion/pkg/provider/registry"
	"github.com/doingodswork/streamfusion/pkg/stremio"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

// Stream categories, in their default order.
const (
	CategoryTorrent   = "torrent"
	CategoryUsenet    = "usenet"
	CategoryTelegram  = "telegram"
	CategoryAceStream = "acestream"
	CategoryHTTP      = "http"
)

const defaultMaxStreams = 50

// Cache-probe results feed the shared per-service hash set.
const probeTimeout = 2 * time.Second
const probeCacheTTL = 24 * time.Hour

type Options struct {
	// BaseURL is this add-on's public URL, used to shape playback redirects.
	BaseURL string
	// AddonName prefixes every stream's display name.
	AddonName string
	Provider  provider.Options
	Logger    *zap.Logger
}

type Resolver struct {
	store   *catalog.Store
	kvStore *kv.Store
	opts    Options
	logger  *zap.Logger

	// newResolver is the registry hook, swappable in tests.
	newResolver func(service string, opts provider.Options) (provider.Resolver, error)
}

func New(store *catalog.Store, kvStore *kv.Store, opts Options) *Resolver {
	if opts.AddonName == "" {
		opts.AddonName = "StreamFusion"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{
		store:       store,
		kvStore:     kvStore,
		opts:        opts,
		logger:      opts.Logger,
		newResolver: registry.New,
	}
}

// Request is one stream-list lookup.
type Request struct {
	// ExternalID is the add-on boundary ID, e.g. "tt0111161".
	ExternalID string
	Type       string
	Season     int
	Episode    int

	// Secret is the user's encrypted config path segment, embedded in
	// playback URLs.
	Secret   string
	ClientIP string
	UserData userdata.UserData
}

// Streams builds the add-on stream list. An unknown external ID yields an
// empty list, never an error; per-category query failures drop the category.
func (r *Resolver) Streams(ctx context.Context, req Request) ([]stremio.StreamItem, error) {
	idProvider, externalID := SplitExternalID(req.ExternalID)
	mediaID, err := r.store.ResolveExternalID(ctx, idProvider, externalID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	userID := req.UserData.UserID
	provider := req.UserData.PrimaryProvider()

	byCategory := map[string][]stremio.StreamItem{}
	for _, category := range req.UserData.Order() {
		if !r.enabled(category, req.UserData) {
			continue
		}
		items, err := r.categoryItems(ctx, category, mediaID, userID, req, provider)
		if err != nil {
			r.logger.Warn("Couldn't query stream category",
				zap.String("category", category), zap.Int64("mediaID", mediaID), zap.Error(err))
			continue
		}
		byCategory[category] = items
	}

	combined := combine(req.UserData.Order(), byCategory, req.UserData.Grouping())
	maxStreams := req.UserData.MaxStreams
	if maxStreams <= 0 {
		maxStreams = defaultMaxStreams
	}
	if len(combined) > maxStreams {
		combined = combined[:maxStreams]
	}
	return combined, nil
}

// enabled is the category enablement matrix.
func (r *Resolver) enabled(category string, ud userdata.UserData) bool {
	switch category {
	case CategoryTorrent, CategoryHTTP:
		return true
	case CategoryUsenet:
		return ud.EnableUsenetStreams && ud.HasUsenetProvider()
	case CategoryTelegram:
		return ud.EnableTelegramStreams && ud.MediaFlow.Complete()
	case CategoryAceStream:
		return ud.EnableAceStreamStreams && ud.MediaFlow.Complete()
	}
	return false
}

func (r *Resolver) categoryItems(ctx context.Context, category string, mediaID int64, userID string, req Request, prov *userdata.StreamingProvider) ([]stremio.StreamItem, error) {
	switch category {
	case CategoryTorrent:
		rows, err := r.store.TorrentStreamsForMedia(ctx, mediaID, userID, req.Season, req.Episode)
		if err != nil {
			return nil, err
		}
		return r.formatTorrents(ctx, rows, req, prov), nil
	case CategoryUsenet:
		rows, err := r.store.UsenetStreamsForMedia(ctx, mediaID, userID, req.Season, req.Episode)
		if err != nil {
			return nil, err
		}
		return r.formatByID(rows, req, prov, CategoryUsenet), nil
	case CategoryTelegram:
		rows, err := r.store.TelegramStreamsForMedia(ctx, mediaID, userID, req.Season, req.Episode)
		if err != nil {
			return nil, err
		}
		return r.formatByID(rows, req, prov, CategoryTelegram), nil
	case CategoryAceStream:
		rows, err := r.store.AceStreamsForMedia(ctx, mediaID, userID)
		if err != nil {
			return nil, err
		}
		return r.formatByID(rows, req, prov, CategoryAceStream), nil
	case CategoryHTTP:
		rows, err := r.store.HTTPStreamsForMedia(ctx, mediaID, userID)
		if err != nil {
			return nil, err
		}
		return r.formatByID(rows, req, prov, CategoryHTTP), nil
	}
	return nil, fmt.Errorf("unknown stream category %q", category)
}

// SplitExternalID maps the add-on boundary ID to (provider, id). Bare IDs
// starting with "tt" are IMDb; a "prefix:id" shape names the provider.
func SplitExternalID(externalID string) (string, string) {
	if prefix, id, ok := strings.Cut(externalID, ":"); ok {
		switch prefix {
		case "tmdb":
			return catalog.ProviderTMDB, id
		case "tvdb":
			return catalog.ProviderTVDB, id
		case "mal":
			return catalog.ProviderMAL, id
		}
	}
	return catalog.ProviderIMDB, externalID
}

// combine merges the per-category lists: separate concatenates in order,
// mixed interleaves round-robin in the same order.
func combine(order []string, byCategory map[string][]stremio.StreamItem, grouping string) []stremio.StreamItem {
	var combined []stremio.StreamItem
	if grouping == userdata.GroupingMixed {
		for i := 0; ; i++ {
			added := false
			for _, category := range order {
				if items := byCategory[category]; i < len(items) {
					combined = append(combined, items[i])
					added = true
				}
			}
			if !added {
				return combined
			}
		}
	}
	for _, category := range order {
		combined = append(combined, byCategory[category]...)
	}
	return combined
}

// playbackURL shapes the redirect the player follows. A known filename rides
// along as the optional last segment, giving the coordinator its
// file-selection hint.
func (r *Resolver) playbackURL(req Request, service, ref, filename string) string {
	playURL := fmt.Sprintf("%v/%v/playback/%v/%v/%v/%v",
		strings.TrimSuffix(r.opts.BaseURL, "/"), req.Secret, service, ref, req.Season, req.Episode)
	if filename != "" {
		playURL += "/" + url.PathEscape(filename)
	}
	return playURL
}

// cachedHashes marks which torrent hashes the provider can serve instantly,
// merging a live probe into the shared per-service set. Probe failure just
// costs the markers.
func (r *Resolver) cachedHashes(ctx context.Context, prov *userdata.StreamingProvider, clientIP string, hashes []string) map[string]bool {
	cached := map[string]bool{}
	if prov == nil || len(hashes) == 0 {
		return cached
	}
	known, err := r.kvStore.CachedHashes(ctx, prov.Service, hashes)
	if err != nil {
		r.logger.Debug("Couldn't read cached-hash set", zap.Error(err))
	}
	for _, h := range known {
		cached[h] = true
	}

	var unknown []string
	for _, h := range hashes {
		if !cached[h] {
			unknown = append(unknown, h)
		}
	}
	if len(unknown) == 0 {
		return cached
	}

	resolver, err := r.newResolver(prov.Service, r.opts.Provider)
	if err != nil {
		return cached
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	fresh, err := resolver.ProbeCache(probeCtx, provider.Credentials{
		Token: prov.Token, Email: prov.Email, Password: prov.Password, URL: prov.URL,
		WebDAVURL: prov.WebDAVURL, WebDAVUsername: prov.WebDAVUsername, WebDAVPassword: prov.WebDAVPassword,
		RefreshToken: prov.RefreshToken, ClientIP: clientIP,
	}, unknown)
	if err != nil {
		r.logger.Debug("Cache probe failed", zap.String("service", prov.Service), zap.Error(err))
		return cached
	}
	for _, h := range fresh {
		cached[h] = true
	}
	if len(fresh) > 0 {
		if err := r.kvStore.AddCachedHashes(ctx, prov.Service, fresh, probeCacheTTL); err != nil {
			r.logger.Debug("Couldn't persist cache probe", zap.Error(err))
		}
	}
	return cached
}

func humanSize(size int64) string {
	switch {
	case size >= 1<<30:
		return strconv.FormatFloat(float64(size)/float64(1<<30), 'f', 2, 64) + " GB"
	case size >= 1<<20:
		return strconv.FormatFloat(float64(size)/float64(1<<20), 'f', 1, 64) + " MB"
	case size > 0:
		return strconv.FormatInt(size, 10) + " B"
	}
	return ""
}
