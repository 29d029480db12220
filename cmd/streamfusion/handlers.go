package main

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/blob"
	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/kv"
	"github.com/doingodswork/streamfusion/pkg/playback"
	"github.com/doingodswork/streamfusion/pkg/poster"
	"github.com/doingodswork/streamfusion/pkg/provider"
	"github.com/doingodswork/streamfusion/pkg/provider/registry"
	"github.com/doingodswork/streamfusion/pkg/resolver"
	"github.com/doingodswork/streamfusion/pkg/scraper"
	"github.com/doingodswork/streamfusion/pkg/stremio"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

// deleteAllMetaID is the synthetic watchlist entry whose single stream
// points at the delete_all_watchlist route.
const deleteAllMetaID = "sf:delete_all_watchlist"

const searchCacheAge = 5 * time.Minute

const cachedHashesTTL = 24 * time.Hour

// Cache status/submit requests are bounded so a single request can't stuff
// the per-service sets.
const maxCacheHashes = 200

type clientIPresolver func(*fiber.Ctx, userdata.UserData) string

func createHealthHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendString("OK")
	}
}

func createRootHandler(cfg config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Redirect(cfg.RootURL, fiber.StatusMovedPermanently)
	}
}

// createManifestHandler serves the manifest, extended per user with one
// watchlist catalog per watchlist-enabled provider.
func createManifestHandler(cfg config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ud := requestUserData(c)
		m := manifest
		m.Name = cfg.AddonName
		m.Catalogs = append([]stremio.CatalogItem{}, manifest.Catalogs...)
		for i := range ud.Providers {
			p := &ud.Providers[i]
			if !p.EnableWatchlist {
				continue
			}
			name := p.Name
			if name == "" {
				name = p.Service
			}
			m.Catalogs = append(m.Catalogs, stremio.CatalogItem{
				Type: catalog.TypeMovie,
				ID:   p.Service + "_watchlist",
				Name: cfg.AddonName + " - " + name + " Watchlist",
			})
		}
		return c.JSON(m)
	}
}

// createCatalogHandler serves catalog pages: sorted listings, title search
// and the provider watchlist synthesis.
func createCatalogHandler(store *catalog.Store, posters *poster.Service, provOpts provider.Options, resolveIP clientIPresolver, cfg config, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ud := requestUserData(c)
		mediaType := c.Params("type")
		catalogID := strings.TrimSuffix(c.Params("id"), ".json")
		extras := parseExtras(c.Params("extra"))

		var (
			metas []stremio.MetaPreviewItem
			err   error
		)
		switch {
		case strings.HasSuffix(catalogID, "_watchlist"):
			c.Set(fiber.HeaderCacheControl, "no-store")
			metas, err = watchlistMetas(c, store, posters, provOpts, resolveIP, cfg, ud, strings.TrimSuffix(catalogID, "_watchlist"), mediaType)
		case extras.Get("search") != "":
			c.Set(fiber.HeaderCacheControl, "max-age="+strconv.Itoa(int(searchCacheAge.Seconds())))
			var medias []*catalog.Media
			medias, err = store.SearchMedia(c.Context(), mediaType, extras.Get("search"), 50)
			if err == nil {
				metas, err = mediaMetas(c.Context(), store, posters, ud, medias)
			}
		default:
			c.Set(fiber.HeaderCacheControl, "max-age="+strconv.Itoa(int(cfg.CatalogCacheAge.Seconds())))
			skip, _ := strconv.Atoi(extras.Get("skip"))
			sort, asc := catalogSort(ud, catalogID)
			var medias []*catalog.Media
			medias, err = store.ListMedia(c.Context(), mediaType, sort, asc, 50, skip)
			if err == nil {
				metas, err = mediaMetas(c.Context(), store, posters, ud, medias)
			}
		}
		// List endpoints degrade to an empty page instead of a 5xx so the
		// player doesn't flash an error panel.
		if err != nil {
			logger.Warn("Couldn't build catalog",
				zap.String("catalogID", catalogID), zap.String("type", mediaType), zap.Error(err))
			metas = nil
		}
		if metas == nil {
			metas = []stremio.MetaPreviewItem{}
		}
		return c.JSON(stremio.CatalogResponse{Metas: metas})
	}
}

// catalogSort maps the catalog ID to a sort key and direction, with the
// user's per-catalog "key:dir" preference winning. Title defaults to
// ascending, everything else to descending.
func catalogSort(ud userdata.UserData, catalogID string) (string, bool) {
	sort := strings.TrimPrefix(catalogID, "sf_")
	dir := ""
	if pref, ok := ud.CatalogSorts[catalogID]; ok {
		sort, dir, _ = strings.Cut(pref, ":")
	}
	switch sort {
	case catalog.SortLatest, catalog.SortPopular, catalog.SortRating, catalog.SortYear, catalog.SortTitle, catalog.SortReleaseDate:
	default:
		sort = catalog.SortLatest
	}
	switch dir {
	case "asc":
		return sort, true
	case "desc":
		return sort, false
	}
	return sort, sort == catalog.SortTitle
}

// watchlistMetas synthesizes a catalog from the provider's download history,
// led by the synthetic "Delete All" entry.
func watchlistMetas(c *fiber.Ctx, store *catalog.Store, posters *poster.Service, provOpts provider.Options, resolveIP clientIPresolver, cfg config, ud userdata.UserData, service, mediaType string) ([]stremio.MetaPreviewItem, error) {
	prov := ud.ProviderByService(service)
	if prov == nil || !prov.EnableWatchlist {
		return nil, nil
	}
	res, err := registry.New(service, provOpts)
	if err != nil {
		return nil, err
	}
	items, err := res.ListDownloaded(c.Context(), providerCredentials(prov, resolveIP(c, ud)))
	if err != nil {
		return nil, err
	}

	var hashes []string
	for _, item := range items {
		if hash := strings.ToLower(item.InfoHash); catalog.ValidInfoHash(hash) {
			hashes = append(hashes, hash)
		}
	}
	medias, err := store.MediaByInfoHashes(c.Context(), hashes)
	if err != nil {
		return nil, err
	}
	filtered := medias[:0]
	for _, m := range medias {
		if m.Type == mediaType {
			filtered = append(filtered, m)
		}
	}
	metas, err := mediaMetas(c.Context(), store, posters, ud, filtered)
	if err != nil {
		return nil, err
	}

	deleteAll := stremio.MetaPreviewItem{
		ID:          deleteAllMetaID,
		Type:        mediaType,
		Name:        "🗑️ Delete All Watchlist",
		Description: "Deletes every download in the " + service + " account. Open and play the stream to confirm.",
		Poster:      cfg.AssetURL + "/images/delete_all_watchlist.jpg",
	}
	return append([]stremio.MetaPreviewItem{deleteAll}, metas...), nil
}

// mediaMetas converts catalog rows into meta previews. Media without an IMDb
// mapping can't be addressed by the player and are skipped.
func mediaMetas(ctx context.Context, store *catalog.Store, posters *poster.Service, ud userdata.UserData, medias []*catalog.Media) ([]stremio.MetaPreviewItem, error) {
	if len(medias) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(medias))
	for i, m := range medias {
		ids[i] = m.ID
	}
	externalIDs, err := store.ExternalIDs(ctx, catalog.ProviderIMDB, ids)
	if err != nil {
		return nil, err
	}

	metas := make([]stremio.MetaPreviewItem, 0, len(medias))
	for _, m := range medias {
		imdbID, ok := externalIDs[m.ID]
		if !ok {
			continue
		}
		description := m.Title
		if m.Year > 0 {
			description += " (" + strconv.Itoa(m.Year) + ")"
		}
		fallback := "https://images.metahub.space/poster/small/" + imdbID + "/img"
		metas = append(metas, stremio.MetaPreviewItem{
			ID:          imdbID,
			Type:        m.Type,
			Name:        m.Title,
			Poster:      posters.URL(ctx, ud.RPDBKey, imdbID, fallback),
			Description: description,
		})
	}
	return metas, nil
}

// createStreamHandler answers stream list requests: it runs the scraper
// fabric for the title first (TTL-guarded per scraper), then serves the
// catalog's view of it.
func createStreamHandler(store *catalog.Store, fab *scraper.Fabric, res *resolver.Resolver, resolveIP clientIPresolver, cfg config, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ud := requestUserData(c)
		mediaType := c.Params("type")
		videoID := strings.TrimSuffix(c.Params("id"), ".json")
		if unescaped, err := url.PathUnescape(videoID); err == nil {
			videoID = unescaped
		}
		externalID, season, episode := splitVideoID(videoID)

		if externalID == deleteAllMetaID {
			return c.JSON(stremio.StreamResponse{Streams: []stremio.StreamItem{{
				URL:         cfg.BaseURL + "/" + c.Params(userDataLocal) + "/delete_all_watchlist",
				Name:        cfg.AddonName,
				Description: "⚠️ Play to delete every download in the provider account",
			}}})
		}

		runScrapers(c.Context(), store, fab, ud, externalID, season, episode)

		items, err := res.Streams(c.Context(), resolver.Request{
			ExternalID: externalID,
			Type:       mediaType,
			Season:     season,
			Episode:    episode,
			Secret:     c.Params(userDataLocal),
			ClientIP:   resolveIP(c, ud),
			UserData:   ud,
		})
		if err != nil {
			logger.Warn("Couldn't build stream list", zap.String("videoID", videoID), zap.Error(err))
			items = nil
		}
		if items == nil {
			items = []stremio.StreamItem{}
		}
		return c.JSON(stremio.StreamResponse{Streams: items})
	}
}

// runScrapers triggers the fabric for a known title. The fabric applies the
// immediate-path caps itself; an unknown title just skips scraping.
func runScrapers(ctx context.Context, store *catalog.Store, fab *scraper.Fabric, ud userdata.UserData, externalID string, season, episode int) {
	idProvider, id := resolver.SplitExternalID(externalID)
	mediaID, err := store.ResolveExternalID(ctx, idProvider, id)
	if err != nil {
		return
	}
	media, err := store.GetMedia(ctx, mediaID)
	if err != nil {
		return
	}
	q := scraper.Query{Media: *media, Season: season, Episode: episode, UserData: ud}
	if idProvider == catalog.ProviderIMDB {
		q.IMDBID = id
	}
	fab.Run(ctx, q)
}

// splitVideoID splits the protocol's "<id>[:season:episode]" shape. The ID
// itself may contain a provider prefix with a colon.
func splitVideoID(videoID string) (string, int, int) {
	parts := strings.Split(videoID, ":")
	if len(parts) >= 3 {
		season, err1 := strconv.Atoi(parts[len(parts)-2])
		episode, err2 := strconv.Atoi(parts[len(parts)-1])
		if err1 == nil && err2 == nil {
			return strings.Join(parts[:len(parts)-2], ":"), season, episode
		}
	}
	return videoID, 0, 0
}

// createPlaybackHandler resolves a stream reference into a redirect. Fresh
// mints answer 302, cached hits and error clips 307; lock contention maps to
// 429 and bad references to 400. Fiber serves HEAD through the same route
// with an empty body.
func createPlaybackHandler(coord *playback.Coordinator, resolveIP clientIPresolver, cfg config, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ud := requestUserData(c)
		req := playback.Request{
			UserData: ud,
			ClientIP: resolveIP(c, ud),
			Secret:   c.Params(userDataLocal),
		}
		req.Season, _ = strconv.Atoi(c.Params("season", "0"))
		req.Episode, _ = strconv.Atoi(c.Params("episode", "0"))
		if filename := c.Params("filename"); filename != "" {
			if unescaped, err := url.PathUnescape(filename); err == nil {
				filename = unescaped
			}
			req.Filename = filename
		}

		ref := strings.ToLower(c.Params("ref"))
		if catalog.ValidInfoHash(ref) {
			req.InfoHash = ref
		} else if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
			req.StreamID = id
		} else {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		if prov := ud.ProviderByService(c.Params("service")); prov != nil {
			req.Provider = prov
		} else {
			req.Provider = ud.PrimaryProvider()
		}

		result, err := coord.Resolve(c.Context(), req)
		switch {
		case errors.Is(err, kv.ErrLockTimeout):
			return c.SendStatus(fiber.StatusTooManyRequests)
		case errors.Is(err, playback.ErrStreamNotFound), errors.Is(err, playback.ErrNoProvider):
			return c.SendStatus(fiber.StatusBadRequest)
		case err != nil:
			logger.Error("Couldn't resolve playback", zap.Error(err))
			c.Set(fiber.HeaderLocation, cfg.AssetURL+"/"+provider.ClipAPIError)
			return c.SendStatus(fiber.StatusTemporaryRedirect)
		}

		c.Set(fiber.HeaderLocation, result.URL)
		if result.Fresh {
			return c.SendStatus(fiber.StatusFound)
		}
		return c.SendStatus(fiber.StatusTemporaryRedirect)
	}
}

// createDeleteAllHandler clears the provider's download history and
// redirects to the confirmation clip.
func createDeleteAllHandler(provOpts provider.Options, resolveIP clientIPresolver, cfg config, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ud := requestUserData(c)
		var prov *userdata.StreamingProvider
		for i := range ud.Providers {
			if ud.Providers[i].EnableWatchlist {
				prov = &ud.Providers[i]
				break
			}
		}
		if prov == nil {
			prov = ud.PrimaryProvider()
		}
		if prov == nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		res, err := registry.New(prov.Service, provOpts)
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		clip := provider.ClipWatchlistDeleted
		if err = res.DeleteAll(c.Context(), providerCredentials(prov, resolveIP(c, ud))); err != nil {
			logger.Warn("Couldn't delete watchlist", zap.String("service", prov.Service), zap.Error(err))
			clip = provider.ClipFor(err)
		}
		c.Set(fiber.HeaderLocation, cfg.AssetURL+"/"+clip)
		return c.SendStatus(fiber.StatusTemporaryRedirect)
	}
}

type cacheRequest struct {
	Service    string   `json:"service"`
	InfoHashes []string `json:"info_hashes"`
}

func (r *cacheRequest) validHashes() []string {
	hashes := make([]string, 0, len(r.InfoHashes))
	for _, h := range r.InfoHashes {
		if h = strings.ToLower(h); catalog.ValidInfoHash(h) {
			hashes = append(hashes, h)
		}
	}
	return hashes
}

// createCacheStatusHandler answers availability lookups from the shared
// per-service hash sets. Unknown and malformed hashes report false.
func createCacheStatusHandler(kvStore *kv.Store, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := cacheRequest{}
		if err := c.BodyParser(&req); err != nil || req.Service == "" || len(req.InfoHashes) == 0 || len(req.InfoHashes) > maxCacheHashes {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		cached, err := kvStore.CachedHashes(c.Context(), req.Service, req.validHashes())
		if err != nil {
			logger.Warn("Couldn't read cached-hash set", zap.Error(err))
		}
		isCached := make(map[string]bool, len(req.InfoHashes))
		for _, h := range req.InfoHashes {
			isCached[h] = false
		}
		for _, h := range cached {
			isCached[h] = true
		}
		return c.JSON(fiber.Map{"cached_status": isCached})
	}
}

// createCacheSubmitHandler stores externally observed cached hashes, used as
// probe fallback by the stream resolver.
func createCacheSubmitHandler(kvStore *kv.Store, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := cacheRequest{}
		if err := c.BodyParser(&req); err != nil || req.Service == "" || len(req.InfoHashes) > maxCacheHashes {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		hashes := req.validHashes()
		if len(hashes) == 0 {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		if err := kvStore.AddCachedHashes(c.Context(), req.Service, hashes, cachedHashesTTL); err != nil {
			logger.Error("Couldn't store submitted hashes", zap.Error(err))
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{"status": "ok", "stored": len(hashes)})
	}
}

// createTorrentSubmitHandler accepts a raw .torrent file for the blob store,
// keyed by the info_hash query parameter.
func createTorrentSubmitHandler(blobs *blob.Store, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		infoHash := strings.ToLower(c.Query("info_hash"))
		body := c.Body()
		if !catalog.ValidInfoHash(infoHash) || len(body) == 0 {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		// The request body is only valid during the handler; the store keeps
		// its own copy.
		data := make([]byte, len(body))
		copy(data, body)
		if err := blobs.Put(infoHash, data); err != nil {
			logger.Error("Couldn't store torrent file", zap.String("infoHash", infoHash), zap.Error(err))
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}

// parseExtras decodes the protocol's extra path segment ("search=foo&skip=50").
func parseExtras(extra string) url.Values {
	extra = strings.TrimSuffix(extra, ".json")
	if unescaped, err := url.PathUnescape(extra); err == nil {
		extra = unescaped
	}
	values, err := url.ParseQuery(extra)
	if err != nil {
		return url.Values{}
	}
	return values
}

func providerCredentials(p *userdata.StreamingProvider, clientIP string) provider.Credentials {
	return provider.Credentials{
		Token:          p.Token,
		Email:          p.Email,
		Password:       p.Password,
		URL:            p.URL,
		WebDAVURL:      p.WebDAVURL,
		WebDAVUsername: p.WebDAVUsername,
		WebDAVPassword: p.WebDAVPassword,
		RefreshToken:   p.RefreshToken,
		ClientIP:       clientIP,
	}
}
