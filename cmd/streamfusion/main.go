package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/doingodswork/streamfusion/pkg/blob"
	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/kv"
	"github.com/doingodswork/streamfusion/pkg/mediaflow"
	"github.com/doingodswork/streamfusion/pkg/playback"
	"github.com/doingodswork/streamfusion/pkg/poster"
	"github.com/doingodswork/streamfusion/pkg/provider"
	"github.com/doingodswork/streamfusion/pkg/resolver"
	"github.com/doingodswork/streamfusion/pkg/scraper"
	"github.com/doingodswork/streamfusion/pkg/stremio"
	"github.com/doingodswork/streamfusion/pkg/telegram"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

const version = "0.1.0"

var catalogExtras = []stremio.ExtraItem{
	{Name: "search"},
	{Name: "skip"},
	{Name: "genre"},
}

var manifest = stremio.Manifest{
	ID:          "com.streamfusion.addon",
	Name:        "StreamFusion",
	Description: "Looks up your selected title across torrent, Usenet, Telegram, Ace Stream and direct HTTP sources and turns the results into instantly playable links through your configured streaming provider.",
	Version:     version,

	ResourceItems: []stremio.ResourceItem{
		{Name: "catalog", Types: []string{"movie", "series"}},
		{Name: "stream", Types: []string{"movie", "series"}},
	},
	Types: []string{"movie", "series"},
	Catalogs: []stremio.CatalogItem{
		{Type: "movie", ID: "sf_latest", Name: "StreamFusion - Latest", Extra: catalogExtras},
		{Type: "movie", ID: "sf_popular", Name: "StreamFusion - Popular", Extra: catalogExtras},
		{Type: "series", ID: "sf_latest", Name: "StreamFusion - Latest", Extra: catalogExtras},
		{Type: "series", ID: "sf_popular", Name: "StreamFusion - Popular", Extra: catalogExtras},
	},

	IDprefixes:    []string{"tt", "tmdb", "tvdb", "mal", "sf"},
	BehaviorHints: stremio.BehaviorHints{Configurable: true},
}

func init() {
	// Timeout for global default HTTP client (for when using `http.Get()`)
	http.DefaultClient.Timeout = 5 * time.Second
}

func main() {
	// Bootstrap logger until the log config is known.
	logger, _ := zap.NewDevelopment()

	logger.Info("Parsing config...")
	cfg := parseConfig(logger)
	cfg.validate(logger)

	logger, err := newLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		logger.Fatal("Couldn't create logger", zap.Error(err))
	}
	defer logger.Sync()
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		logger.Fatal("Couldn't marshal config to JSON", zap.Error(err))
	}
	logger.Info("Parsed config", zap.ByteString("config", cfgJSON))

	// Stores

	redisOpts := &redis.Options{Addr: cfg.RedisAddr}
	if cfg.RedisCreds != "" {
		if user, pass, ok := strings.Cut(cfg.RedisCreds, ":"); ok {
			redisOpts.Username, redisOpts.Password = user, pass
		} else {
			redisOpts.Password = cfg.RedisCreds
		}
	}
	rdb := redis.NewClient(redisOpts)
	kvStore := kv.NewStore(rdb, logger)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err = kvStore.Ping(pingCtx); err != nil {
		logger.Fatal("Couldn't reach Redis", zap.Error(err), zap.String("redisAddr", cfg.RedisAddr))
	}
	cancel()

	store, err := catalog.Open(cfg.CatalogPath, logger)
	if err != nil {
		logger.Fatal("Couldn't open catalog", zap.Error(err), zap.String("catalogPath", cfg.CatalogPath))
	}

	blobStore, err := blob.Open(cfg.BlobPath, logger)
	if err != nil {
		logger.Fatal("Couldn't open torrent blob store", zap.Error(err), zap.String("blobPath", cfg.BlobPath))
	}
	if cfg.TorrentBackupPath != "" {
		if imported, err := blobStore.Import(afero.NewOsFs(), cfg.TorrentBackupPath); err != nil {
			logger.Warn("Couldn't import torrent backup", zap.Error(err), zap.String("path", cfg.TorrentBackupPath))
		} else {
			logger.Info("Imported torrent backup", zap.Int("count", imported))
		}
	}

	// Clients and services

	mflow := mediaflow.NewClient(5*time.Second, logger)

	fetcher, err := scraper.NewFetcher(scraper.FetcherOptions{
		SOCKS5Addr: cfg.SocksProxyAddr,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Couldn't create scraper fetcher", zap.Error(err))
	}

	scrapers := []scraper.Scraper{
		scraper.NewTorznab(fetcher, cfg.ScrapeTTL, logger),
		scraper.NewNewznab(fetcher, cfg.ScrapeTTL, logger),
		scraper.NewYTS(fetcher, cfg.BaseURLyts, cfg.ScrapeTTL),
		scraper.NewLeetx(fetcher, cfg.BaseURL1337x, cfg.ScrapeTTL, logger),
		scraper.NewTelegram(telegram.DefaultClientOptions, cfg.ScrapeTTL, logger),
	}
	if cfg.BaseURLzilean != "" {
		scrapers = append(scrapers, scraper.NewZilean(fetcher, cfg.BaseURLzilean, cfg.ScrapeTTL))
	}
	validators := make(map[string]*scraper.Validator, len(scrapers))
	for _, s := range scrapers {
		validators[s.Name()] = scraper.NewValidator(cfg.SimilarityThreshold)
	}
	fab := scraper.NewFabric(scrapers, validators, store, kvStore, scraper.FabricOptions{
		MaxProcess:     cfg.MaxProcess,
		MaxProcessTime: cfg.MaxProcessTime,
		Logger:         logger,
	})

	provOpts := provider.Options{Timeout: cfg.ProviderTimeout, Logger: logger}
	res := resolver.New(store, kvStore, resolver.Options{
		BaseURL:   cfg.BaseURL,
		AddonName: cfg.AddonName,
		Provider:  provOpts,
		Logger:    logger,
	})
	posters := poster.NewService(kvStore, "", logger)

	coord := playback.NewCoordinator(store, kvStore, mflow, playback.Options{
		Secret:      cfg.Secret,
		AssetURL:    cfg.AssetURL,
		AceProxyURL: cfg.AceProxyURL,
		Provider:    provOpts,
		Telegram:    telegram.DefaultClientOptions,
		Logger:      logger,
	})
	coord.RegisterScrobbler(noopScrobbler{})
	coord.SetNotifier(annotationLogger{logger: logger})

	// Server

	logger.Info("Setting up server")
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           60 * time.Second,
	})
	app.Use(fiberrecover.New())
	// The player doesn't show responses without CORS headers.
	app.Use(cors.New())
	app.Use(createTimerMiddleware(logger))

	udMiddleware := createUserDataMiddleware(userdata.DeriveKey(cfg.Secret), logger)
	resolveIP := createClientIPresolver(mflow, logger)
	catalogLimit := createRateLimitMiddleware(kvStore, "catalog", cfg.CatalogPerMinute, time.Minute, logger)
	streamsLimit := createRateLimitMiddleware(kvStore, "streams", cfg.StreamsPerMinute, time.Minute, logger)
	cacheLimit := createRateLimitMiddleware(kvStore, "cache", cfg.CachePerMinute, time.Minute, logger)

	app.Get("/health", createHealthHandler())
	app.Get("/", createRootHandler(cfg))

	manifestHandler := createManifestHandler(cfg)
	app.Get("/manifest.json", udMiddleware, manifestHandler)
	app.Get("/:userData/manifest.json", udMiddleware, manifestHandler)

	catalogHandler := createCatalogHandler(store, posters, provOpts, resolveIP, cfg, logger)
	app.Get("/:userData/catalog/:type/:id", udMiddleware, catalogLimit, catalogHandler)
	app.Get("/:userData/catalog/:type/:id/:extra", udMiddleware, catalogLimit, catalogHandler)

	app.Get("/:userData/stream/:type/:id", udMiddleware, streamsLimit,
		createStreamHandler(store, fab, res, resolveIP, cfg, logger))

	// Playback is rate-limit-excluded: players probe it with HEAD bursts.
	app.Get("/:userData/playback/:service/:ref/:season?/:episode?/:filename?", udMiddleware,
		createPlaybackHandler(coord, resolveIP, cfg, logger))

	app.Get("/:userData/delete_all_watchlist", udMiddleware,
		createDeleteAllHandler(provOpts, resolveIP, cfg, logger))

	app.Post("/api/v1/cache/status", cacheLimit, createCacheStatusHandler(kvStore, logger))
	app.Post("/api/v1/cache/submit", cacheLimit, createCacheSubmitHandler(kvStore, logger))
	app.Post("/api/v1/torrent/submit", cacheLimit, createTorrentSubmitHandler(blobStore, logger))

	addr := cfg.BindAddr + ":" + strconv.Itoa(cfg.Port)
	logger.Info("Starting server", zap.String("address", addr))
	go func() {
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Couldn't start server", zap.Error(err))
		}
	}()

	// Trim the per-scraper TTL sets every hour
	go func() {
		for {
			time.Sleep(time.Hour)
			fab.Maintenance(context.Background())
		}
	}()

	// Export the torrent blob store every hour
	if cfg.TorrentBackupPath != "" {
		go func() {
			for {
				time.Sleep(time.Hour)
				if exported, err := blobStore.Export(afero.NewOsFs(), cfg.TorrentBackupPath); err != nil {
					logger.Warn("Couldn't export torrent backup", zap.Error(err))
				} else {
					logger.Debug("Exported torrent backup", zap.Int("count", exported))
				}
			}
		}()
	}

	// Graceful shutdown

	c := make(chan os.Signal, 1)
	// Accept SIGINT (Ctrl+C) and SIGTERM (`docker stop`)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	logger.Info("Received signal, shutting down...", zap.String("signal", sig.String()))
	// `docker stop` gives us 10 seconds.
	if err := app.ShutdownWithTimeout(9 * time.Second); err != nil {
		logger.Error("Error shutting down server", zap.Error(err))
	}
	// Wait for background persistence before the stores close.
	fab.Close()
	if err := blobStore.Close(); err != nil {
		logger.Error("Error closing torrent blob store", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("Error closing catalog", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Error("Error closing Redis connection", zap.Error(err))
	}
	logger.Info("Server shut down")
}

func newLogger(level, encoding string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg := zap.NewProductionConfig()
	logCfg.Level = lvl
	logCfg.Encoding = encoding
	logCfg.DisableStacktrace = true
	logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logCfg.Build()
}

// noopScrobbler is the default scrobble sink. Real integrations register
// through the same hook.
type noopScrobbler struct{}

func (noopScrobbler) Scrobble(context.Context, string, int64, int, int) error {
	return nil
}

// annotationLogger surfaces containers whose files couldn't be assigned to
// episodes, for manual annotation.
type annotationLogger struct {
	logger *zap.Logger
}

func (n annotationLogger) AnnotationNeeded(_ context.Context, infoHash string, files []provider.File) {
	n.logger.Info("Stream container needs manual episode annotation",
		zap.String("infoHash", infoHash), zap.Int("files", len(files)))
}
