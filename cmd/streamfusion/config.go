package main

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type config struct {
	BindAddr            string        `json:"bindAddr"`
	Port                int           `json:"port"`
	BaseURL             string        `json:"baseURL"`
	RootURL             string        `json:"rootURL"`
	Secret              string        `json:"-"`
	AssetURL            string        `json:"assetURL"`
	AceProxyURL         string        `json:"aceProxyURL"`
	CatalogPath         string        `json:"catalogPath"`
	BlobPath            string        `json:"blobPath"`
	TorrentBackupPath   string        `json:"torrentBackupPath"`
	RedisAddr           string        `json:"redisAddr"`
	RedisCreds          string        `json:"-"`
	BaseURLyts          string        `json:"baseURLyts"`
	BaseURL1337x        string        `json:"baseURL1337x"`
	BaseURLzilean       string        `json:"baseURLzilean"`
	SocksProxyAddr      string        `json:"socksProxyAddr"`
	ScrapeTTL           time.Duration `json:"scrapeTTL"`
	MaxProcess          int           `json:"maxProcess"`
	MaxProcessTime      time.Duration `json:"maxProcessTime"`
	SimilarityThreshold int           `json:"similarityThreshold"`
	ProviderTimeout     time.Duration `json:"providerTimeout"`
	StreamsPerMinute    int           `json:"streamsPerMinute"`
	CatalogPerMinute    int           `json:"catalogPerMinute"`
	CachePerMinute      int           `json:"cachePerMinute"`
	CatalogCacheAge     time.Duration `json:"catalogCacheAge"`
	AddonName           string        `json:"addonName"`
	LogLevel            string        `json:"logLevel"`
	LogEncoding         string        `json:"logEncoding"`
	EnvPrefix           string        `json:"envPrefix"`
}

func parseConfig(logger *zap.Logger) config {
	result := config{}

	// Flags
	var (
		bindAddr            = flag.String("bindAddr", "localhost", `Local interface address to bind to. "localhost" only allows access from the local host. "0.0.0.0" binds to all network interfaces.`)
		port                = flag.Int("port", 8080, "Port to listen on")
		baseURL             = flag.String("baseURL", "http://localhost:8080", "Base URL of this service. It's used to shape the playback URLs that are delivered to the player.")
		rootURL             = flag.String("rootURL", "https://github.com/doingodswork/streamfusion", "Redirect target for the root")
		secret              = flag.String("secret", "", "Process secret. It's used as key for the user data envelope and as salt for playback fingerprints. Required.")
		assetURL            = flag.String("assetURL", "", "Base URL of the static error clip assets, without trailing slash. Required.")
		aceProxyURL         = flag.String("aceProxyURL", "", "Base URL of an Ace Stream HTTP gateway. Keep empty to disable Ace Stream playback.")
		catalogPath         = flag.String("catalogPath", "", `Path of the SQLite catalog database file. An empty value will lead to 'os.UserCacheDir()+"/streamfusion/catalog.db"'.`)
		blobPath            = flag.String("blobPath", "", `Path for the BadgerDB torrent file store. An empty value will lead to 'os.UserCacheDir()+"/streamfusion/badger"'.`)
		torrentBackupPath   = flag.String("torrentBackupPath", "", "Path of a directory with .torrent files to import into the blob store on startup and to export to in regular intervals. Keep empty to disable.")
		redisAddr           = flag.String("redisAddr", "localhost:6379", `Redis host and port, for example "localhost:6379". It's used for the URL cache, named locks, rate limiting and scrape bookkeeping.`)
		redisCreds          = flag.String("redisCreds", "", `Credentials for Redis. Password for Redis version 5 and older, username and password for Redis version 6 and newer. Use the colon character (":") for separating username and password.`)
		baseURLyts          = flag.String("baseURLyts", "https://yts.mx", "Base URL for YTS")
		baseURL1337x        = flag.String("baseURL1337x", "https://1337x.to", "Base URL for 1337x")
		baseURLzilean       = flag.String("baseURLzilean", "", "Base URL for a Zilean DMM instance. Keep empty to disable the Zilean scraper.")
		socksProxyAddr      = flag.String("socksProxyAddr", "", "SOCKS5 proxy address for scraper requests, for example for accessing torrent sites via the TOR network (where \"127.0.0.1:9050\" would be a typical value)")
		scrapeTTL           = flag.Duration("scrapeTTL", 3*time.Hour, "Max age of per-scraper results for a media item before the same lookup scrapes again. The format must be acceptable by Go's 'time.ParseDuration()', for example \"3h\".")
		maxProcess          = flag.Int("maxProcess", 30, "Max number of scraped streams that are validated and persisted before the stream response is sent. The remaining ones are processed in the background.")
		maxProcessTime      = flag.Duration("maxProcessTime", 15*time.Second, "Max time the stream response waits for scraped streams before the remaining ones are processed in the background")
		similarityThreshold = flag.Int("similarityThreshold", 85, "Min title similarity (in percent) between a scraped release name and the catalog title for the release to be accepted")
		providerTimeout     = flag.Duration("providerTimeout", 8*time.Second, "Timeout for single HTTP calls to streaming provider APIs")
		streamsPerMinute    = flag.Int("streamsPerMinute", 20, "Max stream list requests per client IP per minute")
		catalogPerMinute    = flag.Int("catalogPerMinute", 50, "Max catalog requests per client IP per minute")
		cachePerMinute      = flag.Int("cachePerMinute", 10, "Max cache status/submit API requests per client IP per minute")
		catalogCacheAge     = flag.Duration("catalogCacheAge", time.Hour, "Cache-Control max-age for catalog responses. Search responses use 5 minutes, watchlist responses are uncached.")
		addonName           = flag.String("addonName", "StreamFusion", "Name prefix of every delivered stream")
		logLevel            = flag.String("logLevel", "debug", `Log level to show only logs with the given and more severe levels. Can be "debug", "info", "warn", "error".`)
		logEncoding         = flag.String("logEncoding", "console", `Log encoding. Can be "console" or "json", where "json" makes more sense when using centralized logging solutions like ELK, Graylog or Loki.`)
		envPrefix           = flag.String("envPrefix", "", "Prefix for environment variables")
	)

	flag.Parse()

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}
	result.EnvPrefix = *envPrefix

	// Only overwrite the values by their env var counterparts that have not been set (and that *are* set via env var).
	var err error
	if !isArgSet("bindAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "BIND_ADDR"); ok {
			*bindAddr = val
		}
	}
	result.BindAddr = *bindAddr

	if !isArgSet("port") {
		if val, ok := os.LookupEnv(*envPrefix + "PORT"); ok {
			if *port, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "PORT"))
			}
		}
	}
	result.Port = *port

	if !isArgSet("baseURL") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL"); ok {
			*baseURL = val
		}
	}
	result.BaseURL = strings.TrimSuffix(*baseURL, "/")

	if !isArgSet("rootURL") {
		if val, ok := os.LookupEnv(*envPrefix + "ROOT_URL"); ok {
			*rootURL = val
		}
	}
	result.RootURL = *rootURL

	if !isArgSet("secret") {
		if val, ok := os.LookupEnv(*envPrefix + "SECRET"); ok {
			*secret = val
		}
	}
	result.Secret = *secret

	if !isArgSet("assetURL") {
		if val, ok := os.LookupEnv(*envPrefix + "ASSET_URL"); ok {
			*assetURL = val
		}
	}
	result.AssetURL = strings.TrimSuffix(*assetURL, "/")

	if !isArgSet("aceProxyURL") {
		if val, ok := os.LookupEnv(*envPrefix + "ACE_PROXY_URL"); ok {
			*aceProxyURL = val
		}
	}
	result.AceProxyURL = *aceProxyURL

	if !isArgSet("catalogPath") {
		if val, ok := os.LookupEnv(*envPrefix + "CATALOG_PATH"); ok {
			*catalogPath = val
		}
	}
	result.CatalogPath = *catalogPath

	if !isArgSet("blobPath") {
		if val, ok := os.LookupEnv(*envPrefix + "BLOB_PATH"); ok {
			*blobPath = val
		}
	}
	result.BlobPath = *blobPath

	if !isArgSet("torrentBackupPath") {
		if val, ok := os.LookupEnv(*envPrefix + "TORRENT_BACKUP_PATH"); ok {
			*torrentBackupPath = val
		}
	}
	result.TorrentBackupPath = *torrentBackupPath

	if !isArgSet("redisAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "REDIS_ADDR"); ok {
			*redisAddr = val
		}
	}
	result.RedisAddr = *redisAddr

	if !isArgSet("redisCreds") {
		if val, ok := os.LookupEnv(*envPrefix + "REDIS_CREDS"); ok {
			*redisCreds = val
		}
	}
	result.RedisCreds = *redisCreds

	if !isArgSet("baseURLyts") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_YTS"); ok {
			*baseURLyts = val
		}
	}
	result.BaseURLyts = *baseURLyts

	if !isArgSet("baseURL1337x") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_1337X"); ok {
			*baseURL1337x = val
		}
	}
	result.BaseURL1337x = *baseURL1337x

	if !isArgSet("baseURLzilean") {
		if val, ok := os.LookupEnv(*envPrefix + "BASE_URL_ZILEAN"); ok {
			*baseURLzilean = val
		}
	}
	result.BaseURLzilean = *baseURLzilean

	if !isArgSet("socksProxyAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "SOCKS_PROXY_ADDR"); ok {
			*socksProxyAddr = val
		}
	}
	result.SocksProxyAddr = *socksProxyAddr

	if !isArgSet("scrapeTTL") {
		if val, ok := os.LookupEnv(*envPrefix + "SCRAPE_TTL"); ok {
			if *scrapeTTL, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "SCRAPE_TTL"))
			}
		}
	}
	result.ScrapeTTL = *scrapeTTL

	if !isArgSet("maxProcess") {
		if val, ok := os.LookupEnv(*envPrefix + "MAX_PROCESS"); ok {
			if *maxProcess, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "MAX_PROCESS"))
			}
		}
	}
	result.MaxProcess = *maxProcess

	if !isArgSet("maxProcessTime") {
		if val, ok := os.LookupEnv(*envPrefix + "MAX_PROCESS_TIME"); ok {
			if *maxProcessTime, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "MAX_PROCESS_TIME"))
			}
		}
	}
	result.MaxProcessTime = *maxProcessTime

	if !isArgSet("similarityThreshold") {
		if val, ok := os.LookupEnv(*envPrefix + "SIMILARITY_THRESHOLD"); ok {
			if *similarityThreshold, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "SIMILARITY_THRESHOLD"))
			}
		}
	}
	result.SimilarityThreshold = *similarityThreshold

	if !isArgSet("providerTimeout") {
		if val, ok := os.LookupEnv(*envPrefix + "PROVIDER_TIMEOUT"); ok {
			if *providerTimeout, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "PROVIDER_TIMEOUT"))
			}
		}
	}
	result.ProviderTimeout = *providerTimeout

	if !isArgSet("streamsPerMinute") {
		if val, ok := os.LookupEnv(*envPrefix + "STREAMS_PER_MINUTE"); ok {
			if *streamsPerMinute, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "STREAMS_PER_MINUTE"))
			}
		}
	}
	result.StreamsPerMinute = *streamsPerMinute

	if !isArgSet("catalogPerMinute") {
		if val, ok := os.LookupEnv(*envPrefix + "CATALOG_PER_MINUTE"); ok {
			if *catalogPerMinute, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "CATALOG_PER_MINUTE"))
			}
		}
	}
	result.CatalogPerMinute = *catalogPerMinute

	if !isArgSet("cachePerMinute") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_PER_MINUTE"); ok {
			if *cachePerMinute, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "CACHE_PER_MINUTE"))
			}
		}
	}
	result.CachePerMinute = *cachePerMinute

	if !isArgSet("catalogCacheAge") {
		if val, ok := os.LookupEnv(*envPrefix + "CATALOG_CACHE_AGE"); ok {
			if *catalogCacheAge, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "CATALOG_CACHE_AGE"))
			}
		}
	}
	result.CatalogCacheAge = *catalogCacheAge

	if !isArgSet("addonName") {
		if val, ok := os.LookupEnv(*envPrefix + "ADDON_NAME"); ok {
			*addonName = val
		}
	}
	result.AddonName = *addonName

	if !isArgSet("logLevel") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_LEVEL"); ok {
			*logLevel = val
		}
	}
	result.LogLevel = *logLevel

	if !isArgSet("logEncoding") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_ENCODING"); ok {
			*logEncoding = val
		}
	}
	result.LogEncoding = *logEncoding

	return result
}

func (c *config) validate(logger *zap.Logger) {
	if c.Secret == "" {
		logger.Fatal("A process secret is required (flag \"-secret\" or env var \"SECRET\")")
	}
	if c.AssetURL == "" {
		logger.Fatal("An asset URL is required (flag \"-assetURL\" or env var \"ASSET_URL\")")
	}
	if c.RedisAddr == "" {
		logger.Fatal("A Redis address is required (flag \"-redisAddr\" or env var \"REDIS_ADDR\")")
	}

	if c.CatalogPath == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			logger.Fatal("Couldn't determine user cache directory via `os.UserCacheDir()`", zap.Error(err))
		}
		c.CatalogPath = filepath.Join(userCacheDir, "streamfusion/catalog.db")
		if err = os.MkdirAll(filepath.Dir(c.CatalogPath), 0o755); err != nil {
			logger.Fatal("Couldn't create catalog directory", zap.Error(err))
		}
	} else {
		c.CatalogPath = filepath.Clean(c.CatalogPath)
	}

	if c.BlobPath == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			logger.Fatal("Couldn't determine user cache directory via `os.UserCacheDir()`", zap.Error(err))
		}
		c.BlobPath = filepath.Join(userCacheDir, "streamfusion/badger")
	} else {
		c.BlobPath = filepath.Clean(c.BlobPath)
	}
	// If the dir doesn't exist, BadgerDB creates it when writing its DB files.

	if c.LogEncoding != "console" && c.LogEncoding != "json" {
		logger.Fatal(`logEncoding must be one of "console" or "json"`, zap.String("logEncoding", c.LogEncoding))
	}
}

// isArgSet returns true if the argument you're looking for is actually set as command line argument.
// Pass without "-" prefix.
func isArgSet(arg string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == arg {
			found = true
		}
	})
	return found
}
