// Package provider defines the contract every streaming backend fulfills:
// debrid clouds, Usenet clients, instant services and pass-through modes all
// resolve an abstract stream reference into a playable URL.
package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Asset is the stream reference handed to a provider. Exactly the fields of
// the stream's category are set.
type Asset struct {
	Name string
	Size int64

	// Torrent
	InfoHash     string
	MagnetURL    string
	AnnounceList []string

	// Usenet
	NZBGUID string
	NZBURL  string

	// File targeting. Filename and FileIndex come from trusted catalog
	// metadata when available; Season/Episode drive the fallback parse.
	Filename  string
	FileIndex *int
	Season    int
	Episode   int

	// TrustedFiles marks catalog file metadata that came from the container
	// itself. An empty video list then means the stream is dead.
	TrustedFiles bool
}

// Credentials carry the per-user provider account, decoded from the config
// envelope. Which fields are set depends on the service.
type Credentials struct {
	Token    string
	Email    string
	Password string
	URL      string

	WebDAVURL      string
	WebDAVUsername string
	WebDAVPassword string

	RefreshToken string

	// ClientIP is forwarded to providers that bind downloads to the
	// requesting IP.
	ClientIP string
}

// DownloadItem is an entry of the user's provider-side download history.
type DownloadItem struct {
	Name     string
	InfoHash string
	Size     int64
}

// Resolver is the polymorphic provider contract. All calls construct their
// HTTP requests per call; clients hold no per-user state.
type Resolver interface {
	// Name returns the service tag, e.g. "realdebrid".
	Name() string
	// Resolve turns the asset into a playable URL, adding and polling the
	// download as needed. Idempotent across retries for the same asset.
	Resolve(ctx context.Context, creds Credentials, asset Asset) (string, error)
	// ProbeCache filters info hashes down to the instantly available ones.
	// Failure is non-fatal to the caller.
	ProbeCache(ctx context.Context, creds Credentials, infoHashes []string) ([]string, error)
	// ListDownloaded returns the user's download history for watchlist
	// synthesis.
	ListDownloaded(ctx context.Context, creds Credentials) ([]DownloadItem, error)
	// DeleteAll clears the user's download history.
	DeleteAll(ctx context.Context, creds Credentials) error
	// Validate checks the credentials at configuration-save time.
	Validate(ctx context.Context, creds Credentials) error
}

// Options configure a provider client.
type Options struct {
	// BaseURL overrides the adapter's default API endpoint, for tests and
	// API proxies.
	BaseURL string
	// Timeout bounds each single HTTP call, not the overall poll loop.
	Timeout time.Duration
	// PollInterval and MaxPollAttempts bound the download-ready poll loop.
	PollInterval    time.Duration
	MaxPollAttempts uint
	Logger          *zap.Logger
}

// DefaultOptions are used where the config doesn't override them.
var DefaultOptions = Options{
	Timeout:         8 * time.Second,
	PollInterval:    time.Second,
	MaxPollAttempts: 10,
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = DefaultOptions.Timeout
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultOptions.PollInterval
	}
	if o.MaxPollAttempts == 0 {
		o.MaxPollAttempts = DefaultOptions.MaxPollAttempts
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Chunk splits hashes into batches of the provider's documented probe size.
func Chunk(hashes []string, size int) [][]string {
	if size <= 0 || len(hashes) == 0 {
		return nil
	}
	var batches [][]string
	for size < len(hashes) {
		batches = append(batches, hashes[:size])
		hashes = hashes[size:]
	}
	return append(batches, hashes)
}
