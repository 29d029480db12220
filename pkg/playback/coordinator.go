// Package playback is the single-flight link mint: it turns a stream
// reference plus a provider account into a redirect URL, with a sliding
// per-fingerprint URL cache and a named lock so exactly one provider call
// runs per fingerprint window.
package playback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/kv"
	"github.com/doingodswork/streamfusion/pkg/mediaflow"
	"github.com/doingodswork/streamfusion/pkg/provider"
	"github.com/doingodswork/streamfusion/pkg/provider/registry"
	"github.com/doingodswork/streamfusion/pkg/telegram"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

var (
	// ErrNoProvider means the request carries no usable provider account.
	ErrNoProvider = errors.New("no streaming provider configured")
	// ErrStreamNotFound means the referenced stream isn't in the catalog.
	ErrStreamNotFound = errors.New("stream not in catalog")
)

// Annotation requests for unparseable series containers back off this long.
const annotationBackoff = 3 * 24 * time.Hour

// Scrobbler is an external watch-state integration. Failures are logged,
// never surfaced.
type Scrobbler interface {
	Scrobble(ctx context.Context, userID string, mediaID int64, season, episode int) error
}

// Notifier receives annotation requests for series containers whose files
// couldn't be assigned to episodes.
type Notifier interface {
	AnnotationNeeded(ctx context.Context, infoHash string, files []provider.File)
}

// FileLister is implemented by adapters that can report a container's file
// listing after a resolve, enabling the metadata back-fill.
type FileLister interface {
	ListFiles(ctx context.Context, creds provider.Credentials, asset provider.Asset) ([]provider.File, error)
}

type Options struct {
	// Secret feeds the fingerprint so cache keys aren't forgeable.
	Secret string
	// AssetURL prefixes the static error clips.
	AssetURL string
	// AceProxyURL is the Ace Stream HTTP gateway, empty when unsupported.
	AceProxyURL string
	Provider    provider.Options
	Telegram    telegram.ClientOptions
	Logger      *zap.Logger
}

// Request is one playback attempt. InfoHash references torrent streams,
// StreamID everything else. Secret is the raw config-envelope path segment;
// it keys the URL cache so accounts behind one IP stay apart.
type Request struct {
	UserData userdata.UserData
	Provider *userdata.StreamingProvider
	ClientIP string
	Secret   string

	InfoHash string
	StreamID int64
	Season   int
	Episode  int

	// Filename is the client-supplied hint from the playback URL. It wins
	// file selection when it matches a container entry.
	Filename string
}

func (r Request) streamKey() string {
	if r.InfoHash != "" {
		return r.InfoHash
	}
	return "id:" + strconv.FormatInt(r.StreamID, 10)
}

// Result is the redirect to send. Fresh mints answer 302, cached hits and
// error clips 307 so players don't latch onto the stub.
type Result struct {
	URL   string
	Fresh bool
}

type Coordinator struct {
	store      *catalog.Store
	kvStore    *kv.Store
	mflow      *mediaflow.Client
	scrobblers []Scrobbler
	notifier   Notifier
	opts       Options
	logger     *zap.Logger

	// newResolver is the registry hook, swappable in tests.
	newResolver func(service string, opts provider.Options) (provider.Resolver, error)
}

func NewCoordinator(store *catalog.Store, kvStore *kv.Store, mflow *mediaflow.Client, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		store:       store,
		kvStore:     kvStore,
		mflow:       mflow,
		opts:        opts,
		logger:      opts.Logger,
		newResolver: registry.New,
	}
}

// RegisterScrobbler adds an external watch-state integration.
func (c *Coordinator) RegisterScrobbler(s Scrobbler) {
	c.scrobblers = append(c.scrobblers, s)
}

// SetNotifier sets the annotation-request sink.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// fingerprint keys the URL cache and its lock. The user's envelope segment
// keeps accounts behind one IP apart; the process secret keeps the keys
// unforgeable.
func (c *Coordinator) fingerprint(req Request) string {
	sum := sha256.Sum256([]byte(req.ClientIP + req.Secret + c.opts.Secret + req.streamKey() +
		strconv.Itoa(req.Season) + strconv.Itoa(req.Episode)))
	return "streaming_provider_" + hex.EncodeToString(sum[:])
}

// Resolve runs the LOOKUP → ACQUIRE → RESOLVE → STORE+WRAP state machine.
// kv.ErrLockTimeout propagates for the handler's 429; ErrStreamNotFound and
// ErrNoProvider for its 400. Provider failures come back as an error-clip
// Result, not an error.
func (c *Coordinator) Resolve(ctx context.Context, req Request) (Result, error) {
	key := c.fingerprint(req)
	if cached, err := c.kvStore.GetURL(ctx, key); err != nil {
		c.logger.Error("Couldn't read URL cache", zap.Error(err))
	} else if cached != "" {
		return Result{URL: c.wrap(req, cached)}, nil
	}

	unlock, err := c.kvStore.Lock(ctx, key, time.Minute)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	// Another holder may have minted while this request waited on the lock.
	if cached, err := c.kvStore.GetURL(ctx, key); err == nil && cached != "" {
		return Result{URL: c.wrap(req, cached)}, nil
	}

	row, err := c.lookup(ctx, req)
	if err != nil {
		return Result{}, err
	}

	rawURL, mintErr := c.mint(ctx, req, row)
	if errors.Is(mintErr, ErrNoProvider) {
		return Result{}, mintErr
	}
	if mintErr != nil {
		c.handleMintFailure(ctx, row, mintErr)
		return Result{URL: c.opts.AssetURL + "/" + provider.ClipFor(mintErr)}, nil
	}

	// The cache stores the unwrapped URL so proxy config changes take
	// effect without waiting out the TTL.
	if err = c.kvStore.SetURL(ctx, key, rawURL); err != nil {
		c.logger.Error("Couldn't write URL cache", zap.Error(err))
	}
	c.scheduleTracking(req, row)
	return Result{URL: c.wrap(req, rawURL), Fresh: true}, nil
}

func (c *Coordinator) lookup(ctx context.Context, req Request) (*catalog.StreamRow, error) {
	var (
		row *catalog.StreamRow
		err error
	)
	if req.InfoHash != "" {
		row, err = c.store.StreamByInfoHash(ctx, req.InfoHash)
	} else {
		row, err = c.store.StreamByID(ctx, req.StreamID)
	}
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, ErrStreamNotFound
	}
	return row, err
}

// mint dispatches on the stream's category and returns the raw playable URL.
func (c *Coordinator) mint(ctx context.Context, req Request, row *catalog.StreamRow) (string, error) {
	switch {
	case row.URL != "":
		return row.URL, nil
	case row.ContentID != "":
		if c.opts.AceProxyURL == "" {
			return "", fmt.Errorf("no Ace Stream proxy configured")
		}
		return strings.TrimSuffix(c.opts.AceProxyURL, "/") + "/ace/getstream?id=" + row.ContentID, nil
	case row.ChatID != 0:
		return c.mintTelegram(ctx, req, row)
	default:
		return c.mintProvider(ctx, req, row)
	}
}

func (c *Coordinator) mintTelegram(ctx context.Context, req Request, row *catalog.StreamRow) (string, error) {
	cfg := req.UserData.Telegram
	if cfg == nil || cfg.BotToken == "" || len(cfg.ChatIDs) == 0 {
		return "", ErrNoProvider
	}
	client := telegram.NewClient(c.opts.Telegram, cfg.BotToken, c.logger)

	// The Bot API can't address stored files directly, so the message is
	// re-inspected for a fresh file ID on every mint. The URL cache keeps
	// this to once per window.
	msg, err := client.MessageFile(ctx, row.ChatID, row.MessageID, cfg.ChatIDs[0])
	if err != nil {
		return "", err
	}
	if row.FileUniqueID == "" && msg.FileUniqueID != "" {
		if err := c.store.BackfillTelegramFileID(ctx, row.ChatID, row.MessageID, msg.FileUniqueID); err != nil {
			c.logger.Error("Couldn't back-fill telegram file ID", zap.Error(err))
		}
	}
	return client.ResolveURL(ctx, msg.FileID)
}

func (c *Coordinator) mintProvider(ctx context.Context, req Request, row *catalog.StreamRow) (string, error) {
	if req.Provider == nil {
		return "", ErrNoProvider
	}
	resolver, err := c.newResolver(req.Provider.Service, c.opts.Provider)
	if err != nil {
		return "", err
	}

	asset, err := c.asset(ctx, req, row)
	if err != nil {
		return "", err
	}
	creds := credentials(req)

	rawURL, err := resolver.Resolve(ctx, creds, asset)
	if err != nil {
		// The wanted episode wasn't in the container: that listing is
		// exactly what an annotator needs to see.
		if provider.ClipFor(err) == provider.ClipEpisodeNotFound {
			c.scheduleAnnotation(row, resolver, creds, asset)
		}
		return "", err
	}
	c.scheduleBackfill(req, row, resolver, creds, asset)
	return rawURL, nil
}

// asset converts the catalog row into the provider-facing stream reference,
// resolving the target file from catalog metadata when it exists.
func (c *Coordinator) asset(ctx context.Context, req Request, row *catalog.StreamRow) (provider.Asset, error) {
	asset := provider.Asset{
		Name:         row.Name,
		Size:         row.Size,
		InfoHash:     row.InfoHash,
		NZBGUID:      row.NZBGUID,
		NZBURL:       row.NZBURL,
		Filename:     req.Filename,
		Season:       req.Season,
		Episode:      req.Episode,
		TrustedFiles: row.TrustedFiles,
	}
	if row.InfoHash != "" {
		asset.MagnetURL = magnetURL(row.InfoHash, row.Name, row.AnnounceList)
		asset.AnnounceList = row.AnnounceList
	}
	if row.Filename != "" {
		if asset.Filename == "" {
			asset.Filename = row.Filename
		}
		asset.FileIndex = row.FileIndex
		return asset, nil
	}

	files, err := c.store.StreamFiles(ctx, row.ID)
	if err != nil {
		return asset, err
	}
	for i, f := range files {
		if req.Season != 0 && (f.Season != req.Season || f.Episode != req.Episode) {
			continue
		}
		if asset.Filename == "" {
			asset.Filename = f.Filename
		}
		asset.FileIndex = &files[i].FileIndex
		break
	}
	return asset, nil
}

func credentials(req Request) provider.Credentials {
	p := req.Provider
	return provider.Credentials{
		Token:          p.Token,
		Email:          p.Email,
		Password:       p.Password,
		URL:            p.URL,
		WebDAVURL:      p.WebDAVURL,
		WebDAVUsername: p.WebDAVUsername,
		WebDAVPassword: p.WebDAVPassword,
		RefreshToken:   p.RefreshToken,
		ClientIP:       req.ClientIP,
	}
}

// wrap routes the URL through MediaFlow when the user's proxy config is
// complete and the provider opted in.
func (c *Coordinator) wrap(req Request, rawURL string) string {
	cfg := req.UserData.MediaFlow
	if !cfg.Complete() || req.Provider == nil || !req.Provider.UseMediaFlow {
		return rawURL
	}
	hint := req.Filename
	if hint == "" {
		hint = filenameHint(rawURL)
	}
	return mediaflow.WrapURL(cfg, rawURL, hint)
}

// filenameHint gives the proxy a content-type hint from the URL path.
func filenameHint(rawURL string) string {
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	base := trimmed[strings.LastIndexByte(trimmed, '/')+1:]
	if strings.ContainsRune(base, '.') {
		return base
	}
	return ""
}

func magnetURL(infoHash, name string, trackers []string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(infoHash)
	if name != "" {
		b.WriteString("&dn=")
		b.WriteString(strings.ReplaceAll(name, " ", "+"))
	}
	for _, tr := range trackers {
		b.WriteString("&tr=")
		b.WriteString(tr)
	}
	return b.String()
}

// handleMintFailure applies the catalog side effects of provider failures.
func (c *Coordinator) handleMintFailure(ctx context.Context, row *catalog.StreamRow, mintErr error) {
	clip := provider.ClipFor(mintErr)
	c.logger.Warn("Playback mint failed",
		zap.Int64("streamID", row.ID), zap.String("clip", clip), zap.Error(mintErr))
	// Trusted metadata with no video file means the container is dead.
	if clip == provider.ClipNoMatchingFile {
		if err := c.store.BlockStream(ctx, row.ID); err != nil {
			c.logger.Error("Couldn't block dead stream", zap.Int64("streamID", row.ID), zap.Error(err))
		}
	}
}
