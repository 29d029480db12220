// Package catalog is the relational store for media and stream records.
// All internal queries are media_id-first; external IDs only appear at the
// add-on protocol boundary.
package catalog

import (
	"regexp"
	"time"
)

// Media types known to the catalog.
const (
	TypeMovie  = "movie"
	TypeSeries = "series"
	TypeTV     = "tv"
	TypeEvents = "events"
)

// External ID providers.
const (
	ProviderIMDB = "imdb"
	ProviderTMDB = "tmdb"
	ProviderTVDB = "tvdb"
	ProviderMAL  = "mal"
)

// Watch history actions.
const (
	ActionWatched    = "WATCHED"
	ActionDownloaded = "DOWNLOADED"
	ActionQueued     = "QUEUED"
)

var infoHashRegex = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ValidInfoHash reports whether s is a lowercase 40-hex info hash.
func ValidInfoHash(s string) bool {
	return infoHashRegex.MatchString(s)
}

// Media is the canonical title.
type Media struct {
	ID              int64
	Type            string
	Title           string
	Year            int
	ReleaseDate     *time.Time
	LastStreamAdded *time.Time
	TotalStreams    int
	NudityStatus    string
	AkaTitles       []string
}

// Stream is the abstract stream row. Exactly one specialization exists per stream.
type Stream struct {
	ID     int64
	Name   string
	Source string
	Size   int64

	Resolution string
	Quality    string
	Codec      string
	BitDepth   int

	Languages    []string
	AudioFormats []string
	Channels     []string
	HDRFormats   []string

	IsProper     bool
	IsRepack     bool
	IsExtended   bool
	IsDubbed     bool
	IsSubbed     bool
	IsComplete   bool
	IsRemastered bool
	IsUpscaled   bool

	IsActive       bool
	IsBlocked      bool
	IsPublic       bool
	UploaderUserID string
	PlaybackCount  int
}

// TorrentStream is the torrent specialization, keyed by info_hash.
type TorrentStream struct {
	InfoHash     string
	AnnounceList []string
	Seeders      int
	TorrentFile  []byte
	// TrustedFiles marks file metadata that came from the torrent itself
	// rather than from a parsed display name.
	TrustedFiles bool
}

// UsenetStream is the Usenet specialization, keyed by nzb_guid.
type UsenetStream struct {
	NZBGUID      string
	NZBURL       string
	Indexer      string
	GroupName    string
	Poster       string
	PostedAt     *time.Time
	IsPassworded bool
	Grabs        int
}

// TelegramStream is keyed by (chat_id, message_id). FileUniqueID may be
// empty for rows scraped through the user-API client; it is resolved lazily
// on first playback.
type TelegramStream struct {
	ChatID          int64
	MessageID       int64
	FileUniqueID    string
	MimeType        string
	Size            int64
	Caption         string
	BackupChatID    int64
	BackupMessageID int64
}

// HTTPStream is a directly playable URL, optionally through an extractor.
type HTTPStream struct {
	URL       string
	Extractor string
}

// AceStreamStream requires a proxy to play.
type AceStreamStream struct {
	ContentID string
	InfoHash  string
}

// StreamFile is a file inside a stream. Season/Episode carry the
// FileMediaLink for series content (0 when not applicable).
type StreamFile struct {
	ID        int64
	FileIndex int
	Filename  string
	Size      int64
	FileType  string
	Season    int
	Episode   int
}

// MediaLink is a stream-level association.
type MediaLink struct {
	MediaID   int64
	IsPrimary bool
}

// Record is the unit of a transactional scraper/contribution write: the
// abstract stream, exactly one specialization, its files and its links.
type Record struct {
	Stream  Stream
	Torrent *TorrentStream
	Usenet  *UsenetStream

	Telegram *TelegramStream
	HTTP     *HTTPStream
	Ace      *AceStreamStream

	Files      []StreamFile
	MediaLinks []MediaLink
}

// StreamRow is the flattened read model produced by the per-category
// resolver queries. Specialization fields not belonging to the category are
// zero.
type StreamRow struct {
	Stream

	InfoHash     string
	AnnounceList []string
	Seeders      int
	TrustedFiles bool

	NZBGUID string
	NZBURL  string
	Indexer string

	ChatID       int64
	MessageID    int64
	FileUniqueID string
	MimeType     string

	URL       string
	Extractor string

	ContentID string

	// Set on series-episode queries (through stream_files/file_media_links).
	FileIndex *int
	Filename  string
	FileSize  int64
}

// PlaybackTracking is the per (user, stream, season, episode) play record.
type PlaybackTracking struct {
	UserID        string
	StreamID      int64
	Season        int
	Episode       int
	FirstPlayedAt time.Time
	LastPlayedAt  time.Time
	PlayCount     int
	Provider      string
}

// Sort keys for user-facing list queries.
const (
	SortLatest      = "latest"
	SortPopular     = "popular"
	SortRating      = "rating"
	SortYear        = "year"
	SortTitle       = "title"
	SortReleaseDate = "release_date"
)
