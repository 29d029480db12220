// Package userdata holds the request-scoped user configuration and the
// encryption envelope it travels in as the secret path segment.
package userdata

// StreamingProvider is one configured debrid/Usenet/streaming backend.
type StreamingProvider struct {
	// Name is the user-given display name, Service the registry tag
	// ("realdebrid", "sabnzbd", ...).
	Name    string `json:"name,omitempty"`
	Service string `json:"service"`

	Token    string `json:"token,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	// URL is the client API base URL for self-hosted backends (SABnzbd,
	// NZBGet, qBittorrent, StremThru, ...).
	URL string `json:"url,omitempty"`

	WebDAVURL      string `json:"webdavUrl,omitempty"`
	WebDAVUsername string `json:"webdavUsername,omitempty"`
	WebDAVPassword string `json:"webdavPassword,omitempty"`

	// OAuth2 refresh token for services that mint short-lived access tokens.
	RefreshToken string `json:"refreshToken,omitempty"`

	// UseMediaFlow suppresses or enables proxy wrapping per provider.
	// Providers that already return pre-proxied URLs keep this false.
	UseMediaFlow    bool `json:"useMediaFlow,omitempty"`
	EnableWatchlist bool `json:"enableWatchlist,omitempty"`

	// DownloadViaBrowser streams the magnet to the player instead of a
	// provider (the "p2p" service uses it implicitly).
	OnlyShowCachedStreams bool `json:"onlyShowCachedStreams,omitempty"`
}

// MediaFlowConfig configures the external MediaFlow rewriting proxy.
type MediaFlowConfig struct {
	ProxyURL    string `json:"proxyUrl,omitempty"`
	APIPassword string `json:"apiPassword,omitempty"`
	// PublicIP, when set, skips the egress IP probe.
	PublicIP string `json:"publicIp,omitempty"`
}

// Complete reports whether the config is usable for URL wrapping.
func (c *MediaFlowConfig) Complete() bool {
	return c != nil && c.ProxyURL != "" && c.APIPassword != ""
}

// TelegramConfig enables the Telegram stream category and scraper.
type TelegramConfig struct {
	BotToken string  `json:"botToken,omitempty"`
	ChatIDs  []int64 `json:"chatIds,omitempty"`
}

// IndexerConfig is one Newznab/Torznab endpoint.
type IndexerConfig struct {
	Name   string `json:"name,omitempty"`
	URL    string `json:"url"`
	APIKey string `json:"apiKey,omitempty"`
}

// Grouping modes for combining per-category stream lists.
const (
	GroupingSeparate = "separate"
	GroupingMixed    = "mixed"
)

// DefaultCategoryOrder is used when the user didn't configure one.
var DefaultCategoryOrder = []string{"torrent", "usenet", "telegram", "acestream", "http"}

// UserData is the decrypted, request-scoped configuration. It is immutable
// for the duration of a request.
type UserData struct {
	Providers []StreamingProvider `json:"streamingProviders,omitempty"`
	MediaFlow *MediaFlowConfig    `json:"mediaflowConfig,omitempty"`

	RPDBKey    string `json:"rpdbKey,omitempty"`
	MDBListKey string `json:"mdblistKey,omitempty"`

	EnableUsenetStreams    bool `json:"enableUsenetStreams,omitempty"`
	EnableTelegramStreams  bool `json:"enableTelegramStreams,omitempty"`
	EnableAceStreamStreams bool `json:"enableAceStreamStreams,omitempty"`

	// CategoryOrder is a total order over category tags; StreamGrouping is
	// "separate" (concatenate) or "mixed" (round-robin interleave).
	CategoryOrder  []string `json:"categoryOrder,omitempty"`
	StreamGrouping string   `json:"streamGrouping,omitempty"`
	MaxStreams     int      `json:"maxStreams,omitempty"`

	// Per-catalog sort preferences, "sortBy:direction".
	CatalogSorts map[string]string `json:"catalogSorts,omitempty"`

	ContentFilters []string `json:"contentFilters,omitempty"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Newznab  []IndexerConfig `json:"newznabIndexers,omitempty"`
	Torznab  []IndexerConfig `json:"torznabIndexers,omitempty"`

	UserID    string `json:"userId,omitempty"`
	ProfileID string `json:"profileId,omitempty"`
}

// IsAnonymous reports whether the request carries no user identity.
func (ud UserData) IsAnonymous() bool {
	return ud.UserID == ""
}

// PrimaryProvider returns the first configured provider, or nil.
func (ud UserData) PrimaryProvider() *StreamingProvider {
	if len(ud.Providers) == 0 {
		return nil
	}
	return &ud.Providers[0]
}

// ProviderByService returns the first provider with the given service tag, or nil.
func (ud UserData) ProviderByService(service string) *StreamingProvider {
	for i := range ud.Providers {
		if ud.Providers[i].Service == service {
			return &ud.Providers[i]
		}
	}
	return nil
}

// Usenet-capable service tags. Usenet streams are only offered when the user
// carries one of these.
var usenetServices = map[string]bool{
	"sabnzbd":  true,
	"nzbget":   true,
	"nzbdav":   true,
	"easynews": true,
	"torbox":   true,
}

// HasUsenetProvider reports whether any configured provider can play NZBs.
func (ud UserData) HasUsenetProvider() bool {
	return ud.FirstUsenetProvider() != nil
}

// FirstUsenetProvider returns the first NZB-capable provider, or nil.
func (ud UserData) FirstUsenetProvider() *StreamingProvider {
	for i := range ud.Providers {
		if usenetServices[ud.Providers[i].Service] {
			return &ud.Providers[i]
		}
	}
	return nil
}

// Order returns the effective category order.
func (ud UserData) Order() []string {
	if len(ud.CategoryOrder) > 0 {
		return ud.CategoryOrder
	}
	return DefaultCategoryOrder
}

// Grouping returns the effective grouping mode.
func (ud UserData) Grouping() string {
	if ud.StreamGrouping == GroupingMixed {
		return GroupingMixed
	}
	return GroupingSeparate
}
