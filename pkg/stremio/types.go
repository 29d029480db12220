package stremio

// Manifest describes the capabilities of the addon.
// See https://github.com/Stremio/stremio-addon-sdk/blob/ddaa3b80def8a44e553349734dd02ec9c3fea52c/docs/api/responses/manifest.md
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	ResourceItems []ResourceItem `json:"resources,omitempty"`

	Types    []string      `json:"types"`
	Catalogs []CatalogItem `json:"catalogs"`

	// Optional
	IDprefixes    []string      `json:"idPrefixes,omitempty"`
	Background    string        `json:"background,omitempty"` // URL
	Logo          string        `json:"logo,omitempty"`       // URL
	ContactEmail  string        `json:"contactEmail,omitempty"`
	BehaviorHints BehaviorHints `json:"behaviorHints,omitempty"`
}

type ResourceItem struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`

	// Optional
	IDprefixes []string `json:"idPrefixes,omitempty"`
}

type BehaviorHints struct {
	// Note: Must include `omitempty`, otherwise it will be included if this struct is used in another one, even if the field of the containing struct is marked as `omitempty`
	Adult                 bool `json:"adult,omitempty"`
	Configurable          bool `json:"configurable,omitempty"`
	ConfigurationRequired bool `json:"configurationRequired,omitempty"`
}

// CatalogItem represents an item in the catalog
type CatalogItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`

	// Optional
	Extra []ExtraItem `json:"extra,omitempty"`
}

type ExtraItem struct {
	Name string `json:"name"`

	// Optional
	IsRequired   bool     `json:"isRequired,omitempty"`
	Options      []string `json:"options,omitempty"`
	OptionsLimit int      `json:"optionsLimit,omitempty"`
}

// MetaPreviewItem represents a meta item and is meant to be used within catalog responses.
// See https://github.com/Stremio/stremio-addon-sdk/blob/ddaa3b80def8a44e553349734dd02ec9c3fea52c/docs/api/responses/meta.md
type MetaPreviewItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Poster string `json:"poster"` // URL

	// Optional
	PosterShape string `json:"posterShape,omitempty"`
	Background  string `json:"background,omitempty"` // URL
	Logo        string `json:"logo,omitempty"`       // URL
	Description string `json:"description,omitempty"`
	IMDBrating  string `json:"imdbRating,omitempty"`
	Released    string `json:"released,omitempty"` // Must be ISO 8601, e.g. "2010-12-06T05:00:00.000Z"
}

// StreamItem represents a stream for a MetaItem.
// Exactly one of URL, YoutubeID, InfoHash, NZBURL and ExternalURL is set.
// See https://github.com/Stremio/stremio-addon-sdk/blob/ddaa3b80def8a44e553349734dd02ec9c3fea52c/docs/api/responses/stream.md
type StreamItem struct {
	// One of the following is required
	URL         string `json:"url,omitempty"` // URL
	YoutubeID   string `json:"ytId,omitempty"`
	InfoHash    string `json:"infoHash,omitempty"`
	NZBURL      string `json:"nzbUrl,omitempty"` // URL
	ExternalURL string `json:"externalUrl,omitempty"`

	// Optional
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	// Only when using InfoHash
	FileIndex *int `json:"fileIdx,omitempty"`
	// Tracker ("tracker:<URL>") and DHT ("dht:<info_hash>") sources, only when using InfoHash
	Sources       []string             `json:"sources,omitempty"`
	BehaviorHints *StreamBehaviorHints `json:"behaviorHints,omitempty"`
}

// StreamBehaviorHints tell the player how to treat a single stream.
type StreamBehaviorHints struct {
	NotWebReady bool   `json:"notWebReady,omitempty"`
	BingeGroup  string `json:"bingeGroup,omitempty"`
	Filename    string `json:"filename,omitempty"`
	VideoSize   int64  `json:"videoSize,omitempty"`

	// ProxyHeaders carry the request/response header dictionaries the player
	// must pass verbatim when fetching the stream URL.
	ProxyHeaders *ProxyHeaders `json:"proxyHeaders,omitempty"`
}

type ProxyHeaders struct {
	Request  map[string]string `json:"request,omitempty"`
	Response map[string]string `json:"response,omitempty"`
}

// StreamResponse is the body of a stream endpoint response.
type StreamResponse struct {
	Streams []StreamItem `json:"streams"`
}

// CatalogResponse is the body of a catalog endpoint response.
type CatalogResponse struct {
	Metas []MetaPreviewItem `json:"metas"`
}
