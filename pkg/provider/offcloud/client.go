// Package offcloud resolves streams through the offcloud.com cloud API.
// Offcloud keeps the whole download history server-side, so resolution
// first checks the history for an existing request before adding a new one.
package offcloud

import (
	"context"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const defaultBaseURL = "https://offcloud.com/api"

type Client struct {
	http    provider.HTTPClient
	baseURL string
}

func NewClient(opts provider.Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{http: provider.NewHTTPClient("offcloud", opts), baseURL: baseURL}
}

func (c *Client) Name() string {
	return "offcloud"
}

func (c *Client) apiURL(endpoint string, creds provider.Credentials) string {
	return c.baseURL + endpoint + "?key=" + url.QueryEscape(creds.Token)
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.PostForm(ctx, c.apiURL("/account/stats", creds), nil, url.Values{})
	if err != nil {
		return err
	}
	if gjson.GetBytes(resBytes, "error").Exists() {
		return provider.NewError(provider.ClipInvalidToken, "offcloud.com rejected the API key: %v", gjson.GetBytes(resBytes, "error").String())
	}
	return nil
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	var cached []string
	for _, batch := range provider.Chunk(infoHashes, 100) {
		body := map[string]interface{}{"hashes": batch}
		resBytes, err := c.http.PostJSON(ctx, c.apiURL("/cache", creds), nil, body)
		if err != nil {
			return cached, err
		}
		for _, hash := range gjson.GetBytes(resBytes, "cachedItems").Array() {
			cached = append(cached, strings.ToLower(hash.String()))
		}
	}
	return cached, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	requestID, err := c.findInHistory(ctx, creds, asset.InfoHash)
	if err != nil {
		return "", err
	}
	if requestID == "" {
		data := url.Values{}
		data.Set("url", asset.MagnetURL)
		resBytes, err := c.http.PostForm(ctx, c.apiURL("/cloud", creds), nil, data)
		if err != nil {
			return "", err
		}
		if errMsg := gjson.GetBytes(resBytes, "error").String(); errMsg != "" {
			if strings.Contains(strings.ToLower(errMsg), "premium") {
				return "", provider.NewError(provider.ClipNeedPremium, "offcloud.com: %v", errMsg)
			}
			return "", provider.NewError(provider.ClipTransferError, "offcloud.com didn't accept the magnet: %v", errMsg)
		}
		requestID = gjson.GetBytes(resBytes, "requestId").String()
	}

	err = c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
		resBytes, err := c.http.PostForm(ctx, c.apiURL("/cloud/status/"+requestID, creds), nil, url.Values{})
		if err != nil {
			return false, err
		}
		switch status := gjson.GetBytes(resBytes, "status.status").String(); status {
		case "downloaded":
			return true, nil
		case "error", "canceled":
			return false, provider.NewError(provider.ClipTransferError, "bad offcloud.com request status: %v", status)
		default:
			c.http.Logger().Debug("Waiting for offcloud.com download", zap.String("status", status))
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}

	// Explore lists the direct file URLs of the finished request.
	resBytes, err := c.http.Get(ctx, c.apiURL("/cloud/explore/"+requestID, creds), nil)
	if err != nil {
		return "", err
	}
	var files []provider.File
	var fileURLs []string
	for i, result := range gjson.ParseBytes(resBytes).Array() {
		fileURL := result.String()
		files = append(files, provider.File{Index: i, Name: fileName(fileURL)})
		fileURLs = append(fileURLs, fileURL)
	}
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}
	return fileURLs[selected.Index], nil
}

// findInHistory returns the request ID of an earlier download of the same
// torrent, or "".
func (c *Client) findInHistory(ctx context.Context, creds provider.Credentials, infoHash string) (string, error) {
	resBytes, err := c.http.Get(ctx, c.apiURL("/cloud/history", creds), nil)
	if err != nil {
		return "", err
	}
	for _, entry := range gjson.ParseBytes(resBytes).Array() {
		if strings.Contains(strings.ToLower(entry.Get("originalLink").String()), strings.ToLower(infoHash)) {
			return entry.Get("requestId").String(), nil
		}
	}
	return "", nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	resBytes, err := c.http.Get(ctx, c.apiURL("/cloud/history", creds), nil)
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, entry := range gjson.ParseBytes(resBytes).Array() {
		if entry.Get("status").String() != "downloaded" {
			continue
		}
		items = append(items, provider.DownloadItem{
			Name:     entry.Get("fileName").String(),
			InfoHash: infoHashFromMagnet(entry.Get("originalLink").String()),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.Get(ctx, c.apiURL("/cloud/history", creds), nil)
	if err != nil {
		return err
	}
	for _, entry := range gjson.ParseBytes(resBytes).Array() {
		requestID := entry.Get("requestId").String()
		if _, err = c.http.Get(ctx, c.apiURL("/cloud/remove/"+requestID, creds), nil); err != nil {
			return err
		}
	}
	return nil
}

func fileName(fileURL string) string {
	if idx := strings.LastIndexByte(fileURL, '/'); idx != -1 {
		return fileURL[idx+1:]
	}
	return fileURL
}

func infoHashFromMagnet(magnet string) string {
	const marker = "btih:"
	idx := strings.Index(strings.ToLower(magnet), marker)
	if idx == -1 || len(magnet) < idx+len(marker)+40 {
		return ""
	}
	return strings.ToLower(magnet[idx+len(marker) : idx+len(marker)+40])
}
