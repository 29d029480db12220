// Package easydebrid resolves streams through the easydebrid.com API. The
// service only serves cached content and exposes a one-shot link generator,
// so there is no add-and-poll cycle.
package easydebrid

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const baseURL = "https://easydebrid.com/api/v1"

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("easydebrid", opts)}
}

func (c *Client) Name() string {
	return "easydebrid"
}

func (c *Client) headers(creds provider.Credentials) map[string]string {
	headers := map[string]string{"Authorization": "Bearer " + creds.Token}
	if creds.ClientIP != "" {
		headers["X-Forwarded-For"] = creds.ClientIP
	}
	return headers
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.Get(ctx, baseURL+"/user/details", c.headers(creds))
	if err != nil {
		return err
	}
	if !gjson.GetBytes(resBytes, "id").Exists() {
		return provider.NewError(provider.ClipInvalidToken, "easydebrid.com rejected the API key")
	}
	if !gjson.GetBytes(resBytes, "paid_until").Exists() {
		return provider.NewError(provider.ClipNeedPremium, "easydebrid.com account is not premium")
	}
	return nil
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	var cached []string
	for _, batch := range provider.Chunk(infoHashes, 100) {
		body := map[string]interface{}{"urls": batch}
		resBytes, err := c.http.PostJSON(ctx, baseURL+"/link/lookup", c.headers(creds), body)
		if err != nil {
			return cached, err
		}
		for i, result := range gjson.GetBytes(resBytes, "cached").Array() {
			if result.Bool() && i < len(batch) {
				cached = append(cached, strings.ToLower(batch[i]))
			}
		}
	}
	return cached, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	body := map[string]interface{}{"url": asset.MagnetURL}
	resBytes, err := c.http.PostJSON(ctx, baseURL+"/link/generate", c.headers(creds), body)
	if err != nil {
		return "", err
	}
	if errMsg := gjson.GetBytes(resBytes, "error").String(); errMsg != "" {
		if strings.Contains(strings.ToLower(errMsg), "not cached") {
			return "", provider.NewError(provider.ClipTorrentNotDownloaded, "easydebrid.com has no cache for %v", asset.InfoHash)
		}
		return "", provider.NewError(provider.ClipTransferError, "easydebrid.com couldn't generate a link: %v", errMsg)
	}

	var files []provider.File
	var fileURLs []string
	for i, result := range gjson.GetBytes(resBytes, "files").Array() {
		files = append(files, provider.File{
			Index: i,
			Name:  result.Get("path").String(),
			Size:  result.Get("size").Int(),
		})
		fileURLs = append(fileURLs, result.Get("url").String())
	}
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}
	return fileURLs[selected.Index], nil
}

// ListDownloaded returns nothing: easydebrid.com keeps no user-visible
// download history.
func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	return nil, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	return nil
}
