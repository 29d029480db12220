// Package debrider resolves streams through the debrider.app API, a
// one-shot link generator like easydebrid.
package debrider

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const baseURL = "https://debrider.app/api/v1"

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("debrider", opts)}
}

func (c *Client) Name() string {
	return "debrider"
}

func (c *Client) headers(creds provider.Credentials) map[string]string {
	return map[string]string{"Authorization": "Bearer " + creds.Token}
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.Get(ctx, baseURL+"/account/info", c.headers(creds))
	if err != nil {
		return err
	}
	if !gjson.GetBytes(resBytes, "email").Exists() {
		return provider.NewError(provider.ClipInvalidToken, "debrider.app rejected the API key")
	}
	return nil
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	var cached []string
	for _, batch := range provider.Chunk(infoHashes, 50) {
		body := map[string]interface{}{"hashes": batch}
		resBytes, err := c.http.PostJSON(ctx, baseURL+"/link/cachecheck", c.headers(creds), body)
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
	body := map[string]interface{}{"link": asset.MagnetURL}
	resBytes, err := c.http.PostJSON(ctx, baseURL+"/link/generate", c.headers(creds), body)
	if err != nil {
		return "", err
	}
	if !gjson.GetBytes(resBytes, "success").Bool() {
		errMsg := gjson.GetBytes(resBytes, "error").String()
		if strings.Contains(strings.ToLower(errMsg), "not cached") {
			return "", provider.NewError(provider.ClipTorrentNotDownloaded, "debrider.app has no cache for %v", asset.InfoHash)
		}
		return "", provider.NewError(provider.ClipTransferError, "debrider.app couldn't generate a link: %v", errMsg)
	}

	var files []provider.File
	var fileURLs []string
	for i, result := range gjson.GetBytes(resBytes, "data.files").Array() {
		files = append(files, provider.File{
			Index: i,
			Name:  result.Get("name").String(),
			Size:  result.Get("size").Int(),
		})
		fileURLs = append(fileURLs, result.Get("download_link").String())
	}
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}
	return fileURLs[selected.Index], nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	return nil, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	return nil
}
