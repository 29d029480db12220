// Package premiumize resolves streams through the premiumize.me API.
package premiumize

import (
	"context"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const baseURL = "https://www.premiumize.me/api"

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("premiumize", opts)}
}

func (c *Client) Name() string {
	return "premiumize"
}

func (c *Client) apiURL(endpoint string, creds provider.Credentials, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", creds.Token)
	return baseURL + endpoint + "?" + params.Encode()
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.Get(ctx, c.apiURL("/account/info", creds, nil), nil)
	if err != nil {
		return err
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		return provider.NewError(provider.ClipInvalidToken, "premiumize.me rejected the API key: %v", gjson.GetBytes(resBytes, "message").String())
	}
	if gjson.GetBytes(resBytes, "premium_until").Int() == 0 {
		return provider.NewError(provider.ClipNeedPremium, "premiumize.me account is not premium")
	}
	return nil
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	var cached []string
	for _, batch := range provider.Chunk(infoHashes, 100) {
		params := url.Values{}
		for _, hash := range batch {
			params.Add("items[]", hash)
		}
		resBytes, err := c.http.Get(ctx, c.apiURL("/cache/check", creds, params), nil)
		if err != nil {
			return cached, err
		}
		for i, response := range gjson.GetBytes(resBytes, "response").Array() {
			if response.Bool() && i < len(batch) {
				cached = append(cached, strings.ToLower(batch[i]))
			}
		}
	}
	return cached, nil
}

// Resolve uses the one-shot direct download endpoint: for cached content
// premiumize.me returns the file list with stream URLs in a single call.
func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	data := url.Values{}
	data.Set("src", asset.MagnetURL)
	resBytes, err := c.http.PostForm(ctx, c.apiURL("/transfer/directdl", creds, nil), nil, data)
	if err != nil {
		return "", err
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		message := gjson.GetBytes(resBytes, "message").String()
		if strings.Contains(strings.ToLower(message), "not cached") {
			// Queue it and report the bounded-poll failure like the queue
			// based providers do.
			return "", c.queueTransfer(ctx, creds, asset)
		}
		return "", provider.NewError(provider.ClipTransferError, "premiumize.me direct download failed: %v", message)
	}

	var files []provider.File
	contents := gjson.GetBytes(resBytes, "content").Array()
	for i, content := range contents {
		files = append(files, provider.File{
			Index: i,
			Name:  content.Get("path").String(),
			Size:  content.Get("size").Int(),
		})
	}
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}
	streamURL := contents[selected.Index].Get("stream_link").String()
	if streamURL == "" {
		streamURL = contents[selected.Index].Get("link").String()
	}
	if streamURL == "" {
		return "", provider.NewError(provider.ClipTransferError, "premiumize.me didn't return a link for %v", selected.Name)
	}
	return streamURL, nil
}

// queueTransfer starts a cloud transfer and polls it within the request's
// poll budget. Uncached content rarely finishes in time; the caller then
// surfaces the not-downloaded clip and a later retry hits the cache.
func (c *Client) queueTransfer(ctx context.Context, creds provider.Credentials, asset provider.Asset) error {
	data := url.Values{}
	data.Set("src", asset.MagnetURL)
	resBytes, err := c.http.PostForm(ctx, c.apiURL("/transfer/create", creds, nil), nil, data)
	if err != nil {
		return err
	}
	if gjson.GetBytes(resBytes, "status").String() != "success" {
		return provider.NewError(provider.ClipTransferError, "premiumize.me didn't accept the transfer: %v", gjson.GetBytes(resBytes, "message").String())
	}
	transferID := gjson.GetBytes(resBytes, "id").String()

	return c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
		resBytes, err := c.http.Get(ctx, c.apiURL("/transfer/list", creds, nil), nil)
		if err != nil {
			return false, err
		}
		for _, transfer := range gjson.GetBytes(resBytes, "transfers").Array() {
			if transfer.Get("id").String() != transferID {
				continue
			}
			switch status := transfer.Get("status").String(); status {
			case "finished", "seeding":
				return true, nil
			case "error", "banned", "timeout":
				return false, provider.NewError(provider.ClipTransferError, "bad premiumize.me transfer status: %v", status)
			default:
				c.http.Logger().Debug("Waiting for premiumize.me transfer", zap.String("status", status))
				return false, nil
			}
		}
		return false, nil
	})
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	resBytes, err := c.http.Get(ctx, c.apiURL("/transfer/list", creds, nil), nil)
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, transfer := range gjson.GetBytes(resBytes, "transfers").Array() {
		if transfer.Get("status").String() != "finished" {
			continue
		}
		items = append(items, provider.DownloadItem{
			Name:     transfer.Get("name").String(),
			InfoHash: infoHashFromSrc(transfer.Get("src").String()),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.Get(ctx, c.apiURL("/transfer/list", creds, nil), nil)
	if err != nil {
		return err
	}
	for _, transfer := range gjson.GetBytes(resBytes, "transfers").Array() {
		data := url.Values{}
		data.Set("id", transfer.Get("id").String())
		if _, err = c.http.PostForm(ctx, c.apiURL("/transfer/delete", creds, nil), nil, data); err != nil {
			return err
		}
	}
	return nil
}

func infoHashFromSrc(src string) string {
	const marker = "btih:"
	idx := strings.Index(src, marker)
	if idx == -1 || len(src) < idx+len(marker)+40 {
		return ""
	}
	return strings.ToLower(src[idx+len(marker) : idx+len(marker)+40])
}
