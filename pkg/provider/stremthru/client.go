// Package stremthru resolves streams through a user-hosted StremThru
// instance, which proxies a configurable debrid store behind one API.
package stremthru

import (
	"context"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("stremthru", opts)}
}

func (c *Client) Name() string {
	return "stremthru"
}

func (c *Client) base(creds provider.Credentials) string {
	return strings.TrimRight(creds.URL, "/") + "/v0/store"
}

func (c *Client) headers(creds provider.Credentials) map[string]string {
	headers := map[string]string{"X-StremThru-Store-Authorization": "Bearer " + creds.Token}
	if creds.ClientIP != "" {
		headers["X-StremThru-Client-IP"] = creds.ClientIP
	}
	return headers
}

func (c *Client) check(resBytes []byte, action string) (gjson.Result, error) {
	parsed := gjson.ParseBytes(resBytes)
	if parsed.Get("error").Exists() {
		code := parsed.Get("error.code").String()
		switch code {
		case "UNAUTHORIZED", "FORBIDDEN":
			return gjson.Result{}, provider.NewError(provider.ClipInvalidToken, "StremThru store auth failed: %v", code)
		case "PAYMENT_REQUIRED":
			return gjson.Result{}, provider.NewError(provider.ClipNeedPremium, "StremThru store requires premium")
		default:
			return gjson.Result{}, provider.NewError(provider.ClipAPIError, "StremThru %v failed: %v", action, code)
		}
	}
	return parsed.Get("data"), nil
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	if creds.URL == "" {
		return provider.NewError(provider.ClipInvalidCredentials, "StremThru instance URL is not configured")
	}
	resBytes, err := c.http.Get(ctx, c.base(creds)+"/user", c.headers(creds))
	if err != nil {
		return err
	}
	_, err = c.check(resBytes, "user lookup")
	return err
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	var cached []string
	for _, batch := range provider.Chunk(infoHashes, 50) {
		params := url.Values{}
		for _, hash := range batch {
			params.Add("magnet", hash)
		}
		resBytes, err := c.http.Get(ctx, c.base(creds)+"/magnets/check?"+params.Encode(), c.headers(creds))
		if err != nil {
			return cached, err
		}
		data, err := c.check(resBytes, "cache check")
		if err != nil {
			return cached, err
		}
		for _, item := range data.Get("items").Array() {
			if item.Get("status").String() == "cached" {
				cached = append(cached, strings.ToLower(item.Get("hash").String()))
			}
		}
	}
	return cached, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	body := map[string]interface{}{"magnet": asset.MagnetURL}
	resBytes, err := c.http.PostJSON(ctx, c.base(creds)+"/magnets", c.headers(creds), body)
	if err != nil {
		return "", err
	}
	data, err := c.check(resBytes, "magnet add")
	if err != nil {
		return "", err
	}
	magnetID := data.Get("id").String()

	var files []provider.File
	var links []string
	err = c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
		resBytes, err := c.http.Get(ctx, c.base(creds)+"/magnets/"+magnetID, c.headers(creds))
		if err != nil {
			return false, err
		}
		data, err := c.check(resBytes, "magnet status")
		if err != nil {
			return false, err
		}
		switch status := data.Get("status").String(); status {
		case "downloaded", "cached":
			files = files[:0]
			links = links[:0]
			for i, file := range data.Get("files").Array() {
				files = append(files, provider.File{
					Index: i,
					Name:  file.Get("name").String(),
					Size:  file.Get("size").Int(),
				})
				links = append(links, file.Get("link").String())
			}
			return true, nil
		case "failed", "invalid":
			return false, provider.NewError(provider.ClipTransferError, "bad StremThru magnet status: %v", status)
		default:
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}

	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}

	body = map[string]interface{}{"link": links[selected.Index]}
	resBytes, err = c.http.PostJSON(ctx, c.base(creds)+"/link/generate", c.headers(creds), body)
	if err != nil {
		return "", err
	}
	data, err = c.check(resBytes, "link generation")
	if err != nil {
		return "", err
	}
	streamURL := data.Get("link").String()
	if streamURL == "" {
		return "", provider.NewError(provider.ClipTransferError, "StremThru didn't generate a link")
	}
	return streamURL, nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	resBytes, err := c.http.Get(ctx, c.base(creds)+"/magnets", c.headers(creds))
	if err != nil {
		return nil, err
	}
	data, err := c.check(resBytes, "list")
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, item := range data.Get("items").Array() {
		if status := item.Get("status").String(); status != "downloaded" && status != "cached" {
			continue
		}
		items = append(items, provider.DownloadItem{
			Name:     item.Get("name").String(),
			InfoHash: strings.ToLower(item.Get("hash").String()),
			Size:     item.Get("size").Int(),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.Get(ctx, c.base(creds)+"/magnets", c.headers(creds))
	if err != nil {
		return err
	}
	data, err := c.check(resBytes, "list")
	if err != nil {
		return err
	}
	for _, item := range data.Get("items").Array() {
		if _, err = c.http.Delete(ctx, c.base(creds)+"/magnets/"+item.Get("id").String(), c.headers(creds)); err != nil {
			return err
		}
	}
	return nil
}
