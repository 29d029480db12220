// Package alldebrid resolves streams through the alldebrid.com v4 API.
package alldebrid

import (
	"context"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const (
	baseURL = "https://api.alldebrid.com/v4"
	agent   = "streamfusion"
)

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("alldebrid", opts)}
}

func (c *Client) Name() string {
	return "alldebrid"
}

func (c *Client) apiURL(endpoint string, creds provider.Credentials, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("agent", agent)
	params.Set("apikey", creds.Token)
	if creds.ClientIP != "" {
		params.Set("ip", creds.ClientIP)
	}
	return baseURL + endpoint + "?" + params.Encode()
}

// call unwraps the AllDebrid response envelope and maps its error codes.
func (c *Client) call(ctx context.Context, rawURL string) (gjson.Result, error) {
	resBytes, err := c.http.Get(ctx, rawURL, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	parsed := gjson.ParseBytes(resBytes)
	if parsed.Get("status").String() == "error" {
		code := parsed.Get("error.code").String()
		message := parsed.Get("error.message").String()
		switch {
		case code == "AUTH_BLOCKED" || code == "AUTH_USER_BANNED":
			return gjson.Result{}, provider.NewError(provider.ClipAllDebridAPIBlocked, "AllDebrid blocked the request: %v", message)
		case code == "AUTH_BAD_APIKEY" || code == "AUTH_MISSING_APIKEY":
			return gjson.Result{}, provider.NewError(provider.ClipInvalidToken, "bad AllDebrid API key: %v", message)
		case strings.Contains(code, "MUST_BE_PREMIUM") || code == "FREE_TRIAL_LIMIT_REACHED":
			return gjson.Result{}, provider.NewError(provider.ClipNeedPremium, "AllDebrid premium required: %v", message)
		case code == "MAGNET_TOO_MANY_ACTIVE":
			return gjson.Result{}, provider.NewError(provider.ClipTorrentLimit, "AllDebrid active magnet limit: %v", message)
		default:
			return gjson.Result{}, provider.NewError(provider.ClipAPIError, "AllDebrid error %v: %v", code, message)
		}
	}
	return parsed.Get("data"), nil
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	data, err := c.call(ctx, c.apiURL("/user", creds, nil))
	if err != nil {
		return err
	}
	if !data.Get("user.isPremium").Bool() {
		return provider.NewError(provider.ClipNeedPremium, "AllDebrid account is not premium")
	}
	return nil
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	var cached []string
	for _, batch := range provider.Chunk(infoHashes, 80) {
		params := url.Values{}
		for _, hash := range batch {
			params.Add("magnets[]", hash)
		}
		data, err := c.call(ctx, c.apiURL("/magnet/instant", creds, params))
		if err != nil {
			return cached, err
		}
		for _, magnet := range data.Get("magnets").Array() {
			if magnet.Get("instant").Bool() {
				cached = append(cached, strings.ToLower(magnet.Get("hash").String()))
			}
		}
	}
	return cached, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	params := url.Values{}
	params.Add("magnets[]", asset.MagnetURL)
	data, err := c.call(ctx, c.apiURL("/magnet/upload", creds, params))
	if err != nil {
		return "", err
	}
	magnets := data.Get("magnets").Array()
	if len(magnets) == 0 {
		return "", provider.NewError(provider.ClipTransferError, "AllDebrid didn't accept the magnet")
	}
	magnetID := magnets[0].Get("id").String()

	var files []provider.File
	err = c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
		params := url.Values{}
		params.Set("id", magnetID)
		data, err := c.call(ctx, c.apiURL("/magnet/status", creds, params))
		if err != nil {
			return false, err
		}
		magnet := data.Get("magnets")
		switch status := magnet.Get("status").String(); status {
		case "Ready":
			for i, link := range magnet.Get("links").Array() {
				files = append(files, provider.File{
					Index: i,
					Name:  link.Get("filename").String(),
					Size:  link.Get("size").Int(),
				})
			}
			return true, nil
		case "Error", "File too big", "Upload fail":
			return false, provider.NewError(provider.ClipTransferError, "bad AllDebrid magnet status: %v", status)
		default:
			c.http.Logger().Debug("Waiting for AllDebrid download", zap.String("status", status))
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

	// Re-read the status to grab the matching locked link, then unlock it.
	params = url.Values{}
	params.Set("id", magnetID)
	data, err = c.call(ctx, c.apiURL("/magnet/status", creds, params))
	if err != nil {
		return "", err
	}
	links := data.Get("magnets.links").Array()
	if selected.Index >= len(links) {
		return "", provider.NewError(provider.ClipTransferError, "AllDebrid link list changed during resolution")
	}

	params = url.Values{}
	params.Set("link", links[selected.Index].Get("link").String())
	data, err = c.call(ctx, c.apiURL("/link/unlock", creds, params))
	if err != nil {
		return "", err
	}
	streamURL := data.Get("link").String()
	if streamURL == "" {
		return "", provider.NewError(provider.ClipTransferError, "AllDebrid didn't unlock the link")
	}
	return streamURL, nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	data, err := c.call(ctx, c.apiURL("/magnet/status", creds, nil))
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, magnet := range data.Get("magnets").Array() {
		if magnet.Get("status").String() != "Ready" {
			continue
		}
		items = append(items, provider.DownloadItem{
			Name:     magnet.Get("filename").String(),
			InfoHash: strings.ToLower(magnet.Get("hash").String()),
			Size:     magnet.Get("size").Int(),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	data, err := c.call(ctx, c.apiURL("/magnet/status", creds, nil))
	if err != nil {
		return err
	}
	for _, magnet := range data.Get("magnets").Array() {
		params := url.Values{}
		params.Set("id", magnet.Get("id").String())
		if _, err = c.call(ctx, c.apiURL("/magnet/delete", creds, params)); err != nil {
			return err
		}
	}
	return nil
}
