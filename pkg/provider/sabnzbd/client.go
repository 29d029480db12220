// Package sabnzbd resolves Usenet streams through a user-hosted SABnzbd
// instance. The finished download is served over a WebDAV endpoint
// co-located with the client.
package sabnzbd

import (
	"context"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("sabnzbd", opts)}
}

func (c *Client) Name() string {
	return "sabnzbd"
}

func (c *Client) apiURL(creds provider.Credentials, params url.Values) string {
	params.Set("apikey", creds.Token)
	params.Set("output", "json")
	return strings.TrimRight(creds.URL, "/") + "/api?" + params.Encode()
}

// webdav returns the file endpoint. SABnzbd itself doesn't serve files;
// the WebDAV URL points at the completed-downloads share.
func (c *Client) webdav(creds provider.Credentials) *provider.WebDAV {
	return provider.NewWebDAV(c.http, creds.WebDAVURL, creds.WebDAVUsername, creds.WebDAVPassword)
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	if creds.URL == "" || creds.WebDAVURL == "" {
		return provider.NewError(provider.ClipInvalidCredentials, "SABnzbd needs both an API URL and a WebDAV URL")
	}
	params := url.Values{}
	params.Set("mode", "version")
	resBytes, err := c.http.Get(ctx, c.apiURL(creds, params), nil)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(resBytes, "version").Exists() {
		return provider.NewError(provider.ClipInvalidToken, "SABnzbd rejected the API key")
	}
	return nil
}

// ProbeCache is a no-op: a self-hosted queue has no instant cache.
func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	return nil, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	// An earlier request for the same NZB may already be finished.
	jobName, done, err := c.findInHistory(ctx, creds, asset.NZBGUID)
	if err != nil {
		return "", err
	}
	if !done {
		params := url.Values{}
		params.Set("mode", "addurl")
		params.Set("name", asset.NZBURL)
		params.Set("nzbname", asset.NZBGUID)
		params.Set("cat", "streamfusion")
		resBytes, err := c.http.Get(ctx, c.apiURL(creds, params), nil)
		if err != nil {
			return "", err
		}
		if !gjson.GetBytes(resBytes, "status").Bool() {
			return "", provider.NewError(provider.ClipTransferError, "SABnzbd didn't accept the NZB: %v", gjson.GetBytes(resBytes, "error").String())
		}

		err = c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
			name, finished, err := c.findInHistory(ctx, creds, asset.NZBGUID)
			if err != nil {
				return false, err
			}
			if finished {
				jobName = name
				return true, nil
			}
			c.http.Logger().Debug("Waiting for SABnzbd download", zap.String("nzbName", asset.NZBGUID))
			return false, nil
		})
		if err != nil {
			return "", err
		}
	}

	dav := c.webdav(creds)
	files, err := dav.List(ctx, jobName)
	if err != nil {
		return "", err
	}
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}
	return dav.FileURL(selected.Name), nil
}

// findInHistory returns the job's storage folder name and whether it
// completed. A failed job surfaces as a transfer error.
func (c *Client) findInHistory(ctx context.Context, creds provider.Credentials, nzbName string) (string, bool, error) {
	params := url.Values{}
	params.Set("mode", "history")
	params.Set("limit", "50")
	resBytes, err := c.http.Get(ctx, c.apiURL(creds, params), nil)
	if err != nil {
		return "", false, err
	}
	for _, slot := range gjson.GetBytes(resBytes, "history.slots").Array() {
		if slot.Get("nzb_name").String() != nzbName && slot.Get("name").String() != nzbName {
			continue
		}
		switch status := slot.Get("status").String(); status {
		case "Completed":
			storage := slot.Get("storage").String()
			if idx := strings.LastIndexByte(storage, '/'); idx != -1 {
				storage = storage[idx+1:]
			}
			return storage, true, nil
		case "Failed":
			return "", false, provider.NewError(provider.ClipTransferError, "SABnzbd job failed: %v", slot.Get("fail_message").String())
		}
	}
	return "", false, nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	params := url.Values{}
	params.Set("mode", "history")
	params.Set("limit", "100")
	resBytes, err := c.http.Get(ctx, c.apiURL(creds, params), nil)
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, slot := range gjson.GetBytes(resBytes, "history.slots").Array() {
		if slot.Get("status").String() != "Completed" {
			continue
		}
		items = append(items, provider.DownloadItem{
			Name: slot.Get("name").String(),
			Size: slot.Get("bytes").Int(),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	params := url.Values{}
	params.Set("mode", "history")
	params.Set("name", "delete")
	params.Set("value", "all")
	params.Set("del_files", "1")
	_, err := c.http.Get(ctx, c.apiURL(creds, params), nil)
	return err
}
