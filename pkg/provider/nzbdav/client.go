// Package nzbdav resolves Usenet streams through a user-hosted NzbDAV
// instance. NzbDAV speaks the SABnzbd API and mounts finished downloads on
// a WebDAV share derived from the same base URL, so only the API URL and
// key are configured.
package nzbdav

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
	return &Client{http: provider.NewHTTPClient("nzbdav", opts)}
}

func (c *Client) Name() string {
	return "nzbdav"
}

func (c *Client) apiURL(creds provider.Credentials, params url.Values) string {
	params.Set("apikey", creds.Token)
	params.Set("output", "json")
	return strings.TrimRight(creds.URL, "/") + "/api?" + params.Encode()
}

// webdav derives the share from the API URL: NzbDAV serves content under
// /completed-symlinks next to its API.
func (c *Client) webdav(creds provider.Credentials) *provider.WebDAV {
	davURL := strings.TrimRight(creds.URL, "/") + "/completed-symlinks"
	return provider.NewWebDAV(c.http, davURL, creds.WebDAVUsername, creds.WebDAVPassword)
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	if creds.URL == "" {
		return provider.NewError(provider.ClipInvalidCredentials, "NzbDAV needs an API URL")
	}
	params := url.Values{}
	params.Set("mode", "version")
	resBytes, err := c.http.Get(ctx, c.apiURL(creds, params), nil)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(resBytes, "version").Exists() {
		return provider.NewError(provider.ClipInvalidToken, "NzbDAV rejected the API key")
	}
	return nil
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	return nil, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	params := url.Values{}
	params.Set("mode", "addurl")
	params.Set("name", asset.NZBURL)
	params.Set("nzbname", asset.NZBGUID)
	resBytes, err := c.http.Get(ctx, c.apiURL(creds, params), nil)
	if err != nil {
		return "", err
	}
	if !gjson.GetBytes(resBytes, "status").Bool() {
		return "", provider.NewError(provider.ClipTransferError, "NzbDAV didn't accept the NZB: %v", gjson.GetBytes(resBytes, "error").String())
	}

	// NzbDAV mounts the virtual file tree as soon as the NZB's headers are
	// verified; the poll only waits for that verification, not the payload.
	var jobName string
	err = c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
		params := url.Values{}
		params.Set("mode", "history")
		resBytes, err := c.http.Get(ctx, c.apiURL(creds, params), nil)
		if err != nil {
			return false, err
		}
		for _, slot := range gjson.GetBytes(resBytes, "history.slots").Array() {
			if slot.Get("nzb_name").String() != asset.NZBGUID && slot.Get("name").String() != asset.NZBGUID {
				continue
			}
			switch status := slot.Get("status").String(); status {
			case "Completed":
				jobName = slot.Get("name").String()
				return true, nil
			case "Failed":
				return false, provider.NewError(provider.ClipTransferError, "NzbDAV job failed: %v", slot.Get("fail_message").String())
			}
		}
		return false, nil
	})
	if err != nil {
		return "", err
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

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	params := url.Values{}
	params.Set("mode", "history")
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
	_, err := c.http.Get(ctx, c.apiURL(creds, params), nil)
	return err
}
