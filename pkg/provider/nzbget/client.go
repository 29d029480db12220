// Package nzbget resolves Usenet streams through a user-hosted NZBGet
// instance via its JSON-RPC API, locating the finished files over WebDAV.
package nzbget

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("nzbget", opts)}
}

func (c *Client) Name() string {
	return "nzbget"
}

// rpc posts a JSON-RPC call. NZBGet authenticates through basic auth
// embedded in the configured URL.
func (c *Client) rpc(ctx context.Context, creds provider.Credentials, method string, params []interface{}) (gjson.Result, error) {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}
	rpcURL := strings.TrimRight(creds.URL, "/") + "/jsonrpc"
	resBytes, err := c.http.PostJSON(ctx, rpcURL, nil, body)
	if err != nil {
		return gjson.Result{}, err
	}
	parsed := gjson.ParseBytes(resBytes)
	if parsed.Get("error").Exists() {
		return gjson.Result{}, provider.NewError(provider.ClipAPIError, "NZBGet %v failed: %v", method, parsed.Get("error.message").String())
	}
	return parsed.Get("result"), nil
}

func (c *Client) webdav(creds provider.Credentials) *provider.WebDAV {
	return provider.NewWebDAV(c.http, creds.WebDAVURL, creds.WebDAVUsername, creds.WebDAVPassword)
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	if creds.URL == "" || creds.WebDAVURL == "" {
		return provider.NewError(provider.ClipInvalidCredentials, "NZBGet needs both an API URL and a WebDAV URL")
	}
	_, err := c.rpc(ctx, creds, "version", nil)
	return err
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	return nil, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	jobName, done, err := c.findInHistory(ctx, creds, asset.NZBGUID)
	if err != nil {
		return "", err
	}
	if !done {
		// append(NZBFilename, Content, Category, Priority, AddToTop, AddPaused, DupeKey, DupeScore, DupeMode, PPParameters)
		params := []interface{}{asset.NZBGUID + ".nzb", asset.NZBURL, "streamfusion", 0, false, false, asset.NZBGUID, 0, "SCORE", []interface{}{}}
		result, err := c.rpc(ctx, creds, "append", params)
		if err != nil {
			return "", err
		}
		if result.Int() <= 0 {
			return "", provider.NewError(provider.ClipTransferError, "NZBGet didn't accept the NZB")
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
			c.http.Logger().Debug("Waiting for NZBGet download", zap.String("dupeKey", asset.NZBGUID))
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

func (c *Client) findInHistory(ctx context.Context, creds provider.Credentials, dupeKey string) (string, bool, error) {
	result, err := c.rpc(ctx, creds, "history", []interface{}{false})
	if err != nil {
		return "", false, err
	}
	for _, entry := range result.Array() {
		if entry.Get("DupeKey").String() != dupeKey {
			continue
		}
		switch status := entry.Get("Status").String(); {
		case strings.HasPrefix(status, "SUCCESS"):
			destDir := entry.Get("DestDir").String()
			if idx := strings.LastIndexByte(destDir, '/'); idx != -1 {
				destDir = destDir[idx+1:]
			}
			return destDir, true, nil
		case strings.HasPrefix(status, "FAILURE"):
			return "", false, provider.NewError(provider.ClipTransferError, "NZBGet job failed: %v", status)
		}
	}
	return "", false, nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	result, err := c.rpc(ctx, creds, "history", []interface{}{false})
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, entry := range result.Array() {
		if !strings.HasPrefix(entry.Get("Status").String(), "SUCCESS") {
			continue
		}
		items = append(items, provider.DownloadItem{
			Name: entry.Get("Name").String(),
			Size: entry.Get("FileSizeMB").Int() << 20,
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	result, err := c.rpc(ctx, creds, "history", []interface{}{false})
	if err != nil {
		return err
	}
	var ids []interface{}
	for _, entry := range result.Array() {
		ids = append(ids, entry.Get("NZBID").Int())
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = c.rpc(ctx, creds, "editqueue", []interface{}{"HistoryFinalDelete", "", ids})
	return err
}
