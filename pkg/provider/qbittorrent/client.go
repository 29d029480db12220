// Package qbittorrent resolves streams through a user-hosted qBittorrent
// Web API plus a WebDAV share over its download directory. Playback starts
// once the torrent crosses a progress threshold rather than at completion.
package qbittorrent

import (
	"context"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

// progressThreshold is the completed fraction at which the file is
// considered streamable through the WebDAV share.
const progressThreshold = 1.0

type Client struct {
	http provider.HTTPClient
	opts provider.Options
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("qbittorrent", opts), opts: opts}
}

func (c *Client) Name() string {
	return "qbittorrent"
}

// session logs in and returns an HTTP client carrying the SID cookie.
func (c *Client) session(ctx context.Context, creds provider.Credentials) (provider.HTTPClient, string, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return provider.HTTPClient{}, "", err
	}
	sessionHTTP := provider.NewHTTPClientWithJar("qbittorrent", c.opts, jar)
	base := strings.TrimRight(creds.URL, "/")

	data := url.Values{}
	data.Set("username", creds.Email)
	data.Set("password", creds.Password)
	resBytes, err := sessionHTTP.PostForm(ctx, base+"/api/v2/auth/login", nil, data)
	if err != nil {
		return provider.HTTPClient{}, "", err
	}
	if !strings.Contains(string(resBytes), "Ok") {
		return provider.HTTPClient{}, "", provider.NewError(provider.ClipInvalidCredentials, "qBittorrent rejected the login")
	}
	return sessionHTTP, base, nil
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	if creds.URL == "" || creds.WebDAVURL == "" {
		return provider.NewError(provider.ClipInvalidCredentials, "qBittorrent needs both a Web API URL and a WebDAV URL")
	}
	_, _, err := c.session(ctx, creds)
	return err
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	return nil, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	session, base, err := c.session(ctx, creds)
	if err != nil {
		return "", err
	}

	data := url.Values{}
	data.Set("urls", asset.MagnetURL)
	data.Set("sequentialDownload", "true")
	data.Set("firstLastPiecePrio", "true")
	if _, err = session.PostForm(ctx, base+"/api/v2/torrents/add", nil, data); err != nil {
		return "", err
	}

	infoURL := base + "/api/v2/torrents/info?hashes=" + asset.InfoHash
	err = session.Poll(ctx, func(ctx context.Context) (bool, error) {
		resBytes, err := session.Get(ctx, infoURL, nil)
		if err != nil {
			return false, err
		}
		torrents := gjson.ParseBytes(resBytes).Array()
		if len(torrents) == 0 {
			return false, nil
		}
		torrent := torrents[0]
		if torrent.Get("state").String() == "error" {
			return false, provider.NewError(provider.ClipTransferError, "qBittorrent torrent errored")
		}
		progress := torrent.Get("progress").Float()
		if progress < progressThreshold {
			session.Logger().Debug("Waiting for qBittorrent download", zap.Float64("progress", progress))
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}

	resBytes, err := session.Get(ctx, base+"/api/v2/torrents/files?hash="+asset.InfoHash, nil)
	if err != nil {
		return "", err
	}
	var files []provider.File
	for _, entry := range gjson.ParseBytes(resBytes).Array() {
		files = append(files, provider.File{
			Index: int(entry.Get("index").Int()),
			Name:  entry.Get("name").String(),
			Size:  entry.Get("size").Int(),
		})
	}
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}

	dav := provider.NewWebDAV(c.http, creds.WebDAVURL, creds.WebDAVUsername, creds.WebDAVPassword)
	return dav.FileURL(selected.Name), nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	session, base, err := c.session(ctx, creds)
	if err != nil {
		return nil, err
	}
	resBytes, err := session.Get(ctx, base+"/api/v2/torrents/info?filter=completed", nil)
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, torrent := range gjson.ParseBytes(resBytes).Array() {
		items = append(items, provider.DownloadItem{
			Name:     torrent.Get("name").String(),
			InfoHash: strings.ToLower(torrent.Get("hash").String()),
			Size:     torrent.Get("size").Int(),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	session, base, err := c.session(ctx, creds)
	if err != nil {
		return err
	}
	data := url.Values{}
	data.Set("hashes", "all")
	data.Set("deleteFiles", "true")
	_, err = session.PostForm(ctx, base+"/api/v2/torrents/delete", nil, data)
	return err
}
