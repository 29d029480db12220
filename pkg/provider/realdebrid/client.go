// Package realdebrid resolves streams through the real-debrid.com REST API.
package realdebrid

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const defaultBaseURL = "https://api.real-debrid.com/rest/1.0"

// RealDebrid documents 50 hashes per availability request.
const probeBatchSize = 50

type Client struct {
	http    provider.HTTPClient
	baseURL string
}

func NewClient(opts provider.Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{http: provider.NewHTTPClient("realdebrid", opts), baseURL: baseURL}
}

func (c *Client) Name() string {
	return "realdebrid"
}

func (c *Client) headers(creds provider.Credentials) map[string]string {
	return map[string]string{"Authorization": "Bearer " + creds.Token}
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.Get(ctx, c.baseURL+"/user", c.headers(creds))
	if err != nil {
		return err
	}
	if !gjson.GetBytes(resBytes, "id").Exists() {
		return provider.NewError(provider.ClipInvalidToken, "couldn't parse user info from real-debrid.com")
	}
	if gjson.GetBytes(resBytes, "type").String() != "premium" {
		return provider.NewError(provider.ClipNeedPremium, "RealDebrid account is not premium")
	}
	return nil
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	var cached []string
	for _, batch := range provider.Chunk(infoHashes, probeBatchSize) {
		reqURL := c.baseURL + "/torrents/instantAvailability/" + strings.Join(batch, "/")
		resBytes, err := c.http.Get(ctx, reqURL, c.headers(creds))
		if err != nil {
			return cached, err
		}
		gjson.ParseBytes(resBytes).ForEach(func(key, value gjson.Result) bool {
			if len(value.Get("rd").Array()) > 0 {
				cached = append(cached, strings.ToLower(key.String()))
			}
			return true
		})
	}
	return cached, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	logger := c.http.Logger()
	logger.Debug("Adding magnet to RealDebrid", zap.String("infoHash", asset.InfoHash))

	data := url.Values{}
	data.Set("magnet", asset.MagnetURL)
	if creds.ClientIP != "" {
		data.Set("ip", creds.ClientIP)
	}
	resBytes, err := c.http.PostForm(ctx, c.baseURL+"/torrents/addMagnet", c.headers(creds), data)
	if err != nil {
		return "", err
	}
	torrentID := gjson.GetBytes(resBytes, "id").String()
	if torrentID == "" {
		return "", provider.NewError(provider.ClipTransferError, "RealDebrid didn't return a torrent ID")
	}
	infoURL := c.baseURL + "/torrents/info/" + torrentID

	resBytes, err = c.http.Get(ctx, infoURL, c.headers(creds))
	if err != nil {
		return "", err
	}
	files := torrentFiles(resBytes)
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}

	if gjson.GetBytes(resBytes, "status").String() == "waiting_files_selection" {
		data = url.Values{}
		data.Set("files", strconv.Itoa(selected.Index))
		if _, err = c.http.PostForm(ctx, c.baseURL+"/torrents/selectFiles/"+torrentID, c.headers(creds), data); err != nil {
			return "", err
		}
	}

	var link string
	err = c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
		resBytes, err := c.http.Get(ctx, infoURL, c.headers(creds))
		if err != nil {
			return false, err
		}
		switch status := gjson.GetBytes(resBytes, "status").String(); status {
		case "downloaded":
			links := gjson.GetBytes(resBytes, "links").Array()
			if len(links) == 0 {
				return false, provider.NewError(provider.ClipTransferError, "RealDebrid torrent finished without links")
			}
			link = links[0].String()
			return true, nil
		case "magnet_error", "error", "virus", "dead":
			return false, provider.NewError(provider.ClipTransferError, "bad RealDebrid torrent status: %v", status)
		default:
			logger.Debug("Waiting for RealDebrid download", zap.String("status", status))
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}

	data = url.Values{}
	data.Set("link", link)
	if creds.ClientIP != "" {
		data.Set("ip", creds.ClientIP)
	}
	resBytes, err = c.http.PostForm(ctx, c.baseURL+"/unrestrict/link", c.headers(creds), data)
	if err != nil {
		return "", err
	}
	streamURL := gjson.GetBytes(resBytes, "download").String()
	if streamURL == "" {
		return "", provider.NewError(provider.ClipTransferError, "RealDebrid didn't unrestrict the link")
	}
	return streamURL, nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	resBytes, err := c.http.Get(ctx, c.baseURL+"/torrents?limit=100", c.headers(creds))
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, result := range gjson.ParseBytes(resBytes).Array() {
		if result.Get("status").String() != "downloaded" {
			continue
		}
		items = append(items, provider.DownloadItem{
			Name:     result.Get("filename").String(),
			InfoHash: strings.ToLower(result.Get("hash").String()),
			Size:     result.Get("bytes").Int(),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.Get(ctx, c.baseURL+"/torrents?limit=100", c.headers(creds))
	if err != nil {
		return err
	}
	for _, result := range gjson.ParseBytes(resBytes).Array() {
		id := result.Get("id").String()
		if _, err = c.http.Delete(ctx, c.baseURL+"/torrents/delete/"+id, c.headers(creds)); err != nil {
			return fmt.Errorf("couldn't delete RealDebrid torrent %v: %v", id, err)
		}
	}
	return nil
}

func torrentFiles(infoBytes []byte) []provider.File {
	var files []provider.File
	for _, result := range gjson.GetBytes(infoBytes, "files").Array() {
		files = append(files, provider.File{
			Index: int(result.Get("id").Int()),
			Name:  result.Get("path").String(),
			Size:  result.Get("bytes").Int(),
		})
	}
	return files
}
