// Package torbox resolves streams through the torbox.app API. TorBox serves
// both torrents and Usenet downloads behind one account, so Resolve
// dispatches on the asset's category.
package torbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const baseURL = "https://api.torbox.app/v1/api"

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("torbox", opts)}
}

func (c *Client) Name() string {
	return "torbox"
}

func (c *Client) headers(creds provider.Credentials) map[string]string {
	return map[string]string{"Authorization": "Bearer " + creds.Token}
}

func (c *Client) check(resBytes []byte, action string) (gjson.Result, error) {
	parsed := gjson.ParseBytes(resBytes)
	if !parsed.Get("success").Bool() {
		detail := parsed.Get("detail").String()
		switch {
		case strings.Contains(detail, "ACTIVE_LIMIT"):
			return gjson.Result{}, provider.NewError(provider.ClipTorrentLimit, "torbox.app active download limit: %v", detail)
		case strings.Contains(detail, "AUTH"):
			return gjson.Result{}, provider.NewError(provider.ClipInvalidToken, "torbox.app auth failed: %v", detail)
		case strings.Contains(detail, "PLAN"):
			return gjson.Result{}, provider.NewError(provider.ClipNeedPremium, "torbox.app plan required: %v", detail)
		default:
			return gjson.Result{}, provider.NewError(provider.ClipAPIError, "torbox.app %v failed: %v", action, detail)
		}
	}
	return parsed.Get("data"), nil
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	resBytes, err := c.http.Get(ctx, baseURL+"/user/me", c.headers(creds))
	if err != nil {
		return err
	}
	_, err = c.check(resBytes, "user lookup")
	return err
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	var cached []string
	for _, batch := range provider.Chunk(infoHashes, 80) {
		reqURL := baseURL + "/torrents/checkcached?format=list&hash=" + strings.Join(batch, ",")
		resBytes, err := c.http.Get(ctx, reqURL, c.headers(creds))
		if err != nil {
			return cached, err
		}
		data, err := c.check(resBytes, "cache check")
		if err != nil {
			return cached, err
		}
		for _, entry := range data.Array() {
			cached = append(cached, strings.ToLower(entry.Get("hash").String()))
		}
	}
	return cached, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	if asset.NZBURL != "" || asset.NZBGUID != "" {
		return c.resolveUsenet(ctx, creds, asset)
	}
	return c.resolveTorrent(ctx, creds, asset)
}

func (c *Client) resolveTorrent(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	data := url.Values{}
	data.Set("magnet", asset.MagnetURL)
	resBytes, err := c.http.PostForm(ctx, baseURL+"/torrents/createtorrent", c.headers(creds), data)
	if err != nil {
		return "", err
	}
	created, err := c.check(resBytes, "torrent creation")
	if err != nil {
		return "", err
	}
	torrentID := created.Get("torrent_id").Int()

	files, err := c.pollList(ctx, creds, "/torrents/mylist", torrentID)
	if err != nil {
		return "", err
	}
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}
	return c.requestDL(ctx, creds, fmt.Sprintf("/torrents/requestdl?token=%v&torrent_id=%v&file_id=%v", creds.Token, torrentID, selected.Index))
}

func (c *Client) resolveUsenet(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	data := url.Values{}
	data.Set("link", asset.NZBURL)
	data.Set("name", asset.Name)
	resBytes, err := c.http.PostForm(ctx, baseURL+"/usenet/createusenetdownload", c.headers(creds), data)
	if err != nil {
		return "", err
	}
	created, err := c.check(resBytes, "usenet download creation")
	if err != nil {
		return "", err
	}
	downloadID := created.Get("usenetdownload_id").Int()

	files, err := c.pollList(ctx, creds, "/usenet/mylist", downloadID)
	if err != nil {
		return "", err
	}
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}
	return c.requestDL(ctx, creds, fmt.Sprintf("/usenet/requestdl?token=%v&usenet_id=%v&file_id=%v", creds.Token, downloadID, selected.Index))
}

func (c *Client) pollList(ctx context.Context, creds provider.Credentials, endpoint string, id int64) ([]provider.File, error) {
	var files []provider.File
	err := c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
		resBytes, err := c.http.Get(ctx, fmt.Sprintf("%v%v?id=%v", baseURL, endpoint, id), c.headers(creds))
		if err != nil {
			return false, err
		}
		data, err := c.check(resBytes, "download status")
		if err != nil {
			return false, err
		}
		if !data.Get("download_finished").Bool() {
			c.http.Logger().Debug("Waiting for torbox.app download",
				zap.String("state", data.Get("download_state").String()))
			return false, nil
		}
		files = files[:0]
		for _, file := range data.Get("files").Array() {
			files = append(files, provider.File{
				Index: int(file.Get("id").Int()),
				Name:  file.Get("name").String(),
				Size:  file.Get("size").Int(),
			})
		}
		return true, nil
	})
	return files, err
}

func (c *Client) requestDL(ctx context.Context, creds provider.Credentials, endpoint string) (string, error) {
	resBytes, err := c.http.Get(ctx, baseURL+endpoint, c.headers(creds))
	if err != nil {
		return "", err
	}
	data, err := c.check(resBytes, "download link request")
	if err != nil {
		return "", err
	}
	streamURL := data.String()
	if streamURL == "" {
		return "", provider.NewError(provider.ClipTransferError, "torbox.app didn't return a download link")
	}
	return streamURL, nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	resBytes, err := c.http.Get(ctx, baseURL+"/torrents/mylist", c.headers(creds))
	if err != nil {
		return nil, err
	}
	data, err := c.check(resBytes, "list")
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, torrent := range data.Array() {
		if !torrent.Get("download_finished").Bool() {
			continue
		}
		items = append(items, provider.DownloadItem{
			Name:     torrent.Get("name").String(),
			InfoHash: strings.ToLower(torrent.Get("hash").String()),
			Size:     torrent.Get("size").Int(),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	body := map[string]interface{}{"all": true, "operation": "delete"}
	resBytes, err := c.http.PostJSON(ctx, baseURL+"/torrents/controltorrent", c.headers(creds), body)
	if err != nil {
		return err
	}
	_, err = c.check(resBytes, "delete all")
	return err
}
