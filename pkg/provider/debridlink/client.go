// Package debridlink resolves streams through the debrid-link.com v2 API.
// Accounts authenticate with an OAuth2 refresh token; access tokens are
// minted per request through the device-flow client ID.
package debridlink

import (
	"context"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const (
	baseURL  = "https://debrid-link.com/api/v2"
	tokenURL = "https://debrid-link.com/api/oauth/token"
	clientID = "RTYcQUOWWpRxyLyV6jAm1w"
)

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("debridlink", opts)}
}

func (c *Client) Name() string {
	return "debridlink"
}

// headers mints a fresh access token from the refresh token when no direct
// API token is configured.
func (c *Client) headers(ctx context.Context, creds provider.Credentials) (map[string]string, error) {
	accessToken := creds.Token
	if accessToken == "" {
		conf := &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL},
		}
		token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
		if err != nil {
			return nil, provider.NewError(provider.ClipInvalidToken, "couldn't refresh debrid-link.com token: %v", err)
		}
		accessToken = token.AccessToken
	}
	return map[string]string{"Authorization": "Bearer " + accessToken}, nil
}

func (c *Client) call(ctx context.Context, creds provider.Credentials, method, endpoint string, data url.Values) (gjson.Result, error) {
	headers, err := c.headers(ctx, creds)
	if err != nil {
		return gjson.Result{}, err
	}
	var resBytes []byte
	switch method {
	case "POST":
		resBytes, err = c.http.PostForm(ctx, baseURL+endpoint, headers, data)
	case "DELETE":
		resBytes, err = c.http.Delete(ctx, baseURL+endpoint, headers)
	default:
		resBytes, err = c.http.Get(ctx, baseURL+endpoint, headers)
	}
	if err != nil {
		return gjson.Result{}, err
	}
	parsed := gjson.ParseBytes(resBytes)
	if !parsed.Get("success").Bool() {
		errCode := parsed.Get("error").String()
		switch errCode {
		case "badToken", "expiredToken", "authorization":
			return gjson.Result{}, provider.NewError(provider.ClipInvalidToken, "debrid-link.com auth failed: %v", errCode)
		case "freeServerOverload", "maxTorrent":
			return gjson.Result{}, provider.NewError(provider.ClipTorrentLimit, "debrid-link.com limit: %v", errCode)
		case "notPremium":
			return gjson.Result{}, provider.NewError(provider.ClipNeedPremium, "debrid-link.com premium required")
		default:
			return gjson.Result{}, provider.NewError(provider.ClipAPIError, "debrid-link.com error: %v", errCode)
		}
	}
	return parsed.Get("value"), nil
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	value, err := c.call(ctx, creds, "GET", "/account/infos", nil)
	if err != nil {
		return err
	}
	if value.Get("premiumLeft").Int() <= 0 && value.Get("accountType").Int() != 1 {
		return provider.NewError(provider.ClipNeedPremium, "debrid-link.com account is not premium")
	}
	return nil
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	var cached []string
	for _, batch := range provider.Chunk(infoHashes, 50) {
		value, err := c.call(ctx, creds, "GET", "/seedbox/cached?url="+url.QueryEscape(strings.Join(batch, ",")), nil)
		if err != nil {
			return cached, err
		}
		value.ForEach(func(key, entry gjson.Result) bool {
			cached = append(cached, strings.ToLower(key.String()))
			return true
		})
	}
	return cached, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	data := url.Values{}
	data.Set("url", asset.MagnetURL)
	data.Set("async", "true")
	value, err := c.call(ctx, creds, "POST", "/seedbox/add", data)
	if err != nil {
		return "", err
	}
	torrentID := value.Get("id").String()

	var files []provider.File
	var downloadURLs []string
	err = c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
		value, err := c.call(ctx, creds, "GET", "/seedbox/list?ids="+torrentID, nil)
		if err != nil {
			return false, err
		}
		torrents := value.Array()
		if len(torrents) == 0 {
			return false, provider.NewError(provider.ClipTransferError, "debrid-link.com lost the torrent")
		}
		torrent := torrents[0]
		if torrent.Get("downloadPercent").Int() < 100 {
			return false, nil
		}
		files = files[:0]
		downloadURLs = downloadURLs[:0]
		for i, file := range torrent.Get("files").Array() {
			files = append(files, provider.File{
				Index: i,
				Name:  file.Get("name").String(),
				Size:  file.Get("size").Int(),
			})
			downloadURLs = append(downloadURLs, file.Get("downloadUrl").String())
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}

	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}
	if downloadURLs[selected.Index] == "" {
		return "", provider.NewError(provider.ClipTransferError, "debrid-link.com didn't return a download URL for %v", selected.Name)
	}
	return downloadURLs[selected.Index], nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	value, err := c.call(ctx, creds, "GET", "/seedbox/list", nil)
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, torrent := range value.Array() {
		if torrent.Get("downloadPercent").Int() < 100 {
			continue
		}
		items = append(items, provider.DownloadItem{
			Name:     torrent.Get("name").String(),
			InfoHash: strings.ToLower(torrent.Get("hashString").String()),
			Size:     torrent.Get("totalSize").Int(),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	value, err := c.call(ctx, creds, "GET", "/seedbox/list", nil)
	if err != nil {
		return err
	}
	var ids []string
	for _, torrent := range value.Array() {
		ids = append(ids, torrent.Get("id").String())
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = c.call(ctx, creds, "DELETE", "/seedbox/"+strings.Join(ids, ",")+"/remove", nil)
	return err
}
