// Package easynews resolves Usenet streams through the Easynews web search.
// There is no queue: the subscription's global index is searched directly
// and the result is a credentialed direct URL.
package easynews

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/doingodswork/streamfusion/pkg/parser"
	"github.com/doingodswork/streamfusion/pkg/provider"
)

const baseURL = "https://members.easynews.com"

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("easynews", opts)}
}

func (c *Client) Name() string {
	return "easynews"
}

func (c *Client) headers(creds provider.Credentials) map[string]string {
	auth := creds.Email + ":" + creds.Password
	return map[string]string{"Authorization": "Basic " + basicAuth(auth)}
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	params := url.Values{}
	params.Set("gps", "test")
	params.Set("sb", "1")
	_, err := c.search(ctx, creds, params)
	return err
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	return nil, nil
}

// Resolve searches the subscription for the release and scores the hits by
// resolution and codec, preferring exact name matches.
func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	query := asset.Name
	if asset.Season > 0 {
		query = fmt.Sprintf("%v S%02dE%02d", asset.Name, asset.Season, asset.Episode)
	}
	params := url.Values{}
	params.Set("gps", query)
	params.Set("sb", "1")
	params.Set("fty[]", "VIDEO")
	params.Set("pno", "1")
	params.Set("pby", "100")

	results, err := c.search(ctx, creds, params)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", provider.NewError(provider.ClipNoVideoFileFound, "Easynews has no result for %v", query)
	}

	best := results[0]
	bestScore := -1
	for _, result := range results {
		if score := scoreResult(result, asset); score > bestScore {
			best = result
			bestScore = score
		}
	}

	// dl URL shape: /dl/<id>/<filename><ext>, credentials embedded for the
	// player.
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword(creds.Email, creds.Password)
	u.Path = fmt.Sprintf("/dl/%v/%v%v", best.id, url.PathEscape(best.name), best.ext)
	return u.String(), nil
}

type searchResult struct {
	id   string
	name string
	ext  string
	size int64
}

func (c *Client) search(ctx context.Context, creds provider.Credentials, params url.Values) ([]searchResult, error) {
	reqURL := baseURL + "/2.0/search/solr-search/advanced?" + params.Encode()
	resBytes, err := c.http.Get(ctx, reqURL, c.headers(creds))
	if err != nil {
		return nil, err
	}
	if gjson.GetBytes(resBytes, "sid").String() == "" && !gjson.GetBytes(resBytes, "data").Exists() {
		return nil, provider.NewError(provider.ClipInvalidCredentials, "Easynews rejected the credentials")
	}
	var results []searchResult
	for _, entry := range gjson.GetBytes(resBytes, "data").Array() {
		results = append(results, searchResult{
			id:   entry.Get("0").String(),
			name: entry.Get("10").String(),
			ext:  entry.Get("11").String(),
			size: entry.Get("rawSize").Int(),
		})
	}
	return results, nil
}

// scoreResult prefers hits whose parsed resolution and codec match the
// stream the user picked, with size as a weak tie-breaker.
func scoreResult(result searchResult, asset provider.Asset) int {
	meta := parser.Parse(result.name)
	assetMeta := parser.Parse(asset.Name)
	score := 0
	if meta.Resolution != "" && meta.Resolution == assetMeta.Resolution {
		score += 4
	}
	if meta.Codec != "" && meta.Codec == assetMeta.Codec {
		score += 2
	}
	if asset.Season > 0 {
		if len(meta.Seasons) == 1 && meta.Seasons[0] == asset.Season &&
			len(meta.Episodes) == 1 && meta.Episodes[0] == asset.Episode {
			score += 8
		}
	}
	if asset.Size > 0 && result.size > asset.Size/2 && result.size < asset.Size*2 {
		score++
	}
	return score
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	return nil, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	return nil
}

func basicAuth(userPass string) string {
	return base64.StdEncoding.EncodeToString([]byte(userPass))
}
