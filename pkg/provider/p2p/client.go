// Package p2p is the no-debrid mode: the magnet goes straight to the
// player, which must bring its own torrent engine.
package p2p

import (
	"context"
	"fmt"
	"net/url"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

type Client struct{}

func NewClient(provider.Options) *Client {
	return &Client{}
}

func (c *Client) Name() string {
	return "p2p"
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	return nil
}

func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	return nil, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	if asset.MagnetURL != "" {
		return asset.MagnetURL, nil
	}
	if asset.InfoHash == "" {
		return "", provider.NewError(provider.ClipAPIError, "p2p resolution needs a magnet or info hash")
	}
	magnet := "magnet:?xt=urn:btih:" + asset.InfoHash
	if asset.Name != "" {
		magnet += "&dn=" + url.QueryEscape(asset.Name)
	}
	for _, tracker := range asset.AnnounceList {
		magnet += "&tr=" + url.QueryEscape(tracker)
	}
	return magnet, nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	return nil, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	return fmt.Errorf("p2p mode keeps no download history")
}
