// Package mediaflow wraps playback URLs through a user-operated MediaFlow
// rewriting proxy and probes the proxy's egress IP for providers that bind
// downloads to the requesting IP.
package mediaflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/userdata"
)

// Egress IPs are stable enough to cache briefly; re-probing every playback
// would double the proxy round trips.
const ipCacheTTL = 5 * time.Minute

type Client struct {
	httpClient *http.Client
	ipCache    *gocache.Cache
	logger     *zap.Logger
}

func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		ipCache:    gocache.New(ipCacheTTL, 10*time.Minute),
		logger:     logger,
	}
}

// EgressIP returns the IP the proxy makes outbound requests from. A
// configured PublicIP short-circuits the probe.
func (c *Client) EgressIP(ctx context.Context, cfg *userdata.MediaFlowConfig) (string, error) {
	if !cfg.Complete() {
		return "", fmt.Errorf("mediaflow config is incomplete")
	}
	if cfg.PublicIP != "" {
		return cfg.PublicIP, nil
	}
	cacheKey := ipCacheKey(cfg)
	if ip, found := c.ipCache.Get(cacheKey); found {
		return ip.(string), nil
	}

	reqURL := strings.TrimSuffix(cfg.ProxyURL, "/") + "/proxy/ip?api_password=" + url.QueryEscape(cfg.APIPassword)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("couldn't create request: %v", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("couldn't probe mediaflow egress IP: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("got %v from mediaflow IP probe", res.Status)
	}
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("couldn't read response body: %v", err)
	}

	ip := gjson.GetBytes(resBody, "ip").String()
	if ip == "" {
		return "", fmt.Errorf("mediaflow IP probe returned no IP")
	}
	c.ipCache.SetDefault(cacheKey, ip)
	c.logger.Debug("Probed mediaflow egress IP", zap.String("proxyURL", cfg.ProxyURL))
	return ip, nil
}

// ipCacheKey includes a password digest so two configs sharing a proxy URL
// with different credentials don't share an entry.
func ipCacheKey(cfg *userdata.MediaFlowConfig) string {
	sum := sha256.Sum256([]byte(cfg.APIPassword))
	return cfg.ProxyURL + ":" + hex.EncodeToString(sum[:8])
}

// WrapURL rewrites a provider URL to route through the proxy. filename, when
// known, lets the proxy hint the content type to picky players.
func WrapURL(cfg *userdata.MediaFlowConfig, streamURL, filename string) string {
	values := url.Values{}
	values.Set("d", streamURL)
	values.Set("api_password", cfg.APIPassword)
	if filename != "" {
		values.Set("filename", filename)
	}
	return strings.TrimSuffix(cfg.ProxyURL, "/") + "/proxy/stream?" + values.Encode()
}
