package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// HTTPClient is the request helper every adapter embeds. It owns the
// timeout, the error-to-clip mapping for HTTP status codes and the poll
// loop.
type HTTPClient struct {
	httpClient *http.Client
	opts       Options
	service    string
	logger     *zap.Logger
}

func NewHTTPClient(service string, opts Options) HTTPClient {
	opts = opts.withDefaults()
	return HTTPClient{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		service:    service,
		logger:     opts.Logger,
	}
}

// NewHTTPClientWithJar is used by adapters with cookie-based sessions.
func NewHTTPClientWithJar(service string, opts Options, jar http.CookieJar) HTTPClient {
	c := NewHTTPClient(service, opts)
	c.httpClient.Jar = jar
	return c
}

func (c HTTPClient) Get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't create GET request: %v", err)
	}
	return c.do(req, headers)
}

func (c HTTPClient) PostForm(ctx context.Context, rawURL string, headers map[string]string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("couldn't create POST request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, headers)
}

func (c HTTPClient) PostJSON(ctx context.Context, rawURL string, headers map[string]string, body interface{}) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("couldn't marshal request body: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("couldn't create POST request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, headers)
}

func (c HTTPClient) Delete(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't create DELETE request: %v", err)
	}
	return c.do(req, headers)
}

func (c HTTPClient) do(req *http.Request, headers map[string]string) ([]byte, error) {
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewError(ClipServiceDown, "couldn't reach %v: %v", c.service, err)
	}
	defer res.Body.Close()
	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("couldn't read response body: %v", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Debug("Provider request failed",
			zap.String("service", c.service),
			zap.Int("status", res.StatusCode),
			zap.String("url", req.URL.Redacted()))
		return resBody, clipForStatus(res.StatusCode, c.service)
	}
	return resBody, nil
}

var errNotReady = errors.New("download not ready yet")

// Poll calls ready at the configured interval until it reports true, the
// attempts are exhausted or it returns a hard error. Exhaustion maps to the
// "torrent not downloaded" clip.
func (c HTTPClient) Poll(ctx context.Context, ready func(ctx context.Context) (bool, error)) error {
	err := retry.Do(
		func() error {
			done, err := ready(ctx)
			if err != nil {
				return err
			}
			if !done {
				return errNotReady
			}
			return nil
		},
		retry.Attempts(c.opts.MaxPollAttempts),
		retry.Delay(c.opts.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errNotReady) }),
	)
	if errors.Is(err, errNotReady) {
		return NewError(ClipTorrentNotDownloaded, "%v download not ready after %v attempts", c.service, c.opts.MaxPollAttempts)
	}
	return err
}

// Service returns the service tag the client was built for.
func (c HTTPClient) Service() string {
	return c.service
}

// Logger exposes the injected logger to the embedding adapter.
func (c HTTPClient) Logger() *zap.Logger {
	return c.logger
}
