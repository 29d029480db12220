package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// FetcherOptions tune one scraper's outbound HTTP behavior.
type FetcherOptions struct {
	Timeout time.Duration
	// Rate limit: Calls per Period.
	Calls  int
	Period time.Duration
	// Breaker settings per indexer.
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	HalfOpenAttempts uint32
	// SOCKS5Addr routes outbound calls through a SOCKS5 proxy, for indexers
	// that block datacenter egress IPs.
	SOCKS5Addr string
	Logger     *zap.Logger
}

func (o FetcherOptions) withDefaults() FetcherOptions {
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Calls == 0 {
		o.Calls = 5
	}
	if o.Period == 0 {
		o.Period = time.Second
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 5
	}
	if o.RecoveryTimeout == 0 {
		o.RecoveryTimeout = 30 * time.Second
	}
	if o.HalfOpenAttempts == 0 {
		o.HalfOpenAttempts = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Fetcher is the rate-limited, circuit-broken HTTP helper every scraper
// routes its indexer calls through. Breakers are per indexer name so one
// dead indexer doesn't shade the others.
type Fetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	opts       FetcherOptions
	logger     *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

func NewFetcher(opts FetcherOptions) (*Fetcher, error) {
	opts = opts.withDefaults()
	transport := http.DefaultTransport
	if opts.SOCKS5Addr != "" {
		dialer, err := proxy.SOCKS5("tcp", opts.SOCKS5Addr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("couldn't create SOCKS5 dialer: %v", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer doesn't support contexts")
		}
		transport = &http.Transport{DialContext: contextDialer.DialContext}
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: transport},
		limiter:    rate.NewLimiter(rate.Every(opts.Period/time.Duration(opts.Calls)), opts.Calls),
		opts:       opts,
		logger:     opts.Logger,
		breakers:   map[string]*gobreaker.CircuitBreaker[[]byte]{},
	}, nil
}

func (f *Fetcher) breaker(indexer string) *gobreaker.CircuitBreaker[[]byte] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[indexer]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        indexer,
		MaxRequests: f.opts.HalfOpenAttempts,
		Timeout:     f.opts.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= f.opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("Indexer circuit breaker state changed",
				zap.String("indexer", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	f.breakers[indexer] = cb
	return cb
}

// Fetch GETs a URL on behalf of the named indexer. An open breaker skips the
// call with gobreaker.ErrOpenState.
func (f *Fetcher) Fetch(ctx context.Context, indexer, reqURL string, headers map[string]string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return f.breaker(indexer).Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("couldn't create request: %v", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		res, err := f.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("couldn't send request to %v: %v", indexer, err)
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("got %v from %v", res.Status, indexer)
		}
		resBody, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, fmt.Errorf("couldn't read response body: %v", err)
		}
		return resBody, nil
	})
}
