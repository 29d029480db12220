// Package poster upgrades catalog poster URLs to a rating-poster service
// for users who carry an API key. Availability is probed fire-and-forget
// and cached per ID, so the catalog response never waits on the poster CDN.
package poster

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/doingodswork/streamfusion/pkg/kv"
)

const defaultBaseURL = "https://api.ratingposterdb.com"

const probeCacheTTL = 24 * time.Hour

type Service struct {
	httpClient *http.Client
	kvStore    *kv.Store
	baseURL    string
	logger     *zap.Logger

	// group collapses concurrent probes of the same ID.
	group singleflight.Group
}

func NewService(kvStore *kv.Store, baseURL string, logger *zap.Logger) *Service {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		kvStore:    kvStore,
		baseURL:    baseURL,
		logger:     logger,
	}
}

func (s *Service) posterURL(apiKey, imdbID string) string {
	return s.baseURL + "/" + apiKey + "/imdb/poster-default/" + imdbID + ".jpg"
}

// URL returns the upgraded poster URL when the service is known to carry
// the ID, the fallback when it's known not to, and the upgraded URL
// optimistically on the first sighting while a background probe fills the
// cache.
func (s *Service) URL(ctx context.Context, apiKey, imdbID, fallback string) string {
	if apiKey == "" || imdbID == "" {
		return fallback
	}
	available, known, err := s.kvStore.PosterAvailable(ctx, imdbID)
	if err != nil {
		s.logger.Debug("Couldn't read poster cache", zap.Error(err))
		return fallback
	}
	if known {
		if available {
			return s.posterURL(apiKey, imdbID)
		}
		return fallback
	}

	go s.probe(apiKey, imdbID)
	return s.posterURL(apiKey, imdbID)
}

func (s *Service) probe(apiKey, imdbID string) {
	_, _, _ = s.group.Do(imdbID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.posterURL(apiKey, imdbID), nil)
		if err != nil {
			return nil, err
		}
		res, err := s.httpClient.Do(req)
		if err != nil {
			s.logger.Debug("Poster probe failed", zap.String("imdbID", imdbID), zap.Error(err))
			return nil, nil
		}
		res.Body.Close()

		available := res.StatusCode == http.StatusOK
		if err = s.kvStore.SetPosterAvailable(ctx, imdbID, available, probeCacheTTL); err != nil {
			s.logger.Debug("Couldn't write poster cache", zap.Error(err))
		}
		return nil, nil
	})
}
