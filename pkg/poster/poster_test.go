package poster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/doingodswork/streamfusion/pkg/kv"
)

func newTestService(t *testing.T, baseURL string) (*Service, *kv.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	kvStore := kv.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	return NewService(kvStore, baseURL, nil), kvStore
}

func TestURLWithoutKey(t *testing.T) {
	s, _ := newTestService(t, "")
	require.Equal(t, "https://fallback.example.com/p.jpg",
		s.URL(context.Background(), "", "tt0000001", "https://fallback.example.com/p.jpg"))
}

func TestURLOptimisticFirstSighting(t *testing.T) {
	probes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		probes++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, kvStore := newTestService(t, srv.URL)
	got := s.URL(context.Background(), "key1", "tt0000001", "fallback")
	require.True(t, strings.HasPrefix(got, srv.URL))
	require.Contains(t, got, "tt0000001")

	// The fire-and-forget probe fills the availability cache.
	require.Eventually(t, func() bool {
		available, known, err := kvStore.PosterAvailable(context.Background(), "tt0000001")
		return err == nil && known && available
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, probes)
}

func TestURLKnownUnavailable(t *testing.T) {
	s, kvStore := newTestService(t, "https://posters.example.com")
	require.NoError(t, kvStore.SetPosterAvailable(context.Background(), "tt0000002", false, time.Hour))

	got := s.URL(context.Background(), "key1", "tt0000002", "fallback")
	require.Equal(t, "fallback", got)
}

func TestURLKnownAvailable(t *testing.T) {
	s, kvStore := newTestService(t, "https://posters.example.com")
	require.NoError(t, kvStore.SetPosterAvailable(context.Background(), "tt0000003", true, time.Hour))

	got := s.URL(context.Background(), "key1", "tt0000003", "fallback")
	require.Equal(t, "https://posters.example.com/key1/imdb/poster-default/tt0000003.jpg", got)
}
