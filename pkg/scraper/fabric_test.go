package scraper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/kv"
)

type stubScraper struct {
	source
	calls int
	recs  []catalog.Record
}

func (s *stubScraper) Scrape(ctx context.Context, q Query) ([]catalog.Record, error) {
	s.calls++
	return s.recs, nil
}

func newFabricDeps(t *testing.T) (*catalog.Store, *kv.Store, Query) {
	t.Helper()
	store, err := catalog.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	kvStore := kv.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)

	media := &catalog.Media{Type: catalog.TypeMovie, Title: "Example Movie", Year: 2020}
	require.NoError(t, store.CreateMedia(context.Background(), media))
	return store, kvStore, Query{Media: *media}
}

func stubRecords(n int) []catalog.Record {
	recs := make([]catalog.Record, n)
	for i := range recs {
		recs[i] = catalog.Record{
			Stream: catalog.Stream{
				Name:     "Example.Movie.2020.1080p.BluRay.x264",
				Source:   "stub",
				Size:     1000,
				IsActive: true,
				IsPublic: true,
			},
			Torrent: &catalog.TorrentStream{
				InfoHash: fmt.Sprintf("%040x", i+1),
			},
		}
	}
	return recs
}

func TestFabricRunPersistsAndYields(t *testing.T) {
	store, kvStore, q := newFabricDeps(t)
	stub := &stubScraper{source: source{name: "stub", ttl: time.Hour}, recs: stubRecords(3)}
	fabric := NewFabric([]Scraper{stub}, nil, store, kvStore, FabricOptions{})
	defer fabric.Close()

	accepted := fabric.Run(context.Background(), q)
	require.Len(t, accepted, 3)

	rows, err := store.TorrentStreamsForMedia(context.Background(), q.Media.ID, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestFabricTTLShortCircuit(t *testing.T) {
	store, kvStore, q := newFabricDeps(t)
	stub := &stubScraper{source: source{name: "stub", ttl: time.Hour}, recs: stubRecords(1)}
	fabric := NewFabric([]Scraper{stub}, nil, store, kvStore, FabricOptions{})
	defer fabric.Close()

	require.Len(t, fabric.Run(context.Background(), q), 1)
	// Second fan-out within the TTL doesn't hit the scraper at all.
	require.Empty(t, fabric.Run(context.Background(), q))
	require.Equal(t, 1, stub.calls)
}

func TestFabricDedupAcrossScrapers(t *testing.T) {
	store, kvStore, q := newFabricDeps(t)
	a := &stubScraper{source: source{name: "stub-a", ttl: time.Hour}, recs: stubRecords(2)}
	b := &stubScraper{source: source{name: "stub-b", ttl: time.Hour}, recs: stubRecords(2)}
	fabric := NewFabric([]Scraper{a, b}, nil, store, kvStore, FabricOptions{})
	defer fabric.Close()

	accepted := fabric.Run(context.Background(), q)
	require.Len(t, accepted, 2)
}

func TestFabricMaxProcessCapWithBackgroundContinuation(t *testing.T) {
	store, kvStore, q := newFabricDeps(t)
	stub := &stubScraper{source: source{name: "stub", ttl: time.Hour}, recs: stubRecords(10)}
	fabric := NewFabric([]Scraper{stub}, nil, store, kvStore, FabricOptions{MaxProcess: 4})

	accepted := fabric.Run(context.Background(), q)
	require.Len(t, accepted, 4)

	// The background continuation persists the remainder.
	fabric.Close()
	rows, err := store.TorrentStreamsForMedia(context.Background(), q.Media.ID, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 10)
}

func TestFabricDropsInvalidRecords(t *testing.T) {
	store, kvStore, q := newFabricDeps(t)
	recs := stubRecords(2)
	recs[1].Stream.Name = "Some.Other.Film.2019.1080p"
	stub := &stubScraper{source: source{name: "stub", ttl: time.Hour}, recs: recs}
	fabric := NewFabric([]Scraper{stub}, nil, store, kvStore, FabricOptions{})
	defer fabric.Close()

	accepted := fabric.Run(context.Background(), q)
	require.Len(t, accepted, 1)
}
