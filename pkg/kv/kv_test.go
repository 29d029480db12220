package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, zap.NewNop()), mr
}

func TestURLCacheSlidesExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	url, err := store.GetURL(ctx, "fp-1")
	require.NoError(t, err)
	require.Empty(t, url)

	require.NoError(t, store.SetURL(ctx, "fp-1", "https://download.example.com/v.mkv"))

	// Let most of the TTL pass, then read. The read must reset the window.
	mr.FastForward(59 * time.Minute)
	url, err = store.GetURL(ctx, "fp-1")
	require.NoError(t, err)
	require.Equal(t, "https://download.example.com/v.mkv", url)

	mr.FastForward(59 * time.Minute)
	url, err = store.GetURL(ctx, "fp-1")
	require.NoError(t, err)
	require.Equal(t, "https://download.example.com/v.mkv", url)

	// Without reads the entry expires.
	mr.FastForward(61 * time.Minute)
	url, err = store.GetURL(ctx, "fp-1")
	require.NoError(t, err)
	require.Empty(t, url)
}

func TestLock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	release, err := store.Lock(ctx, "fp-2", time.Second)
	require.NoError(t, err)

	// Second acquisition times out while the lock is held.
	_, err = store.Lock(ctx, "fp-2", 300*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)

	release()
	release2, err := store.Lock(ctx, "fp-2", time.Second)
	require.NoError(t, err)
	release2()
}

func TestLockRespectsContext(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	release, err := store.Lock(ctx, "fp-3", time.Second)
	require.NoError(t, err)
	defer release()

	cancel()
	_, err = store.Lock(ctx, "fp-3", 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAllow(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := store.Allow(ctx, "rate:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := store.Allow(ctx, "rate:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(time.Minute + time.Second)
	ok, err = store.Allow(ctx, "rate:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOnce(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	first, err := store.Once(ctx, "annotate:abc", time.Hour)
	require.NoError(t, err)
	require.True(t, first)

	again, err := store.Once(ctx, "annotate:abc", time.Hour)
	require.NoError(t, err)
	require.False(t, again)

	mr.FastForward(2 * time.Hour)
	first, err = store.Once(ctx, "annotate:abc", time.Hour)
	require.NoError(t, err)
	require.True(t, first)
}

func TestScrapeBookkeeping(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	fresh, err := store.ScrapedWithin(ctx, "scraped:yts", "tt1234567", time.Hour)
	require.NoError(t, err)
	require.False(t, fresh)

	require.NoError(t, store.MarkScraped(ctx, "scraped:yts", "tt1234567"))
	fresh, err = store.ScrapedWithin(ctx, "scraped:yts", "tt1234567", time.Hour)
	require.NoError(t, err)
	require.True(t, fresh)

	require.NoError(t, store.TrimScraped(ctx, "scraped:yts", 0))
	fresh, err = store.ScrapedWithin(ctx, "scraped:yts", "tt1234567", time.Hour)
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestCachedHashes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	hashes := []string{
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"cccccccccccccccccccccccccccccccccccccccc",
	}
	require.NoError(t, store.AddCachedHashes(ctx, "realdebrid", hashes[:2], time.Hour))

	cached, err := store.CachedHashes(ctx, "realdebrid", hashes)
	require.NoError(t, err)
	require.Equal(t, hashes[:2], cached)

	cached, err = store.CachedHashes(ctx, "premiumize", hashes)
	require.NoError(t, err)
	require.Empty(t, cached)
}
