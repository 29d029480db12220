// Package kv is the Redis-backed coordination layer: minted URL cache,
// named locks, rate limiting and scrape bookkeeping. Everything in here is
// shared state between replicas, as opposed to the per-process go-cache and
// BadgerDB stores.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// Minted playback URLs stay valid for an hour of inactivity; every read
	// slides the window.
	urlCacheTTL = time.Hour

	lockTTL      = time.Minute
	lockPollStep = 100 * time.Millisecond
)

// ErrLockTimeout is returned when another worker holds a named lock for
// longer than the caller is willing to wait.
var ErrLockTimeout = errors.New("timed out waiting for lock")

type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewStore(rdb *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, logger: logger}
}

// Ping checks the connection on startup.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("couldn't ping Redis: %v", err)
	}
	return nil
}

// SetURL caches a minted playback URL under the fingerprint key.
func (s *Store) SetURL(ctx context.Context, key, url string) error {
	return s.rdb.Set(ctx, key, url, urlCacheTTL).Err()
}

// GetURL returns the cached URL and slides its expiry. A miss returns
// ("", nil).
func (s *Store) GetURL(ctx context.Context, key string) (string, error) {
	url, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	if err = s.rdb.Expire(ctx, key, urlCacheTTL).Err(); err != nil {
		s.logger.Warn("Couldn't refresh URL cache TTL", zap.Error(err), zap.String("key", key))
	}
	return url, nil
}

// DeleteURL drops a cached URL so the next request mints a fresh one.
func (s *Store) DeleteURL(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Lock acquires the named lock, blocking up to maxWait while another worker
// holds it. The returned release function is safe to call once; the lock
// also self-expires after a minute in case the holder dies.
func (s *Store) Lock(ctx context.Context, key string, maxWait time.Duration) (func(), error) {
	lockKey := key + "_locked"
	deadline := time.Now().Add(maxWait)
	for {
		ok, err := s.rdb.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("couldn't acquire lock: %v", err)
		}
		if ok {
			return func() {
				if err := s.rdb.Del(context.Background(), lockKey).Err(); err != nil {
					s.logger.Warn("Couldn't release lock", zap.Error(err), zap.String("key", lockKey))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollStep):
		}
	}
}

// Allow is a fixed-window rate limiter: at most limit events per window per
// key. The first event of a window sets the expiry.
func (s *Store) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err = s.rdb.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

// Once reports whether this is the first call for the key within ttl. It
// backs one-shot side effects like the metadata back-fill guard.
func (s *Store) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// MarkScraped records that a scrape for member ran now. The set is a sorted
// set scored by Unix time, so staleness checks and trims are range queries.
func (s *Store) MarkScraped(ctx context.Context, set, member string) error {
	return s.rdb.ZAdd(ctx, set, &redis.Z{Score: float64(time.Now().Unix()), Member: member}).Err()
}

// ScrapedWithin reports whether member was scraped less than ttl ago.
func (s *Store) ScrapedWithin(ctx context.Context, set, member string, ttl time.Duration) (bool, error) {
	score, err := s.rdb.ZScore(ctx, set, member).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return time.Since(time.Unix(int64(score), 0)) < ttl, nil
}

// TrimScraped drops entries older than ttl from the scrape set.
func (s *Store) TrimScraped(ctx context.Context, set string, ttl time.Duration) error {
	max := strconv.FormatInt(time.Now().Add(-ttl).Unix(), 10)
	return s.rdb.ZRemRangeByScore(ctx, set, "-inf", max).Err()
}

// AddCachedHashes records info hashes a provider reported as instantly
// available. Entries are per-service sets with a bounded lifetime.
func (s *Store) AddCachedHashes(ctx context.Context, service string, hashes []string, ttl time.Duration) error {
	if len(hashes) == 0 {
		return nil
	}
	key := "cached_hashes:" + service
	members := make([]interface{}, len(hashes))
	for i, h := range hashes {
		members[i] = h
	}
	if err := s.rdb.SAdd(ctx, key, members...).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, ttl).Err()
}

// CachedHashes filters hashes down to the ones known to be cached for the
// service, preserving order.
func (s *Store) CachedHashes(ctx context.Context, service string, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	key := "cached_hashes:" + service
	members := make([]string, len(hashes))
	copy(members, hashes)
	results, err := s.rdb.SMIsMember(ctx, key, toInterfaces(members)...).Result()
	if err != nil {
		return nil, err
	}
	var cached []string
	for i, isMember := range results {
		if isMember {
			cached = append(cached, hashes[i])
		}
	}
	return cached, nil
}

// SetPosterAvailable caches a poster-service availability probe result.
func (s *Store) SetPosterAvailable(ctx context.Context, id string, available bool, ttl time.Duration) error {
	value := "0"
	if available {
		value = "1"
	}
	return s.rdb.Set(ctx, "poster:"+id, value, ttl).Err()
}

// PosterAvailable returns (available, known). Unknown IDs haven't been
// probed within the cache TTL.
func (s *Store) PosterAvailable(ctx context.Context, id string) (bool, bool, error) {
	value, err := s.rdb.Get(ctx, "poster:"+id).Result()
	if err == redis.Nil {
		return false, false, nil
	} else if err != nil {
		return false, false, err
	}
	return value == "1", true, nil
}

func toInterfaces(values []string) []interface{} {
	result := make([]interface{}, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}
