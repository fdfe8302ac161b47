package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coinpulse/marketmanager/common/cache"
)

const cacheKeyPrefix = "marketmanager:api:"

// errCacheMiss is the store-agnostic miss signal
var errCacheMiss = errors.New("cache miss")

// cacheStore holds memoised response bodies for the TTL
type cacheStore interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, body []byte, ttl time.Duration) error
}

// redisStore backs the cache with a shared Redis so every apiserver replica
// sees the same fills
type redisStore struct {
	client *redis.Client
}

func (s *redisStore) get(ctx context.Context, key string) ([]byte, error) {
	body, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	return body, err
}

func (s *redisStore) set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	// Pass the body as string: the wire encoding is identical, but
	// redismock's regexp matcher only engages string arguments.
	return s.client.Set(ctx, key, string(body), ttl).Err()
}

// memoryCacheEntries bounds the single-process store so a querystring-varied
// scan cannot pin unbounded memory
const memoryCacheEntries = 512

// memoryStore is the single-process fallback when no Redis is configured
type memoryStore struct {
	lru *cache.LRU
}

func newMemoryStore() *memoryStore {
	return &memoryStore{lru: cache.New(memoryCacheEntries)}
}

func (s *memoryStore) get(_ context.Context, key string) ([]byte, error) {
	if body, ok := s.lru.Get(key); ok {
		return body, nil
	}
	return nil, errCacheMiss
}

func (s *memoryStore) set(_ context.Context, key string, body []byte, ttl time.Duration) error {
	s.lru.Add(key, append([]byte(nil), body...), ttl)
	return nil
}

// responseCache memoises successful GET responses keyed by request URI, so
// repeated list queries inside the TTL never reach Postgres. A cache failure
// never fails the request; the handler simply runs.
type responseCache struct {
	store cacheStore
	ttl   time.Duration
	log   zerolog.Logger
}

func newResponseCache(store cacheStore, ttl time.Duration, log zerolog.Logger) *responseCache {
	return &responseCache{store: store, ttl: ttl, log: log}
}

func (c *responseCache) middleware(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			inner.ServeHTTP(w, r)
			return
		}
		key := cacheKeyPrefix + r.URL.RequestURI()
		body, err := c.store.get(r.Context(), key)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			w.Write(body) //nolint:errcheck
			return
		}
		if !errors.Is(err, errCacheMiss) {
			c.log.Debug().Err(err).Msg("response cache read failed")
		}

		w.Header().Set("X-Cache", "MISS")
		rec := &cacheRecorder{ResponseWriter: w, status: http.StatusOK}
		inner.ServeHTTP(rec, r)
		if rec.status != http.StatusOK {
			return
		}
		// The client may hang up between the handler writing and this
		// fill; the cache write still counts.
		ctx := context.WithoutCancel(r.Context())
		if err := c.store.set(ctx, key, rec.buf.Bytes(), c.ttl); err != nil {
			c.log.Debug().Err(err).Msg("response cache write failed")
		}
	})
}

// cacheRecorder tees the response body so a 200 can be stored after the
// handler finishes
type cacheRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *cacheRecorder) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *cacheRecorder) Write(b []byte) (int, error) {
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}
