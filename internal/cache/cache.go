// Package cache wraps Redis behind a store that degrades to an
// in-process expiring map when the server is unreachable. Callers get
// best-effort semantics and never branch on availability.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	heartbeatInterval = 30 * time.Second
	dialTimeout       = 5 * time.Second
)

// Store reads and writes keyed blobs. All operations are best-effort:
// a Redis failure downgrades the call to the in-memory fallback and is
// logged, never returned.
type Store struct {
	client   *redis.Client
	memory   *memoryCache
	fallback atomic.Bool
	log      *slog.Logger

	contextTTL  time.Duration
	responseTTL time.Duration
}

// New connects to Redis at the given URL. A failed initial dial is not
// fatal: the store starts in fallback mode and the heartbeat promotes
// it back once Redis answers pings.
func New(ctx context.Context, url string, log *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = dialTimeout

	s := &Store{
		client:      redis.NewClient(opts),
		memory:      newMemoryCache(),
		log:         log,
		contextTTL:  ContextTTL,
		responseTTL: ResponseTTL,
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.fallback.Store(true)
		log.Warn("redis unreachable, starting in memory fallback", "error", err)
	}
	return s, nil
}

// NewMemory returns a store with no Redis client. Used in tests and
// when no Redis URL is configured.
func NewMemory(log *slog.Logger) *Store {
	s := &Store{
		memory:      newMemoryCache(),
		log:         log,
		contextTTL:  ContextTTL,
		responseTTL: ResponseTTL,
	}
	s.fallback.Store(true)
	return s
}

// SetTTLs overrides the default context and response-cache lifetimes.
// Non-positive values keep the defaults. Call before the store is
// shared across goroutines.
func (s *Store) SetTTLs(contextTTL, responseTTL time.Duration) {
	if contextTTL > 0 {
		s.contextTTL = contextTTL
	}
	if responseTTL > 0 {
		s.responseTTL = responseTTL
	}
}

// ResponseTTL returns the lifetime for cached generated replies.
func (s *Store) ResponseTTL() time.Duration {
	return s.responseTTL
}

// InFallback reports whether the store is currently serving from the
// in-memory map.
func (s *Store) InFallback() bool {
	return s.fallback.Load()
}

// Run pings Redis on an interval, flipping the store between modes as
// connectivity comes and goes. Blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.memory.sweep()
			if s.client == nil {
				continue
			}
			err := s.client.Ping(ctx).Err()
			switch {
			case err != nil && !s.fallback.Load():
				s.fallback.Store(true)
				s.log.Warn("redis ping failed, switching to memory fallback", "error", err)
			case err == nil && s.fallback.Load():
				s.fallback.Store(false)
				s.log.Info("redis reachable again, leaving memory fallback")
			}
		}
	}
}

// Get returns the value stored under key, or ok=false when absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if s.client != nil && !s.fallback.Load() {
		val, err := s.client.Get(ctx, key).Bytes()
		if err == nil {
			return val, true
		}
		if errors.Is(err, redis.Nil) {
			return nil, false
		}
		s.fallback.Store(true)
		s.log.Warn("redis get failed, switching to memory fallback", "key", key, "error", err)
	}
	return s.memory.get(key)
}

// Set stores value under key with the given TTL. Zero TTL means no
// expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s.client != nil && !s.fallback.Load() {
		if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
			s.fallback.Store(true)
			s.log.Warn("redis set failed, switching to memory fallback", "key", key, "error", err)
		} else {
			return
		}
	}
	s.memory.set(key, value, ttl)
}

// Delete removes key from whichever tier currently serves it.
func (s *Store) Delete(ctx context.Context, key string) {
	if s.client != nil && !s.fallback.Load() {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			s.log.Warn("redis delete failed", "key", key, "error", err)
		}
	}
	s.memory.set(key, nil, time.Nanosecond)
}

// GetJSON unmarshals the value under key into dest.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.log.Warn("discarding malformed cache entry", "key", key, "error", err)
		return false
	}
	return true
}

// SetJSON marshals value and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Warn("cache marshal failed", "key", key, "error", err)
		return
	}
	s.Set(ctx, key, raw, ttl)
}

func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
