package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore uses Redis as the primary KV. Keys are namespaced so several
// profiles or environments can share one instance.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisStore creates a Redis-backed store. An empty namespace leaves keys untouched.
func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	return &RedisStore{rdb: rdb, namespace: namespace}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

// CachedStore wraps a primary KV (PostgreSQL or SQLite) with a Redis
// read-through cache. Writes go to the primary store and refresh the cache;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary KV
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary KV, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) Set(ctx context.Context, key, value string) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		return err
	}
	s.rdb.Set(ctx, cacheKey(key), value, s.ttl)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	if err := s.primary.Delete(ctx, key); err != nil {
		return err
	}
	s.rdb.Del(ctx, cacheKey(key))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, cacheKey(key)).Result()
	if err == nil {
		return v, true, nil
	}

	// Cache miss or Redis unavailable: read from primary.
	v, ok, err := s.primary.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}

	s.rdb.Set(ctx, cacheKey(key), v, s.ttl)
	return v, true, nil
}

func cacheKey(key string) string { return fmt.Sprintf("snapshot:%s", key) }
