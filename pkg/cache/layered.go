package cache

import (
	"context"
	"time"
)

// LayeredCache reads through a short-lived in-process L1 to Redis. Writes go
// to Redis first. Locks always live in Redis.
type LayeredCache struct {
	mem    *MemoryCache
	redis  *RedisCache
	memTTL time.Duration
}

func NewLayeredCache(rc *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{MemoryMaxSize: 1000, MemoryTTL: 5 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		mem:    NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		redis:  rc,
		memTTL: cfg.MemoryTTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.redis.setRaw(ctx, key, data, ttl); err != nil {
		return err
	}
	lc.fill(key, data, ttl)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if data, ok := lc.mem.raw(key); ok {
		return decode(data, dest)
	}
	data, err := lc.redis.getRaw(ctx, key)
	if err != nil {
		return err
	}
	lc.fill(key, data, lc.memTTL)
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return lc.redis.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key, token string) error {
	return lc.redis.Unlock(ctx, key, token)
}

// Close releases L1 only; the Redis connection belongs to whoever built it.
func (lc *LayeredCache) Close() error {
	return lc.mem.Close()
}

func (lc *LayeredCache) fill(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 || ttl > lc.memTTL {
		ttl = lc.memTTL
	}
	lc.mem.mu.Lock()
	lc.mem.put(key, data, ttl)
	lc.mem.mu.Unlock()
}

var _ Service = (*LayeredCache)(nil)
