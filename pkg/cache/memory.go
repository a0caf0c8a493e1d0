package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	data     []byte
	expireAt time.Time // zero never expires
	lastUsed time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// MemoryCache is a process-local Service with least-recently-used eviction.
// It encodes values the same way RedisCache does, so callers can swap the two.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*memEntry
	maxSize int
	now     func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: time.Minute,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		items:   make(map[string]*memEntry),
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go mc.sweep(cfg.CleanupInterval)
	}
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, data, ttl)
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	data, ok := mc.raw(key)
	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		delete(mc.items, k)
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if e, ok := mc.items[key]; ok && !e.expired(mc.now()) {
		return "", nil
	}
	token := newToken()
	mc.put(key, []byte(token), ttl)
	return token, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key, token string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	e, ok := mc.items[key]
	if !ok || e.expired(mc.now()) || string(e.data) != token {
		return ErrLockNotHeld
	}
	delete(mc.items, key)
	return nil
}

// Len counts live entries.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	n := 0
	for _, e := range mc.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close stops the background sweep. The cache stays usable.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) raw(key string) ([]byte, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	e, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	now := mc.now()
	if e.expired(now) {
		delete(mc.items, key)
		return nil, false
	}
	e.lastUsed = now
	return e.data, true
}

// put must run under mu.
func (mc *MemoryCache) put(key string, data []byte, ttl time.Duration) {
	now := mc.now()
	if _, exists := mc.items[key]; !exists && len(mc.items) >= mc.maxSize {
		mc.evict(now)
	}
	e := &memEntry{data: data, lastUsed: now}
	if ttl > 0 {
		e.expireAt = now.Add(ttl)
	}
	mc.items[key] = e
}

// evict drops expired entries, or the least recently used one if none expired.
func (mc *MemoryCache) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	dropped := false
	for k, e := range mc.items {
		if e.expired(now) {
			delete(mc.items, k)
			dropped = true
			continue
		}
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey, oldest = k, e.lastUsed
		}
	}
	if !dropped && oldestKey != "" {
		delete(mc.items, oldestKey)
	}
}

func (mc *MemoryCache) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-t.C:
			mc.mu.Lock()
			now := mc.now()
			for k, e := range mc.items {
				if e.expired(now) {
					delete(mc.items, k)
				}
			}
			mc.mu.Unlock()
		}
	}
}

var _ Service = (*MemoryCache)(nil)
