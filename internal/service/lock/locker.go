package lock

import (
	"context"
	"sync"
	"time"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	"RegimeDesk/pkg/cache"
	"RegimeDesk/pkg/logger"
)

// CacheLocker serializes writers per key. A process-local slot is always
// taken first; the cache lock (Redis SETNX in production) then excludes
// other processes sharing the store.
type CacheLocker struct {
	cache cache.Service
	ttl   time.Duration
	wait  time.Duration
	poll  time.Duration
	log   *logger.Logger

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewCacheLocker(c cache.Service, ttl, wait, poll time.Duration, log *logger.Logger) *CacheLocker {
	return &CacheLocker{cache: c, ttl: ttl, wait: wait, poll: poll, log: log, slots: make(map[string]chan struct{})}
}

func (l *CacheLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

// Acquire waits up to the configured wait for key.
func (l *CacheLocker) Acquire(ctx context.Context, key string) (func(), error) {
	const op = "lock.Acquire"
	wctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	s := l.slot(key)
	select {
	case s <- struct{}{}:
	case <-wctx.Done():
		return nil, models.Errorf(models.ErrInvalidState, op, "%s busy: another operation is in progress", key)
	}
	for {
		token, err := l.cache.TryLock(wctx, key, l.ttl)
		if err != nil {
			<-s
			return nil, models.NewError(models.ErrDataUnavailable, op, err)
		}
		if token != "" {
			return l.release(key, token, s), nil
		}
		select {
		case <-wctx.Done():
			<-s
			return nil, models.Errorf(models.ErrInvalidState, op, "%s held by another process", key)
		case <-time.After(l.poll):
		}
	}
}

// TryAcquire takes key only if it is free right now.
func (l *CacheLocker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	s := l.slot(key)
	select {
	case s <- struct{}{}:
	default:
		return nil, false, nil
	}
	token, err := l.cache.TryLock(ctx, key, l.ttl)
	if err != nil || token == "" {
		<-s
		return nil, false, err
	}
	return l.release(key, token, s), true, nil
}

// release gives back the cache lock only while token still owns it; a lock
// that outlived its ttl is logged, since another writer may have run.
func (l *CacheLocker) release(key, token string, s chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.cache.Unlock(ctx, key, token); err != nil {
				l.log.Warn("release lock", logger.String("key", key), logger.Error(err))
			}
			<-s
		})
	}
}

var _ drepo.Locker = (*CacheLocker)(nil)
