package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	xhttp "RegimeDesk/pkg/http"
)

// idleAfter is how long an untouched key keeps its bucket.
const idleAfter = 10 * time.Minute

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter keeps one token bucket per key. Burst is the bucket size and
// refill the tokens added per second. A non-positive burst disables it.
type Limiter struct {
	burst  int
	refill rate.Limit

	mu    sync.Mutex
	m     map[string]*entry
	now   func() time.Time
	swept time.Time
}

func New(burst, refillPerSec float64) *Limiter {
	return &Limiter{
		burst:  int(math.Ceil(burst)),
		refill: rate.Limit(refillPerSec),
		m:      make(map[string]*entry),
		now:    time.Now,
	}
}

// Reserve takes a token for key. When none is available it returns false
// and the wait until the next one.
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
	if l.burst <= 0 {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	e, ok := l.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.refill, l.burst)}
		l.m[key] = e
	}
	e.seen = now
	l.sweep(now)
	l.mu.Unlock()

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

// sweep drops idle buckets at most once per idleAfter. Must hold mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.swept) < idleAfter {
		return
	}
	l.swept = now
	for k, e := range l.m {
		if now.Sub(e.seen) > idleAfter {
			delete(l.m, k)
		}
	}
}

// Middleware throttles operator writes per client IP and route.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, wait := l.Reserve(c.RealIP() + " " + c.Path())
			if ok {
				return next(c)
			}
			if wait > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many requests", http.StatusTooManyRequests))
		}
	}
}
