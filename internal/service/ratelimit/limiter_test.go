package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestReserveRefills(t *testing.T) {
	l := New(2, 0.5)
	now := time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	ok, wait := l.Reserve("k")
	assert.False(t, ok)
	assert.Equal(t, 2*time.Second, wait)
	assert.True(t, l.Allow("other"), "buckets are per key")

	now = now.Add(2 * time.Second)
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("k"))
	}
}

func TestIdleBucketsAreSwept(t *testing.T) {
	l := New(1, 1)
	now := time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(idleAfter + time.Second)
	l.Allow("b")
	assert.Len(t, l.m, 1)
	assert.Contains(t, l.m, "b")
}

func TestMiddlewareRejectsBurst(t *testing.T) {
	l := New(1, 0.001)
	e := echo.New()
	e.POST("/run", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, l.Middleware())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_RATE_LIMITED")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
