package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeDesk/internal/domain/models"
	"RegimeDesk/pkg/cache"
)

func TestFeedKeepsNewest(t *testing.T) {
	f := NewFeed()
	ctx := context.Background()
	require.NoError(t, f.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 480.5, Timestamp: 200}))
	require.NoError(t, f.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 470, Timestamp: 100}))

	q, ok := f.Last("QQQ")
	require.True(t, ok)
	assert.True(t, q.Price.Equal(decimal.NewFromFloat(480.5)))
	assert.Equal(t, int64(200), q.At.Unix())

	assert.Error(t, f.Process(ctx, &models.PriceTick{Symbol: "QQQ", Price: 0, Timestamp: 300}))
	_, ok = f.Last("SPY")
	assert.False(t, ok)
}

func TestLiveSourceOverlay(t *testing.T) {
	now := time.Date(2025, 3, 7, 15, 45, 0, 0, time.UTC)
	base := NewMockSource("QQQ", 500, 18, 0.2)
	base.now = func() time.Time { return now.Add(-10 * time.Minute) }
	feed := NewFeed()
	live := NewLiveSource(base, feed, "QQQ", 5*time.Minute)
	live.now = func() time.Time { return now }

	snap, err := live.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SourceMock, snap.Source)

	require.NoError(t, feed.Process(context.Background(), &models.PriceTick{Symbol: "QQQ", Price: 455, Timestamp: now.Add(-time.Minute).Unix()}))
	snap, err = live.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SourceLive, snap.Source)
	assert.True(t, snap.Price.Equal(decimal.NewFromInt(455)))
	assert.True(t, snap.VIX.Equal(decimal.NewFromInt(18)))

	live.now = func() time.Time { return now.Add(time.Hour) }
	snap, err = live.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SourceMock, snap.Source, "stale stream price falls back")
}

func TestMockChainShape(t *testing.T) {
	now := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	src := NewMockSource("QQQ", 500, 18, 0.2)
	src.now = func() time.Time { return now }
	exp := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)

	puts, err := src.OptionChain(context.Background(), "QQQ", exp, models.RightPut)
	require.NoError(t, err)
	require.NotEmpty(t, puts)
	var prev *models.OptionQuote
	for i := range puts {
		q := puts[i]
		assert.Equal(t, models.RightPut, q.Right)
		assert.False(t, q.Bid.GreaterThan(q.Ask))
		assert.True(t, q.Delta.LessThanOrEqual(decimal.Zero))
		if prev != nil {
			assert.True(t, q.Mid().GreaterThanOrEqual(prev.Mid()), "put value rises with strike")
		}
		prev = &puts[i]
	}

	calls, err := src.OptionChain(context.Background(), "QQQ", exp, models.RightCall)
	require.NoError(t, err)
	assert.True(t, calls[0].Delta.GreaterThan(decimal.NewFromFloat(0.9)))
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/snapshot":
			_, _ = w.Write([]byte(`{"price":"452.10","vix":"21.5","implied_vol_atm_7d":"0.24","captured_at":"2025-03-07T20:40:00Z"}`))
		case "/chain":
			assert.Equal(t, "2025-03-14", r.URL.Query().Get("expiration"))
			assert.Equal(t, "P", r.URL.Query().Get("right"))
			_, _ = w.Write([]byte(`{"quotes":[{"strike":"440","bid":"0.50","ask":"0.60","delta":"-0.10"},{"strike":"0","bid":"1","ask":"1"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", "QQQ", "k", time.Second)
	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "QQQ", snap.Symbol)
	assert.Equal(t, models.SourceDelayed, snap.Source)
	assert.True(t, snap.Price.Equal(decimal.RequireFromString("452.10")))

	chain, err := src.OptionChain(context.Background(), "QQQ", time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), models.RightPut)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, models.RightPut, chain[0].Right)
	assert.True(t, chain[0].Mid().Equal(decimal.RequireFromString("0.55")))
}

type countingSource struct {
	*MockSource
	chains int
}

func (c *countingSource) OptionChain(ctx context.Context, symbol string, exp time.Time, right models.OptionRight) ([]models.OptionQuote, error) {
	c.chains++
	return c.MockSource.OptionChain(ctx, symbol, exp, right)
}

func TestCachedChainsServesRepeatsFromCache(t *testing.T) {
	now := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	mock := NewMockSource("QQQ", 500, 18, 0.2)
	mock.now = func() time.Time { return now }
	src := &countingSource{MockSource: mock}
	mc := cache.NewMemoryCache()
	defer mc.Close()

	cached := NewCachedChains(src, mc, time.Minute, nil)
	exp := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)

	first, err := cached.OptionChain(context.Background(), "QQQ", exp, models.RightPut)
	require.NoError(t, err)
	second, err := cached.OptionChain(context.Background(), "QQQ", exp, models.RightPut)
	require.NoError(t, err)
	assert.Equal(t, 1, src.chains)
	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Strike.Equal(second[i].Strike))
		assert.True(t, first[i].Mid().Equal(second[i].Mid()))
	}

	_, err = cached.OptionChain(context.Background(), "QQQ", exp, models.RightCall)
	require.NoError(t, err)
	assert.Equal(t, 2, src.chains, "right is part of the key")

	snap, err := cached.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SourceMock, snap.Source)
}
