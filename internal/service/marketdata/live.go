package marketdata

import (
	"context"
	"time"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
)

// LiveSource overlays the streamed last price on a base source that still
// supplies volatility and option chains. A stale or missing stream price
// falls back to the base snapshot.
type LiveSource struct {
	base   drepo.MarketData
	feed   *Feed
	symbol string
	maxAge time.Duration
	now    func() time.Time
}

func NewLiveSource(base drepo.MarketData, feed *Feed, symbol string, maxAge time.Duration) *LiveSource {
	return &LiveSource{base: base, feed: feed, symbol: symbol, maxAge: maxAge, now: time.Now}
}

func (s *LiveSource) Snapshot(ctx context.Context) (models.MarketSnapshot, error) {
	snap, err := s.base.Snapshot(ctx)
	if err != nil {
		return snap, err
	}
	q, ok := s.feed.Last(s.symbol)
	if !ok || s.now().Sub(q.At) > s.maxAge || q.At.Before(snap.CapturedAt) {
		return snap, nil
	}
	snap.Symbol = s.symbol
	snap.Price = q.Price
	snap.CapturedAt = q.At
	snap.Source = models.SourceLive
	return snap, nil
}

func (s *LiveSource) OptionChain(ctx context.Context, symbol string, expiration time.Time, right models.OptionRight) ([]models.OptionQuote, error) {
	return s.base.OptionChain(ctx, symbol, expiration, right)
}

var _ drepo.MarketData = (*LiveSource)(nil)
