package marketdata

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
)

// MockSource serves a fixed market and synthetic Black-Scholes chains. It
// backs dry runs and local development.
type MockSource struct {
	mu     sync.RWMutex
	symbol string
	price  float64
	vix    float64
	iv     float64
	step   float64
	now    func() time.Time
}

func NewMockSource(symbol string, price, vix, iv float64) *MockSource {
	return &MockSource{symbol: symbol, price: price, vix: vix, iv: iv, step: 5, now: time.Now}
}

// Set moves the mock market.
func (s *MockSource) Set(price, vix float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price, s.vix = price, vix
}

func (s *MockSource) Snapshot(_ context.Context) (models.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.MarketSnapshot{
		Symbol:          s.symbol,
		Price:           decimal.NewFromFloat(s.price).Round(2),
		ImpliedVolATM7d: decimal.NewFromFloat(s.iv),
		VIX:             decimal.NewFromFloat(s.vix).Round(2),
		CapturedAt:      s.now().UTC(),
		Source:          models.SourceMock,
	}, nil
}

func (s *MockSource) OptionChain(_ context.Context, symbol string, expiration time.Time, right models.OptionRight) ([]models.OptionQuote, error) {
	s.mu.RLock()
	price, iv := s.price, s.iv
	now := s.now()
	s.mu.RUnlock()

	years := expiration.Add(16*time.Hour).Sub(now).Hours() / (24 * 365)
	if years < 1.0/365 {
		years = 1.0 / 365
	}
	lo := math.Floor(price*0.7/s.step) * s.step
	hi := math.Ceil(price*1.3/s.step) * s.step
	var out []models.OptionQuote
	for k := lo; k <= hi; k += s.step {
		theo, delta := blackScholes(price, k, years, iv, right)
		bid := math.Max(theo-0.02, 0)
		out = append(out, models.OptionQuote{
			Symbol:     symbol,
			Expiration: expiration,
			Strike:     decimal.NewFromFloat(k),
			Right:      right,
			Bid:        decimal.NewFromFloat(bid).Round(2),
			Ask:        decimal.NewFromFloat(theo + 0.02).Round(2),
			Delta:      decimal.NewFromFloat(delta).Round(3),
		})
	}
	return out, nil
}

// blackScholes prices a European option with zero rates.
func blackScholes(spot, strike, years, vol float64, right models.OptionRight) (price, delta float64) {
	sd := vol * math.Sqrt(years)
	d1 := (math.Log(spot/strike) + 0.5*sd*sd) / sd
	d2 := d1 - sd
	if right == models.RightCall {
		return spot*normCDF(d1) - strike*normCDF(d2), normCDF(d1)
	}
	return strike*normCDF(-d2) - spot*normCDF(-d1), normCDF(d1) - 1
}

func normCDF(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }

var _ drepo.MarketData = (*MockSource)(nil)
