package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	pkghttp "RegimeDesk/pkg/http"
)

// HTTPSource reads snapshots and option chains from a market data service.
//
//	GET {url}/snapshot?symbol=QQQ
//	GET {url}/chain?symbol=QQQ&expiration=2025-01-17&right=P
type HTTPSource struct {
	baseURL string
	symbol  string
	apiKey  string
	client  *pkghttp.Client
}

func NewHTTPSource(baseURL, symbol, apiKey string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		symbol:  symbol,
		apiKey:  apiKey,
		client:  pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
	}
}

func (s *HTTPSource) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if s.apiKey != "" {
		h["Authorization"] = "Bearer " + s.apiKey
	}
	return h
}

func (s *HTTPSource) Snapshot(ctx context.Context) (models.MarketSnapshot, error) {
	var snap models.MarketSnapshot
	err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         s.baseURL + "/snapshot",
		Headers:     s.headers(),
		QueryParams: map[string][]string{"symbol": {s.symbol}},
	}, &snap)
	if err != nil {
		return snap, fmt.Errorf("market data snapshot: %w", err)
	}
	if snap.Symbol == "" {
		snap.Symbol = s.symbol
	}
	if snap.Source == "" {
		snap.Source = models.SourceDelayed
	}
	return snap, nil
}

func (s *HTTPSource) OptionChain(ctx context.Context, symbol string, expiration time.Time, right models.OptionRight) ([]models.OptionQuote, error) {
	var body struct {
		Quotes []models.OptionQuote `json:"quotes"`
	}
	err := s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     s.baseURL + "/chain",
		Headers: s.headers(),
		QueryParams: map[string][]string{
			"symbol":     {symbol},
			"expiration": {expiration.Format("2006-01-02")},
			"right":      {string(right)},
		},
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("market data chain %s %s: %w", symbol, expiration.Format("2006-01-02"), err)
	}
	out := body.Quotes[:0]
	for _, q := range body.Quotes {
		if q.Right == "" {
			q.Right = right
		}
		if q.Right != right || !q.Strike.IsPositive() {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

var _ drepo.MarketData = (*HTTPSource)(nil)
