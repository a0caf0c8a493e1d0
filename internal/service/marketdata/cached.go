package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
	"RegimeDesk/pkg/cache"
	"RegimeDesk/pkg/logger"
)

// CachedChains keeps option chains for a short TTL so the planner and the
// follow-up step of one cycle do not refetch the same expiration. Snapshots
// always go to the source.
type CachedChains struct {
	drepo.MarketData
	cache cache.Service
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedChains(src drepo.MarketData, c cache.Service, ttl time.Duration, log *logger.Logger) *CachedChains {
	if log == nil {
		log = logger.NewNop()
	}
	return &CachedChains{MarketData: src, cache: c, ttl: ttl, log: log}
}

func chainKey(symbol string, expiration time.Time, right models.OptionRight) string {
	return cache.Key("chain", symbol, expiration.Format("2006-01-02"), string(right))
}

func (c *CachedChains) OptionChain(ctx context.Context, symbol string, expiration time.Time, right models.OptionRight) ([]models.OptionQuote, error) {
	key := chainKey(symbol, expiration, right)

	var raw string
	err := c.cache.Get(ctx, key, &raw)
	switch {
	case err == nil:
		var quotes []models.OptionQuote
		if jerr := json.Unmarshal([]byte(raw), &quotes); jerr == nil {
			return quotes, nil
		}
		c.log.Warn("chain cache entry unreadable", logger.String("key", key))
	case !errors.Is(err, cache.ErrCacheMiss):
		c.log.Warn("chain cache get failed", logger.String("key", key), logger.Error(err))
	}

	quotes, err := c.MarketData.OptionChain(ctx, symbol, expiration, right)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return quotes, nil
	}
	if b, jerr := json.Marshal(quotes); jerr == nil {
		if serr := c.cache.Set(ctx, key, string(b), c.ttl); serr != nil {
			c.log.Warn("chain cache set failed", logger.String("key", key), logger.Error(serr))
		}
	}
	return quotes, nil
}

var _ drepo.MarketData = (*CachedChains)(nil)
