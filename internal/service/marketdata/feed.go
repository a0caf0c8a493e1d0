package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
)

// Quote is the last accepted trade for a symbol.
type Quote struct {
	Price decimal.Decimal
	At    time.Time
}

// Feed keeps the latest streamed price per symbol. It is the sink of the
// realtime pipeline and of the Kafka quote consumer.
type Feed struct {
	mu   sync.RWMutex
	last map[string]Quote
}

func NewFeed() *Feed {
	return &Feed{last: make(map[string]Quote)}
}

// Process stores t unless a newer quote is already held.
func (f *Feed) Process(_ context.Context, t *models.PriceTick) error {
	if t == nil || t.Symbol == "" {
		return fmt.Errorf("feed: empty tick")
	}
	if t.Price <= 0 {
		return fmt.Errorf("feed: %s price %v not positive", t.Symbol, t.Price)
	}
	at := time.Unix(t.Timestamp, 0).UTC()
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.last[t.Symbol]; ok && cur.At.After(at) {
		return nil
	}
	f.last[t.Symbol] = Quote{Price: decimal.NewFromFloat(t.Price), At: at}
	return nil
}

// Last returns the latest quote for symbol.
func (f *Feed) Last(symbol string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.last[symbol]
	return q, ok
}
