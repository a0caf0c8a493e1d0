package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RegimeDesk/internal/domain/models"
	drepo "RegimeDesk/internal/domain/repository"
)

// PaperGateway fills every order at its limit price and keeps its own book.
// Equity moves by the premium exchanged; it is not marked to market.
type PaperGateway struct {
	mu     sync.Mutex
	equity decimal.Decimal
	book   map[string]models.Position
	now    func() time.Time
}

func NewPaperGateway(equity decimal.Decimal) *PaperGateway {
	return &PaperGateway{equity: equity, book: make(map[string]models.Position), now: time.Now}
}

// holding derives the position an order opens or closes from its legs.
func holding(req models.OrderRequest) (models.Position, error) {
	p := models.Position{Symbol: req.Symbol, Contracts: req.Contracts, Status: models.PositionOpen}
	if len(req.Legs) == 0 {
		return p, fmt.Errorf("order %s has no legs", req.ClientOrderID)
	}
	p.Expiration = models.TimePtr(req.Legs[0].Expiration)
	switch req.Action {
	case models.ActionOpenPutSpread, models.ActionClosePutSpread:
		p.TradeType = models.TradePutCreditSpread
		for _, l := range req.Legs {
			s := l.Strike
			// opening sells the short strike, closing buys it back
			isShort := (l.Side == models.SideSell) == (req.Action == models.ActionOpenPutSpread)
			if isShort {
				p.ShortStrike = &s
			} else {
				p.LongStrike = &s
			}
		}
	case models.ActionSellCoveredCall:
		p.TradeType = models.TradeCoveredCall
		p.ShortStrike = models.Dec(req.Legs[0].Strike)
	case models.ActionBuyAnchorCall:
		p.TradeType = models.TradeAnchorCall
		p.LongStrike = models.Dec(req.Legs[0].Strike)
	case models.ActionCloseRecovery:
		if req.Legs[0].Side == models.SideBuy {
			p.TradeType = models.TradeCoveredCall
			p.ShortStrike = models.Dec(req.Legs[0].Strike)
		} else {
			p.TradeType = models.TradeAnchorCall
			p.LongStrike = models.Dec(req.Legs[0].Strike)
		}
	default:
		return p, fmt.Errorf("paper gateway cannot route %s", req.Action)
	}
	return p, nil
}

func bookKey(p models.Position) string {
	s, l := "-", "-"
	if p.ShortStrike != nil {
		s = p.ShortStrike.String()
	}
	if p.LongStrike != nil {
		l = p.LongStrike.String()
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s", p.TradeType, p.Symbol, s, l, p.Expiration.Format("2006-01-02"))
}

func (g *PaperGateway) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderResult{}, err
	}
	h, err := holding(req)
	if err != nil {
		return models.OrderResult{OrderID: "", Status: models.OrderRejected, Message: err.Error()}, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	res := models.OrderResult{OrderID: "paper-" + uuid.NewString(), FillPrice: req.LimitPrice, FilledAt: now}
	key := bookKey(h)
	cur, held := g.book[key]
	opening := req.Action == models.ActionOpenPutSpread || req.Action == models.ActionSellCoveredCall || req.Action == models.ActionBuyAnchorCall
	switch {
	case opening && held:
		cur.Contracts += req.Contracts
		g.book[key] = cur
	case opening:
		h.ID = uuid.NewString()
		h.OpenedAt = now
		g.book[key] = h
	case !held || cur.Contracts < req.Contracts:
		res.Status = models.OrderRejected
		res.Message = "no matching holding to close"
		return res, nil
	case cur.Contracts == req.Contracts:
		delete(g.book, key)
	default:
		cur.Contracts -= req.Contracts
		g.book[key] = cur
	}

	cash := req.LimitPrice.Mul(models.ContractMultiplier).Mul(decimal.NewFromInt(int64(req.Contracts)))
	if req.Credit {
		g.equity = g.equity.Add(cash)
	} else {
		g.equity = g.equity.Sub(cash)
	}
	res.Status = models.OrderFilled
	return res, nil
}

func (g *PaperGateway) CancelOrder(_ context.Context, _ string) error { return nil }

// GetPositions lists holdings that have not expired yet.
func (g *PaperGateway) GetPositions(_ context.Context) ([]models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	today := models.DateOf(g.now())
	out := make([]models.Position, 0, len(g.book))
	for k, p := range g.book {
		if p.Expiration != nil && models.DateOf(*p.Expiration).Before(today) {
			delete(g.book, k)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (g *PaperGateway) AccountSummary(_ context.Context) (models.AccountSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return models.AccountSummary{Equity: g.equity, BuyingPower: g.equity, AsOf: g.now().UTC()}, nil
}

var _ drepo.ExecutionGateway = (*PaperGateway)(nil)
