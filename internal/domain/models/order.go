package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderLeg is one option leg of an order.
type OrderLeg struct {
	Right      OptionRight     `json:"right"`
	Strike     decimal.Decimal `json:"strike"`
	Expiration time.Time       `json:"expiration"`
	Side       OrderSide       `json:"side"`
}

// OrderRequest is what the execution gateway receives for one action.
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Action        ActionKind      `json:"action"`
	Symbol        string          `json:"symbol"`
	Legs          []OrderLeg      `json:"legs"`
	Contracts     int             `json:"contracts"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	// Credit is true when the order collects premium.
	Credit     bool   `json:"credit"`
	PositionID string `json:"position_id,omitempty"`
}

type OrderStatus string

const (
	OrderFilled   OrderStatus = "filled"
	OrderWorking  OrderStatus = "working"
	OrderRejected OrderStatus = "rejected"
)

// OrderResult is the gateway's response. Only OrderFilled confirms a fill.
type OrderResult struct {
	OrderID   string          `json:"order_id"`
	Status    OrderStatus     `json:"status"`
	FillPrice decimal.Decimal `json:"fill_price"`
	FilledAt  time.Time       `json:"filled_at"`
	Message   string          `json:"message,omitempty"`
}
