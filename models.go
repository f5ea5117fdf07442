package match

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction returns the lowercase taker-direction tag carried on trades.
func (s Side) Direction() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

type OrderType string

const (
	Limit      OrderType = "LIMIT"
	Market     OrderType = "MARKET"
	StopLoss   OrderType = "STOP_LOSS"
	TakeProfit OrderType = "TAKE_PROFIT"
)

// IsMarket reports whether the order type skips the price check and never rests.
// All other types are limit-family: they cross on price and rest any remainder.
func (t OrderType) IsMarket() bool {
	return t == Market
}

type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusCompleted       OrderStatus = "COMPLETED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// Order is a resting or incoming instruction to trade a quantity of a symbol.
// Price is zero for market orders. The invariant FilledQuantity +
// UnfilledQuantity == Quantity holds at every point in time; Status is
// COMPLETED iff UnfilledQuantity is zero.
type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	FilledQuantity   decimal.Decimal `json:"filledQuantity"`
	UnfilledQuantity decimal.Decimal `json:"unfilledQuantity"`
	Side             Side            `json:"side"`
	Type             OrderType       `json:"orderType"`
	Status           OrderStatus     `json:"status"`
	StopPrice        decimal.Decimal `json:"stopPrice,omitempty"`
	TakeProfitPrice  decimal.Decimal `json:"takeProfitPrice,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	ModifiedAt       time.Time       `json:"modifiedAt"`
}

// Clone returns an independent copy of the order.
func (o *Order) Clone() *Order {
	cpy := *o
	return &cpy
}

// applyFill increases the filled quantity by qty, decreases the unfilled
// quantity by the same amount, recomputes the status, and stamps the update
// time. qty must not exceed the unfilled quantity.
func (o *Order) applyFill(qty decimal.Decimal, now time.Time) {
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	o.UnfilledQuantity = o.UnfilledQuantity.Sub(qty)
	if o.UnfilledQuantity.IsZero() {
		o.Status = StatusCompleted
	} else {
		o.Status = StatusPartiallyFilled
	}
	o.UpdatedAt = now
}

// Trade is an immutable record of one match. Price is always the resting
// (maker) order's price; Direction reflects the taker's side.
type Trade struct {
	ID           string          `json:"id"`
	BuyOrderID   string          `json:"buyOrderId"`
	SellOrderID  string          `json:"sellOrderId"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	TradeTime    time.Time       `json:"tradeTime"`
	Direction    string          `json:"direction"`
	TakerOrderID string          `json:"takerOrderId"`
}

// CandleSeed is the trade-derived event consumed by downstream candle
// builders. Price "-1" marks the periodic keep-alive for a symbol with no
// trade in the period.
type CandleSeed struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	TradeTime int64  `json:"tradeTime"`
}

// BookDelta describes a change in resting quantity at a price level.
// Quantity is signed: negative for fills, positive for new resting size.
type BookDelta struct {
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"unfilledQuantity"`
}

// MatchedOrderEvent pairs the two order snapshots of a trade with the trade
// itself for the persistence pipeline. The snapshots are taken at match time
// and are owned by the event.
type MatchedOrderEvent struct {
	BuyOrder  *Order `json:"buyOrder"`
	SellOrder *Order `json:"sellOrder"`
	Trade     *Trade `json:"trade"`
}
