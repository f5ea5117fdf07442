package transport

import (
	"time"

	"github.com/shopspring/decimal"

	match "github.com/venuecore/matching-engine"
)

// updateZone is the fixed offset downstream consumers of order updates
// expect timestamps in.
var updateZone = time.FixedZone("UTC+8", 8*60*60)

// OrderUpdate is the public DTO shape of an order published on the order
// update stream. Enumerations are flattened to strings and timestamps are
// normalized to a fixed UTC offset.
type OrderUpdate struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	FilledQuantity   decimal.Decimal `json:"filledQuantity"`
	UnfilledQuantity decimal.Decimal `json:"unfilledQuantity"`
	Side             string          `json:"side"`
	OrderType        string          `json:"orderType"`
	Status           string          `json:"status"`
	StopPrice        decimal.Decimal `json:"stopPrice,omitempty"`
	TakeProfitPrice  decimal.Decimal `json:"takeProfitPrice,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	ModifiedAt       time.Time       `json:"modifiedAt"`
}

// NewOrderUpdate converts an engine order into its public DTO.
func NewOrderUpdate(o *match.Order) *OrderUpdate {
	return &OrderUpdate{
		ID:               o.ID,
		UserID:           o.UserID,
		Symbol:           o.Symbol,
		Price:            o.Price,
		Quantity:         o.Quantity,
		FilledQuantity:   o.FilledQuantity,
		UnfilledQuantity: o.UnfilledQuantity,
		Side:             string(o.Side),
		OrderType:        string(o.Type),
		Status:           string(o.Status),
		StopPrice:        o.StopPrice,
		TakeProfitPrice:  o.TakeProfitPrice,
		CreatedAt:        o.CreatedAt.In(updateZone),
		UpdatedAt:        o.UpdatedAt.In(updateZone),
		ModifiedAt:       o.ModifiedAt.In(updateZone),
	}
}
