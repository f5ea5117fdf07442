// Package storage provides the durable-store and Redis book-store
// implementations behind the engine's interfaces.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	match "github.com/venuecore/matching-engine"
)

// OrderModel maps the orders table. The primary key is the order ID issued
// upstream, so batch flushes can upsert by identifier.
type OrderModel struct {
	ID               string          `gorm:"column:id;type:varchar(20);primaryKey"`
	UserID           string          `gorm:"column:user_id;type:varchar(20);index;not null"`
	Symbol           string          `gorm:"column:symbol;type:varchar(10);index;not null"`
	Price            decimal.Decimal `gorm:"column:price;type:decimal(18,8)"`
	Quantity         decimal.Decimal `gorm:"column:quantity;type:decimal(18,8);not null"`
	FilledQuantity   decimal.Decimal `gorm:"column:filled_quantity;type:decimal(18,8);not null"`
	UnfilledQuantity decimal.Decimal `gorm:"column:unfilled_quantity;type:decimal(18,8);not null"`
	Side             string          `gorm:"column:side;type:varchar(4);not null"`
	OrderType        string          `gorm:"column:order_type;type:varchar(20);not null"`
	Status           string          `gorm:"column:status;type:varchar(20);not null"`
	StopPrice        decimal.Decimal `gorm:"column:stop_price;type:decimal(18,8)"`
	TakeProfitPrice  decimal.Decimal `gorm:"column:take_profit_price;type:decimal(18,8)"`
	CreatedAt        time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;not null"`
	ModifiedAt       time.Time       `gorm:"column:modified_at;not null"`
}

func (OrderModel) TableName() string { return "orders" }

// TradeModel maps the trades table. Rows are insert-only; the order
// references point at OrderModel rows.
type TradeModel struct {
	ID           string          `gorm:"column:id;type:varchar(20);primaryKey"`
	BuyOrderID   string          `gorm:"column:buy_order_id;type:varchar(20);index;not null"`
	SellOrderID  string          `gorm:"column:sell_order_id;type:varchar(20);index;not null"`
	Symbol       string          `gorm:"column:symbol;type:varchar(20);not null"`
	Price        decimal.Decimal `gorm:"column:price;type:decimal(18,8);not null"`
	Quantity     decimal.Decimal `gorm:"column:quantity;type:decimal(18,8);not null"`
	TradeTime    time.Time       `gorm:"column:trade_time;index;not null"`
	Direction    string          `gorm:"column:direction;type:varchar(4);not null"`
	TakerOrderID string          `gorm:"column:taker_order_id;type:varchar(20);index;not null"`
}

func (TradeModel) TableName() string { return "trades" }

// MySQLStore persists coalesced batches to MySQL through GORM.
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore wraps an open GORM connection.
func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// AutoMigrate creates or updates the orders and trades tables.
func (s *MySQLStore) AutoMigrate() error {
	return s.db.AutoMigrate(&OrderModel{}, &TradeModel{})
}

// SaveOrdersAndTrades implements match.FlushStore. All order snapshots are
// upserted by ID (newer fill state overwriting older rows) and all trades
// inserted, inside one transaction, so a batch is never half-applied.
func (s *MySQLStore) SaveOrdersAndTrades(ctx context.Context, buyOrders, sellOrders []*match.Order, trades []*match.Trade) error {
	orders := make([]*OrderModel, 0, len(buyOrders)+len(sellOrders))
	for _, o := range buyOrders {
		orders = append(orders, toOrderModel(o))
	}
	for _, o := range sellOrders {
		orders = append(orders, toOrderModel(o))
	}
	tradeRows := make([]*TradeModel, 0, len(trades))
	for _, t := range trades {
		tradeRows = append(tradeRows, toTradeModel(t))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(orders) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"price", "quantity", "filled_quantity", "unfilled_quantity",
					"side", "order_type", "status", "stop_price",
					"take_profit_price", "updated_at", "modified_at",
				}),
			}).Create(&orders).Error
			if err != nil {
				return err
			}
		}
		if len(tradeRows) > 0 {
			if err := tx.Create(&tradeRows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist batch: %w", err)
	}
	return nil
}

func toOrderModel(o *match.Order) *OrderModel {
	return &OrderModel{
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
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		ModifiedAt:       o.ModifiedAt,
	}
}

func toTradeModel(t *match.Trade) *TradeModel {
	return &TradeModel{
		ID:           t.ID,
		BuyOrderID:   t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		Symbol:       t.Symbol,
		Price:        t.Price,
		Quantity:     t.Quantity,
		TradeTime:    t.TradeTime,
		Direction:    t.Direction,
		TakerOrderID: t.TakerOrderID,
	}
}
