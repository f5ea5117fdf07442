package match

import (
	"context"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
)

func BenchmarkEngineRestingOrders(b *testing.B) {
	ctx := context.Background()
	engine := NewEngine(NewMemoryBookStore(), &seqIDs{}, NewDiscardNotifier())

	// Alternate sides on non-crossing prices so the book only grows.
	prices := [2]decimal.Decimal{decimal.NewFromInt(90), decimal.NewFromInt(110)}
	sides := [2]Side{Buy, Sell}
	one := decimal.NewFromInt(1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		order := &Order{
			ID:       strconv.Itoa(i),
			UserID:   "bench",
			Symbol:   "BTCUSDT",
			Side:     sides[i%2],
			Type:     Limit,
			Price:    prices[i%2],
			Quantity: one,
		}
		if err := engine.HandleNewOrder(ctx, order); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEngineCrossingOrders(b *testing.B) {
	ctx := context.Background()
	engine := NewEngine(NewMemoryBookStore(), &seqIDs{}, NewDiscardNotifier())

	// Every odd order fully fills the even order before it, so the book
	// stays near-empty and each iteration exercises the matching loop.
	price := decimal.NewFromInt(100)
	one := decimal.NewFromInt(1)
	sides := [2]Side{Buy, Sell}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		order := &Order{
			ID:       strconv.Itoa(i),
			UserID:   "bench",
			Symbol:   "BTCUSDT",
			Side:     sides[i%2],
			Type:     Limit,
			Price:    price,
			Quantity: one,
		}
		if err := engine.HandleNewOrder(ctx, order); err != nil {
			b.Fatal(err)
		}
	}
}
