package match

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct {
	n int
}

func (s *seqIDs) NextID() string {
	s.n++
	return "trade-" + strconv.Itoa(s.n)
}

func newTestEngine() (*Engine, *MemoryBookStore, *MemoryNotifier) {
	store := NewMemoryBookStore()
	notifier := NewMemoryNotifier()
	engine := NewEngine(store, &seqIDs{}, notifier)
	return engine, store, notifier
}

func limitOrder(id, userID string, side Side, price, qty int64) *Order {
	return &Order{
		ID:       id,
		UserID:   userID,
		Symbol:   "BTCUSDT",
		Side:     side,
		Type:     Limit,
		Price:    decimal.NewFromInt(price),
		Quantity: decimal.NewFromInt(qty),
	}
}

// limitOrderAt pins ModifiedAt so same-price orders have a deterministic
// time rank regardless of how fast the test submits them.
func limitOrderAt(id, userID string, side Side, price, qty int64, at time.Time) *Order {
	order := limitOrder(id, userID, side, price, qty)
	order.CreatedAt = at
	order.UpdatedAt = at
	order.ModifiedAt = at
	return order
}

func marketOrder(id, userID string, side Side, qty int64) *Order {
	return &Order{
		ID:       id,
		UserID:   userID,
		Symbol:   "BTCUSDT",
		Side:     side,
		Type:     Market,
		Quantity: decimal.NewFromInt(qty),
	}
}

func TestEngineMatchesByPriceTimePriority(t *testing.T) {
	ctx := context.Background()
	engine, store, notifier := newTestEngine()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, engine.HandleNewOrder(ctx, limitOrderAt("bid-1", "u1", Buy, 50, 3, base)))
	require.NoError(t, engine.HandleNewOrder(ctx, limitOrderAt("bid-2", "u2", Buy, 50, 2, base.Add(time.Second))))

	incoming := limitOrder("ask-1", "u3", Sell, 50, 4)
	require.NoError(t, engine.HandleNewOrder(ctx, incoming))

	trades := notifier.Trades()
	require.Len(t, trades, 2)

	// First fill consumes the earlier bid completely.
	assert.Equal(t, "bid-1", trades[0].BuyOrderID)
	assert.True(t, trades[0].Quantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, trades[0].Price.Equal(decimal.NewFromInt(50)))

	// Second fill takes one unit from the later bid.
	assert.Equal(t, "bid-2", trades[1].BuyOrderID)
	assert.True(t, trades[1].Quantity.Equal(decimal.NewFromInt(1)))

	// The incoming ask is completely filled and never rests.
	assert.Equal(t, StatusCompleted, incoming.Status)
	assert.True(t, incoming.UnfilledQuantity.IsZero())
	assert.Equal(t, 0, store.Len("BTCUSDT", Sell))

	// The later bid stays with one unit left.
	assert.Equal(t, 1, store.Len("BTCUSDT", Buy))
	best, _, err := store.BestOpponent(ctx, "BTCUSDT", Sell)
	require.NoError(t, err)
	assert.Equal(t, "bid-2", best.ID)
	assert.True(t, best.UnfilledQuantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, StatusPartiallyFilled, best.Status)
}

func TestEngineMarketOrderTakesBestPrice(t *testing.T) {
	ctx := context.Background()
	engine, _, notifier := newTestEngine()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, engine.HandleNewOrder(ctx, limitOrderAt("ask-100", "u1", Sell, 100, 1, base)))
	require.NoError(t, engine.HandleNewOrder(ctx, limitOrderAt("ask-99-first", "u2", Sell, 99, 1, base.Add(time.Second))))
	require.NoError(t, engine.HandleNewOrder(ctx, limitOrderAt("ask-99-second", "u3", Sell, 99, 1, base.Add(2*time.Second))))

	require.NoError(t, engine.HandleNewOrder(ctx, marketOrder("mkt-1", "u4", Buy, 1)))

	trades := notifier.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "ask-99-first", trades[0].SellOrderID)
	assert.True(t, trades[0].Price.Equal(decimal.NewFromInt(99)))
	assert.Equal(t, "buy", trades[0].Direction)
	assert.Equal(t, "mkt-1", trades[0].TakerOrderID)
}

func TestEngineLimitOrderRestsWhenNotCrossing(t *testing.T) {
	ctx := context.Background()
	engine, store, notifier := newTestEngine()

	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("ask-1", "u1", Sell, 100, 1)))

	bid := limitOrder("bid-1", "u2", Buy, 99, 1)
	require.NoError(t, engine.HandleNewOrder(ctx, bid))

	assert.Empty(t, notifier.Trades())
	assert.Equal(t, StatusPending, bid.Status)
	assert.Equal(t, 1, store.Len("BTCUSDT", Buy))
	assert.Equal(t, 1, store.Len("BTCUSDT", Sell))

	// The resting remainder is announced as a positive depth delta.
	deltas := notifier.BookDeltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, Buy, deltas[1].Side)
	assert.Equal(t, "1", deltas[1].Quantity)
}

func TestEngineMarketRemainderIsDiscarded(t *testing.T) {
	ctx := context.Background()
	engine, store, notifier := newTestEngine()

	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("ask-1", "u1", Sell, 100, 1)))

	mkt := marketOrder("mkt-1", "u2", Buy, 5)
	require.NoError(t, engine.HandleNewOrder(ctx, mkt))

	require.Len(t, notifier.Trades(), 1)
	assert.True(t, mkt.UnfilledQuantity.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, StatusPartiallyFilled, mkt.Status)

	// The remainder neither rests nor produces a depth delta or update.
	assert.Equal(t, 0, store.Len("BTCUSDT", Buy))
	for _, d := range notifier.BookDeltas() {
		assert.NotEqual(t, Buy, d.Side)
	}
	for _, u := range notifier.OrderUpdates() {
		assert.NotEqual(t, "mkt-1", u.ID)
	}
}

func TestEngineMarketOrderOnEmptyBook(t *testing.T) {
	ctx := context.Background()
	engine, store, notifier := newTestEngine()

	mkt := marketOrder("mkt-1", "u1", Buy, 2)
	require.NoError(t, engine.HandleNewOrder(ctx, mkt))

	assert.Empty(t, notifier.Trades())
	assert.Empty(t, notifier.Matched())
	assert.Equal(t, 0, store.Len("BTCUSDT", Buy))
}

func TestEngineTradeUsesMakerPrice(t *testing.T) {
	ctx := context.Background()
	engine, _, notifier := newTestEngine()

	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("bid-1", "u1", Buy, 102, 1)))
	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("ask-1", "u2", Sell, 100, 1)))

	trades := notifier.Trades()
	require.Len(t, trades, 1)
	// Price improvement accrues to the taker: execution at the resting 102.
	assert.True(t, trades[0].Price.Equal(decimal.NewFromInt(102)))
	assert.Equal(t, "sell", trades[0].Direction)
	assert.Equal(t, "bid-1", trades[0].BuyOrderID)
	assert.Equal(t, "ask-1", trades[0].SellOrderID)
}

func TestEnginePublishesPerFillEffects(t *testing.T) {
	ctx := context.Background()
	engine, _, notifier := newTestEngine()

	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("bid-1", "u1", Buy, 50, 3)))
	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("ask-1", "u2", Sell, 50, 2)))

	trades := notifier.Trades()
	require.Len(t, trades, 1)

	seeds := notifier.CandleSeeds()
	require.Len(t, seeds, 1)
	assert.Equal(t, "BTCUSDT", seeds[0].Symbol)
	assert.Equal(t, "50", seeds[0].Price)
	assert.Equal(t, trades[0].TradeTime.Unix(), seeds[0].TradeTime)

	// Fill shrinks the resting bid level by the traded quantity.
	deltas := notifier.BookDeltas()
	require.NotEmpty(t, deltas)
	fill := deltas[len(deltas)-1]
	assert.Equal(t, Buy, fill.Side)
	assert.Equal(t, "50", fill.Price)
	assert.Equal(t, "-2", fill.Quantity)

	events := notifier.Matched()
	require.Len(t, events, 1)
	assert.Equal(t, "bid-1", events[0].BuyOrder.ID)
	assert.Equal(t, "ask-1", events[0].SellOrder.ID)
	assert.Equal(t, trades[0].ID, events[0].Trade.ID)
	// Snapshots carry the post-fill state of both legs.
	assert.True(t, events[0].BuyOrder.FilledQuantity.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, StatusCompleted, events[0].SellOrder.Status)
}

func TestEngineFillInvariant(t *testing.T) {
	ctx := context.Background()
	engine, _, notifier := newTestEngine()

	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("bid-1", "u1", Buy, 50, 7)))
	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("ask-1", "u2", Sell, 50, 2)))
	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("ask-2", "u3", Sell, 50, 3)))

	for _, update := range notifier.OrderUpdates() {
		sum := update.FilledQuantity.Add(update.UnfilledQuantity)
		assert.True(t, sum.Equal(update.Quantity), "order %s fill accounting", update.ID)
		if update.UnfilledQuantity.IsZero() {
			assert.Equal(t, StatusCompleted, update.Status)
		}
	}
}

func TestEngineValidation(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine()

	t.Run("missing identifiers", func(t *testing.T) {
		order := limitOrder("", "u1", Buy, 50, 1)
		assert.ErrorIs(t, engine.HandleNewOrder(ctx, order), ErrInvalidOrder)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		order := limitOrder("bid-1", "u1", Buy, 50, 0)
		assert.ErrorIs(t, engine.HandleNewOrder(ctx, order), ErrInvalidOrder)
	})

	t.Run("limit order needs positive price", func(t *testing.T) {
		order := limitOrder("bid-1", "u1", Buy, 0, 1)
		assert.ErrorIs(t, engine.HandleNewOrder(ctx, order), ErrInvalidOrder)
	})

	t.Run("inconsistent fill accounting", func(t *testing.T) {
		order := limitOrder("bid-1", "u1", Buy, 50, 5)
		order.FilledQuantity = decimal.NewFromInt(1)
		order.UnfilledQuantity = decimal.NewFromInt(5)
		assert.ErrorIs(t, engine.HandleNewOrder(ctx, order), ErrInvalidOrder)
	})
}

func TestEngineHandleNewOrdersStopsAtFirstError(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine()

	orders := []*Order{
		limitOrder("bid-1", "u1", Buy, 50, 1),
		limitOrder("", "u2", Buy, 50, 1),
		limitOrder("bid-3", "u3", Buy, 50, 1),
	}
	assert.ErrorIs(t, engine.HandleNewOrders(ctx, orders), ErrInvalidOrder)
	assert.Equal(t, 1, store.Len("BTCUSDT", Buy))
}

func TestEngineShutdown(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine()

	require.NoError(t, engine.HandleNewOrder(ctx, limitOrder("bid-1", "u1", Buy, 50, 1)))

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Shutdown(shutdownCtx))

	err := engine.HandleNewOrder(ctx, limitOrder("bid-2", "u2", Buy, 50, 1))
	assert.ErrorIs(t, err, ErrShutdown)
}
