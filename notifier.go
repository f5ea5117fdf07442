package match

import (
	"context"
	"sync"
)

// Notifier receives every externally visible effect of a matching run, in
// the order the corresponding fills occurred. Implementations must either
// process a value synchronously or copy it before returning; the engine may
// reuse event memory after Publish returns.
type Notifier interface {
	PublishTrade(ctx context.Context, trade *Trade) error
	PublishCandleSeed(ctx context.Context, seed *CandleSeed) error
	PublishBookDelta(ctx context.Context, delta *BookDelta) error
	PublishOrderUpdate(ctx context.Context, order *Order) error
	PublishMatched(ctx context.Context, event *MatchedOrderEvent) error
}

// MemoryNotifier records all published events in memory, useful for testing.
type MemoryNotifier struct {
	mu           sync.RWMutex
	trades       []*Trade
	candleSeeds  []*CandleSeed
	bookDeltas   []*BookDelta
	orderUpdates []*Order
	matched      []*MatchedOrderEvent
}

// NewMemoryNotifier creates an empty MemoryNotifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (m *MemoryNotifier) PublishTrade(_ context.Context, trade *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *trade
	m.trades = append(m.trades, &cpy)
	return nil
}

func (m *MemoryNotifier) PublishCandleSeed(_ context.Context, seed *CandleSeed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *seed
	m.candleSeeds = append(m.candleSeeds, &cpy)
	return nil
}

func (m *MemoryNotifier) PublishBookDelta(_ context.Context, delta *BookDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *delta
	m.bookDeltas = append(m.bookDeltas, &cpy)
	return nil
}

func (m *MemoryNotifier) PublishOrderUpdate(_ context.Context, order *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderUpdates = append(m.orderUpdates, order.Clone())
	return nil
}

func (m *MemoryNotifier) PublishMatched(_ context.Context, event *MatchedOrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matched = append(m.matched, &MatchedOrderEvent{
		BuyOrder:  event.BuyOrder.Clone(),
		SellOrder: event.SellOrder.Clone(),
		Trade:     event.Trade,
	})
	return nil
}

// Trades returns a copy of all published trades.
func (m *MemoryNotifier) Trades() []*Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// CandleSeeds returns a copy of all published candle seeds.
func (m *MemoryNotifier) CandleSeeds() []*CandleSeed {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*CandleSeed, len(m.candleSeeds))
	copy(out, m.candleSeeds)
	return out
}

// BookDeltas returns a copy of all published book deltas.
func (m *MemoryNotifier) BookDeltas() []*BookDelta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*BookDelta, len(m.bookDeltas))
	copy(out, m.bookDeltas)
	return out
}

// OrderUpdates returns a copy of all published order updates.
func (m *MemoryNotifier) OrderUpdates() []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Order, len(m.orderUpdates))
	copy(out, m.orderUpdates)
	return out
}

// Matched returns a copy of all published matched-order events.
func (m *MemoryNotifier) Matched() []*MatchedOrderEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MatchedOrderEvent, len(m.matched))
	copy(out, m.matched)
	return out
}

// DiscardNotifier drops all events, useful for benchmarking.
type DiscardNotifier struct{}

// NewDiscardNotifier creates a DiscardNotifier.
func NewDiscardNotifier() *DiscardNotifier {
	return &DiscardNotifier{}
}

func (DiscardNotifier) PublishTrade(context.Context, *Trade) error             { return nil }
func (DiscardNotifier) PublishCandleSeed(context.Context, *CandleSeed) error   { return nil }
func (DiscardNotifier) PublishBookDelta(context.Context, *BookDelta) error     { return nil }
func (DiscardNotifier) PublishOrderUpdate(context.Context, *Order) error       { return nil }
func (DiscardNotifier) PublishMatched(context.Context, *MatchedOrderEvent) error { return nil }
