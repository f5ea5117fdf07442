package transport

import (
	"fmt"
	"sync"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"

	match "github.com/venuecore/matching-engine"
)

// DepthLevel is one aggregated price level of a book side.
type DepthLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// AggregatedDepth maintains a per-price-level view of one symbol's book,
// rebuilt by applying the delta stream the engine publishes. Downstream
// services use it to serve depth snapshots without touching the live book.
type AggregatedDepth struct {
	mu     sync.Mutex
	symbol string
	asks   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
	bids   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
}

func NewAggregatedDepth(symbol string) *AggregatedDepth {
	byPrice := func(a, b decimal.Decimal) bool { return a.LessThan(b) }
	return &AggregatedDepth{
		symbol: symbol,
		asks:   treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](byPrice),
		bids:   treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](byPrice),
	}
}

func (d *AggregatedDepth) Symbol() string { return d.symbol }

// Apply folds one delta into the view. Quantities accumulate per price;
// a level whose total drops to zero or below is removed. Deltas for other
// symbols are ignored.
func (d *AggregatedDepth) Apply(delta *match.BookDelta) error {
	if delta.Symbol != d.symbol {
		return nil
	}
	price, err := decimal.NewFromString(delta.Price)
	if err != nil {
		return fmt.Errorf("parse delta price %q: %w", delta.Price, err)
	}
	qty, err := decimal.NewFromString(delta.Quantity)
	if err != nil {
		return fmt.Errorf("parse delta quantity %q: %w", delta.Quantity, err)
	}

	var side *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
	switch delta.Side {
	case match.Buy:
		side = d.bids
	case match.Sell:
		side = d.asks
	default:
		return fmt.Errorf("unknown delta side %q", delta.Side)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	total := qty
	if existing, ok := side.Get(price); ok {
		total = existing.Add(qty)
	}
	if total.Sign() <= 0 {
		side.Del(price)
		return nil
	}
	side.Set(price, total)
	return nil
}

// Asks returns up to limit ask levels, best (lowest price) first.
// limit <= 0 returns every level.
func (d *AggregatedDepth) Asks(limit int) []DepthLevel {
	d.mu.Lock()
	defer d.mu.Unlock()

	levels := make([]DepthLevel, 0, d.asks.Len())
	for it := d.asks.Iterator(); it.Valid(); it.Next() {
		if limit > 0 && len(levels) == limit {
			break
		}
		levels = append(levels, DepthLevel{Price: it.Key(), Quantity: it.Value()})
	}
	return levels
}

// Bids returns up to limit bid levels, best (highest price) first.
// limit <= 0 returns every level.
func (d *AggregatedDepth) Bids(limit int) []DepthLevel {
	d.mu.Lock()
	defer d.mu.Unlock()

	levels := make([]DepthLevel, 0, d.bids.Len())
	for it := d.bids.Reverse(); it.Valid(); it.Next() {
		if limit > 0 && len(levels) == limit {
			break
		}
		levels = append(levels, DepthLevel{Price: it.Key(), Quantity: it.Value()})
	}
	return levels
}
