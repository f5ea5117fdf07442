package match

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// FlushStore persists one coalesced batch as a single atomic unit: order
// snapshots with insert-or-update semantics keyed by order ID, trades
// insert-only.
type FlushStore interface {
	SaveOrdersAndTrades(ctx context.Context, buyOrders, sellOrders []*Order, trades []*Trade) error
}

const (
	// DefaultBatchSize is the distinct-order-snapshot count that triggers a
	// synchronous flush at ingestion time.
	DefaultBatchSize = 10

	// DefaultFlushInterval is the periodic flush cadence for batches that
	// have not reached DefaultBatchSize.
	DefaultFlushInterval = time.Second
)

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithBatchSize overrides the distinct-order-snapshot flush threshold.
func WithBatchSize(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.size = n
		}
	}
}

// WithFlushInterval overrides the periodic flush cadence.
func WithFlushInterval(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithFlushErrorHandler installs a hook invoked with every flush error, for
// operational monitoring. The failed batch is cleared either way; redelivery
// is the upstream transport's responsibility.
func WithFlushErrorHandler(fn func(error)) BatcherOption {
	return func(b *Batcher) {
		b.onError = fn
	}
}

// Batcher coalesces matched-order events into a time- and size-bounded
// batch and flushes it to a FlushStore. The batch has a single owner: one
// goroutine consumes ingestion events and the periodic tick from channels,
// so no mutation of the batch ever races with the swap-and-clear of a
// flush. Whether a tick flushes is decided by the batch's emptiness alone.
type Batcher struct {
	store    FlushStore
	size     int
	interval time.Duration
	onError  func(error)

	events   chan *MatchedOrderEvent
	done     chan struct{}
	drained  chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool

	flushFailures atomic.Uint64

	// Owned exclusively by the run goroutine.
	buyOrders  map[string]*Order
	sellOrders map[string]*Order
	trades     []*Trade
}

// NewBatcher creates a Batcher flushing to store. Call Start to begin
// consuming.
func NewBatcher(store FlushStore, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		store:      store,
		size:       DefaultBatchSize,
		interval:   DefaultFlushInterval,
		events:     make(chan *MatchedOrderEvent, 8192),
		done:       make(chan struct{}),
		drained:    make(chan struct{}),
		buyOrders:  make(map[string]*Order),
		sellOrders: make(map[string]*Order),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add hands a matched-order event to the batch owner. Blocks only if the
// ingestion channel is full. Returns ErrShutdown after Stop.
func (b *Batcher) Add(ctx context.Context, event *MatchedOrderEvent) error {
	if b.stopped.Load() {
		return ErrShutdown
	}

	select {
	case b.events <- event:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Start runs the batch owner loop. It returns after Stop has drained the
// ingestion channel and flushed the final partial batch.
func (b *Batcher) Start() error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			b.drain()
			return nil
		case event := <-b.events:
			b.ingest(event)
		case <-ticker.C:
			if b.pending() > 0 {
				b.flush()
			}
		}
	}
}

// Stop drains pending events, flushes the remaining batch, and blocks until
// the owner loop has finished or the context is cancelled.
func (b *Batcher) Stop(ctx context.Context) error {
	b.stopped.Store(true)
	b.stopOnce.Do(func() { close(b.done) })

	select {
	case <-b.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushFailures returns the number of failed flushes since start.
func (b *Batcher) FlushFailures() uint64 {
	return b.flushFailures.Load()
}

func (b *Batcher) drain() {
	defer close(b.drained)
	for {
		select {
		case event := <-b.events:
			b.ingest(event)
		default:
			if b.pending() > 0 {
				b.flush()
			}
			return
		}
	}
}

// ingest merges one event into the batch and flushes synchronously once the
// distinct-order-snapshot count reaches the threshold.
func (b *Batcher) ingest(event *MatchedOrderEvent) {
	if event == nil || event.BuyOrder == nil || event.SellOrder == nil || event.Trade == nil {
		logger.Error("dropping malformed matched-order event")
		return
	}

	mergeOrder(b.buyOrders, event.BuyOrder)
	mergeOrder(b.sellOrders, event.SellOrder)
	b.trades = append(b.trades, event.Trade)

	if b.pending() >= b.size {
		b.flush()
	}
}

// pending is the distinct-order-snapshot count of the batch.
func (b *Batcher) pending() int {
	return len(b.buyOrders) + len(b.sellOrders)
}

// mergeOrder coalesces a newer snapshot of an order into the batch. Arrival
// order decides "newer": the incoming snapshot overwrites the fill state of
// any snapshot already held for the same identifier.
func mergeOrder(batch map[string]*Order, snapshot *Order) {
	existing, ok := batch[snapshot.ID]
	if !ok {
		batch[snapshot.ID] = snapshot.Clone()
		return
	}
	existing.FilledQuantity = snapshot.FilledQuantity
	existing.UnfilledQuantity = snapshot.UnfilledQuantity
	existing.Status = snapshot.Status
	existing.UpdatedAt = snapshot.UpdatedAt
}

// flush persists the whole batch as one unit and clears it. A failed flush
// is logged and counted but still clears the batch; the pipeline never
// holds a batch open on persistent failure.
func (b *Batcher) flush() {
	buys := make([]*Order, 0, len(b.buyOrders))
	for _, o := range b.buyOrders {
		buys = append(buys, o)
	}
	sells := make([]*Order, 0, len(b.sellOrders))
	for _, o := range b.sellOrders {
		sells = append(sells, o)
	}
	trades := b.trades

	b.buyOrders = make(map[string]*Order)
	b.sellOrders = make(map[string]*Order)
	b.trades = nil

	if err := b.store.SaveOrdersAndTrades(context.Background(), buys, sells, trades); err != nil {
		b.flushFailures.Add(1)
		logger.Error("batch flush failed",
			"orders", len(buys)+len(sells),
			"trades", len(trades),
			"error", err)
		if b.onError != nil {
			b.onError(err)
		}
	}
}
