package match

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// IDSource issues globally unique, roughly time-ordered identifiers for
// trades. Implementations must be safe for concurrent use.
type IDSource interface {
	NextID() string
}

// Engine matches incoming orders against resting opposite-side orders under
// price-then-time priority. Each symbol is owned by one sequential worker:
// orders for the same symbol are matched to completion one at a time, so the
// book never sees concurrent matching runs.
type Engine struct {
	store      BookStore
	ids        IDSource
	notifier   Notifier
	workers    sync.Map
	isShutdown atomic.Bool
}

// NewEngine creates a matching engine on top of the given book store,
// trade-ID source, and outbound notifier.
func NewEngine(store BookStore, ids IDSource, notifier Notifier) *Engine {
	return &Engine{
		store:    store,
		ids:      ids,
		notifier: notifier,
	}
}

// HandleNewOrder runs one incoming order through the matching loop and
// blocks until the run has completed. The order is mutated in place: on
// return it carries its final fill state. Returns ErrShutdown once Shutdown
// has been called, or the first error of the run.
func (e *Engine) HandleNewOrder(ctx context.Context, order *Order) error {
	if e.isShutdown.Load() {
		return ErrShutdown
	}
	if err := normalizeOrder(order); err != nil {
		return err
	}

	w := e.worker(order.Symbol)
	resp := make(chan error, 1)

	select {
	case w.tasks <- matchTask{order: order, resp: resp}:
	case <-ctx.Done():
		return ErrTimeout
	}

	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ErrTimeout
	}
}

// HandleNewOrders processes a batched inbound form: the orders are routed
// through HandleNewOrder one at a time in slice order. Processing stops at
// the first error so the caller's redelivery policy can take over.
func (e *Engine) HandleNewOrders(ctx context.Context, orders []*Order) error {
	for _, order := range orders {
		if err := e.HandleNewOrder(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

// worker returns the sequential worker owning symbol, starting it on first use.
func (e *Engine) worker(symbol string) *symbolWorker {
	if w, ok := e.workers.Load(symbol); ok {
		return w.(*symbolWorker)
	}

	created := newSymbolWorker(symbol, e)
	w, loaded := e.workers.LoadOrStore(symbol, created)
	if !loaded {
		go created.run()
	}
	return w.(*symbolWorker)
}

// Shutdown stops accepting orders, drains every symbol worker, and blocks
// until all workers have finished or the context is cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.isShutdown.Store(true)

	var errs []error
	e.workers.Range(func(_, value any) bool {
		w := value.(*symbolWorker)
		if err := w.stop(ctx); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

type matchTask struct {
	order *Order
	resp  chan error
}

// symbolWorker serializes all matching runs for one symbol.
type symbolWorker struct {
	symbol   string
	engine   *Engine
	tasks    chan matchTask
	done     chan struct{}
	drained  chan struct{}
	stopOnce sync.Once
}

func newSymbolWorker(symbol string, engine *Engine) *symbolWorker {
	return &symbolWorker{
		symbol:  symbol,
		engine:  engine,
		tasks:   make(chan matchTask, 4096),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

func (w *symbolWorker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-w.done:
			w.drain()
			return
		case task := <-w.tasks:
			task.resp <- w.engine.matchOrder(context.Background(), task.order)
		}
	}
}

// drain finishes all queued tasks before signalling completion.
func (w *symbolWorker) drain() {
	defer close(w.drained)
	for {
		select {
		case task := <-w.tasks:
			task.resp <- w.engine.matchOrder(context.Background(), task.order)
		default:
			return
		}
	}
}

func (w *symbolWorker) stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.done) })

	select {
	case <-w.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// normalizeOrder validates an incoming order and fills the derivable fields
// a submitting gateway may have left zero.
func normalizeOrder(order *Order) error {
	if order == nil || order.ID == "" || order.UserID == "" || order.Symbol == "" {
		return ErrInvalidOrder
	}
	if !order.Quantity.IsPositive() {
		return ErrInvalidOrder
	}
	if !order.Type.IsMarket() && !order.Price.IsPositive() {
		return ErrInvalidOrder
	}

	if order.UnfilledQuantity.IsZero() && order.FilledQuantity.IsZero() {
		order.UnfilledQuantity = order.Quantity
	}
	if !order.FilledQuantity.Add(order.UnfilledQuantity).Equal(order.Quantity) {
		return ErrInvalidOrder
	}
	if order.Status == "" {
		order.Status = StatusPending
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	if order.ModifiedAt.IsZero() {
		order.ModifiedAt = now
	}
	return nil
}

// matchOrder is the core loop of §price-time matching. It runs on the
// symbol's worker goroutine, which is the only mutator of that symbol's
// book. Any error aborts the run before the failing step mutates shared
// state, so the book and the incoming order stay consistent.
func (e *Engine) matchOrder(ctx context.Context, order *Order) error {
	var events []*MatchedOrderEvent

	for order.UnfilledQuantity.IsPositive() {
		maker, token, err := e.store.BestOpponent(ctx, order.Symbol, order.Side)
		if err != nil {
			return err
		}
		if maker == nil {
			break
		}
		if !order.Type.IsMarket() && !crosses(order.Side, order.Price, maker.Price) {
			break
		}

		qty := decimal.Min(order.UnfilledQuantity, maker.UnfilledQuantity)
		now := time.Now().UTC()
		order.applyFill(qty, now)
		maker.applyFill(qty, now)

		trade := e.newTrade(order, maker, qty, now)
		if err := e.notifier.PublishTrade(ctx, trade); err != nil {
			return err
		}
		seed := &CandleSeed{
			Symbol:    trade.Symbol,
			Price:     trade.Price.String(),
			TradeTime: trade.TradeTime.Unix(),
		}
		if err := e.notifier.PublishCandleSeed(ctx, seed); err != nil {
			return err
		}

		if maker.UnfilledQuantity.IsZero() {
			err = e.store.Remove(ctx, maker, token)
		} else {
			err = e.store.Replace(ctx, maker, token)
		}
		if err != nil {
			return err
		}

		delta := &BookDelta{
			Symbol:   maker.Symbol,
			Side:     maker.Side,
			Price:    maker.Price.String(),
			Quantity: qty.Neg().String(),
		}
		if err := e.notifier.PublishBookDelta(ctx, delta); err != nil {
			return err
		}
		if err := e.notifier.PublishOrderUpdate(ctx, maker); err != nil {
			return err
		}

		events = append(events, pairEvent(order, maker, trade))
	}

	switch {
	case order.Type.IsMarket():
		if order.UnfilledQuantity.IsPositive() {
			logger.Debug("market order remainder discarded",
				"order_id", order.ID,
				"symbol", order.Symbol,
				"remainder", order.UnfilledQuantity.String())
		}
	case order.UnfilledQuantity.IsPositive():
		if err := e.store.Insert(ctx, order); err != nil {
			return err
		}
		delta := &BookDelta{
			Symbol:   order.Symbol,
			Side:     order.Side,
			Price:    order.Price.String(),
			Quantity: order.UnfilledQuantity.String(),
		}
		if err := e.notifier.PublishBookDelta(ctx, delta); err != nil {
			return err
		}
	}

	if !order.Type.IsMarket() {
		if err := e.notifier.PublishOrderUpdate(ctx, order); err != nil {
			return err
		}
	}

	for _, ev := range events {
		if err := e.notifier.PublishMatched(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// crosses reports whether the maker's price is acceptable to a limit-family
// taker: an ask must not exceed a buyer's limit and a bid must not undercut
// a seller's limit.
func crosses(takerSide Side, takerPrice, makerPrice decimal.Decimal) bool {
	switch takerSide {
	case Buy:
		return makerPrice.LessThanOrEqual(takerPrice)
	case Sell:
		return makerPrice.GreaterThanOrEqual(takerPrice)
	}
	return false
}

// newTrade builds the immutable trade record for one fill. The execution
// price is the maker's price: price improvement accrues to the taker.
func (e *Engine) newTrade(taker, maker *Order, qty decimal.Decimal, now time.Time) *Trade {
	buyID, sellID := maker.ID, taker.ID
	if taker.Side == Buy {
		buyID, sellID = taker.ID, maker.ID
	}
	return &Trade{
		ID:           e.ids.NextID(),
		BuyOrderID:   buyID,
		SellOrderID:  sellID,
		Symbol:       taker.Symbol,
		Price:        maker.Price,
		Quantity:     qty,
		TradeTime:    now,
		Direction:    taker.Side.Direction(),
		TakerOrderID: taker.ID,
	}
}

// pairEvent snapshots both legs of a fill for the persistence pipeline.
func pairEvent(taker, maker *Order, trade *Trade) *MatchedOrderEvent {
	buy, sell := maker, taker
	if taker.Side == Buy {
		buy, sell = taker, maker
	}
	return &MatchedOrderEvent{
		BuyOrder:  buy.Clone(),
		SellOrder: sell.Clone(),
		Trade:     trade,
	}
}
