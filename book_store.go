package match

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// EntryToken is the serialized form of a book entry captured at read time.
// The store indexes entries by their serialized value, and an order's mutable
// fields are part of that value: once the engine mutates an order, only the
// token taken before the mutation can still locate the stored entry. Tokens
// are never reconstructed from current order state.
type EntryToken []byte

// BookStore holds the resting orders of every symbol, one priority
// collection per side. Implementations must preserve price-then-time
// priority: for bids a higher price is better, for asks a lower price is
// better, and equal prices rank by earlier modification time.
//
// The matching engine is the sole mutator of a symbol's book; stores do not
// need to serialize concurrent writers for the same symbol.
type BookStore interface {
	// BestOpponent returns the highest-priority resting order on the side
	// opposite to takerSide, together with the token identifying its stored
	// entry, without removing it. Returns (nil, nil, nil) on an empty side.
	BestOpponent(ctx context.Context, symbol string, takerSide Side) (*Order, EntryToken, error)

	// Insert adds a resting order at its priority score. The order must have
	// a positive unfilled quantity and must not already be present.
	Insert(ctx context.Context, order *Order) error

	// Remove deletes the entry identified by token. Removing an entry that is
	// no longer present is a no-op.
	Remove(ctx context.Context, order *Order, token EntryToken) error

	// Replace atomically removes the entry identified by token and inserts
	// the order's current state at its freshly computed score. Used when a
	// partially filled order stays in the book.
	Replace(ctx context.Context, order *Order, token EntryToken) error
}

// scorePrecision shifts prices far enough left that the millisecond
// timestamp component can never change the price ordering.
const scorePrecision = 7

var scoreFactor = decimal.New(1, scorePrecision)

// PriorityScore folds (price, modification time, side) into one float64 so
// that a single ascending scan is correct for both sides: asks read from the
// lowest score, bids from the highest. The timestamp term is negated for
// bids so that, at equal price, the earlier order is closer to its side's
// best end.
func PriorityScore(o *Order) float64 {
	ts := decimal.NewFromInt(o.ModifiedAt.UnixMilli())
	if o.Side == Buy {
		ts = ts.Neg()
	}
	return o.Price.Mul(scoreFactor).Add(ts).InexactFloat64()
}

// bookSideKey names one side of one symbol's book.
func bookSideKey(symbol string, side Side) string {
	return symbol + ":" + string(side)
}

// entryKey orders entries by score first and serialized value second, so
// that distinct orders landing on the same score (same price, same
// millisecond) still occupy distinct slots, exactly like members of a
// scored set.
type entryKey struct {
	score  float64
	member string
}

func compareEntryKeys(lhs, rhs any) int {
	a, b := lhs.(entryKey), rhs.(entryKey)
	switch {
	case a.score < b.score:
		return -1
	case a.score > b.score:
		return 1
	case a.member < b.member:
		return -1
	case a.member > b.member:
		return 1
	default:
		return 0
	}
}

// MemoryBookStore is the in-process BookStore used by the engine by default
// and by tests. Each side is a skiplist keyed by (score, serialized entry).
type MemoryBookStore struct {
	mu    sync.Mutex
	sides map[string]*skiplist.SkipList
}

// NewMemoryBookStore creates an empty in-memory book store.
func NewMemoryBookStore() *MemoryBookStore {
	return &MemoryBookStore{
		sides: make(map[string]*skiplist.SkipList),
	}
}

func (s *MemoryBookStore) side(symbol string, side Side) *skiplist.SkipList {
	key := bookSideKey(symbol, side)
	list, ok := s.sides[key]
	if !ok {
		list = skiplist.New(skiplist.GreaterThanFunc(compareEntryKeys))
		s.sides[key] = list
	}
	return list
}

// BestOpponent implements BookStore. Asks are read from the front of the
// scan (lowest score), bids from the back (highest score).
func (s *MemoryBookStore) BestOpponent(_ context.Context, symbol string, takerSide Side) (*Order, EntryToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	makerSide := takerSide.Opposite()
	list := s.side(symbol, makerSide)

	var elem *skiplist.Element
	if makerSide == Sell {
		elem = list.Front()
	} else {
		elem = list.Back()
	}
	if elem == nil {
		return nil, nil, nil
	}

	raw := elem.Value.([]byte)
	order := &Order{}
	if err := json.Unmarshal(raw, order); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBookCorrupted, err)
	}

	token := make(EntryToken, len(raw))
	copy(token, raw)
	return order, token, nil
}

// Insert implements BookStore.
func (s *MemoryBookStore) Insert(_ context.Context, order *Order) error {
	if !order.UnfilledQuantity.IsPositive() {
		return ErrInvalidOrder
	}

	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.side(order.Symbol, order.Side)
	key := entryKey{score: PriorityScore(order), member: string(raw)}
	if list.Get(key) != nil {
		return ErrDuplicateEntry
	}
	list.Set(key, raw)
	return nil
}

// Remove implements BookStore. The entry's score is recomputed from the
// token, not from the (possibly mutated) order.
func (s *MemoryBookStore) Remove(_ context.Context, order *Order, token EntryToken) error {
	key, err := tokenKey(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.side(order.Symbol, order.Side).Remove(key)
	return nil
}

// Replace implements BookStore. Both steps happen under one lock so a
// concurrent reader of another symbol never observes the entry missing.
func (s *MemoryBookStore) Replace(_ context.Context, order *Order, token EntryToken) error {
	oldKey, err := tokenKey(token)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.side(order.Symbol, order.Side)
	list.Remove(oldKey)
	list.Set(entryKey{score: PriorityScore(order), member: string(raw)}, raw)
	return nil
}

// Len returns the number of resting orders on one side of a symbol's book.
func (s *MemoryBookStore) Len(symbol string, side Side) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.side(symbol, side).Len()
}

// tokenKey rebuilds the stored entry key from a pre-mutation token.
func tokenKey(token EntryToken) (entryKey, error) {
	prior := &Order{}
	if err := json.Unmarshal(token, prior); err != nil {
		return entryKey{}, fmt.Errorf("%w: %v", ErrBookCorrupted, err)
	}
	return entryKey{score: PriorityScore(prior), member: string(token)}, nil
}
