package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	match "github.com/venuecore/matching-engine"
)

// RedisBookStore keeps each side of each symbol's book in a Redis sorted
// set. Members are serialized orders and scores are the engine's priority
// score, so the set's ascending order is the ask priority order and its
// descending order the bid priority order. Entry tokens are the raw member
// bytes read from the set.
type RedisBookStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBookStore creates a book store on the given Redis client.
func NewRedisBookStore(client redis.UniversalClient) *RedisBookStore {
	return &RedisBookStore{
		client: client,
		prefix: "book:",
	}
}

func (s *RedisBookStore) key(symbol string, side match.Side) string {
	return s.prefix + symbol + ":" + string(side)
}

// BestOpponent implements match.BookStore.
func (s *RedisBookStore) BestOpponent(ctx context.Context, symbol string, takerSide match.Side) (*match.Order, match.EntryToken, error) {
	makerSide := takerSide.Opposite()
	key := s.key(symbol, makerSide)

	var members []string
	var err error
	if makerSide == match.Sell {
		members, err = s.client.ZRange(ctx, key, 0, 0).Result()
	} else {
		members, err = s.client.ZRevRange(ctx, key, 0, 0).Result()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read best opponent for %s: %w", key, err)
	}
	if len(members) == 0 {
		return nil, nil, nil
	}

	raw := []byte(members[0])
	order := &match.Order{}
	if err := json.Unmarshal(raw, order); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", match.ErrBookCorrupted, err)
	}
	return order, match.EntryToken(raw), nil
}

// Insert implements match.BookStore.
func (s *RedisBookStore) Insert(ctx context.Context, order *match.Order) error {
	if !order.UnfilledQuantity.IsPositive() {
		return match.ErrInvalidOrder
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}

	err = s.client.ZAdd(ctx, s.key(order.Symbol, order.Side), redis.Z{
		Score:  match.PriorityScore(order),
		Member: string(raw),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to insert book entry: %w", err)
	}
	return nil
}

// Remove implements match.BookStore. ZREM by the pre-mutation member bytes;
// removing an absent member is a Redis no-op.
func (s *RedisBookStore) Remove(ctx context.Context, order *match.Order, token match.EntryToken) error {
	err := s.client.ZRem(ctx, s.key(order.Symbol, order.Side), string(token)).Err()
	if err != nil {
		return fmt.Errorf("failed to remove book entry: %w", err)
	}
	return nil
}

// Replace implements match.BookStore: one pipelined ZREM of the old member
// plus ZADD of the re-scored current state.
func (s *RedisBookStore) Replace(ctx context.Context, order *match.Order, token match.EntryToken) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	key := s.key(order.Symbol, order.Side)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, key, string(token))
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  match.PriorityScore(order),
			Member: string(raw),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace book entry: %w", err)
	}
	return nil
}
