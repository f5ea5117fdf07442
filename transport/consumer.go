package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/rs/xid"
	"github.com/segmentio/kafka-go"

	match "github.com/venuecore/matching-engine"
)

// OrderConsumer feeds inbound orders from the new-orders topic into the
// engine. Messages carry either one JSON order or a JSON array of orders;
// arrays are processed one at a time in array order through the same
// matching path.
type OrderConsumer struct {
	reader *kafka.Reader
	engine *match.Engine
	logger *slog.Logger
}

// NewOrderConsumer creates a consumer in the given group. Pass topic "" for
// the default new-orders topic.
func NewOrderConsumer(brokers []string, topic, groupID string, engine *match.Engine, logger *slog.Logger) *OrderConsumer {
	if topic == "" {
		topic = DefaultOrderTopic
	}
	return &OrderConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			CommitInterval: time.Second,
			MaxBytes:       10e6,
		}),
		engine: engine,
		logger: logger,
	}
}

// Run consumes until the context is cancelled. Malformed payloads are
// logged and dropped without committing side effects; engine errors leave
// the message uncommitted so the broker redelivers it.
func (c *OrderConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := c.handle(ctx, msg.Value); err != nil {
			c.logger.Error("order processing failed, leaving message for redelivery",
				"offset", msg.Offset, "error", err)
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *OrderConsumer) handle(ctx context.Context, payload []byte) error {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var orders []*match.Order
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			c.logger.Error("dropping malformed order batch", "error", err)
			return nil
		}
		return c.engine.HandleNewOrders(ctx, orders)
	}

	order := &match.Order{}
	if err := json.Unmarshal(trimmed, order); err != nil {
		c.logger.Error("dropping malformed order", "error", err)
		return nil
	}
	return c.engine.HandleNewOrder(ctx, order)
}

// MatchedConsumer feeds matched-order events from the persistence topic
// into the batcher. Each instance joins a unique group so every engine
// deployment sees the full stream.
type MatchedConsumer struct {
	reader  *kafka.Reader
	batcher *match.Batcher
	logger  *slog.Logger
}

// NewMatchedConsumer creates a consumer on the matched-orders topic. Pass
// topic "" for the default.
func NewMatchedConsumer(brokers []string, topic string, batcher *match.Batcher, logger *slog.Logger) *MatchedConsumer {
	if topic == "" {
		topic = DefaultMatchedTopic
	}
	return &MatchedConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        "matched-orders-" + xid.New().String(),
			StartOffset:    kafka.LastOffset,
			CommitInterval: time.Second,
			MaxBytes:       10e6,
		}),
		batcher: batcher,
		logger:  logger,
	}
}

// Run consumes until the context is cancelled.
func (c *MatchedConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		c.handle(ctx, msg.Value)
	}
}

func (c *MatchedConsumer) handle(ctx context.Context, payload []byte) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.logger.Error("dropping malformed matched-order envelope", "error", err)
		return
	}
	if envelope.Type != TypeTradeOrder {
		return
	}

	event := &match.MatchedOrderEvent{}
	if err := json.Unmarshal([]byte(envelope.Data), event); err != nil {
		c.logger.Error("dropping malformed matched-order event", "error", err)
		return
	}
	if err := c.batcher.Add(ctx, event); err != nil {
		c.logger.Error("failed to hand event to batcher", "error", err)
	}
}
