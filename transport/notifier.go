// Package transport wires the engine to Kafka: inbound order consumption,
// outbound notification streams, the matched-order persistence feed, and
// the candle keep-alive schedule.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	match "github.com/venuecore/matching-engine"
)

const (
	// TypeTradeOrder is the envelope discriminator for matched-order events
	// on the persistence topic.
	TypeTradeOrder = "TRADE_ORDER"

	DefaultTradeTopic       = "recent-trades"
	DefaultCandleTopic      = "kline-updates"
	DefaultDeltaTopicPrefix = "order-book-delta-"
	DefaultOrderUpdateTopic = "user-order-updates"
	DefaultMatchedTopic     = "matched_orders"
	DefaultOrderTopic       = "new_orders"
)

// Envelope multiplexes message kinds on the persistence topic. Data holds
// the nested JSON document as a string.
type Envelope struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Topics names the outbound topics used by the notifier. Zero fields fall
// back to the defaults above.
type Topics struct {
	Trade            string
	Candle           string
	DeltaTopicPrefix string
	OrderUpdate      string
	Matched          string
}

func (t Topics) withDefaults() Topics {
	if t.Trade == "" {
		t.Trade = DefaultTradeTopic
	}
	if t.Candle == "" {
		t.Candle = DefaultCandleTopic
	}
	if t.DeltaTopicPrefix == "" {
		t.DeltaTopicPrefix = DefaultDeltaTopicPrefix
	}
	if t.OrderUpdate == "" {
		t.OrderUpdate = DefaultOrderUpdateTopic
	}
	if t.Matched == "" {
		t.Matched = DefaultMatchedTopic
	}
	return t
}

// KafkaNotifier publishes engine output to Kafka. Book deltas are routed to
// a per-symbol topic; order updates are keyed by owner so one user's
// updates stay on one partition.
type KafkaNotifier struct {
	writer *kafka.Writer
	topics Topics
}

// NewKafkaNotifier creates a notifier writing to the given brokers.
func NewKafkaNotifier(brokers []string, topics Topics) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topics: topics.withDefaults(),
	}
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func (n *KafkaNotifier) publish(ctx context.Context, topic string, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", topic, err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// PublishTrade implements match.Notifier.
func (n *KafkaNotifier) PublishTrade(ctx context.Context, trade *match.Trade) error {
	return n.publish(ctx, n.topics.Trade, nil, trade)
}

// PublishCandleSeed implements match.Notifier.
func (n *KafkaNotifier) PublishCandleSeed(ctx context.Context, seed *match.CandleSeed) error {
	return n.publish(ctx, n.topics.Candle, nil, seed)
}

// PublishBookDelta implements match.Notifier.
func (n *KafkaNotifier) PublishBookDelta(ctx context.Context, delta *match.BookDelta) error {
	topic := n.topics.DeltaTopicPrefix + strings.ToLower(delta.Symbol)
	return n.publish(ctx, topic, nil, delta)
}

// PublishOrderUpdate implements match.Notifier. The order is reshaped to
// the public DTO and keyed by its owner.
func (n *KafkaNotifier) PublishOrderUpdate(ctx context.Context, order *match.Order) error {
	return n.publish(ctx, n.topics.OrderUpdate, []byte(order.UserID), NewOrderUpdate(order))
}

// PublishMatched implements match.Notifier. The event is wrapped in an
// Envelope so the persistence topic can multiplex other message kinds.
func (n *KafkaNotifier) PublishMatched(ctx context.Context, event *match.MatchedOrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal matched-order event: %w", err)
	}
	return n.publish(ctx, n.topics.Matched, nil, &Envelope{
		Type: TypeTradeOrder,
		Data: string(data),
	})
}
