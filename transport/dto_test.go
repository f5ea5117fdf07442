package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	match "github.com/venuecore/matching-engine"
)

func TestNewOrderUpdateNormalizesTimestamps(t *testing.T) {
	createdUTC := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)
	order := &match.Order{
		ID:               "o-1",
		UserID:           "u-1",
		Symbol:           "BTCUSDT",
		Price:            decimal.NewFromInt(50),
		Quantity:         decimal.NewFromInt(3),
		FilledQuantity:   decimal.NewFromInt(3),
		UnfilledQuantity: decimal.Zero,
		Side:             match.Buy,
		Type:             match.Limit,
		Status:           match.StatusCompleted,
		CreatedAt:        createdUTC,
		UpdatedAt:        createdUTC,
		ModifiedAt:       createdUTC,
	}

	update := NewOrderUpdate(order)

	// Same instant, rendered at the +08:00 offset consumers expect.
	assert.True(t, update.CreatedAt.Equal(createdUTC))
	_, offset := update.CreatedAt.Zone()
	assert.Equal(t, 8*60*60, offset)
	assert.Equal(t, 0, update.CreatedAt.Hour())
	assert.Equal(t, 2, update.CreatedAt.Day())

	assert.Equal(t, "BUY", update.Side)
	assert.Equal(t, "LIMIT", update.OrderType)
	assert.Equal(t, "COMPLETED", update.Status)
}

func TestOrderUpdateJSONShape(t *testing.T) {
	at := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)
	order := &match.Order{
		ID:         "o-1",
		UserID:     "u-1",
		Symbol:     "BTCUSDT",
		Price:      decimal.NewFromInt(50),
		Quantity:   decimal.NewFromInt(3),
		Side:       match.Sell,
		Type:       match.Market,
		Status:     match.StatusPending,
		CreatedAt:  at,
		UpdatedAt:  at,
		ModifiedAt: at,
	}

	data, err := json.Marshal(NewOrderUpdate(order))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, field := range []string{
		"id", "userId", "symbol", "price", "quantity",
		"filledQuantity", "unfilledQuantity", "side", "orderType",
		"status", "createdAt", "updatedAt", "modifiedAt",
	} {
		assert.Contains(t, raw, field)
	}
	assert.Equal(t, `"2024-05-02T00:00:00+08:00"`, string(raw["createdAt"]))
}
