package transport

import (
	"context"
	"log/slog"
	"time"

	match "github.com/venuecore/matching-engine"
)

// CandleKeepAlive publishes a sentinel candle seed for every tracked symbol
// once per interval so downstream candle builders emit minutes with no
// trades. The sentinel price is "-1"; consumers treat it as "carry the last
// close forward".
type CandleKeepAlive struct {
	notifier match.Notifier
	symbols  []string
	interval time.Duration
	logger   *slog.Logger
}

func NewCandleKeepAlive(notifier match.Notifier, symbols []string, interval time.Duration, logger *slog.Logger) *CandleKeepAlive {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CandleKeepAlive{
		notifier: notifier,
		symbols:  symbols,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks until the context is cancelled.
func (k *CandleKeepAlive) Run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			k.publish(ctx, now)
		}
	}
}

func (k *CandleKeepAlive) publish(ctx context.Context, now time.Time) {
	for _, symbol := range k.symbols {
		seed := &match.CandleSeed{
			Symbol:    symbol,
			Price:     "-1",
			TradeTime: now.Unix(),
		}
		if err := k.notifier.PublishCandleSeed(ctx, seed); err != nil {
			k.logger.Error("candle keep-alive publish failed", "symbol", symbol, "error", err)
		}
	}
}
