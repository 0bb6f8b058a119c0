// Package journal persists candles, trades, and session events for
// post-session analysis. Writes from the trading path go through the
// AsyncWriter so a slow database never stalls tick processing.
package journal

import (
	"context"
	"time"

	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
	"github.com/oldagecoder1/nifty-options-bot/internal/strategy"
)

// Event is a journaled session event: signal, order, band swap, error.
type Event struct {
	Time        time.Time
	Type        string
	Description string
	Data        map[string]any
}

// Store is the persistence interface for session data.
type Store interface {
	SaveCandle(ctx context.Context, c candle.Candle) error
	SaveCandles(ctx context.Context, cs []candle.Candle) error
	SaveTrade(ctx context.Context, tr strategy.TradeRecord) error
	LogEvent(ctx context.Context, e Event) error
	GetTrades(ctx context.Context, from, to time.Time) ([]strategy.TradeRecord, error)
	Close() error
}
