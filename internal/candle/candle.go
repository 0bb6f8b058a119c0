// Package candle
package candle

import (
	"errors"
	"time"
)

const (
	Timeframe1m = "1m"
	Timeframe5m = "5m"
)

// TimeframeDuration returns the candle interval for a supported timeframe,
// or 0 for anything else.
func TimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	default:
		return 0
	}
}

// Tick is a single price update from the feed. Ticks are ephemeral; they are
// consumed by the Aggregator and never stored.
type Tick struct {
	Token     int64
	Price     float64
	Timestamp time.Time
}

// Candle is an OHLC aggregate over a fixed time window. Timestamp is the
// window start, truncated to the interval boundary. Once finalized by the
// Aggregator a Candle is an immutable value; consumers always receive copies.
type Candle struct {
	Token     int64     `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Timeframe string    `json:"timeframe"`
}

// Bar is a raw historical OHLC record, as returned by a historical data
// provider before it is folded into the Aggregator.
type Bar struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Validate checks basic OHLC consistency.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if TimeframeDuration(c.Timeframe) == 0 {
		return errors.New("candle timeframe is not supported")
	}
	return nil
}
