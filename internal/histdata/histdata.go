// Package histdata fetches historical OHLC bars for backfilling the
// aggregator after a mid-session restart or a late option subscription.
package histdata

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Bar is one historical OHLC record. Timestamp is the minute-window start in
// the exchange timezone.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// Provider fetches historical bars for an instrument token. Implementations
// must return bars in ascending timestamp order, covering [from, to].
type Provider interface {
	Fetch(ctx context.Context, token int64, from, to time.Time, interval string) ([]Bar, error)
}

// MockProvider synthesizes a deterministic random walk of 1-minute bars.
// Used in phase 1 when no broker credentials are configured.
type MockProvider struct {
	mu    sync.Mutex
	rng   *rand.Rand
	bases map[int64]float64
}

// NewMockProvider creates a mock provider. basePrices seeds the walk per
// token; unknown tokens start at 100.
func NewMockProvider(basePrices map[int64]float64, seed int64) *MockProvider {
	bases := make(map[int64]float64, len(basePrices))
	for t, p := range basePrices {
		bases[t] = p
	}
	return &MockProvider{
		rng:   rand.New(rand.NewSource(seed)),
		bases: bases,
	}
}

func (m *MockProvider) Fetch(_ context.Context, token int64, from, to time.Time, interval string) ([]Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.bases[token]
	if !ok {
		price = 100
	}

	step := time.Minute
	if interval == "5minute" {
		step = 5 * time.Minute
	}

	var bars []Bar
	for ts := from.Truncate(step); !ts.After(to); ts = ts.Add(step) {
		open := price
		move := price * 0.002 * (2*m.rng.Float64() - 1)
		close := open + move
		if close <= 0 {
			close = open
		}
		high := open
		if close > high {
			high = close
		}
		low := open
		if close < low {
			low = close
		}
		bars = append(bars, Bar{Timestamp: ts, Open: open, High: high, Low: low, Close: close})
		price = close
	}
	m.bases[token] = price

	log.Infof("HistData | mock: generated %d bars for token %d", len(bars), token)
	return bars, nil
}
