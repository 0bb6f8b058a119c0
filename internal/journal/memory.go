package journal

import (
	"context"
	"sync"
	"time"

	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
	"github.com/oldagecoder1/nifty-options-bot/internal/strategy"
)

// MemoryStore is an in-memory Store used in phase 1 and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	candles []candle.Candle
	trades  []strategy.TradeRecord
	events  []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveCandle(_ context.Context, c candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = append(m.candles, c)
	return nil
}

func (m *MemoryStore) SaveCandles(_ context.Context, cs []candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = append(m.candles, cs...)
	return nil
}

func (m *MemoryStore) SaveTrade(_ context.Context, tr strategy.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, tr)
	return nil
}

func (m *MemoryStore) LogEvent(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Time = e.Time.UTC()
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryStore) GetTrades(_ context.Context, from, to time.Time) ([]strategy.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []strategy.TradeRecord
	for _, tr := range m.trades {
		if !tr.EntryTime.Before(from) && tr.EntryTime.Before(to) {
			out = append(out, tr)
		}
	}
	return out, nil
}

// Candles returns a copy of everything saved so far.
func (m *MemoryStore) Candles() []candle.Candle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]candle.Candle, len(m.candles))
	copy(out, m.candles)
	return out
}

// Events returns a copy of everything logged so far.
func (m *MemoryStore) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryStore) Close() error { return nil }
