package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// MockFeed generates random-walk ticks for the subscribed tokens. It stands
// in for the broker feed in phase 1 so the whole pipeline runs without
// credentials.
type MockFeed struct {
	interval time.Duration

	mu         sync.Mutex
	prices     map[int64]float64
	handler    TickHandler
	closed     bool
	cancelFunc context.CancelFunc
	rng        *rand.Rand
}

// NewMockFeed creates a mock feed emitting one tick per token per interval.
// basePrices seeds the starting price of each token; tokens subscribed
// without a seed start at 100.
func NewMockFeed(interval time.Duration, basePrices map[int64]float64, seed int64) *MockFeed {
	prices := make(map[int64]float64, len(basePrices))
	for t, p := range basePrices {
		prices[t] = p
	}
	return &MockFeed{
		interval: interval,
		prices:   prices,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// OnTick sets the tick callback.
func (f *MockFeed) OnTick(h TickHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

// Subscribe starts generating ticks for the tokens.
func (f *MockFeed) Subscribe(tokens ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tokens {
		if _, ok := f.prices[t]; !ok {
			f.prices[t] = 100
		}
	}
	log.Infof("MockFeed | tracking %d tokens", len(f.prices))
	return nil
}

// Start emits ticks until the context is cancelled.
func (f *MockFeed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancelFunc = cancel
	f.mu.Unlock()

	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				f.emit(now)
			}
		}
	}()
}

// emit advances every token's random walk by one step and delivers a tick.
func (f *MockFeed) emit(now time.Time) {
	f.mu.Lock()
	handler := f.handler
	type pt struct {
		token int64
		price float64
	}
	var batch []pt
	for token, price := range f.prices {
		// Step within roughly ±0.1% of the current price.
		step := (f.rng.Float64() - 0.5) * price * 0.002
		price += step
		if price < 1 {
			price = 1
		}
		f.prices[token] = price
		batch = append(batch, pt{token, price})
	}
	f.mu.Unlock()

	if handler == nil {
		return
	}
	for _, p := range batch {
		handler(p.token, p.price, now)
	}
}

// IsConnected always reports true for the mock.
func (f *MockFeed) IsConnected() bool { return true }

// Health always reports healthy for the mock.
func (f *MockFeed) Health() error { return nil }

// Close stops tick generation.
func (f *MockFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.cancelFunc != nil {
		f.cancelFunc()
	}
}
