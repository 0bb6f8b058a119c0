// Package feed delivers market ticks to the engine. The websocket client
// owns its reconnect and resubscription mechanics; consumers only see the
// tick callback.
package feed

import (
	"context"
	"time"
)

// TickHandler receives one tick from the feed's delivery goroutine. Handlers
// must not block; the aggregator enqueues and returns.
type TickHandler func(token int64, price float64, ts time.Time)

// Feed is the market data collaborator contract.
type Feed interface {
	// Subscribe registers instrument tokens for tick delivery. Safe before
	// the connection is up (subscriptions are queued) and idempotent across
	// reconnects.
	Subscribe(tokens ...int64) error
	// OnTick sets the tick callback. Must be called before Start.
	OnTick(h TickHandler)
	// Start runs the feed until the context is cancelled.
	Start(ctx context.Context)
	// IsConnected reports whether the transport is currently up.
	IsConnected() bool
	// Health returns the last transport error, if any.
	Health() error
	// Close tears the feed down.
	Close()
}
