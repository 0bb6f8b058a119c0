// Package broker submits entry and exit orders. The live implementation
// posts signals to the execution API; the paper implementation journals
// simulated fills to a dated CSV.
package broker

import (
	"context"
	"time"
)

// EntryOrder is a request to buy an option leg at market.
type EntryOrder struct {
	TradeID   string
	Symbol    string
	Side      string // CALL or PUT
	Quantity  int
	Price     float64
	StopLoss  float64
	Timestamp time.Time
}

// ExitOrder closes a previously entered leg at market.
type ExitOrder struct {
	TradeID   string
	Symbol    string
	Side      string
	Quantity  int
	Price     float64
	Reason    string
	Timestamp time.Time
}

// Confirmation is the sink's acknowledgement of a fill. A position is only
// considered open or closed once the sink has confirmed.
type Confirmation struct {
	OrderID      string
	FilledQty    int
	AveragePrice float64
	ExecutedAt   time.Time
}

// OrderSink places orders. Implementations must be safe for use from a
// single strategy goroutine; they are not required to be concurrency-safe.
type OrderSink interface {
	PlaceEntry(ctx context.Context, o EntryOrder) (Confirmation, error)
	PlaceExit(ctx context.Context, o ExitOrder) (Confirmation, error)
	Close() error
}
