// Package strategy holds the trading state machines shared by the live
// control loop and the backtest replay driver. Both paths feed the same
// Engine so their entries and exits cannot drift apart.
package strategy

import "time"

// Side is the direction of a trade.
type Side string

const (
	SideNone Side = "NONE"
	SideCall Side = "CALL"
	SidePut  Side = "PUT"
)

func (s Side) String() string { return string(s) }

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss ExitReason = "STOP_LOSS"
	ExitReasonRSIDrop  ExitReason = "RSI_DROP"
	ExitReasonHardExit ExitReason = "HARD_EXIT"
	ExitReasonShutdown ExitReason = "SHUTDOWN"
)

// Position is an open trade. It exists only between entry and exit.
type Position struct {
	Side       Side      `json:"side"`
	Token      int64     `json:"token"`
	Symbol     string    `json:"symbol"`
	Strike     int       `json:"strike"`
	LotSize    int       `json:"lot_size"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

// TradeRecord is one completed entry/exit pair. Append-only.
type TradeRecord struct {
	ID         string     `json:"id" csv:"id"`
	Date       string     `json:"date" csv:"date"`
	Side       Side       `json:"side" csv:"side"`
	Symbol     string     `json:"symbol" csv:"symbol"`
	EntryTime  time.Time  `json:"entry_time" csv:"entry_time"`
	EntryPrice float64    `json:"entry_price" csv:"entry_price"`
	ExitTime   time.Time  `json:"exit_time" csv:"exit_time"`
	ExitPrice  float64    `json:"exit_price" csv:"exit_price"`
	ExitReason ExitReason `json:"exit_reason" csv:"exit_reason"`
	Quantity   int        `json:"quantity" csv:"quantity"`
	PnL        float64    `json:"pnl" csv:"pnl"`
}

// ExitDecision is the engine's verdict that the open position must close.
type ExitDecision struct {
	Reason ExitReason
	Price  float64
}
