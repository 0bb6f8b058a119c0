package strategy

import (
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/oldagecoder1/nifty-options-bot/internal/band"
	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
	"github.com/oldagecoder1/nifty-options-bot/internal/indicator"
)

// Params configures one session of the strategy engine.
type Params struct {
	StartHour         int
	StartMinute       int
	Location          *time.Location
	RSIPeriod         int
	RSIExitDrop       float64
	TrailingIncrement float64
	DailyLossLimit    float64
}

// Engine applies the trading rules to completed candles. It is the single
// strategy core invoked by both the live control loop and the backtest
// replay driver, so identical candle sequences produce identical entries and
// exits on either path.
type Engine struct {
	params   Params
	detector *EntryDetector
	osc      *indicator.ExitOscillator

	stop        *StopLoss
	position    *Position
	entryWindow time.Time

	closes     map[Side][]float64
	maxHistory int

	dailyPnL        float64
	entriesDisabled bool
	trades          []TradeRecord
}

// NewEngine creates a fresh engine for one trading session.
func NewEngine(p Params) *Engine {
	maxHistory := p.RSIPeriod * 10
	if maxHistory < 200 {
		maxHistory = 200
	}
	return &Engine{
		params:     p,
		detector:   NewEntryDetector(p.StartHour, p.StartMinute, p.Location),
		osc:        indicator.NewExitOscillator(p.RSIPeriod, p.RSIExitDrop),
		closes:     map[Side][]float64{SideCall: nil, SidePut: nil},
		maxHistory: maxHistory,
	}
}

// OnIndexCandle runs entry detection on a completed index candle. While
// entries are disabled by the daily loss limit the candle is still observed
// so the detector's history stays continuous.
func (e *Engine) OnIndexCandle(c candle.Candle, levels band.Levels) (Side, bool) {
	if e.entriesDisabled {
		e.detector.Observe(c)
		return SideNone, false
	}
	return e.detector.OnCandle(c, levels.Index)
}

// RecordOptionClose appends a leg's completed close to the RSI history.
func (e *Engine) RecordOptionClose(side Side, close float64) {
	hist := append(e.closes[side], close)
	if len(hist) > e.maxHistory {
		hist = hist[len(hist)-e.maxHistory:]
	}
	e.closes[side] = hist
}

// EnterTrade records the filled entry and initializes the per-trade stop at
// the traded leg's reference levels. signalWindow is the window start of the
// index candle that confirmed the signal; the stop is not managed on option
// candles of that same window.
func (e *Engine) EnterTrade(pos Position, leg band.Band, signalWindow time.Time) {
	e.position = &pos
	e.entryWindow = signalWindow
	e.stop = NewStopLoss(pos.EntryPrice, leg.Support, leg.Mid, leg.Resistance, e.params.TrailingIncrement)
	e.osc.Reset()
	log.Infof("Engine | entered %s %s @ %.2f (qty %d)", pos.Side, pos.Symbol, pos.EntryPrice, pos.LotSize)
}

// OnOptionCandle processes a completed option-leg candle: it extends the
// RSI history and, when this leg is the open position, advances the stop and
// evaluates the stop-hit and RSI retracement exits, in that order.
func (e *Engine) OnOptionCandle(side Side, c candle.Candle) *ExitDecision {
	e.RecordOptionClose(side, c.Close)

	if e.position == nil || e.position.Side != side {
		return nil
	}
	if !c.Timestamp.After(e.entryWindow) {
		return nil
	}

	e.stop.Advance(c.Close)
	if e.stop.CheckHit(c.Low) {
		return &ExitDecision{Reason: ExitReasonStopLoss, Price: e.stop.Stop()}
	}

	rsi, exit, ok := e.osc.Update(e.closes[side])
	if !ok {
		return nil
	}
	if exit {
		peak, _ := e.osc.Peak()
		log.Infof("Engine | RSI retracement exit: %.2f off peak %.2f", rsi, peak)
		return &ExitDecision{Reason: ExitReasonRSIDrop, Price: c.Close}
	}
	return nil
}

// ExitTrade closes the open position after the order sink has confirmed the
// exit. It books the trade, updates the daily P&L gate and re-arms the
// detector on the traded side.
func (e *Engine) ExitTrade(price float64, ts time.Time, reason ExitReason) TradeRecord {
	pos := *e.position
	pnl := (price - pos.EntryPrice) * float64(pos.LotSize)

	rec := TradeRecord{
		ID:         uuid.NewString(),
		Date:       pos.EntryTime.In(e.loc()).Format("2006-01-02"),
		Side:       pos.Side,
		Symbol:     pos.Symbol,
		EntryTime:  pos.EntryTime,
		EntryPrice: pos.EntryPrice,
		ExitTime:   ts,
		ExitPrice:  price,
		ExitReason: reason,
		Quantity:   pos.LotSize,
		PnL:        pnl,
	}
	e.trades = append(e.trades, rec)
	e.dailyPnL += pnl
	e.position = nil
	e.stop = nil
	e.detector.NotifyClosed(pos.Side)

	log.Infof("Engine | exited %s %s @ %.2f (%s), pnl %.2f, daily %.2f",
		pos.Side, pos.Symbol, price, reason, pnl, e.dailyPnL)

	if e.params.DailyLossLimit > 0 && math.Abs(e.dailyPnL) >= e.params.DailyLossLimit && !e.entriesDisabled {
		e.entriesDisabled = true
		log.Warnf("Engine | daily loss limit reached (%.2f), no further entries today", e.dailyPnL)
	}
	return rec
}

func (e *Engine) loc() *time.Location {
	if e.params.Location != nil {
		return e.params.Location
	}
	return time.UTC
}

// Position returns a copy of the open position, if any.
func (e *Engine) Position() (Position, bool) {
	if e.position == nil {
		return Position{}, false
	}
	return *e.position, true
}

// StopLevel returns the current stop, if a position is open.
func (e *Engine) StopLevel() (float64, bool) {
	if e.stop == nil {
		return 0, false
	}
	return e.stop.Stop(), true
}

// DailyPnL returns the session's cumulative realized P&L.
func (e *Engine) DailyPnL() float64 { return e.dailyPnL }

// EntriesDisabled reports whether the daily loss limit tripped.
func (e *Engine) EntriesDisabled() bool { return e.entriesDisabled }

// Trades returns the session's completed trades.
func (e *Engine) Trades() []TradeRecord { return e.trades }

// Detector exposes the entry detector's state for logging.
func (e *Engine) Detector() *EntryDetector { return e.detector }

// ResetDay reinitializes per-session state at day rollover. Completed trade
// records are kept.
func (e *Engine) ResetDay() {
	e.detector.Reset()
	e.osc.Reset()
	e.stop = nil
	e.position = nil
	e.entryWindow = time.Time{}
	e.closes = map[Side][]float64{SideCall: nil, SidePut: nil}
	e.dailyPnL = 0
	e.entriesDisabled = false
}
