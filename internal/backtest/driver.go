// Package backtest replays the trading rules over stored historical data,
// day by day, through the same strategy engine the live path uses.
package backtest

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oldagecoder1/nifty-options-bot/internal/band"
	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
	"github.com/oldagecoder1/nifty-options-bot/internal/strategy"
)

// Synthetic tokens for the three columns of the combined dataset.
const (
	tokenIndex int64 = 1
	tokenCall  int64 = 2
	tokenPut   int64 = 3
)

// Options configures a replay run.
type Options struct {
	// Start and End filter the dataset by calendar date, inclusive. Zero
	// values leave the corresponding bound open.
	Start time.Time
	End   time.Time

	RefStartHour, RefStartMinute int
	RefEndHour, RefEndMinute     int
	HardExitHour, HardExitMinute int

	LotSize int
	Engine  strategy.Params
}

// Results aggregates a replay run.
type Results struct {
	Trades []strategy.TradeRecord
	Days   int
}

// Driver replays historical rows through the strategy engine.
type Driver struct {
	opts Options
	loc  *time.Location
}

// NewDriver creates a replay driver.
func NewDriver(opts Options) *Driver {
	loc := opts.Engine.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Driver{opts: opts, loc: loc}
}

// Run replays the rows day by day. Each day gets a fresh engine so no state
// leaks across sessions; trade records accumulate into the results.
func (d *Driver) Run(rows []Row) (*Results, error) {
	days := d.groupByDay(rows)
	if len(days) == 0 {
		return nil, fmt.Errorf("no rows in the selected date range")
	}
	log.Infof("Backtest | replaying %d days", len(days))

	res := &Results{}
	for _, day := range days {
		trades, err := d.runDay(day)
		if err != nil {
			log.Warnf("Backtest | skipping %s: %v", day[0].Timestamp.Format("2006-01-02"), err)
			continue
		}
		res.Trades = append(res.Trades, trades...)
		res.Days++
	}
	return res, nil
}

// rebase reinterprets a naive dataset timestamp as wall time in the session
// location.
func (d *Driver) rebase(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, d.loc)
}

// groupByDay applies the date filter and splits rows into per-day slices,
// keeping dataset order.
func (d *Driver) groupByDay(rows []Row) [][]Row {
	var days [][]Row
	var curDate string
	for _, r := range rows {
		ts := d.rebase(r.Timestamp.Time)
		if !d.opts.Start.IsZero() && ts.Before(d.opts.Start) {
			continue
		}
		if !d.opts.End.IsZero() && !ts.Before(d.opts.End.AddDate(0, 0, 1)) {
			continue
		}
		date := ts.Format("2006-01-02")
		if date != curDate {
			days = append(days, nil)
			curDate = date
		}
		days[len(days)-1] = append(days[len(days)-1], r)
	}
	return days
}

// runDay replays one session through a fresh engine.
func (d *Driver) runDay(rows []Row) ([]strategy.TradeRecord, error) {
	first := d.rebase(rows[0].Timestamp.Time)
	log.Infof("Backtest | replaying %s (%d rows)", first.Format("2006-01-02"), len(rows))

	agg := candle.NewAggregator(0)
	for _, r := range rows {
		ts := d.rebase(r.Timestamp.Time)
		agg.AddHistoricalBar(tokenIndex, candle.Bar{Open: r.NiftyOpen, High: r.NiftyHigh, Low: r.NiftyLow, Close: r.NiftyClose}, ts, false)
		agg.AddHistoricalBar(tokenCall, candle.Bar{Open: r.CallOpen, High: r.CallHigh, Low: r.CallLow, Close: r.CallClose}, ts, false)
		agg.AddHistoricalBar(tokenPut, candle.Bar{Open: r.PutOpen, High: r.PutHigh, Low: r.PutLow, Close: r.PutClose}, ts, false)
	}
	for _, token := range []int64{tokenIndex, tokenCall, tokenPut} {
		agg.FlushCurrent(token, candle.Timeframe5m, false)
	}

	levels, err := d.computeLevels(agg, first)
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, d.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	idxCandles := agg.GetWindow(tokenIndex, dayStart, dayEnd, candle.Timeframe5m)
	callByTS := candlesByWindow(agg.GetWindow(tokenCall, dayStart, dayEnd, candle.Timeframe5m))
	putByTS := candlesByWindow(agg.GetWindow(tokenPut, dayStart, dayEnd, candle.Timeframe5m))

	eng := strategy.NewEngine(d.opts.Engine)
	hardExit := d.opts.HardExitHour*60 + d.opts.HardExitMinute

	// Fallback leg prices when a window has no option candle. Tracked as the
	// replay advances so a fill never sees a close from a later window.
	lastClose := map[strategy.Side]float64{}
	for _, c := range idxCandles {
		local := c.Timestamp.In(d.loc)
		if local.Hour()*60+local.Minute() >= hardExit {
			if _, open := eng.Position(); open {
				d.hardExit(eng, c.Timestamp, callByTS, putByTS, lastClose)
			}
			break
		}

		if side, ok := eng.OnIndexCandle(c, levels); ok {
			d.enter(eng, side, c.Timestamp, levels, callByTS, putByTS, lastClose)
		}

		for _, leg := range []struct {
			side strategy.Side
			byTS map[time.Time]candle.Candle
		}{
			{strategy.SideCall, callByTS},
			{strategy.SidePut, putByTS},
		} {
			oc, ok := leg.byTS[c.Timestamp]
			if !ok {
				continue
			}
			if dec := eng.OnOptionCandle(leg.side, oc); dec != nil {
				eng.ExitTrade(dec.Price, c.Timestamp, dec.Reason)
			}
			lastClose[leg.side] = oc.Close
		}
	}

	// Data ran out with the trade still open.
	if pos, open := eng.Position(); open {
		price := lastClose[pos.Side]
		lastIdx := idxCandles[len(idxCandles)-1]
		log.Warnf("Backtest | day ended with open %s, closing at last close %.2f", pos.Side, price)
		eng.ExitTrade(price, lastIdx.Timestamp, strategy.ExitReasonHardExit)
	}
	return eng.Trades(), nil
}

// computeLevels derives the authoritative band set from the 1-minute candles
// of the morning reference window.
func (d *Driver) computeLevels(agg *candle.Aggregator, day time.Time) (band.Levels, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), d.opts.RefStartHour, d.opts.RefStartMinute, 0, 0, d.loc)
	to := time.Date(day.Year(), day.Month(), day.Day(), d.opts.RefEndHour, d.opts.RefEndMinute, 0, 0, d.loc)

	idx, err := band.Compute(agg.GetWindow(tokenIndex, from, to, candle.Timeframe1m))
	if err != nil {
		return band.Levels{}, fmt.Errorf("index reference window: %w", err)
	}
	call, err := band.Compute(agg.GetWindow(tokenCall, from, to, candle.Timeframe1m))
	if err != nil {
		return band.Levels{}, fmt.Errorf("call reference window: %w", err)
	}
	put, err := band.Compute(agg.GetWindow(tokenPut, from, to, candle.Timeframe1m))
	if err != nil {
		return band.Levels{}, fmt.Errorf("put reference window: %w", err)
	}
	return band.Levels{
		Index:      idx,
		Call:       call,
		Put:        put,
		HasOptions: true,
		WindowFrom: from,
		WindowTo:   to,
		Source:     band.SourceAuthoritative,
	}, nil
}

// enter fills a confirmed signal at the traded leg's close of the signal
// window.
func (d *Driver) enter(eng *strategy.Engine, side strategy.Side, window time.Time,
	levels band.Levels, callByTS, putByTS map[time.Time]candle.Candle, lastClose map[strategy.Side]float64) {

	byTS, legBand, token := callByTS, levels.Call, tokenCall
	if side == strategy.SidePut {
		byTS, legBand, token = putByTS, levels.Put, tokenPut
	}
	price := lastClose[side]
	if oc, ok := byTS[window]; ok {
		price = oc.Close
	}
	eng.EnterTrade(strategy.Position{
		Side:       side,
		Token:      token,
		Symbol:     side.String(),
		LotSize:    d.opts.LotSize,
		EntryPrice: price,
		EntryTime:  window,
	}, legBand, window)
}

// hardExit closes the open position at the traded leg's close of the hard
// exit window.
func (d *Driver) hardExit(eng *strategy.Engine, window time.Time,
	callByTS, putByTS map[time.Time]candle.Candle, lastClose map[strategy.Side]float64) {

	pos, _ := eng.Position()
	byTS := callByTS
	if pos.Side == strategy.SidePut {
		byTS = putByTS
	}
	price := lastClose[pos.Side]
	if oc, ok := byTS[window]; ok {
		price = oc.Close
	}
	eng.ExitTrade(price, window, strategy.ExitReasonHardExit)
}

func candlesByWindow(candles []candle.Candle) map[time.Time]candle.Candle {
	m := make(map[time.Time]candle.Candle, len(candles))
	for _, c := range candles {
		m[c.Timestamp] = c
	}
	return m
}
