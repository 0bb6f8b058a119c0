// Package livetrading runs the live session: it wires the tick feed into the
// candle aggregator, drives the strategy engine from completed 5-minute
// candles, and owns the session schedule (reference band, strike selection,
// hard exit, day rollover) on a one-second poll.
package livetrading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/oldagecoder1/nifty-options-bot/internal/band"
	"github.com/oldagecoder1/nifty-options-bot/internal/broker"
	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
	"github.com/oldagecoder1/nifty-options-bot/internal/config"
	"github.com/oldagecoder1/nifty-options-bot/internal/feed"
	"github.com/oldagecoder1/nifty-options-bot/internal/histdata"
	"github.com/oldagecoder1/nifty-options-bot/internal/instrument"
	"github.com/oldagecoder1/nifty-options-bot/internal/journal"
	"github.com/oldagecoder1/nifty-options-bot/internal/notifier"
	"github.com/oldagecoder1/nifty-options-bot/internal/strategy"
	"github.com/oldagecoder1/nifty-options-bot/internal/strike"
)

const pollInterval = time.Second

// Deps are the controller's collaborators. All of them are constructed by
// the command layer according to the trading phase.
type Deps struct {
	Cfg       *config.Config
	Contracts *instrument.Store
	Feed      feed.Feed
	Hist      histdata.Provider
	Sink      broker.OrderSink
	Journal   *journal.AsyncWriter
	Notifier  notifier.Notifier
}

// Controller owns one live session. All strategy state is mutated from the
// Run goroutine only; the feed and aggregator run on their own goroutines and
// communicate through channels.
type Controller struct {
	deps Deps

	agg      *candle.Aggregator
	engine   *strategy.Engine
	holder   *band.Holder
	selector *strike.Selector

	indexToken int64
	selection  *strike.Selection
	tradeID    string

	levelsSet       bool
	strikesSelected bool
	day             string

	signals chan candle.Candle
	now     func() time.Time
}

// New builds a controller. It fails when the instrument master has no index
// row, since nothing can run without the index token.
func New(deps Deps) (*Controller, error) {
	indexToken, err := deps.Contracts.IndexToken()
	if err != nil {
		return nil, fmt.Errorf("live trading setup: %w", err)
	}
	cfg := deps.Cfg
	engine := strategy.NewEngine(strategy.Params{
		StartHour:         cfg.Times.StrikeSelection.Hour,
		StartMinute:       cfg.Times.StrikeSelection.Minute,
		Location:          cfg.Location(),
		RSIPeriod:         cfg.RSIPeriod,
		RSIExitDrop:       cfg.RSIExitDrop,
		TrailingIncrement: cfg.TrailingIncrement,
		DailyLossLimit:    cfg.DailyLossLimit,
	})
	return &Controller{
		deps:       deps,
		agg:        candle.NewAggregator(0),
		engine:     engine,
		holder:     &band.Holder{},
		selector:   strike.NewSelector(deps.Contracts, cfg.StrikeOffset, cfg.StrikeStep),
		indexToken: indexToken,
		signals:    make(chan candle.Candle, 256),
		now:        time.Now,
	}, nil
}

// Run executes the session until ctx is cancelled. On shutdown an open
// position is closed through the order sink before returning.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("LiveTrading | recovered from panic: %v", r)
			c.deps.Notifier.Send(fmt.Sprintf("PANIC in trading system: %v", r))
		}
	}()

	if err := c.agg.RegisterCallback(candle.Timeframe5m, c.onCompletedCandle); err != nil {
		return fmt.Errorf("live trading setup: %w", err)
	}
	c.deps.Feed.OnTick(func(token int64, price float64, ts time.Time) {
		c.agg.IngestTick(candle.Tick{Token: token, Price: price, Timestamp: ts})
	})
	if err := c.deps.Feed.Subscribe(c.indexToken); err != nil {
		return fmt.Errorf("live trading setup: %w", err)
	}

	go c.agg.Run(ctx)
	c.deps.Feed.Start(ctx)
	c.day = c.now().In(c.loc()).Format("2006-01-02")
	log.Infof("LiveTrading | session started, index token %d", c.indexToken)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case cd := <-c.signals:
			c.onCandle(ctx, cd)
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// onCompletedCandle runs on the aggregator goroutine: hand the candle to the
// Run goroutine without blocking tick processing.
func (c *Controller) onCompletedCandle(cd candle.Candle) {
	if c.deps.Journal != nil {
		c.deps.Journal.WriteCandle(cd)
	}
	select {
	case c.signals <- cd:
	default:
		log.Warnf("LiveTrading | signal queue full, dropping candle for token %d", cd.Token)
	}
}

func (c *Controller) loc() *time.Location { return c.deps.Cfg.Location() }

// poll runs the session schedule. Hard exit and the day rollover take
// precedence over everything a candle could trigger later in the same
// second.
func (c *Controller) poll(ctx context.Context) {
	now := c.now().In(c.loc())

	if date := now.Format("2006-01-02"); date != c.day {
		c.rollover(date)
		return
	}

	times := c.deps.Cfg.Times
	minute := now.Hour()*60 + now.Minute()
	if minute < times.MarketStart.Minutes() || minute >= times.MarketEnd.Minutes() {
		return
	}

	if pos, open := c.engine.Position(); open && minute >= times.HardExit.Minutes() {
		price, ok := c.agg.LastClose(pos.Token)
		if !ok {
			price = pos.EntryPrice
			log.Warnf("LiveTrading | no traded price for %s at hard exit, using entry price", pos.Symbol)
		}
		c.exit(ctx, price, now, strategy.ExitReasonHardExit)
		return
	}

	if !c.levelsSet && minute >= times.RefWindowEnd.Minutes() {
		c.publishProvisional(now)
	}
	if c.levelsSet && !c.strikesSelected && minute >= times.StrikeSelection.Minutes() {
		c.selectStrikes(ctx, now)
	}
}

// rollover resets all per-session state at the first poll of a new date.
func (c *Controller) rollover(date string) {
	log.Infof("LiveTrading | new trading day %s, resetting session state", date)
	c.day = date
	c.engine.ResetDay()
	c.holder.Clear()
	c.selection = nil
	c.tradeID = ""
	c.levelsSet = false
	c.strikesSelected = false
	c.logEvent("state", "new_trading_day", map[string]any{"day": date})
}

// publishProvisional computes the index-only band the moment the reference
// window closes. It carries no option legs; entries stay blocked until the
// authoritative set lands.
func (c *Controller) publishProvisional(now time.Time) {
	from, to := c.refWindow(now)
	idx, err := band.Compute(c.agg.GetWindow(c.indexToken, from, to, candle.Timeframe1m))
	if err != nil {
		log.Warnf("LiveTrading | provisional band not ready: %v", err)
		return
	}
	c.holder.Set(band.Levels{
		Index:      idx,
		WindowFrom: from,
		WindowTo:   to,
		Source:     band.SourceProvisional,
	})
	c.levelsSet = true
	log.Infof("LiveTrading | provisional band: R=%.2f B=%.2f G=%.2f", idx.Resistance, idx.Mid, idx.Support)
	c.logEvent("band", "provisional_published", map[string]any{"resistance": idx.Resistance, "support": idx.Support})
}

// selectStrikes picks the option legs from the current spot, subscribes
// them, backfills their morning candles and swaps in the authoritative band
// set. Any failure leaves strikesSelected false so the next poll retries.
func (c *Controller) selectStrikes(ctx context.Context, now time.Time) {
	spot, ok := c.agg.LastClose(c.indexToken)
	if !ok {
		log.Warn("LiveTrading | no index price yet, postponing strike selection")
		return
	}
	sel, err := c.selector.Select(spot, now)
	if err != nil {
		log.Errorf("LiveTrading | strike selection failed: %v", err)
		return
	}
	// The legs missed the reference window, so their morning candles come
	// from the historical API. Backfill lands before the subscription so the
	// first live ticks always open a window after the backfilled ones.
	from, to := c.refWindow(now)
	for _, token := range []int64{sel.Call.Token, sel.Put.Token} {
		bars, err := c.deps.Hist.Fetch(ctx, token, from, now, "minute")
		if err != nil {
			log.Errorf("LiveTrading | backfill failed for token %d: %v", token, err)
			return
		}
		for _, b := range bars {
			c.agg.AddHistoricalBar(token, candle.Bar{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}, b.Timestamp, false)
		}
	}

	if err := c.deps.Feed.Subscribe(sel.Call.Token, sel.Put.Token); err != nil {
		log.Errorf("LiveTrading | option subscription failed: %v", err)
		return
	}

	idx, err := band.Compute(c.agg.GetWindow(c.indexToken, from, to, candle.Timeframe1m))
	if err != nil {
		log.Errorf("LiveTrading | index band recompute failed: %v", err)
		return
	}
	call, err := band.Compute(c.agg.GetWindow(sel.Call.Token, from, to, candle.Timeframe1m))
	if err != nil {
		log.Errorf("LiveTrading | call band failed: %v", err)
		return
	}
	put, err := band.Compute(c.agg.GetWindow(sel.Put.Token, from, to, candle.Timeframe1m))
	if err != nil {
		log.Errorf("LiveTrading | put band failed: %v", err)
		return
	}

	c.holder.Set(band.Levels{
		Index:      idx,
		Call:       call,
		Put:        put,
		HasOptions: true,
		WindowFrom: from,
		WindowTo:   to,
		Source:     band.SourceAuthoritative,
	})
	c.selection = &sel
	c.strikesSelected = true
	log.Infof("LiveTrading | strikes selected: %s / %s", sel.Call.Symbol, sel.Put.Symbol)
	c.logEvent("strike", "strikes_selected", map[string]any{
		"spot": spot, "call": sel.Call.Symbol, "put": sel.Put.Symbol,
	})
}

// onCandle drives the strategy engine from one completed 5-minute candle.
func (c *Controller) onCandle(ctx context.Context, cd candle.Candle) {
	levels, ok := c.holder.Get()

	if cd.Token == c.indexToken {
		// No new signals at or past the hard exit time.
		local := cd.Timestamp.In(c.loc())
		if local.Hour()*60+local.Minute() >= c.deps.Cfg.Times.HardExit.Minutes() {
			return
		}
		// Entries need the option-leg bands; until the authoritative set is
		// in, keep the detector's history without evaluating signals.
		if !ok || !c.strikesSelected || !levels.HasOptions {
			c.engine.Detector().Observe(cd)
			return
		}
		side, fired := c.engine.OnIndexCandle(cd, levels)
		if fired {
			if _, open := c.engine.Position(); !open {
				c.enter(ctx, side, cd.Timestamp, levels)
			}
		}
		return
	}

	if c.selection == nil {
		return
	}
	var side strategy.Side
	switch cd.Token {
	case c.selection.Call.Token:
		side = strategy.SideCall
	case c.selection.Put.Token:
		side = strategy.SidePut
	default:
		return
	}
	if dec := c.engine.OnOptionCandle(side, cd); dec != nil {
		c.exit(ctx, dec.Price, cd.Timestamp, dec.Reason)
	}
}

// enter fills a confirmed signal at the traded leg's close of the signal
// window and opens the position only after the sink confirms.
func (c *Controller) enter(ctx context.Context, side strategy.Side, window time.Time, levels band.Levels) {
	contract, legBand := c.selection.Call, levels.Call
	if side == strategy.SidePut {
		contract, legBand = c.selection.Put, levels.Put
	}

	price, ok := c.legPrice(contract.Token, window)
	if !ok {
		log.Errorf("LiveTrading | no traded price for %s, skipping entry", contract.Symbol)
		c.engine.Detector().NotifyEntryFailed()
		return
	}

	tradeID := uuid.NewString()
	conf, err := c.deps.Sink.PlaceEntry(ctx, broker.EntryOrder{
		TradeID:   tradeID,
		Symbol:    contract.TradingSymbol(),
		Side:      side.String(),
		Quantity:  contract.LotSize,
		Price:     price,
		StopLoss:  legBand.Support,
		Timestamp: window,
	})
	if err != nil {
		log.Errorf("LiveTrading | entry order failed: %v", err)
		c.engine.Detector().NotifyEntryFailed()
		c.deps.Notifier.SendWithRetry(fmt.Sprintf("ENTRY FAILED %s %s: %v", side, contract.Symbol, err))
		return
	}
	if conf.AveragePrice > 0 {
		price = conf.AveragePrice
	}

	c.tradeID = tradeID
	c.engine.EnterTrade(strategy.Position{
		Side:       side,
		Token:      contract.Token,
		Symbol:     contract.TradingSymbol(),
		Strike:     contract.Strike,
		LotSize:    contract.LotSize,
		EntryPrice: price,
		EntryTime:  window,
	}, legBand, window)

	c.deps.Notifier.SendWithRetry(fmt.Sprintf("ENTERED %s %s @ %.2f (SL %.2f)", side, contract.Symbol, price, legBand.Support))
	c.logEvent("order", "entry_filled", map[string]any{
		"trade_id": tradeID, "side": side.String(), "symbol": contract.Symbol, "price": price,
	})
}

// exit closes the open position through the sink. If the sink fails after
// its own retries the position stays open and the next candle or poll tries
// again.
func (c *Controller) exit(ctx context.Context, price float64, ts time.Time, reason strategy.ExitReason) {
	pos, open := c.engine.Position()
	if !open {
		return
	}
	conf, err := c.deps.Sink.PlaceExit(ctx, broker.ExitOrder{
		TradeID:   c.tradeID,
		Symbol:    pos.Symbol,
		Side:      pos.Side.String(),
		Quantity:  pos.LotSize,
		Price:     price,
		Reason:    string(reason),
		Timestamp: ts,
	})
	if err != nil {
		log.Errorf("LiveTrading | exit order failed, position stays open: %v", err)
		c.deps.Notifier.SendWithRetry(fmt.Sprintf("EXIT FAILED %s %s: %v", pos.Side, pos.Symbol, err))
		return
	}
	if conf.AveragePrice > 0 {
		price = conf.AveragePrice
	}

	rec := c.engine.ExitTrade(price, ts, reason)
	c.tradeID = ""
	if c.deps.Journal != nil {
		c.deps.Journal.WriteTrade(rec)
	}
	c.deps.Notifier.SendWithRetry(fmt.Sprintf("EXITED %s %s @ %.2f (%s), P&L %.2f, daily %.2f",
		rec.Side, rec.Symbol, rec.ExitPrice, rec.ExitReason, rec.PnL, c.engine.DailyPnL()))
	c.logEvent("order", "exit_filled", map[string]any{
		"trade_id": rec.ID, "reason": string(rec.ExitReason), "price": rec.ExitPrice, "pnl": rec.PnL,
	})
}

// legPrice returns the leg's close in the given 5-minute window, falling
// back to the last traded price.
func (c *Controller) legPrice(token int64, window time.Time) (float64, bool) {
	candles := c.agg.GetWindow(token, window, window.Add(5*time.Minute), candle.Timeframe5m)
	if len(candles) > 0 {
		return candles[len(candles)-1].Close, true
	}
	return c.agg.LastClose(token)
}

// shutdown closes an open position before the process exits. The run context
// is already cancelled, so the sink call gets its own deadline.
func (c *Controller) shutdown() {
	log.Info("LiveTrading | shutting down")
	if pos, open := c.engine.Position(); open {
		price, ok := c.agg.LastClose(pos.Token)
		if !ok {
			price = pos.EntryPrice
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		log.Warnf("LiveTrading | closing open %s position before shutdown", pos.Side)
		c.exit(ctx, price, c.now().In(c.loc()), strategy.ExitReasonShutdown)
	}
	if err := c.deps.Sink.Close(); err != nil {
		log.Errorf("LiveTrading | sink close: %v", err)
	}
	log.Info("LiveTrading | shutdown complete")
}

// refWindow anchors the configured reference window onto today's date.
func (c *Controller) refWindow(now time.Time) (time.Time, time.Time) {
	times := c.deps.Cfg.Times
	return times.RefWindowStart.On(now, c.loc()), times.RefWindowEnd.On(now, c.loc())
}

func (c *Controller) logEvent(eventType, description string, data map[string]any) {
	if c.deps.Journal == nil {
		return
	}
	c.deps.Journal.WriteEvent(journal.Event{
		Time:        c.now(),
		Type:        eventType,
		Description: description,
		Data:        data,
	})
}
