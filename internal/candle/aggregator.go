package candle

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CompletionCallback receives a finalized candle. The payload is always a
// value copy; callbacks for one instrument are invoked in registration order
// and in strictly increasing window-start order.
type CompletionCallback func(Candle)

// series holds the per-timeframe aggregation state. histTail remembers, per
// token, the window of the last completed candle created by backfill behind a
// live in-progress candle; only that candle may be extended by further
// backfill bars.
type series struct {
	timeframe string
	interval  time.Duration
	current   map[int64]*Candle
	completed map[int64][]Candle
	histTail  map[int64]time.Time
	callbacks []CompletionCallback
}

func newSeries(timeframe string) *series {
	return &series{
		timeframe: timeframe,
		interval:  TimeframeDuration(timeframe),
		current:   make(map[int64]*Candle),
		completed: make(map[int64][]Candle),
		histTail:  make(map[int64]time.Time),
	}
}

// notification is a finalized candle paired with the callbacks it owes.
type notification struct {
	candle    Candle
	callbacks []CompletionCallback
}

// Aggregator converts a tick stream (or bulk historical bars) into completed
// 1-minute and 5-minute candles. Feed callbacks enqueue ticks onto a bounded
// queue; a single consumer goroutine (Run) performs all aggregation and
// callback dispatch, so candle state is never mutated from the feed's
// execution context. Window reads (GetWindow etc.) are safe concurrently.
type Aggregator struct {
	mu      sync.Mutex
	oneMin  *series
	fiveMin *series
	ticks   chan Tick
}

// NewAggregator creates an aggregator with the given tick queue size.
func NewAggregator(queueSize int) *Aggregator {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Aggregator{
		oneMin:  newSeries(Timeframe1m),
		fiveMin: newSeries(Timeframe5m),
		ticks:   make(chan Tick, queueSize),
	}
}

func (a *Aggregator) seriesFor(timeframe string) (*series, error) {
	switch timeframe {
	case Timeframe1m:
		return a.oneMin, nil
	case Timeframe5m:
		return a.fiveMin, nil
	default:
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}

// RegisterCallback registers a completion callback for a timeframe.
// Registration must happen before Run is started.
func (a *Aggregator) RegisterCallback(timeframe string, cb CompletionCallback) error {
	s, err := a.seriesFor(timeframe)
	if err != nil {
		return err
	}
	a.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	a.mu.Unlock()
	return nil
}

// IngestTick enqueues a tick for aggregation. The send is non-blocking: if
// the queue is full the tick is dropped with a warning rather than stalling
// the feed's delivery goroutine.
func (a *Aggregator) IngestTick(t Tick) {
	select {
	case a.ticks <- t:
	default:
		log.Warnf("Aggregator | tick queue full, dropping tick for token %d", t.Token)
	}
}

// Run consumes the tick queue until the context is cancelled. All live
// aggregation and callback dispatch happens on this goroutine.
func (a *Aggregator) Run(ctx context.Context) {
	log.Info("Aggregator | consumer started")
	for {
		select {
		case <-ctx.Done():
			log.Info("Aggregator | consumer stopped")
			return
		case t := <-a.ticks:
			a.ProcessTick(t)
		}
	}
}

// ProcessTick applies a tick to the 1-minute and 5-minute series
// independently. Exported for the backtest path and tests, which drive the
// aggregator synchronously.
func (a *Aggregator) ProcessTick(t Tick) {
	a.mu.Lock()
	var pending []notification
	for _, s := range []*series{a.oneMin, a.fiveMin} {
		if n := s.applyTick(t); n != nil {
			pending = append(pending, *n)
		}
	}
	a.mu.Unlock()
	dispatch(pending)
}

// applyTick updates one series with a tick, returning a notification if a
// candle was finalized. Caller holds the aggregator lock.
func (s *series) applyTick(t Tick) *notification {
	bucket := t.Timestamp.Truncate(s.interval)
	cur, ok := s.current[t.Token]
	if !ok {
		if last, exists := s.lastCompleted(t.Token); exists && !bucket.After(last.Timestamp) {
			log.Warnf("Aggregator | dropping late tick for token %d: bucket %s already finalized (%s)",
				t.Token, bucket.Format(time.RFC3339), s.timeframe)
			return nil
		}
		s.current[t.Token] = &Candle{
			Token:     t.Token,
			Timestamp: bucket,
			Open:      t.Price,
			High:      t.Price,
			Low:       t.Price,
			Close:     t.Price,
			Timeframe: s.timeframe,
		}
		return nil
	}

	switch {
	case bucket.After(cur.Timestamp):
		n := s.finalize(t.Token)
		s.current[t.Token] = &Candle{
			Token:     t.Token,
			Timestamp: bucket,
			Open:      t.Price,
			High:      t.Price,
			Low:       t.Price,
			Close:     t.Price,
			Timeframe: s.timeframe,
		}
		return n
	case bucket.Equal(cur.Timestamp):
		if t.Price > cur.High {
			cur.High = t.Price
		}
		if t.Price < cur.Low {
			cur.Low = t.Price
		}
		cur.Close = t.Price
		return nil
	default:
		log.Warnf("Aggregator | dropping out-of-order tick for token %d: bucket %s before current window %s (%s)",
			t.Token, bucket.Format(time.RFC3339), cur.Timestamp.Format(time.RFC3339), s.timeframe)
		return nil
	}
}

// finalize moves the current candle of a token into completed history and
// returns the notification owed for it. Caller holds the aggregator lock.
func (s *series) finalize(token int64) *notification {
	cur, ok := s.current[token]
	if !ok {
		return nil
	}
	done := *cur
	s.completed[token] = append(s.completed[token], done)
	delete(s.current, token)
	cbs := make([]CompletionCallback, len(s.callbacks))
	copy(cbs, s.callbacks)
	return &notification{candle: done, callbacks: cbs}
}

func (s *series) lastCompleted(token int64) (Candle, bool) {
	hist := s.completed[token]
	if len(hist) == 0 {
		return Candle{}, false
	}
	return hist[len(hist)-1], true
}

// dispatch invokes completion callbacks outside the aggregator lock, in the
// order the candles were finalized.
func dispatch(pending []notification) {
	for _, n := range pending {
		for _, cb := range n.callbacks {
			cb(n.candle)
		}
	}
}

// AddHistoricalBar backfills a raw 1-minute OHLC bar fetched from a
// historical provider. The bar is appended directly as a completed 1-minute
// candle, and its OHLC is folded into the in-progress 5-minute bucket with
// merge semantics (open = first sub-bar's open, high = max, low = min,
// close = last sub-bar's close). Reducing the bar to a single price would
// corrupt the 5-minute high/low, so it is never done.
//
// When triggerCallbacks is false no completion callback fires; backfilled
// data must never be mistaken for a live signal.
//
// Bars for already-finalized windows are dropped. A bar whose window is
// earlier than the live in-progress candle but was never opened (ticks
// started arriving mid-session, after the bar's window) is accepted and
// slotted in behind the in-progress candle.
func (a *Aggregator) AddHistoricalBar(token int64, bar Bar, ts time.Time, triggerCallbacks bool) {
	a.mu.Lock()
	var pending []notification

	bucket1m := ts.Truncate(a.oneMin.interval)
	if last, ok := a.oneMin.lastCompleted(token); ok && !bucket1m.After(last.Timestamp) {
		a.mu.Unlock()
		log.Warnf("Aggregator | dropping non-monotonic historical bar for token %d at %s",
			token, bucket1m.Format(time.RFC3339))
		return
	}
	if cur, ok := a.oneMin.current[token]; ok {
		switch {
		case bucket1m.Equal(cur.Timestamp):
			a.mu.Unlock()
			log.Warnf("Aggregator | dropping historical bar for token %d: window %s already open",
				token, bucket1m.Format(time.RFC3339))
			return
		case bucket1m.After(cur.Timestamp):
			if n := a.oneMin.finalize(token); n != nil {
				pending = append(pending, *n)
			}
		}
	}
	done := Candle{
		Token:     token,
		Timestamp: bucket1m,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		Timeframe: Timeframe1m,
	}
	a.oneMin.completed[token] = append(a.oneMin.completed[token], done)
	cbs := make([]CompletionCallback, len(a.oneMin.callbacks))
	copy(cbs, a.oneMin.callbacks)
	pending = append(pending, notification{candle: done, callbacks: cbs})

	if n := a.fiveMin.mergeBar(token, bar, ts); n != nil {
		pending = append(pending, *n)
	}
	a.mu.Unlock()

	if triggerCallbacks {
		dispatch(pending)
	}
}

// mergeBar folds a 1-minute bar into the in-progress 5-minute bucket.
// Caller holds the aggregator lock.
func (s *series) mergeBar(token int64, bar Bar, ts time.Time) *notification {
	bucket := ts.Truncate(s.interval)
	cur, ok := s.current[token]
	if ok && bucket.Before(cur.Timestamp) {
		s.mergeBehind(token, bar, bucket)
		return nil
	}
	if !ok {
		if last, exists := s.lastCompleted(token); exists && !bucket.After(last.Timestamp) {
			log.Warnf("Aggregator | dropping historical bar for token %d: %s bucket %s already finalized",
				token, s.timeframe, bucket.Format(time.RFC3339))
			return nil
		}
		s.current[token] = &Candle{
			Token:     token,
			Timestamp: bucket,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Timeframe: s.timeframe,
		}
		return nil
	}

	switch {
	case bucket.After(cur.Timestamp):
		n := s.finalize(token)
		s.current[token] = &Candle{
			Token:     token,
			Timestamp: bucket,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Timeframe: s.timeframe,
		}
		return n
	case bucket.Equal(cur.Timestamp):
		if bar.High > cur.High {
			cur.High = bar.High
		}
		if bar.Low < cur.Low {
			cur.Low = bar.Low
		}
		cur.Close = bar.Close
		return nil
	default:
		log.Warnf("Aggregator | dropping out-of-order historical bar for token %d (%s)", token, s.timeframe)
		return nil
	}
}

// mergeBehind folds a backfilled bar into a window earlier than the live
// in-progress candle. Such windows were never opened by ticks, so the bar
// either extends the backfill candle already completed for that window or
// starts a new one behind the live candle. Truly finalized windows are still
// refused. Caller holds the aggregator lock.
func (s *series) mergeBehind(token int64, bar Bar, bucket time.Time) {
	hist := s.completed[token]
	if tail, ok := s.histTail[token]; ok && tail.Equal(bucket) &&
		len(hist) > 0 && hist[len(hist)-1].Timestamp.Equal(bucket) {
		last := &hist[len(hist)-1]
		if bar.High > last.High {
			last.High = bar.High
		}
		if bar.Low < last.Low {
			last.Low = bar.Low
		}
		last.Close = bar.Close
		return
	}
	if len(hist) > 0 && !bucket.After(hist[len(hist)-1].Timestamp) {
		log.Warnf("Aggregator | dropping historical bar for token %d: %s bucket %s already finalized",
			token, s.timeframe, bucket.Format(time.RFC3339))
		return
	}
	s.completed[token] = append(hist, Candle{
		Token:     token,
		Timestamp: bucket,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		Timeframe: s.timeframe,
	})
	s.histTail[token] = bucket
}

// FlushCurrent finalizes the in-progress candle of a token, if any. Used by
// the backtest path at end of day so the last bucket of the session is not
// lost. Callbacks fire only when triggerCallbacks is true.
func (a *Aggregator) FlushCurrent(token int64, timeframe string, triggerCallbacks bool) {
	s, err := a.seriesFor(timeframe)
	if err != nil {
		return
	}
	a.mu.Lock()
	n := s.finalize(token)
	a.mu.Unlock()
	if n != nil && triggerCallbacks {
		dispatch([]notification{*n})
	}
}

// GetWindow returns copies of completed candles with
// start <= window_start < end. The exclusive upper bound is load-bearing: a
// reference window of [09:45, 10:00) includes the candles starting at 09:45,
// 09:50 and 09:55 and excludes the one starting exactly at 10:00.
func (a *Aggregator) GetWindow(token int64, start, end time.Time, timeframe string) []Candle {
	s, err := a.seriesFor(timeframe)
	if err != nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Candle
	for _, c := range s.completed[token] {
		if c.Timestamp.Before(start) || !c.Timestamp.Before(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// GetRecent returns copies of the most recent n completed candles for a token.
func (a *Aggregator) GetRecent(token int64, timeframe string, n int) []Candle {
	s, err := a.seriesFor(timeframe)
	if err != nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := s.completed[token]
	if n > 0 && len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	out := make([]Candle, len(hist))
	copy(out, hist)
	return out
}

// CurrentCandle returns a copy of the in-progress candle for a token.
func (a *Aggregator) CurrentCandle(token int64, timeframe string) (Candle, bool) {
	s, err := a.seriesFor(timeframe)
	if err != nil {
		return Candle{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := s.current[token]
	if !ok {
		return Candle{}, false
	}
	return *cur, true
}

// LastClose returns the most recent traded price known for a token: the
// in-progress 1-minute close if one exists, otherwise the last completed
// 1-minute close.
func (a *Aggregator) LastClose(token int64) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cur, ok := a.oneMin.current[token]; ok {
		return cur.Close, true
	}
	if last, ok := a.oneMin.lastCompleted(token); ok {
		return last.Close, true
	}
	return 0, false
}
