package journal

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oldagecoder1/nifty-options-bot/internal/candle"
	"github.com/oldagecoder1/nifty-options-bot/internal/strategy"
)

// writeOp is one queued persistence operation.
type writeOp struct {
	candle *candle.Candle
	trade  *strategy.TradeRecord
	event  *Event
}

// AsyncWriter decouples the trading path from the database: writes are
// queued on a buffered channel and applied by a background goroutine.
// When the queue is full the write is dropped with a warning rather than
// blocking the caller.
type AsyncWriter struct {
	store Store
	ops   chan writeOp
	wg    sync.WaitGroup
	once  sync.Once
}

func NewAsyncWriter(store Store, queueSize int) *AsyncWriter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &AsyncWriter{
		store: store,
		ops:   make(chan writeOp, queueSize),
	}
}

// Run drains the queue until Close is called or ctx is cancelled.
func (w *AsyncWriter) Run(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case op, ok := <-w.ops:
				if !ok {
					return
				}
				w.apply(ctx, op)
			case <-ctx.Done():
				// Drain whatever is already queued before exiting.
				for {
					select {
					case op, ok := <-w.ops:
						if !ok {
							return
						}
						w.apply(context.Background(), op)
					default:
						return
					}
				}
			}
		}
	}()
}

func (w *AsyncWriter) apply(ctx context.Context, op writeOp) {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	switch {
	case op.candle != nil:
		err = w.store.SaveCandle(writeCtx, *op.candle)
	case op.trade != nil:
		err = w.store.SaveTrade(writeCtx, *op.trade)
	case op.event != nil:
		err = w.store.LogEvent(writeCtx, *op.event)
	}
	if err != nil {
		log.Errorf("Journal | write failed: %v", err)
	}
}

func (w *AsyncWriter) enqueue(op writeOp) {
	select {
	case w.ops <- op:
	default:
		log.Warn("Journal | write queue full, dropping record")
	}
}

func (w *AsyncWriter) WriteCandle(c candle.Candle) {
	w.enqueue(writeOp{candle: &c})
}

func (w *AsyncWriter) WriteTrade(tr strategy.TradeRecord) {
	w.enqueue(writeOp{trade: &tr})
}

func (w *AsyncWriter) WriteEvent(e Event) {
	w.enqueue(writeOp{event: &e})
}

// Close stops accepting writes and waits for the queue to drain.
func (w *AsyncWriter) Close() {
	w.once.Do(func() { close(w.ops) })
	w.wg.Wait()
}
