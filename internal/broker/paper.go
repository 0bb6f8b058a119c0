package broker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
)

// paperRecord is one row of the paper trading journal CSV.
type paperRecord struct {
	TradeID    string  `csv:"trade_id"`
	Timestamp  string  `csv:"timestamp"`
	Action     string  `csv:"action"`
	Symbol     string  `csv:"symbol"`
	Side       string  `csv:"side"`
	Qty        int     `csv:"qty"`
	Price      float64 `csv:"price"`
	StopLoss   float64 `csv:"stop_loss"`
	ExitReason string  `csv:"exit_reason"`
	PnL        float64 `csv:"pnl"`
}

// PaperSink simulates fills at the requested price and journals every order
// to a per-day CSV under dir. Used in phases 1 and 2.
type PaperSink struct {
	dir      string
	location *time.Location
	path     string
	records  []*paperRecord
	entries  map[string]EntryOrder
}

func NewPaperSink(dir string, loc *time.Location) (*PaperSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating trades dir: %w", err)
	}
	s := &PaperSink{
		dir:      dir,
		location: loc,
		entries:  make(map[string]EntryOrder),
	}
	s.path = filepath.Join(dir, fmt.Sprintf("paper_trades_%s.csv", time.Now().In(loc).Format("20060102")))
	log.Infof("Broker | paper trading journal: %s", s.path)
	return s, nil
}

func (s *PaperSink) PlaceEntry(_ context.Context, o EntryOrder) (Confirmation, error) {
	rec := &paperRecord{
		TradeID:   o.TradeID,
		Timestamp: o.Timestamp.In(s.location).Format("2006-01-02 15:04:05"),
		Action:    "ENTRY",
		Symbol:    o.Symbol,
		Side:      o.Side,
		Qty:       o.Quantity,
		Price:     o.Price,
		StopLoss:  o.StopLoss,
	}
	s.records = append(s.records, rec)
	s.entries[o.TradeID] = o
	if err := s.flush(); err != nil {
		return Confirmation{}, err
	}

	log.Infof("Broker | PAPER ENTRY: %s %s @ %.2f | qty: %d | SL: %.2f", o.Side, o.Symbol, o.Price, o.Quantity, o.StopLoss)
	return Confirmation{
		OrderID:      fmt.Sprintf("PAPER_%d", time.Now().UnixMilli()),
		FilledQty:    o.Quantity,
		AveragePrice: o.Price,
		ExecutedAt:   o.Timestamp,
	}, nil
}

func (s *PaperSink) PlaceExit(_ context.Context, o ExitOrder) (Confirmation, error) {
	entry, ok := s.entries[o.TradeID]
	if !ok {
		return Confirmation{}, fmt.Errorf("no active paper trade with ID %s", o.TradeID)
	}

	pnl := (o.Price - entry.Price) * float64(o.Quantity)
	rec := &paperRecord{
		TradeID:    o.TradeID,
		Timestamp:  o.Timestamp.In(s.location).Format("2006-01-02 15:04:05"),
		Action:     "EXIT",
		Symbol:     o.Symbol,
		Side:       o.Side,
		Qty:        o.Quantity,
		Price:      o.Price,
		ExitReason: o.Reason,
		PnL:        pnl,
	}
	s.records = append(s.records, rec)
	delete(s.entries, o.TradeID)
	if err := s.flush(); err != nil {
		return Confirmation{}, err
	}

	log.Infof("Broker | PAPER EXIT: %s @ %.2f | reason: %s | P&L: %.2f", o.Side, o.Price, o.Reason, pnl)
	return Confirmation{
		OrderID:      fmt.Sprintf("PAPER_%d", time.Now().UnixMilli()),
		FilledQty:    o.Quantity,
		AveragePrice: o.Price,
		ExecutedAt:   o.Timestamp,
	}, nil
}

// Close logs the day's summary.
func (s *PaperSink) Close() error {
	var exits, wins int
	var totalPnL float64
	for _, r := range s.records {
		if r.Action != "EXIT" {
			continue
		}
		exits++
		totalPnL += r.PnL
		if r.PnL > 0 {
			wins++
		}
	}
	if exits == 0 {
		log.Info("Broker | paper trading summary: no trades today")
		return nil
	}
	log.Infof("Broker | paper trading summary: trades=%d pnl=%.2f wins=%d losses=%d winRate=%.2f%%",
		exits, totalPnL, wins, exits-wins, float64(wins)/float64(exits)*100)
	return nil
}

// flush rewrites the journal file. The per-day journal is small, so a full
// rewrite on every order is cheaper than managing append state.
func (s *PaperSink) flush() error {
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("error opening paper journal: %w", err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&s.records, f); err != nil {
		return fmt.Errorf("error writing paper journal: %w", err)
	}
	return nil
}
