package backtest

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/oldagecoder1/nifty-options-bot/internal/strategy"
)

// Summary holds the aggregate statistics of a replay run.
type Summary struct {
	Days         int
	TotalTrades  int
	WinningCount int
	LosingCount  int
	WinRate      float64
	TotalPnL     float64
	AveragePnL   float64
	AverageWin   float64
	AverageLoss  float64
	MaxWin       float64
	MaxLoss      float64
	ProfitFactor float64
}

// Summarize computes the run statistics from the trade records.
func Summarize(res *Results) Summary {
	s := Summary{Days: res.Days, TotalTrades: len(res.Trades)}
	if s.TotalTrades == 0 {
		return s
	}

	var all, wins, losses []float64
	var grossWin, grossLoss float64
	for _, t := range res.Trades {
		all = append(all, t.PnL)
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
			grossWin += t.PnL
		} else {
			losses = append(losses, t.PnL)
			grossLoss += -t.PnL
		}
	}

	s.WinningCount = len(wins)
	s.LosingCount = len(losses)
	s.WinRate = float64(s.WinningCount) / float64(s.TotalTrades) * 100
	s.TotalPnL, _ = stats.Sum(all)
	s.AveragePnL, _ = stats.Mean(all)
	s.MaxWin, _ = stats.Max(all)
	s.MaxLoss, _ = stats.Min(all)
	if len(wins) > 0 {
		s.AverageWin, _ = stats.Mean(wins)
	}
	if len(losses) > 0 {
		s.AverageLoss, _ = stats.Mean(losses)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	}
	return s
}

// Render writes the tabulated run summary.
func (s Summary) Render(w io.Writer) {
	fmt.Fprintln(w, "Backtest results:")
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetColumnSeparator("")

	table.Append([]string{"Days replayed", fmt.Sprintf("%d", s.Days)})
	table.Append([]string{"Total trades", fmt.Sprintf("%d", s.TotalTrades)})
	table.Append([]string{"Winning trades", fmt.Sprintf("%d", s.WinningCount)})
	table.Append([]string{"Losing trades", fmt.Sprintf("%d", s.LosingCount)})
	table.Append([]string{"Win rate", fmt.Sprintf("%.2f%%", s.WinRate)})
	table.Append([]string{"Total P&L", fmt.Sprintf("%.2f", s.TotalPnL)})
	table.Append([]string{"Average P&L", fmt.Sprintf("%.2f", s.AveragePnL)})
	table.Append([]string{"Average win", fmt.Sprintf("%.2f", s.AverageWin)})
	table.Append([]string{"Average loss", fmt.Sprintf("%.2f", s.AverageLoss)})
	table.Append([]string{"Max win", fmt.Sprintf("%.2f", s.MaxWin)})
	table.Append([]string{"Max loss", fmt.Sprintf("%.2f", s.MaxLoss)})
	if s.ProfitFactor > 0 {
		table.Append([]string{"Profit factor", fmt.Sprintf("%.2f", s.ProfitFactor)})
	}
	table.Render()
}

// WriteTrades exports the detailed trade records as CSV.
func WriteTrades(path string, trades []strategy.TradeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trade export: %w", err)
	}
	defer f.Close()

	if err := gocsv.Marshal(&trades, f); err != nil {
		return fmt.Errorf("write trade export %s: %w", path, err)
	}
	log.Infof("Backtest | wrote %d trades to %s", len(trades), path)
	return nil
}
