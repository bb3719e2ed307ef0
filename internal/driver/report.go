// Package driver - report.go summarises a completed backtest.
package driver

import (
	"fmt"
	"time"

	"github.com/amadeus05/rangebreak/internal/portfolio"
	"github.com/amadeus05/rangebreak/internal/storage"
)

// Report holds the performance metrics of one backtest run.
type Report struct {
	Symbols []string
	Start   time.Time
	End     time.Time

	InitialBalance float64
	FinalBalance   float64

	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	TotalPnL     float64
	ProfitFactor float64
	MaxDrawdown  float64 // fraction of peak

	EquityCurve []portfolio.Snapshot
	Trades      []storage.Trade
}

// ROI returns the net return on the initial balance in percent.
func (r *Report) ROI() float64 {
	if r.InitialBalance == 0 {
		return 0
	}
	return (r.FinalBalance - r.InitialBalance) / r.InitialBalance * 100
}

// Print writes a human-readable summary to stdout.
func (r *Report) Print() {
	fmt.Println("=== BACKTEST RESULTS ===")
	fmt.Printf("Symbols:        %v\n", r.Symbols)
	fmt.Printf("Period:         %s -> %s\n", r.Start.Format("2006-01-02 15:04"), r.End.Format("2006-01-02 15:04"))
	fmt.Printf("Balance:        %.2f -> %.2f (ROI %.2f%%)\n", r.InitialBalance, r.FinalBalance, r.ROI())
	fmt.Printf("Trades:         %d (%d wins / %d losses, %.1f%% win rate)\n", r.TotalTrades, r.Wins, r.Losses, r.WinRate)
	fmt.Printf("Total PnL:      %.2f\n", r.TotalPnL)
	fmt.Printf("Profit Factor:  %.2f\n", r.ProfitFactor)
	fmt.Printf("Max Drawdown:   %.2f%%\n", r.MaxDrawdown*100)

	if len(r.Trades) == 0 {
		return
	}
	fmt.Println("\n=== TRADES ===")
	for _, t := range r.Trades {
		exit := "-"
		if t.ExitPrice != nil {
			exit = fmt.Sprintf("%.4f", *t.ExitPrice)
		}
		fmt.Printf("%-10s %-5s entry=%.4f exit=%s size=%.4f pnl=%.4f (%s)\n",
			t.Symbol, t.Direction, t.EntryPrice, exit, t.Size, t.PnL, t.ExitReason)
	}
}
