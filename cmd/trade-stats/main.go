// Package main - trade statistics CLI.
// Prints aggregate stats and recent trades per symbol from the trade store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/amadeus05/rangebreak/internal/config"
	"github.com/amadeus05/rangebreak/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file (optional)")
	symbol := flag.String("symbol", "", "filter by symbol (default: all)")
	limit := flag.Int("limit", 20, "number of recent trades to list")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "trade-stats requires RB_DATABASE_URL or database_url in config")
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	stats, err := store.GetTradeStats(ctx, *symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load stats: %v\n", err)
		os.Exit(1)
	}

	label := *symbol
	if label == "" {
		label = "ALL"
	}
	fmt.Printf("=== TRADE STATS (%s) ===\n", label)
	fmt.Printf("Total:         %d\n", stats.Total)
	fmt.Printf("Wins:          %d\n", stats.Wins)
	fmt.Printf("Losses:        %d\n", stats.Losses)
	fmt.Printf("Win Rate:      %.1f%%\n", stats.WinRate)
	fmt.Printf("Total PnL:     %.4f\n", stats.TotalPnL)
	fmt.Printf("Profit Factor: %.2f\n", stats.ProfitFactor)

	trades, err := store.GetTradeHistory(ctx, *symbol, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load history: %v\n", err)
		os.Exit(1)
	}
	if len(trades) == 0 {
		return
	}

	fmt.Println("\n=== RECENT TRADES ===")
	for _, t := range trades {
		exit := "-"
		if t.ExitPrice != nil {
			exit = fmt.Sprintf("%.4f", *t.ExitPrice)
		}
		fmt.Printf("%s %-10s %-5s entry=%.4f exit=%s pnl=%.4f %s\n",
			time.UnixMilli(t.EntryTime).UTC().Format("2006-01-02 15:04"),
			t.Symbol, t.Direction, t.EntryPrice, exit, t.PnL, t.ExitReason)
	}
}
