// Package main is the trading engine CLI.
//
// Usage:
//
//	engine backtest [symbols] [days]   replay stored/downloaded history
//	engine live [symbol]               poll the exchange in real time
//
// symbols is comma-separated (BTCUSDT,ETHUSDT). Exit code 0 on clean
// completion, 1 on fatal error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/amadeus05/rangebreak/internal/config"
	"github.com/amadeus05/rangebreak/internal/driver"
	"github.com/amadeus05/rangebreak/internal/execution"
	"github.com/amadeus05/rangebreak/internal/market"
	"github.com/amadeus05/rangebreak/internal/portfolio"
	"github.com/amadeus05/rangebreak/internal/storage"
	"github.com/amadeus05/rangebreak/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file (optional)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	var exitCode int
	switch args[0] {
	case "backtest":
		exitCode = runBacktest(cfg, logger, args[1:])
	case "live":
		exitCode = runLive(cfg, logger, args[1:])
	default:
		usage()
		exitCode = 1
	}
	os.Exit(exitCode)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: engine [-config file] backtest [symbols] [days] | live [symbol]")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// newStore opens Postgres when configured, the in-memory store otherwise.
// Persistence unavailability is fatal.
func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("no database configured, using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewPostgresStore(ctx, cfg.DatabaseURL)
}

func runBacktest(cfg *config.Config, logger zerolog.Logger, args []string) int {
	symbols := cfg.Symbols
	if len(args) >= 1 {
		symbols = splitSymbols(args[0])
	}
	days := cfg.Backtest.Days
	if len(args) >= 2 {
		d, err := strconv.Atoi(args[1])
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "invalid days argument %q\n", args[1])
			return 1
		}
		days = d
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("persistence unavailable")
		return 1
	}
	defer store.Close()

	pf := portfolio.New(cfg.Risk, cfg.InitialBalance, logger)
	engine := execution.NewEngine(cfg, pf, store, logger)
	orch := strategy.NewOrchestrator(cfg, logger)
	engine.SetEvents(orch)

	feed := market.NewRetryingFeed(market.NewBinanceFeed(cfg.Exchange.BaseURL), logger)
	bt := driver.NewBacktest(cfg, feed, store, engine, orch, pf, logger)

	end := time.Now().UTC().Truncate(time.Minute)
	start := end.AddDate(0, 0, -days)

	report, err := bt.Run(ctx, symbols, start, end)
	if err != nil {
		logger.Error().Err(err).Msg("backtest failed")
		return 1
	}
	report.Print()
	return 0
}

func runLive(cfg *config.Config, logger zerolog.Logger, args []string) int {
	symbol := cfg.Symbols[0]
	if len(args) >= 1 {
		symbol = strings.ToUpper(strings.TrimSpace(args[0]))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("persistence unavailable")
		return 1
	}
	defer store.Close()

	pf := portfolio.New(cfg.Risk, cfg.InitialBalance, logger)
	engine := execution.NewEngine(cfg, pf, store, logger)
	orch := strategy.NewOrchestrator(cfg, logger)
	engine.SetEvents(orch)

	feed := market.NewRetryingFeed(market.NewBinanceFeed(cfg.Exchange.BaseURL), logger)
	live := driver.NewLive(cfg, feed, engine, orch, pf, logger)

	if err := live.Run(ctx, symbol); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("live driver failed")
		return 1
	}
	return 0
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}
