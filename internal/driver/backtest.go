// Package driver runs the strategy-execution pipeline against a venue: the
// backtest driver replays stored history behind a synchronized clock, the
// live driver polls the exchange.
//
// Scheduling is single-threaded and strictly sequential. Within one
// (symbol, bar) tick the order is fixed: Execution.OnMarketData first, then
// Strategy.Evaluate, then Execution.PlaceOrder — a signal can never act on a
// candle the execution engine has not yet settled.
package driver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/amadeus05/rangebreak/internal/config"
	"github.com/amadeus05/rangebreak/internal/execution"
	"github.com/amadeus05/rangebreak/internal/market"
	"github.com/amadeus05/rangebreak/internal/portfolio"
	"github.com/amadeus05/rangebreak/internal/storage"
	"github.com/amadeus05/rangebreak/internal/strategy"
)

const cursorStep = 60_000 // one minute in epoch ms

// symbolSeries is the replay state of one symbol: full candle history plus
// the cursor indices into it.
type symbolSeries struct {
	ones  []strategy.Candle
	fives []strategy.Candle

	idx1 int // ones[:idx1] have timestamp <= cursor
	idx5 int // fives[:idx5] have close time <= cursor

	lastProcessed int64 // timestamp of the last 1m bar fed to execution
}

// Backtest replays stored candles through the strategy and execution engine
// behind a single minute-granular clock.
type Backtest struct {
	cfg    *config.Config
	feed   market.Feed
	store  storage.Store
	engine *execution.Engine
	orch   *strategy.Orchestrator
	pf     *portfolio.Portfolio
	logger zerolog.Logger
}

// NewBacktest wires a backtest driver.
func NewBacktest(
	cfg *config.Config,
	feed market.Feed,
	store storage.Store,
	engine *execution.Engine,
	orch *strategy.Orchestrator,
	pf *portfolio.Portfolio,
	logger zerolog.Logger,
) *Backtest {
	return &Backtest{
		cfg:    cfg,
		feed:   feed,
		store:  store,
		engine: engine,
		orch:   orch,
		pf:     pf,
		logger: logger.With().Str("component", "backtest").Logger(),
	}
}

// Run executes the backtest over [start, end] for the given symbols and
// returns the performance report.
func (b *Backtest) Run(ctx context.Context, symbols []string, start, end time.Time) (*Report, error) {
	symbols = append([]string(nil), symbols...)
	sort.Strings(symbols)

	startMS := start.UnixMilli()
	endMS := end.UnixMilli()

	series := make(map[string]*symbolSeries, len(symbols))
	for _, symbol := range symbols {
		for _, tf := range []strategy.Timeframe{strategy.Timeframe1m, strategy.Timeframe5m} {
			if err := b.ensureData(ctx, symbol, tf, startMS, endMS); err != nil {
				return nil, err
			}
		}

		ones, err := b.store.GetCandles(ctx, symbol, strategy.Timeframe1m, startMS, endMS)
		if err != nil {
			return nil, fmt.Errorf("backtest: load 1m candles for %s: %w", symbol, err)
		}
		fives, err := b.store.GetCandles(ctx, symbol, strategy.Timeframe5m, startMS, endMS)
		if err != nil {
			return nil, fmt.Errorf("backtest: load 5m candles for %s: %w", symbol, err)
		}
		if len(ones) == 0 || len(fives) == 0 {
			return nil, fmt.Errorf("backtest: no candle data for %s", symbol)
		}
		series[symbol] = &symbolSeries{ones: ones, fives: fives}
	}

	minTime, maxTime := clockBounds(series)
	warmup := int64(b.cfg.Backtest.WarmupBars) * strategy.Timeframe5m.Millis()
	cursor := minTime + warmup

	initialBalance := b.pf.Balance()
	b.logger.Info().
		Time("from", time.UnixMilli(cursor).UTC()).
		Time("to", time.UnixMilli(maxTime).UTC()).
		Int("symbols", len(symbols)).
		Msg("backtest starting")

	for t := cursor; t <= maxTime; t += cursorStep {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b.pf.ResetDailyStats(t)

		for _, symbol := range symbols {
			if err := b.tick(ctx, symbol, series[symbol], t); err != nil {
				return nil, err
			}
		}

		b.pf.RecordEquity(t)
	}

	// Flatten anything still open at the end of the replay.
	for _, symbol := range symbols {
		if err := b.engine.ForceClosePosition(ctx, symbol, storage.ExitReasonForceClose); err != nil {
			return nil, err
		}
	}

	return b.buildReport(ctx, symbols, start, end, initialBalance)
}

// tick advances one symbol to cursor t: settle the current 1m bar in the
// execution engine, then let the strategy see everything strictly before it.
func (b *Backtest) tick(ctx context.Context, symbol string, s *symbolSeries, t int64) error {
	// 5m bars are visible only once fully closed at the cursor.
	for s.idx5 < len(s.fives) && s.fives[s.idx5].CloseTime() <= t {
		s.idx5++
	}
	// 1m bars are visible once their open time has been reached.
	for s.idx1 < len(s.ones) && s.ones[s.idx1].Timestamp <= t {
		s.idx1++
	}
	if s.idx1 == 0 {
		return nil
	}

	current := s.ones[s.idx1-1]
	if current.Timestamp == s.lastProcessed {
		return nil // no new bar this minute (data gap)
	}
	s.lastProcessed = current.Timestamp

	if err := b.engine.OnMarketData(ctx, current); err != nil {
		return fmt.Errorf("backtest: market data for %s: %w", symbol, err)
	}

	// The strategy must not see the bar the engine just settled.
	window1m := s.ones[:s.idx1-1]
	window5m := s.fives[:s.idx5]

	sig := b.orch.Evaluate(symbol, window5m, window1m, t)
	if sig == nil {
		return nil
	}
	if err := b.engine.PlaceOrder(ctx, sig); err != nil {
		b.logger.Warn().Err(err).Str("symbol", symbol).Msg("order rejected")
		return nil
	}
	b.orch.ConfirmOrderPlaced(symbol, t)
	return nil
}

// ensureData verifies candle coverage for one (symbol, timeframe) and
// downloads the gap from the feed when below the coverage threshold.
// Download failures after retries are non-fatal: the replay proceeds with
// whatever the store holds.
func (b *Backtest) ensureData(ctx context.Context, symbol string, tf strategy.Timeframe, startMS, endMS int64) error {
	expected := int((endMS - startMS) / tf.Millis())
	if expected <= 0 {
		return fmt.Errorf("backtest: empty time range")
	}

	count, err := b.store.CountInRange(ctx, symbol, tf, startMS, endMS)
	if err != nil {
		return fmt.Errorf("backtest: count candles: %w", err)
	}
	if float64(count) >= b.cfg.Backtest.MinCoverage*float64(expected) {
		return nil
	}

	// Resume one bar after the most recent stored candle when it lies after
	// the range start.
	cursor := startMS
	if last, err := b.store.GetLastCandle(ctx, symbol, tf); err == nil && last != nil && last.Timestamp > cursor {
		cursor = last.Timestamp + tf.Millis()
	}

	b.logger.Info().
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Int("stored", count).
		Int("expected", expected).
		Msg("downloading candle history")

	for cursor <= endMS {
		batch, err := b.feed.FetchCandles(ctx, symbol, tf, market.MaxCandlesPerRequest, cursor)
		if err != nil {
			b.logger.Warn().Err(err).Str("symbol", symbol).Msg("download stopped, proceeding with stored data")
			return nil
		}
		if len(batch) == 0 {
			return nil
		}
		if err := b.store.SaveCandles(ctx, batch); err != nil {
			return fmt.Errorf("backtest: save candles: %w", err)
		}
		cursor = batch[len(batch)-1].Timestamp + tf.Millis()
	}
	return nil
}

func (b *Backtest) buildReport(ctx context.Context, symbols []string, start, end time.Time, initialBalance float64) (*Report, error) {
	stats, err := b.store.GetTradeStats(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("backtest: trade stats: %w", err)
	}
	trades, err := b.store.GetTradeHistory(ctx, "", 0)
	if err != nil {
		return nil, fmt.Errorf("backtest: trade history: %w", err)
	}

	return &Report{
		Symbols:        symbols,
		Start:          start,
		End:            end,
		InitialBalance: initialBalance,
		FinalBalance:   b.pf.Balance(),
		TotalTrades:    stats.Total,
		Wins:           stats.Wins,
		Losses:         stats.Losses,
		WinRate:        stats.WinRate,
		TotalPnL:       stats.TotalPnL,
		ProfitFactor:   stats.ProfitFactor,
		MaxDrawdown:    b.pf.MaxDrawdown(),
		EquityCurve:    b.pf.EquityCurve(),
		Trades:         trades,
	}, nil
}

// clockBounds returns the global replay window: the earliest 5m open and
// the latest 1m open across symbols.
func clockBounds(series map[string]*symbolSeries) (minTime, maxTime int64) {
	first := true
	for _, s := range series {
		lo := s.fives[0].Timestamp
		hi := s.ones[len(s.ones)-1].Timestamp
		if first {
			minTime, maxTime = lo, hi
			first = false
			continue
		}
		if lo < minTime {
			minTime = lo
		}
		if hi > maxTime {
			maxTime = hi
		}
	}
	return minTime, maxTime
}
