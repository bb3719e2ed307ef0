// Package driver - live.go polls the exchange and feeds the same
// strategy-execution path as the backtest.
//
// One loop, one symbol, no shared mutable state with other goroutines: the
// optional websocket stream only hands closed candles into the loop via a
// channel. An error in one tick never aborts the loop — the driver sleeps a
// back-off interval and continues.
package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/amadeus05/rangebreak/internal/config"
	"github.com/amadeus05/rangebreak/internal/execution"
	"github.com/amadeus05/rangebreak/internal/market"
	"github.com/amadeus05/rangebreak/internal/portfolio"
	"github.com/amadeus05/rangebreak/internal/strategy"
)

// Live runs the pipeline against the exchange in real time.
type Live struct {
	cfg    *config.Config
	feed   market.Feed
	engine *execution.Engine
	orch   *strategy.Orchestrator
	pf     *portfolio.Portfolio
	logger zerolog.Logger

	stopped atomic.Bool

	ones  *market.SlidingBuffer
	fives *market.SlidingBuffer

	lastProcessed int64
}

// NewLive wires a live driver.
func NewLive(
	cfg *config.Config,
	feed market.Feed,
	engine *execution.Engine,
	orch *strategy.Orchestrator,
	pf *portfolio.Portfolio,
	logger zerolog.Logger,
) *Live {
	return &Live{
		cfg:    cfg,
		feed:   feed,
		engine: engine,
		orch:   orch,
		pf:     pf,
		logger: logger.With().Str("component", "live").Logger(),
		ones:   market.NewSlidingBuffer(cfg.Live.BufferSize),
		fives:  market.NewSlidingBuffer(cfg.Live.BufferSize),
	}
}

// Stop requests loop termination; checked between ticks.
func (l *Live) Stop() { l.stopped.Store(true) }

// Run loads the initial window and enters the tick loop until Stop or
// context cancellation.
func (l *Live) Run(ctx context.Context, symbol string) error {
	if err := l.initialLoad(ctx, symbol); err != nil {
		return err
	}

	var streamCandles <-chan strategy.Candle
	if l.cfg.Exchange.UseWebsocket {
		stream := market.NewKlineStream(l.cfg.Exchange.WSBaseURL, symbol, l.logger)
		go stream.Run(ctx)
		streamCandles = stream.Candles()
	}

	interval := time.Duration(l.cfg.Live.TickIntervalMS) * time.Millisecond
	backoffSleep := time.Duration(l.cfg.Live.BackoffMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info().Str("symbol", symbol).Dur("interval", interval).Msg("live driver started")

	for !l.stopped.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case candle, ok := <-streamCandles:
			if !ok {
				streamCandles = nil
				continue
			}
			if candle.Timeframe == strategy.Timeframe1m {
				l.ones.Upsert(candle)
			}

		case <-ticker.C:
			if err := l.tick(ctx, symbol); err != nil {
				l.logger.Error().Err(err).Msg("tick failed, backing off")
				time.Sleep(backoffSleep)
			}
		}
	}

	l.logger.Info().Str("symbol", symbol).Msg("live driver stopped")
	return nil
}

// initialLoad fills the sliding buffers with recent history.
func (l *Live) initialLoad(ctx context.Context, symbol string) error {
	for _, load := range []struct {
		tf  strategy.Timeframe
		buf *market.SlidingBuffer
	}{
		{strategy.Timeframe1m, l.ones},
		{strategy.Timeframe5m, l.fives},
	} {
		candles, err := l.feed.FetchCandles(ctx, symbol, load.tf, l.cfg.Live.InitialCandles, 0)
		if err != nil {
			return fmt.Errorf("live: initial %s load: %w", load.tf, err)
		}
		for _, c := range candles {
			load.buf.Upsert(c)
		}
	}
	l.logger.Info().
		Int("candles_1m", l.ones.Len()).
		Int("candles_5m", l.fives.Len()).
		Msg("initial candle window loaded")
	return nil
}

// tick polls the latest candles, merges them into the buffers and advances
// the pipeline on the newest closed 1m bar.
func (l *Live) tick(ctx context.Context, symbol string) error {
	for _, poll := range []struct {
		tf  strategy.Timeframe
		buf *market.SlidingBuffer
	}{
		{strategy.Timeframe1m, l.ones},
		{strategy.Timeframe5m, l.fives},
	} {
		// Two bars cover the just-closed candle plus the forming one.
		candles, err := l.feed.FetchCandles(ctx, symbol, poll.tf, 2, 0)
		if err != nil {
			return fmt.Errorf("poll %s: %w", poll.tf, err)
		}
		for _, c := range candles {
			poll.buf.Upsert(c)
		}
	}

	now := time.Now().UTC().UnixMilli()
	l.pf.ResetDailyStats(now)

	closed1m := l.ones.ClosedBy(now)
	if len(closed1m) == 0 {
		return nil
	}
	current := closed1m[len(closed1m)-1]
	if current.Timestamp == l.lastProcessed {
		return nil // no new closed bar yet
	}
	l.lastProcessed = current.Timestamp

	if err := l.engine.OnMarketData(ctx, current); err != nil {
		return fmt.Errorf("market data: %w", err)
	}
	l.pf.RecordEquity(current.CloseTime())

	// Same anti-look-ahead windows as the backtest: the strategy sees only
	// bars strictly before the one the engine just settled.
	window1m := closed1m[:len(closed1m)-1]
	window5m := l.fives.ClosedBy(now)

	sig := l.orch.Evaluate(symbol, window5m, window1m, current.CloseTime())
	if sig == nil {
		return nil
	}
	if err := l.engine.PlaceOrder(ctx, sig); err != nil {
		l.logger.Warn().Err(err).Msg("order rejected")
		return nil
	}
	l.orch.ConfirmOrderPlaced(symbol, current.CloseTime())
	return nil
}
