// Package strategy - orchestrator.go coordinates the detectors and the state
// machine across both timeframes and emits at most one TradingSignal per
// symbol per 1m tick.
//
// The orchestrator owns one Context per symbol. It never inspects the bar
// that is still forming: the driver passes 5m candles closed by the cursor
// and 1m candles strictly before it.
package strategy

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amadeus05/rangebreak/internal/config"
)

const (
	atrPeriod = 14
	emaPeriod = 200

	// Stop distance: max(ATR * stopATRMult, price * stopFloorPct).
	stopATRMult  = 0.4
	stopFloorPct = 0.005
)

// Context is the per-symbol strategy state: the frozen range, the latest
// breakout, cached indicator snapshots and the last fully processed 5m bar.
type Context struct {
	Machine  *StateMachine
	Range    *MarketRange
	Breakout *BreakoutSignal

	// Indicator snapshot, refreshed on each 5m close.
	ATR    float64
	EMA200 float64
	VolSMA float64

	LastProcessed5m int64
}

// Orchestrator drives the range-break / pullback pipeline per symbol.
type Orchestrator struct {
	riskCfg     config.RiskConfig
	pullbackCfg config.PullbackConfig
	breakoutCfg config.BreakoutConfig

	regime    *RegimeFilter
	ranges    *RangeDetector
	breakouts *BreakoutDetector
	pullbacks *PullbackValidator

	contexts map[string]*Context
	logger   zerolog.Logger
}

// NewOrchestrator wires the detectors from configuration.
func NewOrchestrator(cfg *config.Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		riskCfg:     cfg.Risk,
		pullbackCfg: cfg.Pullback,
		breakoutCfg: cfg.Breakout,
		regime:      NewRegimeFilter(cfg.Regime),
		ranges:      NewRangeDetector(cfg.Range),
		breakouts:   NewBreakoutDetector(cfg.Breakout),
		pullbacks:   NewPullbackValidator(cfg.Pullback),
		contexts:    make(map[string]*Context),
		logger:      logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Context returns the per-symbol context, creating it on first use.
func (o *Orchestrator) Context(symbol string) *Context {
	ctx, ok := o.contexts[symbol]
	if !ok {
		ctx = &Context{Machine: NewStateMachine(o.logger.With().Str("symbol", symbol).Logger())}
		o.contexts[symbol] = ctx
	}
	return ctx
}

// Evaluate advances the per-symbol pipeline for one 1m tick. candles5m must
// contain only bars closed at or before `now`; candles1m only bars strictly
// before the current one. Returns a signal or nil.
func (o *Orchestrator) Evaluate(symbol string, candles5m, candles1m []Candle, now int64) *TradingSignal {
	ctx := o.Context(symbol)
	log := o.logger.With().Str("symbol", symbol).Logger()

	// Pullback wait timeout, measured in market time.
	if ctx.Machine.State() == StateWaitPullback {
		maxWait := int64(o.pullbackCfg.MaxWaitMinutes) * 60_000
		if now-ctx.Machine.EnteredAt() > maxWait {
			log.Info().Int64("waited_ms", now-ctx.Machine.EnteredAt()).Msg("pullback wait expired, resetting")
			o.Reset(symbol, now)
		}
	}

	// 5m housekeeping runs once per newly closed 5m bar.
	if len(candles5m) > 0 {
		last5 := candles5m[len(candles5m)-1]
		if last5.Timestamp > ctx.LastProcessed5m {
			ctx.LastProcessed5m = last5.Timestamp
			o.on5mClose(ctx, log, candles5m, last5)
		}
	}

	// 1m evaluation: only the pullback wait reacts to individual 1m bars.
	if ctx.Machine.State() != StateWaitPullback || len(candles1m) == 0 {
		return nil
	}

	vwap := SessionVWAP(candles1m, now)
	res := o.pullbacks.Check(candles1m, ctx.Breakout, ctx.Range, vwap)
	if !res.Valid {
		return nil
	}

	sig := o.buildSignal(symbol, ctx, res, now)
	if err := sig.Validate(); err != nil {
		log.Warn().Err(err).Msg("discarding invalid signal, abandoning setup")
		o.Reset(symbol, now)
		return nil
	}

	log.Info().
		Str("direction", string(sig.Direction)).
		Float64("price", sig.Price).
		Float64("stop_loss", sig.StopLoss).
		Float64("take_profit", sig.TakeProfit).
		Msg("pullback entry signal")
	return sig
}

// on5mClose runs the regime/range/breakout chain on a just-closed 5m bar.
func (o *Orchestrator) on5mClose(ctx *Context, log zerolog.Logger, candles5m []Candle, last5 Candle) {
	ctx.ATR = ATR(candles5m, atrPeriod)
	ctx.EMA200 = EMA(Closes(candles5m), emaPeriod)
	if len(candles5m) > 1 {
		ctx.VolSMA = AverageVolume(candles5m[:len(candles5m)-1], o.breakoutCfg.VolumePeriod)
	}

	switch ctx.Machine.State() {
	case StateIdle:
		regime := o.regime.Check(candles5m)
		if !regime.Tradable {
			return
		}
		rng := o.ranges.Detect(candles5m, ctx.ATR)
		if rng == nil {
			return
		}
		ctx.Range = rng
		if err := ctx.Machine.TransitionTo(StateRangeDefined, last5.CloseTime()); err != nil {
			return
		}
		log.Info().
			Float64("high", rng.High).
			Float64("low", rng.Low).
			Float64("adx", regime.ADX).
			Msg("range frozen")

	case StateRangeDefined:
		bo := o.breakouts.Detect(last5, ctx.Range, ctx.ATR, ctx.VolSMA)
		if bo == nil {
			return
		}
		if !o.trendConfirmed(bo.Direction, last5.Close, ctx.EMA200) {
			// The range is broken either way; a break against the trend
			// invalidates the setup rather than leaving a stale bracket.
			log.Info().
				Str("direction", string(bo.Direction)).
				Float64("ema200", ctx.EMA200).
				Msg("breakout rejected by trend filter, resetting")
			o.resetContext(ctx, last5.CloseTime())
			return
		}
		ctx.Breakout = bo
		if err := ctx.Machine.TransitionTo(StateBreakoutDetected, last5.CloseTime()); err != nil {
			return
		}
		if err := ctx.Machine.TransitionTo(StateWaitPullback, last5.CloseTime()); err != nil {
			return
		}
		log.Info().
			Str("direction", string(bo.Direction)).
			Float64("break_price", bo.BreakPrice).
			Float64("impulse", bo.ImpulseSize).
			Msg("breakout confirmed, waiting for pullback")
	}
}

// trendConfirmed applies the EMA200 filter: longs above, shorts below.
func (o *Orchestrator) trendConfirmed(dir Direction, close, ema200 float64) bool {
	if ema200 <= 0 {
		return false
	}
	if dir == Long {
		return close > ema200
	}
	return close < ema200
}

// buildSignal synthesizes the LIMIT entry from the reclaim level.
func (o *Orchestrator) buildSignal(symbol string, ctx *Context, res PullbackResult, now int64) *TradingSignal {
	dir := ctx.Breakout.Direction
	tolerance := o.pullbackCfg.PriceTolerancePercent / 100

	var price float64
	if dir == Long {
		price = res.Level * (1 - tolerance)
	} else {
		price = res.Level * (1 + tolerance)
	}

	stopDistance := ctx.ATR * stopATRMult
	if floor := price * stopFloorPct; floor > stopDistance {
		stopDistance = floor
	}

	sig := &TradingSignal{
		SignalID:  uuid.NewString(),
		Symbol:    symbol,
		Direction: dir,
		OrderType: OrderTypeLimit,
		Price:     price,
		Timestamp: now,
		Reason: fmt.Sprintf("pullback depth=%.1f%% level=%.4f pattern=%s",
			res.DepthPct, res.Level, res.Pattern),
	}
	if dir == Long {
		sig.StopLoss = price - stopDistance
		sig.TakeProfit = price + stopDistance*o.riskCfg.RRRatio
	} else {
		sig.StopLoss = price + stopDistance
		sig.TakeProfit = price - stopDistance*o.riskCfg.RRRatio
	}
	return sig
}

// ConfirmOrderPlaced advances WAIT_PULLBACK -> LIMIT_ORDER_PLACED after the
// execution engine accepted the order. A rejected order leaves the machine
// where it was.
func (o *Orchestrator) ConfirmOrderPlaced(symbol string, ts int64) {
	ctx := o.Context(symbol)
	_ = ctx.Machine.TransitionTo(StateLimitOrderPlaced, ts)
}

// OnOrderFilled is invoked by the execution engine when a pending order
// becomes a position.
func (o *Orchestrator) OnOrderFilled(symbol string, ts int64) {
	ctx := o.Context(symbol)
	_ = ctx.Machine.TransitionTo(StateInPosition, ts)
}

// OnOrderExpired is invoked when a pending order aged out unfilled.
func (o *Orchestrator) OnOrderExpired(symbol string, ts int64) {
	o.Reset(symbol, ts)
}

// OnPositionClosed walks IN_POSITION -> EXIT -> RESET -> IDLE.
func (o *Orchestrator) OnPositionClosed(symbol string, ts int64, reason string) {
	ctx := o.Context(symbol)
	if ctx.Machine.State() == StateInPosition {
		_ = ctx.Machine.TransitionTo(StateExit, ts)
	}
	o.Reset(symbol, ts)
}

// Reset clears the symbol's setup context and returns the machine to IDLE.
func (o *Orchestrator) Reset(symbol string, ts int64) {
	o.resetContext(o.Context(symbol), ts)
}

func (o *Orchestrator) resetContext(ctx *Context, ts int64) {
	ctx.Machine.ForceReset(ts)
	ctx.Range = nil
	ctx.Breakout = nil
}
