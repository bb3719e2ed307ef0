// Package execution maintains pending orders and open positions and fills
// them against subsequent candles.
//
// Fill rules:
//   - A market order queued at t fills at the next candle's open, never on
//     the candle whose timestamp equals t (one-bar delay, no intra-bar
//     look-ahead).
//   - A limit order fills when a later candle trades through the limit.
//   - Position exits are checked only on candles strictly after the entry
//     candle, in strict precedence: liquidation, stop-loss, take-profit.
//
// The engine is the only component that touches the portfolio's balance:
// entry fee at open, exit fee plus gross PnL at close.
package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amadeus05/rangebreak/internal/config"
	"github.com/amadeus05/rangebreak/internal/portfolio"
	"github.com/amadeus05/rangebreak/internal/storage"
	"github.com/amadeus05/rangebreak/internal/strategy"
)

// Order rejection errors. The strategy must not advance on any of them.
var (
	ErrKillSwitchActive = errors.New("kill switch active")
	ErrPositionExists   = errors.New("position already open for symbol")
	ErrOrderExists      = errors.New("pending order already exists for symbol")
	ErrZeroSize         = errors.New("computed position size is zero")
)

// Events receives execution lifecycle notifications. The orchestrator uses
// them to advance its state machine; all timestamps are market time.
type Events interface {
	OnOrderFilled(symbol string, ts int64)
	OnOrderExpired(symbol string, ts int64)
	OnPositionClosed(symbol string, ts int64, reason string)
}

// PendingOrder is a captured signal waiting for its fill candle.
type PendingOrder struct {
	Signal     strategy.TradingSignal
	Size       float64
	EnqueuedAt int64 // epoch ms
}

// Position is an open leveraged position.
type Position struct {
	Symbol     string
	Direction  strategy.Direction
	EntryPrice float64
	Size       float64
	StopLoss   float64
	TakeProfit float64
	EntryTime  int64 // epoch ms of the fill candle
	EntryFee   float64
	TradeID    int64
}

// Engine simulates order lifecycles per symbol.
type Engine struct {
	fees     config.FeeConfig
	leverage config.LeverageConfig
	risk     config.RiskConfig

	// Pending order validity in market milliseconds.
	orderTTL int64

	portfolio *portfolio.Portfolio
	trades    storage.TradeStore
	events    Events

	pendingLimit  map[string]*PendingOrder
	pendingMarket map[string]*PendingOrder
	positions     map[string]*Position
	lastCandle    map[string]strategy.Candle

	logger zerolog.Logger
}

// NewEngine creates an execution engine bound to a portfolio and trade store.
func NewEngine(cfg *config.Config, pf *portfolio.Portfolio, trades storage.TradeStore, logger zerolog.Logger) *Engine {
	return &Engine{
		fees:          cfg.Fees,
		leverage:      cfg.Leverage,
		risk:          cfg.Risk,
		orderTTL:      int64(cfg.Pullback.MaxWaitMinutes) * 60_000,
		portfolio:     pf,
		trades:        trades,
		pendingLimit:  make(map[string]*PendingOrder),
		pendingMarket: make(map[string]*PendingOrder),
		positions:     make(map[string]*Position),
		lastCandle:    make(map[string]strategy.Candle),
		logger:        logger.With().Str("component", "execution").Logger(),
	}
}

// SetEvents registers the lifecycle listener.
func (e *Engine) SetEvents(ev Events) { e.events = ev }

// Position returns the open position for the symbol, or nil.
func (e *Engine) Position(symbol string) *Position { return e.positions[symbol] }

// HasPendingOrder reports whether any order is queued for the symbol.
func (e *Engine) HasPendingOrder(symbol string) bool {
	return e.pendingLimit[symbol] != nil || e.pendingMarket[symbol] != nil
}

// OpenPositionCount returns the number of open positions across symbols.
func (e *Engine) OpenPositionCount() int { return len(e.positions) }

// PlaceOrder validates and queues a signal. Rejections leave all state
// untouched; the caller must not advance its state machine on error.
func (e *Engine) PlaceOrder(ctx context.Context, sig *strategy.TradingSignal) error {
	log := e.logger.With().Str("symbol", sig.Symbol).Str("signal_id", sig.SignalID).Logger()

	if !e.portfolio.CanTrade() {
		log.Warn().Str("reason", e.portfolio.TripReason()).Msg("order rejected: kill switch")
		return ErrKillSwitchActive
	}
	if e.positions[sig.Symbol] != nil {
		log.Warn().Msg("order rejected: position already open")
		return ErrPositionExists
	}
	if e.HasPendingOrder(sig.Symbol) {
		log.Warn().Msg("order rejected: pending order exists")
		return ErrOrderExists
	}
	if err := sig.Validate(); err != nil {
		return err
	}

	size := e.portfolio.Balance() * (e.risk.RiskPercentPerTrade / 100) / sig.StopDistance()
	if size <= 0 {
		return ErrZeroSize
	}

	order := &PendingOrder{Signal: *sig, Size: size, EnqueuedAt: sig.Timestamp}
	switch sig.OrderType {
	case strategy.OrderTypeLimit:
		e.pendingLimit[sig.Symbol] = order
	case strategy.OrderTypeMarket:
		// Deferred to the next bar by the fill rule.
		e.pendingMarket[sig.Symbol] = order
	default:
		return fmt.Errorf("%w: unknown order type %q", strategy.ErrInvalidSignal, sig.OrderType)
	}

	log.Info().
		Str("type", string(sig.OrderType)).
		Str("direction", string(sig.Direction)).
		Float64("price", sig.Price).
		Float64("size", size).
		Msg("order queued")
	return nil
}

// CancelOrder removes any pending order for the symbol.
func (e *Engine) CancelOrder(symbol string) {
	if e.pendingLimit[symbol] != nil || e.pendingMarket[symbol] != nil {
		delete(e.pendingLimit, symbol)
		delete(e.pendingMarket, symbol)
		e.logger.Info().Str("symbol", symbol).Msg("pending order cancelled")
	}
}

// OnMarketData advances the symbol's pipeline for one 1m candle: pending
// fills first, then exit management against the same candle.
func (e *Engine) OnMarketData(ctx context.Context, candle strategy.Candle) error {
	symbol := candle.Symbol

	if err := e.fillMarketOrder(ctx, symbol, candle); err != nil {
		return err
	}
	if err := e.fillLimitOrder(ctx, symbol, candle); err != nil {
		return err
	}
	if err := e.managePosition(ctx, symbol, candle); err != nil {
		return err
	}

	e.lastCandle[symbol] = candle
	return nil
}

// ForceClosePosition closes at the last known close price. Without any
// candle history it is a silent no-op.
func (e *Engine) ForceClosePosition(ctx context.Context, symbol, reason string) error {
	pos := e.positions[symbol]
	if pos == nil {
		return nil
	}
	last, ok := e.lastCandle[symbol]
	if !ok {
		e.logger.Warn().Str("symbol", symbol).Msg("force close skipped: no candle history")
		return nil
	}
	return e.closePosition(ctx, pos, last.Close, reason, last.CloseTime(), true)
}

// fillMarketOrder fills a queued market order at the current candle's open,
// respecting the one-bar delay.
func (e *Engine) fillMarketOrder(ctx context.Context, symbol string, candle strategy.Candle) error {
	order := e.pendingMarket[symbol]
	if order == nil {
		return nil
	}
	if candle.Timestamp-order.EnqueuedAt > e.orderTTL {
		delete(e.pendingMarket, symbol)
		e.notifyExpired(symbol, candle.Timestamp)
		return nil
	}
	if candle.Timestamp <= order.EnqueuedAt {
		return nil
	}

	fill := candle.Open
	if order.Signal.Direction == strategy.Long {
		fill *= 1 + e.fees.Slippage
	} else {
		fill *= 1 - e.fees.Slippage
	}

	delete(e.pendingMarket, symbol)
	return e.openPosition(ctx, order, fill, candle.Timestamp)
}

// fillLimitOrder fills a resting limit order when a later candle trades
// through the limit, or expires it after the validity window.
func (e *Engine) fillLimitOrder(ctx context.Context, symbol string, candle strategy.Candle) error {
	order := e.pendingLimit[symbol]
	if order == nil {
		return nil
	}
	if candle.Timestamp-order.EnqueuedAt > e.orderTTL {
		delete(e.pendingLimit, symbol)
		e.logger.Info().Str("symbol", symbol).Msg("limit order expired")
		e.notifyExpired(symbol, candle.Timestamp)
		return nil
	}
	if candle.Timestamp <= order.EnqueuedAt {
		return nil
	}

	limit := order.Signal.Price
	var fill float64
	switch order.Signal.Direction {
	case strategy.Long:
		if candle.Low > limit {
			return nil
		}
		fill = limit * (1 + e.fees.Slippage/2)
	case strategy.Short:
		if candle.High < limit {
			return nil
		}
		fill = limit * (1 - e.fees.Slippage/2)
	}

	delete(e.pendingLimit, symbol)
	return e.openPosition(ctx, order, fill, candle.Timestamp)
}

// openPosition books the fill: entry fee immediately, open trade record,
// lifecycle notification.
func (e *Engine) openPosition(ctx context.Context, order *PendingOrder, fillPrice float64, ts int64) error {
	sig := order.Signal
	entryFee := fillPrice * order.Size * e.fees.Taker
	e.portfolio.DeductFee(entryFee)

	tradeID, err := e.trades.SaveTrade(ctx, &storage.Trade{
		SignalID:   sig.SignalID,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryTime:  ts,
		EntryPrice: fillPrice,
		Size:       order.Size,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Status:     storage.TradeStatusOpen,
	})
	if err != nil {
		return fmt.Errorf("execution: save trade: %w", err)
	}

	e.positions[sig.Symbol] = &Position{
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryPrice: fillPrice,
		Size:       order.Size,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		EntryTime:  ts,
		EntryFee:   entryFee,
		TradeID:    tradeID,
	}

	e.logger.Info().
		Str("symbol", sig.Symbol).
		Str("direction", string(sig.Direction)).
		Float64("fill", fillPrice).
		Float64("size", order.Size).
		Int64("trade_id", tradeID).
		Msg("position opened")

	if e.events != nil {
		e.events.OnOrderFilled(sig.Symbol, ts)
	}
	return nil
}

// managePosition checks exits on any candle strictly after the entry candle,
// in precedence order: liquidation, stop-loss, take-profit.
func (e *Engine) managePosition(ctx context.Context, symbol string, candle strategy.Candle) error {
	pos := e.positions[symbol]
	if pos == nil || candle.Timestamp <= pos.EntryTime {
		return nil
	}

	liq := e.liquidationPrice(pos)
	ts := candle.Timestamp

	switch pos.Direction {
	case strategy.Long:
		if candle.Low <= liq {
			return e.closePosition(ctx, pos, liq, storage.ExitReasonLiquidated, ts, true)
		}
		if candle.Low <= pos.StopLoss {
			return e.closePosition(ctx, pos, pos.StopLoss, storage.ExitReasonStopLoss, ts, true)
		}
		if candle.High >= pos.TakeProfit {
			return e.closePosition(ctx, pos, pos.TakeProfit, storage.ExitReasonTakeProfit, ts, false)
		}
	case strategy.Short:
		if candle.High >= liq {
			return e.closePosition(ctx, pos, liq, storage.ExitReasonLiquidated, ts, true)
		}
		if candle.High >= pos.StopLoss {
			return e.closePosition(ctx, pos, pos.StopLoss, storage.ExitReasonStopLoss, ts, true)
		}
		if candle.Low <= pos.TakeProfit {
			return e.closePosition(ctx, pos, pos.TakeProfit, storage.ExitReasonTakeProfit, ts, false)
		}
	}
	return nil
}

// liquidationPrice models the leveraged bankruptcy level.
func (e *Engine) liquidationPrice(pos *Position) float64 {
	l := e.leverage.Leverage
	m := e.leverage.MaintenanceMargin
	if pos.Direction == strategy.Long {
		return pos.EntryPrice * (1 - 1/l + m)
	}
	return pos.EntryPrice * (1 + 1/l - m)
}

// closePosition books the exit: slippage on taker exits, exit fee by fill
// role, gross PnL to the balance, net PnL into the risk counters.
func (e *Engine) closePosition(ctx context.Context, pos *Position, rawExit float64, reason string, ts int64, takerExit bool) error {
	exit := rawExit
	feeRate := e.fees.Maker
	if takerExit {
		feeRate = e.fees.Taker
		if pos.Direction == strategy.Long {
			exit *= 1 - e.fees.Slippage
		} else {
			exit *= 1 + e.fees.Slippage
		}
	}

	var gross float64
	if pos.Direction == strategy.Long {
		gross = (exit - pos.EntryPrice) * pos.Size
	} else {
		gross = (pos.EntryPrice - exit) * pos.Size
	}
	exitFee := exit * pos.Size * feeRate
	net := gross - pos.EntryFee - exitFee

	e.portfolio.DeductFee(exitFee)
	e.portfolio.ApplyTradeResult(gross, net)

	if err := e.trades.CloseTrade(ctx, pos.TradeID, exit, ts, reason); err != nil {
		return fmt.Errorf("execution: close trade %d: %w", pos.TradeID, err)
	}
	delete(e.positions, pos.Symbol)

	e.logger.Info().
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Float64("exit", exit).
		Float64("gross_pnl", gross).
		Float64("net_pnl", net).
		Msg("position closed")

	if e.events != nil {
		e.events.OnPositionClosed(pos.Symbol, ts, reason)
	}
	return nil
}

func (e *Engine) notifyExpired(symbol string, ts int64) {
	if e.events != nil {
		e.events.OnOrderExpired(symbol, ts)
	}
}
