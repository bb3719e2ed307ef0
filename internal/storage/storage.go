// Package storage defines the persistence interfaces and record types.
//
// Two durable stores exist: candles and trades. Candle writes are idempotent
// on (symbol, timeframe, timestamp); trade writes on the generated trade id.
// The backtest driver writes candles, the execution engine writes trades.
package storage

import (
	"context"
	"errors"

	"github.com/amadeus05/rangebreak/internal/strategy"
)

// TradeStatus is the lifecycle state of a persisted trade.
type TradeStatus string

const (
	TradeStatusOpen      TradeStatus = "OPEN"
	TradeStatusClosed    TradeStatus = "CLOSED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
)

// Exit reasons recorded on closed trades.
const (
	ExitReasonStopLoss   = "STOP_LOSS"
	ExitReasonTakeProfit = "TAKE_PROFIT"
	ExitReasonLiquidated = "LIQUIDATED"
	ExitReasonForceClose = "FORCE_CLOSE"
)

// ErrTradeNotFound is returned when a trade id does not exist.
var ErrTradeNotFound = errors.New("trade not found")

// Trade is the persisted record of an entry and (eventually) its exit.
// All timestamps are epoch milliseconds.
type Trade struct {
	ID         int64
	SignalID   string
	Symbol     string
	Direction  strategy.Direction
	EntryTime  int64
	EntryPrice float64
	Size       float64
	StopLoss   float64
	TakeProfit float64

	ExitTime   *int64
	ExitPrice  *float64
	ExitReason string

	PnL        float64
	PnLPercent float64
	Status     TradeStatus
}

// TradeStats summarises closed trades for a symbol.
type TradeStats struct {
	Total        int
	Wins         int
	Losses       int
	WinRate      float64
	TotalPnL     float64
	ProfitFactor float64
}

// CandleStore persists OHLCV history.
type CandleStore interface {
	// CountInRange counts stored candles with t0 <= timestamp <= t1.
	CountInRange(ctx context.Context, symbol string, tf strategy.Timeframe, t0, t1 int64) (int, error)

	// GetCandles returns candles with t0 <= timestamp <= t1, oldest first.
	GetCandles(ctx context.Context, symbol string, tf strategy.Timeframe, t0, t1 int64) ([]strategy.Candle, error)

	// GetLastCandle returns the most recent stored candle, or nil.
	GetLastCandle(ctx context.Context, symbol string, tf strategy.Timeframe) (*strategy.Candle, error)

	// SaveCandles upserts candles, idempotent on (symbol, timeframe, timestamp).
	SaveCandles(ctx context.Context, candles []strategy.Candle) error
}

// TradeStore persists trade records.
type TradeStore interface {
	// SaveTrade inserts an open trade and returns its generated id.
	SaveTrade(ctx context.Context, trade *Trade) (int64, error)

	// CloseTrade records the exit and computes PnL from the stored entry.
	CloseTrade(ctx context.Context, id int64, exitPrice float64, exitTime int64, reason string) error

	// GetOpenTrades returns open trades, newest first. Empty symbol = all.
	GetOpenTrades(ctx context.Context, symbol string) ([]Trade, error)

	// GetTradeHistory returns the most recent trades for a symbol.
	GetTradeHistory(ctx context.Context, symbol string, limit int) ([]Trade, error)

	// GetTradeStats aggregates closed trades. Empty symbol = all symbols.
	GetTradeStats(ctx context.Context, symbol string) (*TradeStats, error)

	// ClearTrades removes every trade record.
	ClearTrades(ctx context.Context) error
}

// Store is the complete persistence surface.
type Store interface {
	CandleStore
	TradeStore

	Ping(ctx context.Context) error
	Close()
}

// grossPnL is the shared server-side PnL rule: sign * size * (exit - entry).
func grossPnL(direction strategy.Direction, entry, exit, size float64) float64 {
	if direction == strategy.Long {
		return (exit - entry) * size
	}
	return (entry - exit) * size
}
