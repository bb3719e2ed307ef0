// Package portfolio implements account state and the kill switch.
//
// Design rules:
//   - Capital preservation > returns: once the kill switch trips it stays
//     tripped for the rest of the UTC day, no matter how balance moves.
//   - The portfolio is the only cross-symbol mutable state in the system.
//     It is touched only by the execution engine (fees, trade results) and
//     the driver (daily reset, equity snapshots), always single-threaded.
package portfolio

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/amadeus05/rangebreak/internal/config"
)

// Snapshot is one point on the equity curve.
type Snapshot struct {
	Timestamp int64 // epoch ms
	Equity    float64
}

// Portfolio tracks balance, rolling daily loss, the losing streak, peak
// equity and drawdown.
type Portfolio struct {
	cfg     config.RiskConfig
	balance float64

	dailyLoss         float64 // accumulated |net| of losing trades this UTC day
	consecutiveLosses int
	lastDay           time.Time // UTC midnight of the last processed day

	tripped    bool
	tripReason string

	peakEquity  float64
	maxDrawdown float64 // fraction of peak, worst observed
	equityCurve []Snapshot

	logger zerolog.Logger
}

// New creates a portfolio with the given starting balance.
func New(cfg config.RiskConfig, initialBalance float64, logger zerolog.Logger) *Portfolio {
	return &Portfolio{
		cfg:        cfg,
		balance:    initialBalance,
		peakEquity: initialBalance,
		logger:     logger.With().Str("component", "portfolio").Logger(),
	}
}

// Balance returns the current account balance.
func (p *Portfolio) Balance() float64 { return p.balance }

// DailyLoss returns the accumulated loss for the current UTC day.
func (p *Portfolio) DailyLoss() float64 { return p.dailyLoss }

// ConsecutiveLosses returns the current losing streak.
func (p *Portfolio) ConsecutiveLosses() int { return p.consecutiveLosses }

// MaxDrawdown returns the worst peak-to-trough equity drawdown as a fraction.
func (p *Portfolio) MaxDrawdown() float64 { return p.maxDrawdown }

// EquityCurve returns the recorded equity snapshots.
func (p *Portfolio) EquityCurve() []Snapshot { return p.equityCurve }

// TripReason returns why the kill switch tripped, or "" when it hasn't.
func (p *Portfolio) TripReason() string { return p.tripReason }

// CanTrade reports whether new entries are allowed. The decision latches:
// once false it stays false until ResetDailyStats observes a new UTC day.
func (p *Portfolio) CanTrade() bool {
	if p.tripped {
		return false
	}
	if p.balance > 0 && p.dailyLoss/p.balance >= p.cfg.MaxDailyLossPercent/100 {
		p.trip("daily loss limit reached")
		return false
	}
	if p.consecutiveLosses >= p.cfg.MaxConsecutiveLosses {
		p.trip("consecutive loss limit reached")
		return false
	}
	return true
}

func (p *Portfolio) trip(reason string) {
	p.tripped = true
	p.tripReason = reason
	p.logger.Warn().
		Str("reason", reason).
		Float64("daily_loss", p.dailyLoss).
		Int("consecutive_losses", p.consecutiveLosses).
		Msg("kill switch tripped")
}

// ResetDailyStats zeroes the rolling counters when ts falls on a new UTC
// calendar day. Called by the driver on every tick.
func (p *Portfolio) ResetDailyStats(ts int64) {
	day := time.UnixMilli(ts).UTC().Truncate(24 * time.Hour)
	if !day.After(p.lastDay) {
		return
	}
	if !p.lastDay.IsZero() && p.tripped {
		p.logger.Info().Str("day", day.Format("2006-01-02")).Msg("new UTC day, kill switch re-armed")
	}
	p.lastDay = day
	p.dailyLoss = 0
	p.consecutiveLosses = 0
	p.tripped = false
	p.tripReason = ""
}

// DeductFee subtracts a fee from the balance. Entry fees are charged at
// open, exit fees at close; never both at once.
func (p *Portfolio) DeductFee(fee float64) {
	p.balance -= fee
}

// ApplyTradeResult credits the gross PnL to the balance and feeds the net
// PnL (gross minus both fees) into the streak and daily-loss accounting.
// The fees themselves were already deducted via DeductFee, so the total
// balance change per trade equals the net PnL exactly.
func (p *Portfolio) ApplyTradeResult(grossPnL, netPnL float64) {
	p.balance += grossPnL

	if netPnL < 0 {
		p.dailyLoss += -netPnL
		p.consecutiveLosses++
	} else if netPnL > 0 {
		p.consecutiveLosses = 0
	}

	if p.balance > p.peakEquity {
		p.peakEquity = p.balance
	}
	if p.peakEquity > 0 {
		if dd := (p.peakEquity - p.balance) / p.peakEquity; dd > p.maxDrawdown {
			p.maxDrawdown = dd
		}
	}
}

// RecordEquity appends a snapshot of the current balance to the curve.
func (p *Portfolio) RecordEquity(ts int64) {
	p.equityCurve = append(p.equityCurve, Snapshot{Timestamp: ts, Equity: p.balance})
	if p.balance > p.peakEquity {
		p.peakEquity = p.balance
	}
	if p.peakEquity > 0 {
		if dd := (p.peakEquity - p.balance) / p.peakEquity; dd > p.maxDrawdown {
			p.maxDrawdown = dd
		}
	}
}
