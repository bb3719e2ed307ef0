// Package strategy - regime.go classifies a 5m candle window as tradable.
//
// A range setup is only sought in a market that is neither dead flat nor in
// a runaway trend: ADX and volatility both have to sit inside configured
// bands. Outside those bands the symbol is rejected for this bar.
package strategy

import "github.com/amadeus05/rangebreak/internal/config"

// regimeMinCandles is the minimum 5m history before the filter can decide.
const regimeMinCandles = 30

// regimePeriod is the lookback for both ADX and ATR.
const regimePeriod = 14

// RegimeResult carries the filter decision plus the measured values for
// logging and audit.
type RegimeResult struct {
	Tradable      bool
	ADX           float64
	VolatilityPct float64
}

// RegimeFilter gates new setups on market conditions.
type RegimeFilter struct {
	cfg config.RegimeConfig
}

// NewRegimeFilter creates a regime filter with the given bounds.
func NewRegimeFilter(cfg config.RegimeConfig) *RegimeFilter {
	return &RegimeFilter{cfg: cfg}
}

// Check evaluates the window. Fewer than 30 candles is never tradable.
func (f *RegimeFilter) Check(candles []Candle) RegimeResult {
	if len(candles) < regimeMinCandles {
		return RegimeResult{}
	}

	adx := ADX(candles, regimePeriod)
	atr := ATR(candles, regimePeriod)
	lastClose := candles[len(candles)-1].Close
	if lastClose <= 0 {
		return RegimeResult{ADX: adx}
	}
	volPct := atr / lastClose * 100

	return RegimeResult{
		Tradable: adx >= f.cfg.ADXMin && adx <= f.cfg.ADXMax &&
			volPct >= f.cfg.VolatilityMinPercent && volPct <= f.cfg.VolatilityMaxPercent,
		ADX:           adx,
		VolatilityPct: volPct,
	}
}
