// Package strategy - breakout.go tests a just-closed 5m candle against a
// frozen range for an impulsive directional break.
package strategy

import "github.com/amadeus05/rangebreak/internal/config"

// BreakoutDetector validates that a close beyond the range boundary is
// impulsive: a real body, enough participation, and clearance beyond the
// boundary measured in ATR fractions.
type BreakoutDetector struct {
	cfg config.BreakoutConfig
}

// NewBreakoutDetector creates a breakout detector.
func NewBreakoutDetector(cfg config.BreakoutConfig) *BreakoutDetector {
	return &BreakoutDetector{cfg: cfg}
}

// Detect checks the candle against the frozen range. volSMA is the average
// volume of the candles preceding the break candle. Returns nil when no
// valid break exists.
func (d *BreakoutDetector) Detect(candle Candle, rng *MarketRange, atr, volSMA float64) *BreakoutSignal {
	if rng == nil || atr <= 0 {
		return nil
	}
	if candle.BodyPercent() < d.cfg.MinBodyPercent {
		return nil
	}
	if volSMA > 0 && candle.Volume <= d.cfg.VolumeMultiplier*volSMA {
		return nil
	}

	clearance := d.cfg.ATRMultiplier * atr

	if candle.Close > rng.High+clearance {
		return &BreakoutSignal{
			Direction:   Long,
			ImpulseSize: candle.Close - rng.High,
			ImpulseHigh: candle.High,
			ImpulseLow:  candle.Low,
			Timestamp:   candle.Timestamp,
			BreakPrice:  candle.Close,
		}
	}
	if candle.Close < rng.Low-clearance {
		return &BreakoutSignal{
			Direction:   Short,
			ImpulseSize: rng.Low - candle.Close,
			ImpulseHigh: candle.High,
			ImpulseLow:  candle.Low,
			Timestamp:   candle.Timestamp,
			BreakPrice:  candle.Close,
		}
	}
	return nil
}
