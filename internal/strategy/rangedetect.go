// Package strategy - rangedetect.go scans recent 5m candles for a bracket.
package strategy

import "github.com/amadeus05/rangebreak/internal/config"

// RangeDetector finds the [low, high] bracket over the configured window and
// validates its size against ATR bounds. A range that is too tight carries no
// breakout energy; one that is too wide is already trending.
type RangeDetector struct {
	cfg config.RangeConfig
}

// NewRangeDetector creates a range detector.
func NewRangeDetector(cfg config.RangeConfig) *RangeDetector {
	return &RangeDetector{cfg: cfg}
}

// Detect returns the frozen-candidate range over the last `window` candles,
// or nil when the window is short, ATR is unavailable, or the size falls
// outside [minMult*ATR, maxMult*ATR].
func (d *RangeDetector) Detect(candles []Candle, atr float64) *MarketRange {
	if len(candles) < d.cfg.Window || atr <= 0 {
		return nil
	}

	window := candles[len(candles)-d.cfg.Window:]
	high := window[0].High
	low := window[0].Low
	for _, c := range window[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}

	size := high - low
	if size < d.cfg.MinSizeMultiplier*atr || size > d.cfg.MaxSizeMultiplier*atr {
		return nil
	}

	return &MarketRange{
		High:     high,
		Low:      low,
		Size:     size,
		FormedAt: window[len(window)-1].Timestamp,
	}
}
