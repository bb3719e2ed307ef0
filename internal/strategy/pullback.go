// Package strategy - pullback.go validates a 1m retracement back toward the
// broken range boundary (or session VWAP) after an impulsive break.
//
// A pullback that retraces more than the allowed share of the impulse is a
// failed breakout, not an entry.
package strategy

import "github.com/amadeus05/rangebreak/internal/config"

// PullbackResult carries the decision plus measured values for logging.
type PullbackResult struct {
	Valid    bool
	DepthPct float64 // penetration beyond the broken level, as % of the impulse
	Level    float64 // reclaim level: max(rangeHigh, vwap) for longs
	Pattern  string  // optional reversal pattern tag, "" if none
}

// PullbackValidator checks retracement depth and proximity to the reclaim
// level on the 1m stream.
type PullbackValidator struct {
	cfg config.PullbackConfig
}

// NewPullbackValidator creates a pullback validator.
func NewPullbackValidator(cfg config.PullbackConfig) *PullbackValidator {
	return &PullbackValidator{cfg: cfg}
}

// Check evaluates the latest 1m candle against the breakout and the frozen
// range. vwap is the session VWAP over the 1m stream; a zero vwap falls back
// to the range boundary alone.
func (v *PullbackValidator) Check(candles1m []Candle, bo *BreakoutSignal, rng *MarketRange, vwap float64) PullbackResult {
	if len(candles1m) == 0 || bo == nil || rng == nil {
		return PullbackResult{}
	}
	cur := candles1m[len(candles1m)-1]

	impulse := bo.ImpulseSize
	if impulse <= 0 {
		return PullbackResult{}
	}

	switch bo.Direction {
	case Long:
		level := rng.High
		if vwap > level {
			level = vwap
		}
		// Depth counts only penetration back through the broken boundary:
		// a dip that holds above it is a zero-depth pullback.
		depth := (rng.High - cur.Low) / impulse * 100
		if depth < 0 {
			depth = 0
		}
		res := PullbackResult{DepthPct: depth, Level: level, Pattern: reversalPattern(cur, Long)}
		res.Valid = depth <= v.cfg.MaxDepthPercent && withinPercent(cur.Close, level, v.cfg.PriceTolerancePercent)
		return res

	case Short:
		level := rng.Low
		if vwap > 0 && vwap < level {
			level = vwap
		}
		depth := (cur.High - rng.Low) / impulse * 100
		if depth < 0 {
			depth = 0
		}
		res := PullbackResult{DepthPct: depth, Level: level, Pattern: reversalPattern(cur, Short)}
		res.Valid = depth <= v.cfg.MaxDepthPercent && withinPercent(cur.Close, level, v.cfg.PriceTolerancePercent)
		return res
	}
	return PullbackResult{}
}

// withinPercent reports whether price is within tol% of level.
func withinPercent(price, level, tol float64) bool {
	if level <= 0 {
		return false
	}
	diff := price - level
	if diff < 0 {
		diff = -diff
	}
	return diff/level*100 <= tol
}

// reversalPattern tags the candle with a simple reversal pattern, if any.
// Pinbar: rejection wick more than twice the body. Engulfing is approximated
// by a dominant directional body.
func reversalPattern(c Candle, dir Direction) string {
	body := c.Body()
	switch dir {
	case Long:
		if c.LowerWick() > 2*body && body > 0 {
			return "pinbar"
		}
		if c.IsBullish() && c.BodyPercent() > 70 {
			return "engulfing"
		}
	case Short:
		if c.UpperWick() > 2*body && body > 0 {
			return "pinbar"
		}
		if !c.IsBullish() && c.BodyPercent() > 70 {
			return "engulfing"
		}
	}
	return ""
}
