// Package strategy - indicators.go provides the shared technical indicator
// primitives used by the regime filter, the detectors and the orchestrator.
//
// All functions are stateless and deterministic — the same input slice always
// yields the same value. They return 0 on insufficient input and never mutate
// their arguments.
package strategy

import (
	"math"
	"time"
)

// ATR computes Wilder's Average True Range: the seed is the simple average of
// the first `period` true ranges, then ATR_k = ((period-1)*ATR_{k-1} + TR_k) / period.
func ATR(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += trueRange(candles[i], candles[i-1])
	}
	atr /= float64(period)

	for i := period + 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1])
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

func trueRange(curr, prev Candle) float64 {
	tr := curr.High - curr.Low
	if hc := math.Abs(curr.High - prev.Close); hc > tr {
		tr = hc
	}
	if lc := math.Abs(curr.Low - prev.Close); lc > tr {
		tr = lc
	}
	return tr
}

// ADX computes Wilder's Average Directional Index. +DM, -DM and TR are
// Wilder-smoothed into the directional indicators, and the resulting DX
// series is Wilder-smoothed again into the ADX. Needs at least 2*period+1
// candles; returns 0 otherwise.
func ADX(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < 2*period+1 {
		return 0
	}

	var smTR, smPlusDM, smMinusDM float64
	for i := 1; i <= period; i++ {
		plusDM, minusDM := directionalMovement(candles[i], candles[i-1])
		smPlusDM += plusDM
		smMinusDM += minusDM
		smTR += trueRange(candles[i], candles[i-1])
	}

	dx := func() float64 {
		if smTR == 0 {
			return 0
		}
		plusDI := 100 * smPlusDM / smTR
		minusDI := 100 * smMinusDM / smTR
		sum := plusDI + minusDI
		if sum == 0 {
			return 0
		}
		return 100 * math.Abs(plusDI-minusDI) / sum
	}

	// Seed the ADX with the average of the first `period` DX values.
	adx := dx()
	seeded := 1
	i := period + 1
	for ; i < len(candles) && seeded < period; i++ {
		plusDM, minusDM := directionalMovement(candles[i], candles[i-1])
		smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM
		smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM
		smTR = smTR - smTR/float64(period) + trueRange(candles[i], candles[i-1])
		adx += dx()
		seeded++
	}
	adx /= float64(seeded)

	// Wilder-smooth the remaining DX values into the ADX.
	for ; i < len(candles); i++ {
		plusDM, minusDM := directionalMovement(candles[i], candles[i-1])
		smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM
		smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM
		smTR = smTR - smTR/float64(period) + trueRange(candles[i], candles[i-1])
		adx = (adx*float64(period-1) + dx()) / float64(period)
	}
	return adx
}

func directionalMovement(curr, prev Candle) (plusDM, minusDM float64) {
	upMove := curr.High - prev.High
	downMove := prev.Low - curr.Low
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	return plusDM, minusDM
}

// EMA computes the exponential moving average of values, seeded with the SMA
// of the first `period` values.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	ema := 0.0
	for i := 0; i < period; i++ {
		ema += values[i]
	}
	ema /= float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
	}
	return ema
}

// SMA computes the simple moving average of the last `period` values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	var sum float64
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// VWAP computes the volume-weighted average of typical price over the window.
func VWAP(candles []Candle) float64 {
	var pv, vol float64
	for _, c := range candles {
		pv += c.TypicalPrice() * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// SessionVWAP computes the VWAP anchored to the UTC calendar day of `now`.
// The anchor is derived purely from candle timestamps, so reruns over the
// same data produce the same value.
func SessionVWAP(candles []Candle, now int64) float64 {
	start := time.UnixMilli(now).UTC().Truncate(24 * time.Hour).UnixMilli()

	i := len(candles)
	for i > 0 && candles[i-1].Timestamp >= start {
		i--
	}
	return VWAP(candles[i:])
}

// RSI computes Wilder's Relative Strength Index over the value series.
// Returns 0 on insufficient input.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// StdDev computes the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// ZScore returns (last - SMA) / sigma over the last `period` values.
// Returns 0 on insufficient input or zero dispersion.
func ZScore(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	window := values[len(values)-period:]
	sigma := StdDev(window)
	if sigma == 0 {
		return 0
	}
	return (window[len(window)-1] - SMA(window, period)) / sigma
}

// AverageVolume computes the mean volume of the last `period` candles.
func AverageVolume(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	return sum / float64(period)
}

// Closes extracts the close series from a candle window.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
