package strategy

import (
	"testing"

	"github.com/amadeus05/rangebreak/internal/config"
)

func testRangeConfig() config.RangeConfig {
	return config.RangeConfig{Window: 30, MinSizeMultiplier: 1.2, MaxSizeMultiplier: 3.5}
}

// makeBracketCandles builds `n` candles oscillating between low and high.
func makeBracketCandles(n int, low, high float64) []Candle {
	candles := make([]Candle, n)
	mid := (low + high) / 2
	for i := range candles {
		price := mid
		if i%2 == 0 {
			price = high - 0.5
		} else {
			price = low + 0.5
		}
		candles[i] = Candle{
			Timestamp: int64(i) * 300_000,
			Symbol:    "TEST",
			Timeframe: Timeframe5m,
			Open:      price,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price,
			Volume:    1000,
		}
	}
	// Pin the extremes so the bracket is exactly [low, high].
	candles[n-2].High = high
	candles[n-1].Low = low
	return candles
}

func TestRangeDetector_FindsValidBracket(t *testing.T) {
	d := NewRangeDetector(testRangeConfig())
	candles := makeBracketCandles(30, 95, 100)

	rng := d.Detect(candles, 2.0) // size 5 within [2.4, 7.0]
	if rng == nil {
		t.Fatal("expected a valid range, got nil")
	}
	if rng.High != 100 || rng.Low != 95 {
		t.Errorf("expected bracket [95, 100], got [%f, %f]", rng.Low, rng.High)
	}
	if rng.Size != 5 {
		t.Errorf("expected size 5, got %f", rng.Size)
	}
	if rng.FormedAt != candles[len(candles)-1].Timestamp {
		t.Errorf("expected formation ts of last bar, got %d", rng.FormedAt)
	}
}

func TestRangeDetector_RejectsTooTight(t *testing.T) {
	d := NewRangeDetector(testRangeConfig())
	candles := makeBracketCandles(30, 95, 100)

	// size 5 < 1.2 * ATR 5
	if rng := d.Detect(candles, 5.0); rng != nil {
		t.Errorf("expected nil for too-tight range, got %+v", rng)
	}
}

func TestRangeDetector_RejectsTooWide(t *testing.T) {
	d := NewRangeDetector(testRangeConfig())
	candles := makeBracketCandles(30, 95, 100)

	// size 5 > 3.5 * ATR 1
	if rng := d.Detect(candles, 1.0); rng != nil {
		t.Errorf("expected nil for too-wide range, got %+v", rng)
	}
}

func TestRangeDetector_RequiresFullWindow(t *testing.T) {
	d := NewRangeDetector(testRangeConfig())
	if rng := d.Detect(makeBracketCandles(20, 95, 100), 2.0); rng != nil {
		t.Errorf("expected nil on short window, got %+v", rng)
	}
	if rng := d.Detect(makeBracketCandles(30, 95, 100), 0); rng != nil {
		t.Errorf("expected nil on zero ATR, got %+v", rng)
	}
}
