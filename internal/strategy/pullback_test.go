package strategy

import (
	"testing"

	"github.com/amadeus05/rangebreak/internal/config"
)

func testPullbackConfig() config.PullbackConfig {
	return config.PullbackConfig{
		MaxDepthPercent:       50,
		PriceTolerancePercent: 0.2,
		MaxWaitMinutes:        120,
	}
}

func longBreakout() *BreakoutSignal {
	return &BreakoutSignal{
		Direction:   Long,
		ImpulseSize: 1.5, // close 101.5 beyond range high 100
		ImpulseHigh: 102,
		ImpulseLow:  99,
		Timestamp:   9_000_000,
		BreakPrice:  101.5,
	}
}

func shortBreakout() *BreakoutSignal {
	return &BreakoutSignal{
		Direction:   Short,
		ImpulseSize: 1.5, // close 93.5 beyond range low 95
		ImpulseHigh: 96,
		ImpulseLow:  93,
		Timestamp:   9_000_000,
		BreakPrice:  93.5,
	}
}

func oneMinute(open, high, low, close float64) []Candle {
	return []Candle{{
		Timestamp: 9_300_000,
		Symbol:    "TEST",
		Timeframe: Timeframe1m,
		Open:      open, High: high, Low: low, Close: close,
		Volume: 500,
	}}
}

func TestPullbackValidator_AcceptsLongRetrace(t *testing.T) {
	v := NewPullbackValidator(testPullbackConfig())

	// A dip that holds above the broken boundary with a close within 0.2%
	// of it is the textbook entry.
	res := v.Check(oneMinute(101, 101, 100.05, 100.1), longBreakout(), testRange(), 0)
	if !res.Valid {
		t.Fatalf("expected valid pullback, depth=%f level=%f", res.DepthPct, res.Level)
	}
	if res.Level != 100 {
		t.Errorf("expected reclaim level 100, got %f", res.Level)
	}
	if res.DepthPct != 0 {
		t.Errorf("expected zero depth above the boundary, got %f", res.DepthPct)
	}
}

func TestPullbackValidator_AllowsShallowPenetration(t *testing.T) {
	v := NewPullbackValidator(testPullbackConfig())

	// Low 99.4 penetrates 0.6 of a 1.5 impulse: 40% <= 50%.
	res := v.Check(oneMinute(100.3, 100.3, 99.4, 100.05), longBreakout(), testRange(), 0)
	if !almostEqual(res.DepthPct, 40) {
		t.Fatalf("expected depth 40%%, got %f", res.DepthPct)
	}
	if !res.Valid {
		t.Error("expected shallow penetration accepted")
	}
}

func TestPullbackValidator_VWAPRaisesLongLevel(t *testing.T) {
	v := NewPullbackValidator(testPullbackConfig())

	// With VWAP above the range high, the reclaim level is the VWAP.
	res := v.Check(oneMinute(101, 101.2, 100.4, 100.6), longBreakout(), testRange(), 100.5)
	if res.Level != 100.5 {
		t.Errorf("expected level 100.5 (VWAP), got %f", res.Level)
	}
	if !res.Valid {
		t.Errorf("expected valid pullback at VWAP, depth=%f", res.DepthPct)
	}
}

func TestPullbackValidator_RejectsDeepRetrace(t *testing.T) {
	v := NewPullbackValidator(testPullbackConfig())

	// Low 99.0 consumes 1.0 of a 1.5 impulse: 66.7% > 50%.
	res := v.Check(oneMinute(100.3, 100.3, 99.0, 100.1), longBreakout(), testRange(), 0)
	if res.DepthPct <= 50 {
		t.Fatalf("test setup wrong: expected depth > 50, got %f", res.DepthPct)
	}
	if res.Valid {
		t.Error("expected deep retrace rejected")
	}
}

func TestPullbackValidator_RejectsFarFromLevel(t *testing.T) {
	v := NewPullbackValidator(testPullbackConfig())

	// Shallow dip but the close never came back near the boundary.
	res := v.Check(oneMinute(101.8, 101.9, 101.2, 101.5), longBreakout(), testRange(), 0)
	if res.Valid {
		t.Errorf("expected rejection when close %.1f is far from level %.1f", 101.5, res.Level)
	}
}

func TestPullbackValidator_AcceptsShortRetrace(t *testing.T) {
	v := NewPullbackValidator(testPullbackConfig())

	// Bounce holds below the broken boundary, close within 0.2% of it.
	res := v.Check(oneMinute(94.2, 94.95, 94.1, 94.9), shortBreakout(), testRange(), 0)
	if !res.Valid {
		t.Fatalf("expected valid short pullback, depth=%f level=%f", res.DepthPct, res.Level)
	}
	if res.Level != 95 {
		t.Errorf("expected reclaim level 95, got %f", res.Level)
	}
}

func TestPullbackValidator_RejectsDeepShortRetrace(t *testing.T) {
	v := NewPullbackValidator(testPullbackConfig())

	// High 95.9 consumes 0.9 of a 1.5 impulse: 60% > 50%.
	res := v.Check(oneMinute(94.8, 95.9, 94.7, 94.95), shortBreakout(), testRange(), 0)
	if res.Valid {
		t.Errorf("expected deep short retrace rejected, depth=%f", res.DepthPct)
	}
}

func TestPullbackValidator_EmptyInputs(t *testing.T) {
	v := NewPullbackValidator(testPullbackConfig())
	if res := v.Check(nil, longBreakout(), testRange(), 0); res.Valid {
		t.Error("expected invalid on empty candles")
	}
	if res := v.Check(oneMinute(101, 101, 100.5, 100.1), nil, testRange(), 0); res.Valid {
		t.Error("expected invalid without breakout")
	}
}

func TestReversalPattern(t *testing.T) {
	pin := Candle{Open: 100.5, High: 100.6, Low: 99, Close: 100.4}
	if got := reversalPattern(pin, Long); got != "pinbar" {
		t.Errorf("expected pinbar, got %q", got)
	}

	engulf := Candle{Open: 100, High: 101.1, Low: 99.9, Close: 101}
	if got := reversalPattern(engulf, Long); got != "engulfing" {
		t.Errorf("expected engulfing, got %q", got)
	}

	doji := Candle{Open: 100, High: 101, Low: 99, Close: 100}
	if got := reversalPattern(doji, Long); got != "" {
		t.Errorf("expected no pattern for doji, got %q", got)
	}
}
