package market

import (
	"testing"

	"github.com/amadeus05/rangebreak/internal/strategy"
)

func bufCandle(ts int64, close float64) strategy.Candle {
	return strategy.Candle{
		Timestamp: ts,
		Symbol:    "BTCUSDT",
		Timeframe: strategy.Timeframe1m,
		Open:      close, High: close + 1, Low: close - 1, Close: close,
		Volume: 100,
	}
}

func TestSlidingBuffer_AppendAndTrim(t *testing.T) {
	b := NewSlidingBuffer(3)
	for i := int64(0); i < 5; i++ {
		b.Upsert(bufCandle(i*60_000, float64(100+i)))
	}

	if b.Len() != 3 {
		t.Fatalf("expected capacity trim to 3, got %d", b.Len())
	}
	candles := b.Candles()
	if candles[0].Timestamp != 120_000 {
		t.Errorf("expected oldest retained ts 120000, got %d", candles[0].Timestamp)
	}
	if b.Last().Timestamp != 240_000 {
		t.Errorf("expected newest ts 240000, got %d", b.Last().Timestamp)
	}
}

func TestSlidingBuffer_UpsertReplacesMatchingTimestamp(t *testing.T) {
	b := NewSlidingBuffer(10)
	b.Upsert(bufCandle(60_000, 100))
	b.Upsert(bufCandle(120_000, 101))

	// Same timestamp again with revised values: replaced, not duplicated.
	b.Upsert(bufCandle(120_000, 105))
	if b.Len() != 2 {
		t.Fatalf("expected 2 candles after upsert, got %d", b.Len())
	}
	if b.Last().Close != 105 {
		t.Errorf("expected revised close 105, got %f", b.Last().Close)
	}

	// Replacing an interior bar also works.
	b.Upsert(bufCandle(180_000, 102))
	b.Upsert(bufCandle(120_000, 99))
	if b.Len() != 3 {
		t.Fatalf("expected 3 candles, got %d", b.Len())
	}
	if b.Candles()[1].Close != 99 {
		t.Errorf("expected interior replacement, got %f", b.Candles()[1].Close)
	}
}

func TestSlidingBuffer_OutOfOrderInsert(t *testing.T) {
	b := NewSlidingBuffer(10)
	b.Upsert(bufCandle(60_000, 100))
	b.Upsert(bufCandle(180_000, 102))
	b.Upsert(bufCandle(120_000, 101))

	candles := b.Candles()
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp <= candles[i-1].Timestamp {
			t.Fatalf("buffer not sorted at %d", i)
		}
	}
}

func TestSlidingBuffer_ClosedBy(t *testing.T) {
	b := NewSlidingBuffer(10)
	b.Upsert(bufCandle(60_000, 100))
	b.Upsert(bufCandle(120_000, 101))
	b.Upsert(bufCandle(180_000, 102)) // closes at 240_000

	// At t=200000 the last bar is still forming.
	closed := b.ClosedBy(200_000)
	if len(closed) != 2 {
		t.Fatalf("expected 2 closed bars at t=200000, got %d", len(closed))
	}
	if closed[len(closed)-1].Timestamp != 120_000 {
		t.Errorf("expected newest closed ts 120000, got %d", closed[len(closed)-1].Timestamp)
	}

	if got := b.ClosedBy(240_000); len(got) != 3 {
		t.Errorf("expected all bars closed at t=240000, got %d", len(got))
	}
	if got := b.ClosedBy(0); len(got) != 0 {
		t.Errorf("expected no bars closed at t=0, got %d", len(got))
	}
}

func TestSlidingBuffer_Empty(t *testing.T) {
	b := NewSlidingBuffer(5)
	if b.Last() != nil {
		t.Error("expected nil Last on empty buffer")
	}
	if got := b.ClosedBy(1_000_000); len(got) != 0 {
		t.Errorf("expected empty window, got %d", len(got))
	}
}
