// Package market - buffer.go provides the sliding candle window used by the
// live driver.
package market

import "github.com/amadeus05/rangebreak/internal/strategy"

// SlidingBuffer holds the most recent candles of one (symbol, timeframe)
// pair, upserting on matching timestamps so REST polls and the websocket
// stream can both write into it.
type SlidingBuffer struct {
	capacity int
	candles  []strategy.Candle // sorted by timestamp
}

// NewSlidingBuffer creates a buffer with the given capacity.
func NewSlidingBuffer(capacity int) *SlidingBuffer {
	return &SlidingBuffer{capacity: capacity}
}

// Upsert inserts or replaces the candle by timestamp, then trims the oldest
// entries beyond capacity. Out-of-order inserts older than the window are
// dropped.
func (b *SlidingBuffer) Upsert(c strategy.Candle) {
	n := len(b.candles)

	// Common cases first: replace the newest bar or append after it.
	if n > 0 {
		last := b.candles[n-1].Timestamp
		switch {
		case c.Timestamp == last:
			b.candles[n-1] = c
			return
		case c.Timestamp > last:
			b.candles = append(b.candles, c)
			b.trim()
			return
		}
	} else {
		b.candles = append(b.candles, c)
		return
	}

	for i := n - 2; i >= 0; i-- {
		if b.candles[i].Timestamp == c.Timestamp {
			b.candles[i] = c
			return
		}
		if b.candles[i].Timestamp < c.Timestamp {
			b.candles = append(b.candles[:i+1], append([]strategy.Candle{c}, b.candles[i+1:]...)...)
			b.trim()
			return
		}
	}
	// Older than everything retained: ignore.
}

func (b *SlidingBuffer) trim() {
	if b.capacity > 0 && len(b.candles) > b.capacity {
		b.candles = b.candles[len(b.candles)-b.capacity:]
	}
}

// Len returns the number of buffered candles.
func (b *SlidingBuffer) Len() int { return len(b.candles) }

// Candles returns the buffered window, oldest first. The returned slice is
// shared; callers must not mutate it.
func (b *SlidingBuffer) Candles() []strategy.Candle { return b.candles }

// Last returns the newest candle, or nil when empty.
func (b *SlidingBuffer) Last() *strategy.Candle {
	if len(b.candles) == 0 {
		return nil
	}
	return &b.candles[len(b.candles)-1]
}

// ClosedBy returns the prefix of candles whose close time is <= ts.
func (b *SlidingBuffer) ClosedBy(ts int64) []strategy.Candle {
	i := len(b.candles)
	for i > 0 && b.candles[i-1].CloseTime() > ts {
		i--
	}
	return b.candles[:i]
}
