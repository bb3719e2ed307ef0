// Package storage - memory.go implements Store in memory.
//
// The memory store backs backtests run without a database and all package
// tests. It applies the same idempotency and PnL rules as the Postgres
// implementation so the two are interchangeable behind the Store interface.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/amadeus05/rangebreak/internal/strategy"
)

type candleKey struct {
	symbol string
	tf     strategy.Timeframe
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu      sync.Mutex
	candles map[candleKey][]strategy.Candle // sorted by timestamp
	trades  map[int64]*Trade
	order   []int64 // insertion order of trade ids
	nextID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles: make(map[candleKey][]strategy.Candle),
		trades:  make(map[int64]*Trade),
	}
}

func (m *MemoryStore) CountInRange(_ context.Context, symbol string, tf strategy.Timeframe, t0, t1 int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, c := range m.candles[candleKey{symbol, tf}] {
		if c.Timestamp >= t0 && c.Timestamp <= t1 {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) GetCandles(_ context.Context, symbol string, tf strategy.Timeframe, t0, t1 int64) ([]strategy.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []strategy.Candle
	for _, c := range m.candles[candleKey{symbol, tf}] {
		if c.Timestamp >= t0 && c.Timestamp <= t1 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetLastCandle(_ context.Context, symbol string, tf strategy.Timeframe) (*strategy.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	series := m.candles[candleKey{symbol, tf}]
	if len(series) == 0 {
		return nil, nil
	}
	last := series[len(series)-1]
	return &last, nil
}

func (m *MemoryStore) SaveCandles(_ context.Context, candles []strategy.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range candles {
		key := candleKey{c.Symbol, c.Timeframe}
		series := m.candles[key]

		// Upsert on timestamp, keeping the series sorted at all times.
		idx := sort.Search(len(series), func(i int) bool { return series[i].Timestamp >= c.Timestamp })
		if idx < len(series) && series[idx].Timestamp == c.Timestamp {
			series[idx] = c
		} else {
			series = append(series, strategy.Candle{})
			copy(series[idx+1:], series[idx:])
			series[idx] = c
		}
		m.candles[key] = series
	}
	return nil
}

func (m *MemoryStore) SaveTrade(_ context.Context, trade *Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	stored := *trade
	stored.ID = m.nextID
	if stored.Status == "" {
		stored.Status = TradeStatusOpen
	}
	m.trades[stored.ID] = &stored
	m.order = append(m.order, stored.ID)
	return stored.ID, nil
}

func (m *MemoryStore) CloseTrade(_ context.Context, id int64, exitPrice float64, exitTime int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.trades[id]
	if !ok {
		return ErrTradeNotFound
	}

	trade.ExitPrice = &exitPrice
	trade.ExitTime = &exitTime
	trade.ExitReason = reason
	trade.Status = TradeStatusClosed
	trade.PnL = grossPnL(trade.Direction, trade.EntryPrice, exitPrice, trade.Size)
	if notional := trade.EntryPrice * trade.Size; notional > 0 {
		trade.PnLPercent = trade.PnL / notional * 100
	}
	return nil
}

func (m *MemoryStore) GetOpenTrades(_ context.Context, symbol string) ([]Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Trade
	for i := len(m.order) - 1; i >= 0; i-- {
		t := m.trades[m.order[i]]
		if t.Status != TradeStatusOpen {
			continue
		}
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *MemoryStore) GetTradeHistory(_ context.Context, symbol string, limit int) ([]Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Trade
	for i := len(m.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		t := m.trades[m.order[i]]
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *MemoryStore) GetTradeStats(_ context.Context, symbol string) (*TradeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &TradeStats{}
	var grossProfit, grossLoss float64
	for _, id := range m.order {
		t := m.trades[id]
		if t.Status != TradeStatusClosed {
			continue
		}
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		stats.Total++
		stats.TotalPnL += t.PnL
		if t.PnL > 0 {
			stats.Wins++
			grossProfit += t.PnL
		} else {
			stats.Losses++
			grossLoss += -t.PnL
		}
	}
	if stats.Total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Total) * 100
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	}
	return stats, nil
}

func (m *MemoryStore) ClearTrades(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades = make(map[int64]*Trade)
	m.order = nil
	m.nextID = 0
	return nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Close() {}
