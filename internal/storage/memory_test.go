package storage

import (
	"context"
	"math"
	"testing"

	"github.com/amadeus05/rangebreak/internal/strategy"
)

func testCandle(ts int64, close float64) strategy.Candle {
	return strategy.Candle{
		Timestamp: ts,
		Symbol:    "BTCUSDT",
		Timeframe: strategy.Timeframe1m,
		Open:      close, High: close + 1, Low: close - 1, Close: close,
		Volume: 100,
	}
}

func TestMemoryStore_SaveCandlesIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	candles := []strategy.Candle{testCandle(1000, 100), testCandle(2000, 101), testCandle(3000, 102)}
	if err := store.SaveCandles(ctx, candles); err != nil {
		t.Fatal(err)
	}
	// Re-saving the same timestamps must not duplicate.
	updated := testCandle(2000, 105)
	if err := store.SaveCandles(ctx, []strategy.Candle{updated}); err != nil {
		t.Fatal(err)
	}

	count, err := store.CountInRange(ctx, "BTCUSDT", strategy.Timeframe1m, 0, 10_000)
	if err != nil || count != 3 {
		t.Fatalf("expected 3 candles after upsert, got %d (err %v)", count, err)
	}

	got, _ := store.GetCandles(ctx, "BTCUSDT", strategy.Timeframe1m, 2000, 2000)
	if len(got) != 1 || got[0].Close != 105 {
		t.Errorf("expected upserted close 105, got %+v", got)
	}
}

func TestMemoryStore_CandlesOrderedOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Insert out of order.
	if err := store.SaveCandles(ctx, []strategy.Candle{
		testCandle(3000, 102), testCandle(1000, 100), testCandle(2000, 101),
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetCandles(ctx, "BTCUSDT", strategy.Timeframe1m, 0, 10_000)
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp <= got[i-1].Timestamp {
			t.Fatalf("candles not ordered: %d after %d", got[i].Timestamp, got[i-1].Timestamp)
		}
	}

	last, _ := store.GetLastCandle(ctx, "BTCUSDT", strategy.Timeframe1m)
	if last == nil || last.Timestamp != 3000 {
		t.Errorf("expected last candle ts 3000, got %+v", last)
	}
}

func TestMemoryStore_GetLastCandleEmpty(t *testing.T) {
	store := NewMemoryStore()
	last, err := store.GetLastCandle(context.Background(), "NONE", strategy.Timeframe1m)
	if err != nil || last != nil {
		t.Errorf("expected nil, nil on empty store, got %+v, %v", last, err)
	}
}

func TestMemoryStore_TradeLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.SaveTrade(ctx, &Trade{
		Symbol:     "BTCUSDT",
		Direction:  strategy.Long,
		EntryTime:  1000,
		EntryPrice: 100,
		Size:       2,
		StopLoss:   98,
		TakeProfit: 105,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected generated id")
	}

	open, _ := store.GetOpenTrades(ctx, "BTCUSDT")
	if len(open) != 1 || open[0].Status != TradeStatusOpen {
		t.Fatalf("expected one open trade, got %+v", open)
	}

	if err := store.CloseTrade(ctx, id, 105, 2000, ExitReasonTakeProfit); err != nil {
		t.Fatal(err)
	}

	history, _ := store.GetTradeHistory(ctx, "BTCUSDT", 10)
	if len(history) != 1 {
		t.Fatal("expected one trade in history")
	}
	trade := history[0]
	if trade.Status != TradeStatusClosed {
		t.Errorf("expected CLOSED, got %s", trade.Status)
	}
	// Server-side PnL: (105-100) * 2 = 10, 5% on notional 200.
	if math.Abs(trade.PnL-10) > 1e-9 {
		t.Errorf("expected PnL 10, got %f", trade.PnL)
	}
	if math.Abs(trade.PnLPercent-5) > 1e-9 {
		t.Errorf("expected PnL%% 5, got %f", trade.PnLPercent)
	}

	open, _ = store.GetOpenTrades(ctx, "BTCUSDT")
	if len(open) != 0 {
		t.Errorf("expected no open trades after close, got %d", len(open))
	}
}

func TestMemoryStore_ShortPnLSign(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, _ := store.SaveTrade(ctx, &Trade{
		Symbol: "ETHUSDT", Direction: strategy.Short,
		EntryTime: 1000, EntryPrice: 100, Size: 1,
	})
	if err := store.CloseTrade(ctx, id, 90, 2000, ExitReasonTakeProfit); err != nil {
		t.Fatal(err)
	}

	history, _ := store.GetTradeHistory(ctx, "ETHUSDT", 1)
	if history[0].PnL != 10 {
		t.Errorf("short exit below entry must be profit: got %f", history[0].PnL)
	}
}

func TestMemoryStore_CloseUnknownTrade(t *testing.T) {
	store := NewMemoryStore()
	err := store.CloseTrade(context.Background(), 42, 100, 1000, ExitReasonStopLoss)
	if err != ErrTradeNotFound {
		t.Errorf("expected ErrTradeNotFound, got %v", err)
	}
}

func TestMemoryStore_TradeStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Two wins of +10, one loss of -5.
	for _, exit := range []float64{110, 110, 95} {
		id, _ := store.SaveTrade(ctx, &Trade{
			Symbol: "BTCUSDT", Direction: strategy.Long,
			EntryTime: 1000, EntryPrice: 100, Size: 1,
		})
		reason := ExitReasonTakeProfit
		if exit < 100 {
			reason = ExitReasonStopLoss
		}
		if err := store.CloseTrade(ctx, id, exit, 2000, reason); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := store.GetTradeStats(ctx, "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Wins != 2 || stats.Losses != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if math.Abs(stats.WinRate-66.66666666666667) > 1e-9 {
		t.Errorf("expected win rate ~66.7, got %f", stats.WinRate)
	}
	if math.Abs(stats.TotalPnL-15) > 1e-9 {
		t.Errorf("expected total PnL 15, got %f", stats.TotalPnL)
	}
	if math.Abs(stats.ProfitFactor-4) > 1e-9 {
		t.Errorf("expected profit factor 4, got %f", stats.ProfitFactor)
	}

	if err := store.ClearTrades(ctx); err != nil {
		t.Fatal(err)
	}
	stats, _ = store.GetTradeStats(ctx, "BTCUSDT")
	if stats.Total != 0 {
		t.Errorf("expected empty stats after clear, got %+v", stats)
	}
}
