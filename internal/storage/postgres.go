// Package storage - postgres.go implements Store on Postgres via pgx.
//
// Schema is created on startup if missing. Candle upserts go through a
// single batched INSERT ... ON CONFLICT so a backtest download of thousands
// of bars is one round trip per batch.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amadeus05/rangebreak/internal/strategy"
)

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol        TEXT             NOT NULL,
	timeframe     TEXT             NOT NULL,
	ts            BIGINT           NOT NULL,
	open          DOUBLE PRECISION NOT NULL,
	high          DOUBLE PRECISION NOT NULL,
	low           DOUBLE PRECISION NOT NULL,
	close         DOUBLE PRECISION NOT NULL,
	volume        DOUBLE PRECISION NOT NULL,
	taker_buy_vol DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, timeframe, ts)
);

CREATE TABLE IF NOT EXISTS trades (
	id          BIGSERIAL PRIMARY KEY,
	signal_id   TEXT             NOT NULL DEFAULT '',
	symbol      TEXT             NOT NULL,
	direction   TEXT             NOT NULL,
	entry_time  BIGINT           NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	size        DOUBLE PRECISION NOT NULL,
	stop_loss   DOUBLE PRECISION NOT NULL,
	take_profit DOUBLE PRECISION NOT NULL,
	exit_time   BIGINT,
	exit_price  DOUBLE PRECISION,
	exit_reason TEXT             NOT NULL DEFAULT '',
	pnl         DOUBLE PRECISION NOT NULL DEFAULT 0,
	pnl_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT             NOT NULL DEFAULT 'OPEN'
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (symbol, status);
`

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection and ensures the schema.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ensure schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CountInRange(ctx context.Context, symbol string, tf strategy.Timeframe, t0, t1 int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM candles WHERE symbol = $1 AND timeframe = $2 AND ts BETWEEN $3 AND $4`,
		symbol, string(tf), t0, t1,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres store: count candles: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetCandles(ctx context.Context, symbol string, tf strategy.Timeframe, t0, t1 int64) ([]strategy.Candle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, open, high, low, close, volume, taker_buy_vol
		 FROM candles
		 WHERE symbol = $1 AND timeframe = $2 AND ts BETWEEN $3 AND $4
		 ORDER BY ts`,
		symbol, string(tf), t0, t1,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get candles: %w", err)
	}
	defer rows.Close()

	var out []strategy.Candle
	for rows.Next() {
		c := strategy.Candle{Symbol: symbol, Timeframe: tf}
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TakerBuyVolume); err != nil {
			return nil, fmt.Errorf("postgres store: scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetLastCandle(ctx context.Context, symbol string, tf strategy.Timeframe) (*strategy.Candle, error) {
	c := strategy.Candle{Symbol: symbol, Timeframe: tf}
	err := s.pool.QueryRow(ctx,
		`SELECT ts, open, high, low, close, volume, taker_buy_vol
		 FROM candles WHERE symbol = $1 AND timeframe = $2
		 ORDER BY ts DESC LIMIT 1`,
		symbol, string(tf),
	).Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TakerBuyVolume)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: last candle: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) SaveCandles(ctx context.Context, candles []strategy.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume, taker_buy_vol)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
				open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
				close = EXCLUDED.close, volume = EXCLUDED.volume,
				taker_buy_vol = EXCLUDED.taker_buy_vol`,
			c.Symbol, string(c.Timeframe), c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume, c.TakerBuyVolume,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres store: save candles: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTrade(ctx context.Context, trade *Trade) (int64, error) {
	status := trade.Status
	if status == "" {
		status = TradeStatusOpen
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO trades (signal_id, symbol, direction, entry_time, entry_price, size, stop_loss, take_profit, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		trade.SignalID, trade.Symbol, string(trade.Direction), trade.EntryTime,
		trade.EntryPrice, trade.Size, trade.StopLoss, trade.TakeProfit, string(status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: save trade: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CloseTrade(ctx context.Context, id int64, exitPrice float64, exitTime int64, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET
			exit_price = $2,
			exit_time = $3,
			exit_reason = $4,
			status = 'CLOSED',
			pnl = CASE WHEN direction = 'LONG'
				THEN ($2 - entry_price) * size
				ELSE (entry_price - $2) * size END,
			pnl_percent = CASE WHEN entry_price * size > 0
				THEN (CASE WHEN direction = 'LONG'
					THEN ($2 - entry_price) * size
					ELSE (entry_price - $2) * size END) / (entry_price * size) * 100
				ELSE 0 END
		 WHERE id = $1`,
		id, exitPrice, exitTime, reason,
	)
	if err != nil {
		return fmt.Errorf("postgres store: close trade %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (s *PostgresStore) GetOpenTrades(ctx context.Context, symbol string) ([]Trade, error) {
	return s.queryTrades(ctx,
		`SELECT id, signal_id, symbol, direction, entry_time, entry_price, size, stop_loss, take_profit,
			exit_time, exit_price, exit_reason, pnl, pnl_percent, status
		 FROM trades
		 WHERE status = 'OPEN' AND ($1 = '' OR symbol = $1)
		 ORDER BY entry_time DESC`,
		symbol)
}

func (s *PostgresStore) GetTradeHistory(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryTrades(ctx,
		`SELECT id, signal_id, symbol, direction, entry_time, entry_price, size, stop_loss, take_profit,
			exit_time, exit_price, exit_reason, pnl, pnl_percent, status
		 FROM trades
		 WHERE ($1 = '' OR symbol = $1)
		 ORDER BY entry_time DESC
		 LIMIT $2`,
		symbol, limit)
}

func (s *PostgresStore) queryTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var direction, status string
		if err := rows.Scan(&t.ID, &t.SignalID, &t.Symbol, &direction, &t.EntryTime, &t.EntryPrice,
			&t.Size, &t.StopLoss, &t.TakeProfit, &t.ExitTime, &t.ExitPrice, &t.ExitReason,
			&t.PnL, &t.PnLPercent, &status); err != nil {
			return nil, fmt.Errorf("postgres store: scan trade: %w", err)
		}
		t.Direction = strategy.Direction(direction)
		t.Status = TradeStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTradeStats(ctx context.Context, symbol string) (*TradeStats, error) {
	stats := &TradeStats{}
	var grossProfit, grossLoss float64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl <= 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN pnl ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl < 0 THEN -pnl ELSE 0 END), 0)
		 FROM trades
		 WHERE status = 'CLOSED' AND ($1 = '' OR symbol = $1)`,
		symbol,
	).Scan(&stats.Total, &stats.Wins, &stats.Losses, &stats.TotalPnL, &grossProfit, &grossLoss)
	if err != nil {
		return nil, fmt.Errorf("postgres store: trade stats: %w", err)
	}
	if stats.Total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Total) * 100
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	}
	return stats, nil
}

func (s *PostgresStore) ClearTrades(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM trades`); err != nil {
		return fmt.Errorf("postgres store: clear trades: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
