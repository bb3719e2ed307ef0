// Package market handles market data ingestion.
//
// Design rules:
//   - Market data is a data concern, separate from order execution.
//   - Strategies never talk to the feed; drivers fetch, stores cache.
//   - Transient feed errors are retried with exponential back-off; after
//     three attempts the caller proceeds with whatever the store holds.
package market

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/amadeus05/rangebreak/internal/strategy"
)

// MaxCandlesPerRequest is the hard per-call limit of the exchange kline API.
const MaxCandlesPerRequest = 1000

// Feed is the exchange data contract consumed by the drivers.
type Feed interface {
	// FetchCandles returns up to `limit` candles oldest-first. startTime 0
	// means "the most recent candles"; otherwise candles start at or after
	// startTime (epoch ms). limit is capped at MaxCandlesPerRequest.
	FetchCandles(ctx context.Context, symbol string, tf strategy.Timeframe, limit int, startTime int64) ([]strategy.Candle, error)

	// CurrentPrice returns the latest traded price. Live mode only.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Gateway is the live order-execution contract. The backtest engine never
// uses it — fills are simulated internally — and live gateway variants plug
// in behind this interface.
type Gateway interface {
	PlaceOrder(ctx context.Context, sig *strategy.TradingSignal, size float64) (orderID string, err error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetPosition(ctx context.Context, symbol string) (size float64, entryPrice float64, err error)
	ClosePosition(ctx context.Context, symbol string) error
}

const (
	retryAttempts  = 3
	retryInitial   = time.Second
	perCallTimeout = 10 * time.Second
)

// RetryingFeed wraps a Feed with the standard retry policy: up to three
// attempts with exponential back-off and a 10 second per-call timeout.
type RetryingFeed struct {
	inner  Feed
	logger zerolog.Logger
}

// NewRetryingFeed wraps the given feed.
func NewRetryingFeed(inner Feed, logger zerolog.Logger) *RetryingFeed {
	return &RetryingFeed{
		inner:  inner,
		logger: logger.With().Str("component", "feed").Logger(),
	}
}

func (f *RetryingFeed) FetchCandles(ctx context.Context, symbol string, tf strategy.Timeframe, limit int, startTime int64) ([]strategy.Candle, error) {
	var out []strategy.Candle
	err := f.retry(ctx, func(callCtx context.Context) error {
		var err error
		out, err = f.inner.FetchCandles(callCtx, symbol, tf, limit, startTime)
		return err
	})
	return out, err
}

func (f *RetryingFeed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := f.retry(ctx, func(callCtx context.Context) error {
		var err error
		price, err = f.inner.CurrentPrice(callCtx, symbol)
		return err
	})
	return price, err
}

func (f *RetryingFeed) retry(ctx context.Context, op func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitial
	policy.RandomizationFactor = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
		defer cancel()

		err := op(callCtx)
		if err != nil {
			f.logger.Warn().Err(err).Int("attempt", attempt).Msg("feed call failed")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, retryAttempts-1), ctx))
}
