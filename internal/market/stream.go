// Package market - stream.go implements the live kline websocket stream.
//
// The stream is an optional complement to REST polling: closed 1m klines are
// delivered as candles on a channel and upserted into the live driver's
// sliding buffers. Losing the connection never stops the driver — the
// stream reconnects with back-off and the REST poll keeps the buffers warm
// in the meantime.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amadeus05/rangebreak/internal/strategy"
)

const (
	streamReadTimeout      = 90 * time.Second
	streamReconnectBackoff = 5 * time.Second
)

// klineEvent is the Binance futures kline stream payload.
type klineEvent struct {
	EventType string `json:"e"`
	Kline     struct {
		StartTime    int64  `json:"t"`
		Symbol       string `json:"s"`
		Interval     string `json:"i"`
		Open         string `json:"o"`
		High         string `json:"h"`
		Low          string `json:"l"`
		Close        string `json:"c"`
		Volume       string `json:"v"`
		TakerBuyVol  string `json:"V"`
		IsClosed     bool   `json:"x"`
	} `json:"k"`
}

// KlineStream subscribes to closed 1m klines for a symbol.
type KlineStream struct {
	wsBaseURL string
	symbol    string
	out       chan strategy.Candle
	logger    zerolog.Logger
}

// NewKlineStream creates a stream for the given symbol. Candles arrive on
// Candles() once Run is started.
func NewKlineStream(wsBaseURL, symbol string, logger zerolog.Logger) *KlineStream {
	return &KlineStream{
		wsBaseURL: wsBaseURL,
		symbol:    symbol,
		out:       make(chan strategy.Candle, 16),
		logger:    logger.With().Str("component", "kline_stream").Str("symbol", symbol).Logger(),
	}
}

// Candles returns the channel of closed 1m candles.
func (s *KlineStream) Candles() <-chan strategy.Candle { return s.out }

// Run connects and reads until the context is cancelled, reconnecting on
// any error. It closes the candle channel on return.
func (s *KlineStream) Run(ctx context.Context) {
	defer close(s.out)

	endpoint := fmt.Sprintf("%s/ws/%s@kline_1m", s.wsBaseURL, strings.ToLower(s.symbol))
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.readLoop(ctx, endpoint); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("stream disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(streamReconnectBackoff):
		}
	}
}

func (s *KlineStream) readLoop(ctx context.Context, endpoint string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	// Unblock the read when the context is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.logger.Info().Msg("kline stream connected")
	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event klineEvent
		if err := json.Unmarshal(message, &event); err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed stream message")
			continue
		}
		if event.EventType != "kline" || !event.Kline.IsClosed {
			continue
		}

		candle := strategy.Candle{
			Timestamp:      event.Kline.StartTime,
			Symbol:         event.Kline.Symbol,
			Timeframe:      strategy.Timeframe(event.Kline.Interval),
			Open:           parseFloat(event.Kline.Open),
			High:           parseFloat(event.Kline.High),
			Low:            parseFloat(event.Kline.Low),
			Close:          parseFloat(event.Kline.Close),
			Volume:         parseFloat(event.Kline.Volume),
			TakerBuyVolume: parseFloat(event.Kline.TakerBuyVol),
		}

		select {
		case s.out <- candle:
		case <-ctx.Done():
			return nil
		default:
			// Slow consumer: drop the oldest pending candle, keep the newest.
			select {
			case <-s.out:
			default:
			}
			s.out <- candle
		}
	}
}
