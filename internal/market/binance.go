// Package market - binance.go implements Feed against the Binance USDT-M
// futures REST API.
//
// API details:
//   - Klines: GET /fapi/v1/klines?symbol=&interval=&limit=[&startTime=]
//     Response: array of arrays, numeric fields as strings.
//   - Ticker: GET /fapi/v1/ticker/price?symbol=
//   - Public endpoints; no signing needed for market data.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amadeus05/rangebreak/internal/strategy"
)

// BinanceFeed fetches candles and prices from Binance futures.
type BinanceFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewBinanceFeed creates a feed against the given base URL
// (e.g. https://fapi.binance.com).
func NewBinanceFeed(baseURL string) *BinanceFeed {
	return &BinanceFeed{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BinanceFeed) FetchCandles(ctx context.Context, symbol string, tf strategy.Timeframe, limit int, startTime int64) ([]strategy.Candle, error) {
	if limit <= 0 || limit > MaxCandlesPerRequest {
		limit = MaxCandlesPerRequest
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	params.Set("limit", strconv.Itoa(limit))
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}

	endpoint := fmt.Sprintf("%s/fapi/v1/klines?%s", b.baseURL, params.Encode())
	body, err := b.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var rawKlines [][]any
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("binance feed: parse klines: %w", err)
	}

	candles := make([]strategy.Candle, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 10 {
			return nil, fmt.Errorf("binance feed: malformed kline entry of length %d", len(raw))
		}
		openTime, ok := raw[0].(float64)
		if !ok {
			return nil, fmt.Errorf("binance feed: malformed kline open time")
		}
		candles = append(candles, strategy.Candle{
			Timestamp:      int64(openTime),
			Symbol:         symbol,
			Timeframe:      tf,
			Open:           parseFloat(raw[1]),
			High:           parseFloat(raw[2]),
			Low:            parseFloat(raw[3]),
			Close:          parseFloat(raw[4]),
			Volume:         parseFloat(raw[5]),
			TakerBuyVolume: parseFloat(raw[9]),
		})
	}
	return candles, nil
}

func (b *BinanceFeed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	endpoint := fmt.Sprintf("%s/fapi/v1/ticker/price?%s", b.baseURL, params.Encode())
	body, err := b.get(ctx, endpoint)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, fmt.Errorf("binance feed: parse ticker: %w", err)
	}
	return ticker.Price, nil
}

func (b *BinanceFeed) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("binance feed: create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance feed: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance feed: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance feed: API error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// parseFloat handles the string-encoded numerics of the kline payload.
func parseFloat(v any) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}
