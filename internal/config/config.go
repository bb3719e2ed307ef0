// Package config provides application-wide configuration management.
// Configuration is loaded from an optional JSON file with environment
// variable overrides (a .env file is honored via godotenv). Indicator
// periods, the regime window and the stop-distance factors are constants
// of the strategy package; the other strategy and execution parameters
// come from here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all system configuration.
// Loaded once at startup and passed as read-only to all components.
type Config struct {
	// InitialBalance is the starting account balance in quote currency (USDT).
	InitialBalance float64 `json:"initial_balance"`

	// Symbols are the default trading symbols when the CLI gives none.
	Symbols []string `json:"symbols"`

	// DatabaseURL is the Postgres connection string. Empty selects the
	// in-memory store (backtests without persistence).
	DatabaseURL string `json:"database_url"`

	Exchange ExchangeConfig `json:"exchange"`
	Risk     RiskConfig     `json:"risk"`
	Fees     FeeConfig      `json:"fees"`
	Leverage LeverageConfig `json:"leverage"`
	Range    RangeConfig    `json:"range"`
	Breakout BreakoutConfig `json:"breakout"`
	Pullback PullbackConfig `json:"pullback"`
	Regime   RegimeConfig   `json:"regime"`
	Backtest BacktestConfig `json:"backtest"`
	Live     LiveConfig     `json:"live"`
	Log      LogConfig      `json:"log"`
}

// ExchangeConfig holds data-feed endpoints and credentials.
type ExchangeConfig struct {
	BaseURL   string `json:"base_url"`
	WSBaseURL string `json:"ws_base_url"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`

	// UseWebsocket enables the live kline stream alongside REST polling.
	UseWebsocket bool `json:"use_websocket"`
}

// RiskConfig defines the hard risk guardrails enforced by the portfolio
// manager. These cannot be overridden by the strategy.
type RiskConfig struct {
	// RiskPercentPerTrade is the fraction of balance risked per trade (%).
	RiskPercentPerTrade float64 `json:"risk_percent_per_trade"`

	// MaxDailyLossPercent trips the kill switch for the rest of the UTC day.
	MaxDailyLossPercent float64 `json:"max_daily_loss_percent"`

	// MaxConsecutiveLosses trips the kill switch until the daily reset.
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	// RRRatio is the take-profit distance as a multiple of the stop distance.
	RRRatio float64 `json:"rr_ratio"`
}

// FeeConfig models execution realism.
type FeeConfig struct {
	Maker    float64 `json:"maker"`
	Taker    float64 `json:"taker"`
	Slippage float64 `json:"slippage"`
}

// LeverageConfig models the liquidation price.
type LeverageConfig struct {
	Leverage          float64 `json:"leverage"`
	MaintenanceMargin float64 `json:"maintenance_margin"`
}

// RangeConfig parameterises the range detector.
type RangeConfig struct {
	Window            int     `json:"window"`
	MinSizeMultiplier float64 `json:"min_size_multiplier"`
	MaxSizeMultiplier float64 `json:"max_size_multiplier"`
}

// BreakoutConfig parameterises the breakout detector.
type BreakoutConfig struct {
	ATRMultiplier    float64 `json:"atr_multiplier"`
	MinBodyPercent   float64 `json:"min_body_percent"`
	VolumePeriod     int     `json:"volume_period"`
	VolumeMultiplier float64 `json:"volume_multiplier"`
}

// PullbackConfig parameterises the pullback validator and its timeout.
type PullbackConfig struct {
	MaxDepthPercent       float64 `json:"max_depth_percent"`
	PriceTolerancePercent float64 `json:"price_tolerance_percent"`
	MaxWaitMinutes        int     `json:"max_wait_minutes"`
}

// RegimeConfig bounds the tradable market regime.
type RegimeConfig struct {
	ADXMin               float64 `json:"adx_min"`
	ADXMax               float64 `json:"adx_max"`
	VolatilityMinPercent float64 `json:"volatility_min_percent"`
	VolatilityMaxPercent float64 `json:"volatility_max_percent"`
}

// BacktestConfig controls the backtest driver.
type BacktestConfig struct {
	Days int `json:"days"`

	// WarmupBars is the number of 5m bars skipped before trading starts.
	WarmupBars int `json:"warmup_bars"`

	// MinCoverage is the stored/expected candle ratio below which the
	// driver downloads the gap from the data feed.
	MinCoverage float64 `json:"min_coverage"`
}

// LiveConfig controls the live driver loop.
type LiveConfig struct {
	TickIntervalMS int `json:"tick_interval_ms"`
	BackoffMS      int `json:"backoff_ms"`
	BufferSize     int `json:"buffer_size"`
	InitialCandles int `json:"initial_candles"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Default returns the configuration with all documented defaults applied.
func Default() *Config {
	return &Config{
		InitialBalance: 10000,
		Symbols:        []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		Exchange: ExchangeConfig{
			BaseURL:   "https://fapi.binance.com",
			WSBaseURL: "wss://fstream.binance.com",
		},
		Risk: RiskConfig{
			RiskPercentPerTrade:  1.0,
			MaxDailyLossPercent:  10,
			MaxConsecutiveLosses: 10,
			RRRatio:              2.5,
		},
		Fees: FeeConfig{
			Maker:    0.0002,
			Taker:    0.0005,
			Slippage: 0.0001,
		},
		Leverage: LeverageConfig{
			Leverage:          10,
			MaintenanceMargin: 0.005,
		},
		Range: RangeConfig{
			Window:            30,
			MinSizeMultiplier: 1.2,
			MaxSizeMultiplier: 3.5,
		},
		Breakout: BreakoutConfig{
			ATRMultiplier:    0.1,
			MinBodyPercent:   50,
			VolumePeriod:     20,
			VolumeMultiplier: 0.8,
		},
		Pullback: PullbackConfig{
			MaxDepthPercent:       50,
			PriceTolerancePercent: 0.2,
			MaxWaitMinutes:        120,
		},
		Regime: RegimeConfig{
			ADXMin:               15,
			ADXMax:               50,
			VolatilityMinPercent: 0.1,
			VolatilityMaxPercent: 1.5,
		},
		Backtest: BacktestConfig{
			Days:        7,
			WarmupBars:  200,
			MinCoverage: 0.95,
		},
		Live: LiveConfig{
			TickIntervalMS: 5000,
			BackoffMS:      3000,
			BufferSize:     300,
			InitialCandles: 300,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional JSON file and applies
// environment overrides. A missing path yields defaults; a .env file in the
// working directory is loaded first.
func Load(path string) (*Config, error) {
	// Missing .env is fine; an explicit file read error is not.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("config: resolve path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config: read file %s: %w", absPath, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse json: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays RB_* environment variables on the loaded values.
func (c *Config) applyEnv() {
	c.DatabaseURL = getEnvString("RB_DATABASE_URL", c.DatabaseURL)
	c.InitialBalance = getEnvFloat("RB_INITIAL_BALANCE", c.InitialBalance)
	if v := os.Getenv("RB_SYMBOLS"); v != "" {
		c.Symbols = splitSymbols(v)
	}

	c.Exchange.BaseURL = getEnvString("RB_EXCHANGE_BASE_URL", c.Exchange.BaseURL)
	c.Exchange.WSBaseURL = getEnvString("RB_EXCHANGE_WS_BASE_URL", c.Exchange.WSBaseURL)
	c.Exchange.APIKey = getEnvString("RB_EXCHANGE_API_KEY", c.Exchange.APIKey)
	c.Exchange.SecretKey = getEnvString("RB_EXCHANGE_SECRET_KEY", c.Exchange.SecretKey)
	c.Exchange.UseWebsocket = getEnvBool("RB_EXCHANGE_USE_WEBSOCKET", c.Exchange.UseWebsocket)

	c.Risk.RiskPercentPerTrade = getEnvFloat("RB_RISK_PERCENT_PER_TRADE", c.Risk.RiskPercentPerTrade)
	c.Risk.MaxDailyLossPercent = getEnvFloat("RB_MAX_DAILY_LOSS_PERCENT", c.Risk.MaxDailyLossPercent)
	c.Risk.MaxConsecutiveLosses = getEnvInt("RB_MAX_CONSECUTIVE_LOSSES", c.Risk.MaxConsecutiveLosses)
	c.Risk.RRRatio = getEnvFloat("RB_RR_RATIO", c.Risk.RRRatio)

	c.Fees.Maker = getEnvFloat("RB_FEE_MAKER", c.Fees.Maker)
	c.Fees.Taker = getEnvFloat("RB_FEE_TAKER", c.Fees.Taker)
	c.Fees.Slippage = getEnvFloat("RB_SLIPPAGE", c.Fees.Slippage)

	c.Leverage.Leverage = getEnvFloat("RB_LEVERAGE", c.Leverage.Leverage)
	c.Leverage.MaintenanceMargin = getEnvFloat("RB_MAINTENANCE_MARGIN", c.Leverage.MaintenanceMargin)

	c.Live.TickIntervalMS = getEnvInt("RB_TICK_INTERVAL_MS", c.Live.TickIntervalMS)
	c.Log.Level = getEnvString("RB_LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getEnvBool("RB_LOG_PRETTY", c.Log.Pretty)
}

// Validate checks that all configuration fields are present and sane.
func (c *Config) Validate() error {
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be positive, got %f", c.InitialBalance)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Risk.RiskPercentPerTrade <= 0 || c.Risk.RiskPercentPerTrade > 100 {
		return fmt.Errorf("risk_percent_per_trade must be in (0, 100], got %f", c.Risk.RiskPercentPerTrade)
	}
	if c.Risk.MaxDailyLossPercent <= 0 || c.Risk.MaxDailyLossPercent > 100 {
		return fmt.Errorf("max_daily_loss_percent must be in (0, 100], got %f", c.Risk.MaxDailyLossPercent)
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("max_consecutive_losses must be positive, got %d", c.Risk.MaxConsecutiveLosses)
	}
	if c.Risk.RRRatio <= 0 {
		return fmt.Errorf("rr_ratio must be positive, got %f", c.Risk.RRRatio)
	}
	if c.Fees.Maker < 0 || c.Fees.Taker < 0 || c.Fees.Slippage < 0 {
		return fmt.Errorf("fees and slippage must be non-negative")
	}
	if c.Leverage.Leverage < 1 {
		return fmt.Errorf("leverage must be >= 1, got %f", c.Leverage.Leverage)
	}
	if c.Leverage.MaintenanceMargin < 0 || c.Leverage.MaintenanceMargin >= 1 {
		return fmt.Errorf("maintenance_margin must be in [0, 1), got %f", c.Leverage.MaintenanceMargin)
	}
	if c.Range.Window <= 0 {
		return fmt.Errorf("range.window must be positive, got %d", c.Range.Window)
	}
	if c.Range.MinSizeMultiplier <= 0 || c.Range.MaxSizeMultiplier < c.Range.MinSizeMultiplier {
		return fmt.Errorf("range size multipliers must satisfy 0 < min <= max")
	}
	if c.Breakout.MinBodyPercent < 0 || c.Breakout.MinBodyPercent > 100 {
		return fmt.Errorf("breakout.min_body_percent must be in [0, 100], got %f", c.Breakout.MinBodyPercent)
	}
	if c.Breakout.VolumePeriod <= 0 {
		return fmt.Errorf("breakout.volume_period must be positive, got %d", c.Breakout.VolumePeriod)
	}
	if c.Pullback.MaxDepthPercent <= 0 || c.Pullback.MaxDepthPercent > 100 {
		return fmt.Errorf("pullback.max_depth_percent must be in (0, 100], got %f", c.Pullback.MaxDepthPercent)
	}
	if c.Pullback.MaxWaitMinutes <= 0 {
		return fmt.Errorf("pullback.max_wait_minutes must be positive, got %d", c.Pullback.MaxWaitMinutes)
	}
	if c.Regime.ADXMax < c.Regime.ADXMin {
		return fmt.Errorf("regime adx bounds must satisfy min <= max")
	}
	if c.Regime.VolatilityMaxPercent < c.Regime.VolatilityMinPercent {
		return fmt.Errorf("regime volatility bounds must satisfy min <= max")
	}
	if c.Backtest.MinCoverage <= 0 || c.Backtest.MinCoverage > 1 {
		return fmt.Errorf("backtest.min_coverage must be in (0, 1], got %f", c.Backtest.MinCoverage)
	}
	if c.Live.TickIntervalMS <= 0 {
		return fmt.Errorf("live.tick_interval_ms must be positive, got %d", c.Live.TickIntervalMS)
	}
	if c.Live.BufferSize < c.Range.Window*5 {
		return fmt.Errorf("live.buffer_size %d too small for range window %d", c.Live.BufferSize, c.Range.Window)
	}
	return nil
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
