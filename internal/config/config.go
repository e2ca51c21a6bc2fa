// Package config defines all configuration for the trading agent.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Env      string         `mapstructure:"env"` // "paper" or "live"
	Symbol   string         `mapstructure:"symbol"`
	DryRun   bool           `mapstructure:"dry_run"`
	API      APIConfig      `mapstructure:"api"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Detector DetectorConfig `mapstructure:"detector"`
	Advisor  AdvisorConfig  `mapstructure:"advisor"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds exchange REST/WS endpoints and API credentials.
// ApiKey/Secret are normally supplied via TRADER_API_KEY / TRADER_API_SECRET.
type APIConfig struct {
	RESTBaseURL string `mapstructure:"rest_base_url"`
	WSBaseURL   string `mapstructure:"ws_base_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
}

// LoopConfig controls the Trigger Engine's mode and pacing.
type LoopConfig struct {
	Enable        bool          `mapstructure:"enable"`
	Trigger       string        `mapstructure:"trigger"` // "timer" | "kline" | "event"
	IntervalSec   int           `mapstructure:"interval_sec"`
	CooldownSec   int           `mapstructure:"cooldown_sec"`
	BackoffMaxSec int           `mapstructure:"backoff_max_sec"`
	StatPeriod    time.Duration `mapstructure:"stat_period"`
}

// DetectorConfig tunes the volatility detector's mark-price and candle rules.
type DetectorConfig struct {
	MPWindowSec    int     `mapstructure:"mp_window_sec"`
	MPDeltaPct     float64 `mapstructure:"mp_delta_pct"`
	KlineRangePct  float64 `mapstructure:"kline_range_pct"`
	VolLookback    int     `mapstructure:"vol_lookback"`
	VolMult        float64 `mapstructure:"vol_mult"`
	UseQuoteVolume bool    `mapstructure:"use_quote_volume"`
}

// AdvisorConfig points at the external reasoning service and gates its output.
type AdvisorConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ConfThreshold   float64       `mapstructure:"ai_conf_threshold"`
}

// StreamConfig toggles which WebSocket streams are subscribed.
type StreamConfig struct {
	WSEnable      bool `mapstructure:"ws_enable"`
	WSUserEnable  bool `mapstructure:"ws_user_enable"`
	WSPriceEnable bool `mapstructure:"ws_price_enable"`
}

// RiskConfig carries venue-level constraints. ForbiddenWindowsUTC is
// forwarded to every market snapshot; MaxOrders is not forwarded and is not
// read by the trading cycle.
type RiskConfig struct {
	ForbiddenWindowsUTC []string `mapstructure:"forbidden_windows_utc"`
	MaxOrders           int      `mapstructure:"max_orders"`
}

// StoreConfig sets where status/history files are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig selects slog's handler and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" | "text"
}

// Load reads config from a YAML file with env var overrides. A ".env" file
// in the working directory, if present, is loaded first so local secrets
// reach the process environment before viper reads it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("TRADER_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("TRADER_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if sym := os.Getenv("TRADER_SYMBOL"); sym != "" {
		cfg.Symbol = sym
	}
	if os.Getenv("TRADER_DRY_RUN") == "true" || os.Getenv("TRADER_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	if cfg.Advisor.ConfThreshold < 0 {
		cfg.Advisor.ConfThreshold = 0
	}
	if cfg.Advisor.ConfThreshold > 1 {
		cfg.Advisor.ConfThreshold = 1
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "paper")
	v.SetDefault("symbol", "ETHUSDT")
	v.SetDefault("loop.enable", true)
	v.SetDefault("loop.trigger", "timer")
	v.SetDefault("loop.interval_sec", 60)
	v.SetDefault("loop.cooldown_sec", 30)
	v.SetDefault("loop.backoff_max_sec", 300)
	v.SetDefault("loop.stat_period", 10*time.Second)
	v.SetDefault("detector.mp_window_sec", 60)
	v.SetDefault("detector.mp_delta_pct", 0.5)
	v.SetDefault("detector.kline_range_pct", 1.0)
	v.SetDefault("detector.vol_lookback", 20)
	v.SetDefault("detector.vol_mult", 2.0)
	v.SetDefault("detector.use_quote_volume", true)
	v.SetDefault("advisor.timeout", 10*time.Second)
	v.SetDefault("advisor.ai_conf_threshold", 0.5)
	v.SetDefault("stream.ws_enable", true)
	v.SetDefault("stream.ws_user_enable", true)
	v.SetDefault("stream.ws_price_enable", true)
	v.SetDefault("risk.max_orders", 10)
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Env != "paper" && c.Env != "live" {
		return fmt.Errorf("env must be one of: paper, live")
	}
	if !c.DryRun {
		if c.API.ApiKey == "" {
			return fmt.Errorf("api.api_key is required (set TRADER_API_KEY) unless dry_run is true")
		}
		if c.API.Secret == "" {
			return fmt.Errorf("api.secret is required (set TRADER_API_SECRET) unless dry_run is true")
		}
	}
	if c.API.RESTBaseURL == "" {
		return fmt.Errorf("api.rest_base_url is required")
	}
	switch c.Loop.Trigger {
	case "timer", "kline", "event":
	default:
		return fmt.Errorf("loop.trigger must be one of: timer, kline, event")
	}
	if c.Loop.Enable && c.Loop.Trigger == "timer" && c.Loop.IntervalSec <= 0 {
		return fmt.Errorf("loop.interval_sec must be > 0 for timer mode")
	}
	if c.Advisor.BaseURL == "" {
		return fmt.Errorf("advisor.base_url is required")
	}
	if c.Advisor.ConfThreshold < 0 || c.Advisor.ConfThreshold > 1 {
		return fmt.Errorf("advisor.ai_conf_threshold must be in [0,1]")
	}
	return nil
}
