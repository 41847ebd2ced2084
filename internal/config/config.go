package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mirrorlabs/insider-mirror/internal/model"
)

type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Market   MarketConfig   `yaml:"market"`
	Filter   FilterConfig   `yaml:"filter"`
	Risk     RiskConfig     `yaml:"risk"`
	Trading  TradingConfig  `yaml:"trading"`
	Telegram TelegramConfig `yaml:"telegram"`
	Web      WebConfig      `yaml:"web"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type FeedConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffBaseMs  int    `yaml:"backoff_base_ms"`
	BackoffMaxMs   int    `yaml:"backoff_max_ms"`
	DedupCapacity  int    `yaml:"dedup_capacity"`
}

type MarketConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type FilterConfig struct {
	MinValue      float64  `yaml:"min_value"`
	MinShares     int64    `yaml:"min_shares"`
	AllowedTypes  []string `yaml:"allowed_types"`
	ExcludedTypes []string `yaml:"excluded_types"`
}

type RiskConfig struct {
	MaxPositionSizeFraction    float64 `yaml:"max_position_size_fraction"`
	MaxDailyTrades             int     `yaml:"max_daily_trades"`
	MaxConcentrationFraction   float64 `yaml:"max_concentration_fraction"`
	StopLossFraction           float64 `yaml:"stop_loss_fraction"`
	DailyDrawdownLimitFraction float64 `yaml:"daily_drawdown_limit_fraction"`
}

type TradingConfig struct {
	Interval         string  `yaml:"interval"`
	Mode             string  `yaml:"mode"` // paper or live
	InitialCash      float64 `yaml:"initial_cash"`
	ReportWindowDays int     `yaml:"report_window_days"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Feed.Token == "" {
		cfg.Feed.Token = os.Getenv("FINNHUB_TOKEN")
	}
	if cfg.Feed.TimeoutSeconds == 0 {
		cfg.Feed.TimeoutSeconds = 30
	}
	if cfg.Feed.MaxAttempts == 0 {
		cfg.Feed.MaxAttempts = 3
	}
	if cfg.Feed.BackoffBaseMs == 0 {
		cfg.Feed.BackoffBaseMs = 500
	}
	if cfg.Feed.BackoffMaxMs == 0 {
		cfg.Feed.BackoffMaxMs = 15000
	}
	if cfg.Feed.DedupCapacity == 0 {
		cfg.Feed.DedupCapacity = 4096
	}
	if cfg.Market.Token == "" {
		cfg.Market.Token = cfg.Feed.Token
	}
	if cfg.Market.TimeoutSeconds == 0 {
		cfg.Market.TimeoutSeconds = 10
	}
	if cfg.Filter.MinValue == 0 {
		cfg.Filter.MinValue = 100000
	}
	if cfg.Filter.MinShares == 0 {
		cfg.Filter.MinShares = 1000
	}
	if len(cfg.Filter.AllowedTypes) == 0 {
		cfg.Filter.AllowedTypes = []string{"BUY", "SELL"}
	}
	if len(cfg.Filter.ExcludedTypes) == 0 {
		cfg.Filter.ExcludedTypes = []string{"OPTION_EXERCISE", "GIFT"}
	}
	if cfg.Risk.MaxPositionSizeFraction == 0 {
		cfg.Risk.MaxPositionSizeFraction = 0.05
	}
	if cfg.Risk.MaxDailyTrades == 0 {
		cfg.Risk.MaxDailyTrades = 10
	}
	if cfg.Risk.MaxConcentrationFraction == 0 {
		cfg.Risk.MaxConcentrationFraction = 0.20
	}
	if cfg.Risk.StopLossFraction == 0 {
		cfg.Risk.StopLossFraction = 0.05
	}
	if cfg.Risk.DailyDrawdownLimitFraction == 0 {
		cfg.Risk.DailyDrawdownLimitFraction = 0.05
	}
	if cfg.Trading.Interval == "" {
		cfg.Trading.Interval = "1h"
	}
	if cfg.Trading.Mode == "" {
		cfg.Trading.Mode = "paper"
	}
	if cfg.Trading.InitialCash == 0 {
		cfg.Trading.InitialCash = 100000
	}
	if cfg.Trading.ReportWindowDays == 0 {
		cfg.Trading.ReportWindowDays = 30
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Feed.Endpoint == "" {
		return fmt.Errorf("feed.endpoint is required")
	}
	if _, err := time.ParseDuration(c.Trading.Interval); err != nil {
		return fmt.Errorf("invalid trading.interval %q: %w", c.Trading.Interval, err)
	}
	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		return fmt.Errorf("trading.mode must be paper or live, got %q", c.Trading.Mode)
	}
	fractions := map[string]float64{
		"risk.max_position_size_fraction":    c.Risk.MaxPositionSizeFraction,
		"risk.max_concentration_fraction":    c.Risk.MaxConcentrationFraction,
		"risk.stop_loss_fraction":            c.Risk.StopLossFraction,
		"risk.daily_drawdown_limit_fraction": c.Risk.DailyDrawdownLimitFraction,
	}
	for name, f := range fractions {
		if f < 0 || f > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %v", name, f)
		}
	}
	if c.Risk.MaxDailyTrades < 0 {
		return fmt.Errorf("risk.max_daily_trades must be >= 0")
	}
	if c.Trading.InitialCash < 0 {
		return fmt.Errorf("trading.initial_cash must be >= 0")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) IsPaper() bool {
	return c.Trading.Mode == "paper"
}

func (c *Config) TradingInterval() time.Duration {
	d, _ := time.ParseDuration(c.Trading.Interval)
	return d
}

func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

func (c *Config) MarketTimeout() time.Duration {
	return time.Duration(c.Market.TimeoutSeconds) * time.Second
}

func (c *Config) ReportWindow() time.Duration {
	return time.Duration(c.Trading.ReportWindowDays) * 24 * time.Hour
}

func (c *Config) RiskLimits() model.RiskLimits {
	return model.RiskLimits{
		MaxPositionSizeFraction:    c.Risk.MaxPositionSizeFraction,
		MaxDailyTrades:             c.Risk.MaxDailyTrades,
		MaxConcentrationFraction:   c.Risk.MaxConcentrationFraction,
		StopLossFraction:           c.Risk.StopLossFraction,
		DailyDrawdownLimitFraction: c.Risk.DailyDrawdownLimitFraction,
	}
}
