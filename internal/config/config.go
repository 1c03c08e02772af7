package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	Trading  TradingConfig  `yaml:"trading"`
	Market   MarketConfig   `yaml:"market"`
	Advisor  AdvisorConfig  `yaml:"advisor"`
	Telegram TelegramConfig `yaml:"telegram"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type TradingConfig struct {
	Interval       string   `yaml:"interval"`
	Coins          []string `yaml:"coins"`
	InitialCapital float64  `yaml:"initial_capital"`
}

type MarketConfig struct {
	BaseURL         string `yaml:"base_url"`
	RefreshInterval string `yaml:"refresh_interval"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

type AdvisorConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
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
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/trade-arena.db"
	}
	if cfg.Trading.Interval == "" {
		cfg.Trading.Interval = "3m"
	}
	if len(cfg.Trading.Coins) == 0 {
		cfg.Trading.Coins = []string{"BTC", "ETH", "SOL", "BNB", "XRP", "DOGE"}
	}
	if cfg.Trading.InitialCapital == 0 {
		cfg.Trading.InitialCapital = 100000
	}
	if cfg.Market.BaseURL == "" {
		cfg.Market.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Market.RefreshInterval == "" {
		cfg.Market.RefreshInterval = "5s"
	}
	if cfg.Market.TimeoutSeconds == 0 {
		cfg.Market.TimeoutSeconds = 30
	}
	if cfg.Advisor.TimeoutSeconds == 0 {
		cfg.Advisor.TimeoutSeconds = 120
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnv lets secrets come from the environment (or a .env file loaded
// by the caller) instead of the YAML file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}

func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Trading.Interval); err != nil {
		return fmt.Errorf("invalid trading.interval %q: %w", c.Trading.Interval, err)
	}
	if _, err := time.ParseDuration(c.Market.RefreshInterval); err != nil {
		return fmt.Errorf("invalid market.refresh_interval %q: %w", c.Market.RefreshInterval, err)
	}
	if c.Trading.InitialCapital < 0 {
		return fmt.Errorf("trading.initial_capital must not be negative")
	}
	if len(c.Trading.Coins) == 0 {
		return fmt.Errorf("trading.coins must not be empty")
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

func (c *Config) TradingInterval() time.Duration {
	d, _ := time.ParseDuration(c.Trading.Interval)
	return d
}

func (c *Config) MarketRefreshInterval() time.Duration {
	d, _ := time.ParseDuration(c.Market.RefreshInterval)
	return d
}

func (c *Config) MarketTimeout() time.Duration {
	return time.Duration(c.Market.TimeoutSeconds) * time.Second
}

func (c *Config) AdvisorTimeout() time.Duration {
	return time.Duration(c.Advisor.TimeoutSeconds) * time.Second
}
