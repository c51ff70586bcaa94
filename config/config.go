package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/bybit"
	"github.com/rustyeddy/autotrader/broker/live"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/internal/trace"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
)

// Config represents the complete engine configuration
type Config struct {
	Server   ServerConfig     `json:"server" yaml:"server"`
	Trading  TradingConfig    `json:"trading" yaml:"trading"`
	Risk     risk.Settings    `json:"risk" yaml:"risk"`
	Policy   risk.Policy      `json:"policy" yaml:"policy"`
	Live     live.Config      `json:"live" yaml:"live"`
	Exchange bybit.Config     `json:"exchange" yaml:"exchange"`
	Market   MarketConfig     `json:"market" yaml:"market"`
	Signals  SignalConfig     `json:"signals" yaml:"signals"`
	Journal  JournalConfig    `json:"journal" yaml:"journal"`
	Log      logger.LogConfig `json:"log" yaml:"log"`
	Trace    trace.Config     `json:"trace" yaml:"trace"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// TradingConfig holds session defaults. A select request may override mode
// and capital.
type TradingConfig struct {
	Mode            string        `json:"mode" yaml:"mode"`
	InitialCapital  float64       `json:"initial_capital" yaml:"initial_capital"`
	TakerFee        float64       `json:"taker_fee" yaml:"taker_fee"`
	MonitorInterval time.Duration `json:"monitor_interval" yaml:"monitor_interval"`
	// SignalBackoff is the pause after a failed signal pass.
	SignalBackoff time.Duration `json:"signal_backoff" yaml:"signal_backoff"`
	// Symbols overrides each strategy's own universe when set.
	Symbols []string `json:"symbols,omitempty" yaml:"symbols,omitempty"`
}

// MarketConfig selects where prices come from: the websocket ticker stream
// backed by REST tickers, or REST alone.
type MarketConfig struct {
	Stream    bool          `json:"stream" yaml:"stream"`
	StreamURL string        `json:"stream_url,omitempty" yaml:"stream_url,omitempty"`
	MaxAge    time.Duration `json:"max_age" yaml:"max_age"`
}

type SignalConfig struct {
	// Source is "board" (signals pushed over HTTP) or "http" (pulled from a
	// remote recommender).
	Source string            `json:"source" yaml:"source"`
	MaxAge time.Duration     `json:"max_age" yaml:"max_age"`
	HTTP   signal.HTTPConfig `json:"http" yaml:"http"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type string `json:"type" yaml:"type"` // "none", "csv" or "sqlite"
	// Path is the database file for sqlite and the directory for csv.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LoadFromFile loads configuration from a file, YAML first with a JSON
// fallback. Fields missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
// Credentials are never written.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	mode, err := broker.ParseMode(c.Trading.Mode)
	if err != nil {
		return fmt.Errorf("trading.mode: %w", err)
	}
	if c.Trading.InitialCapital <= 0 {
		return fmt.Errorf("trading.initial_capital must be positive")
	}
	if c.Trading.TakerFee < 0 || c.Trading.TakerFee >= 1 {
		return fmt.Errorf("trading.taker_fee must be in [0,1)")
	}
	if c.Trading.MonitorInterval <= 0 {
		return fmt.Errorf("trading.monitor_interval must be positive")
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk.%w", err)
	}
	if c.Policy.MaxOpenPositions < 0 || c.Policy.MinOrderValue < 0 || c.Policy.MinRR < 0 {
		return fmt.Errorf("policy limits must not be negative")
	}
	if c.Live.MaxRetries < 0 {
		return fmt.Errorf("live.max_retries must not be negative")
	}
	if _, err := bybit.BaseURL(c.Exchange.Env); err != nil {
		return fmt.Errorf("exchange.env: %w", err)
	}
	if mode == broker.Live && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("live mode needs BYBIT_API_KEY and BYBIT_API_SECRET")
	}
	switch c.Signals.Source {
	case "board":
	case "http":
		if c.Signals.HTTP.BaseURL == "" {
			return fmt.Errorf("signals.http.base_url required for http source")
		}
	default:
		return fmt.Errorf("signals.source must be 'board' or 'http'")
	}
	switch c.Journal.Type {
	case "none", "":
	case "csv", "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path required for %s journal", c.Journal.Type)
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv' or 'sqlite'")
	}
	return nil
}

// ApplyEnv overlays secrets and deployment settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("BYBIT_ENV"); v != "" {
		c.Exchange.Env = v
	}
	if v := os.Getenv("TRADER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Trading: TradingConfig{
			Mode:            string(broker.Paper),
			InitialCapital:  1_000_000,
			TakerFee:        0.0025,
			MonitorInterval: 10 * time.Second,
			SignalBackoff:   time.Minute,
		},
		Risk:     risk.DefaultSettings(),
		Policy:   risk.DefaultPolicy(),
		Live:     live.DefaultConfig(),
		Exchange: bybit.Config{Env: "testnet", Category: bybit.CategorySpot, QtyDecimals: 6},
		Market:   MarketConfig{Stream: true, MaxAge: 30 * time.Second},
		Signals: SignalConfig{
			Source: "board",
			MaxAge: 15 * time.Minute,
			HTTP:   signal.HTTPConfig{Timeout: 5 * time.Second, MaxRetries: 3, BaseBackoff: 500 * time.Millisecond},
		},
		Journal: JournalConfig{Type: "sqlite", Path: "./autotrader.db"},
		Log:     logger.LogConfig{Level: "INFO", Format: "json"},
		Trace:   trace.Config{ServiceName: "autotrader"},
	}
}
