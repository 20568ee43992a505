// Package config defines all configuration for the market core engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via LMSR_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Market  MarketConfig  `mapstructure:"market"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// MarketConfig holds the configured market settings, exposed through
// engine.Core's CfgDefaultB/CfgPricePrecision/CfgAmountPrecision. The demo
// binary passes them into CreateMarketParams; CreateMarket itself does not
// fall back to them and rejects a call that leaves b/funding or a
// precision unset.
//
//   - DefaultB: the LMSR liquidity parameter b.
//   - PricePrecision/AmountPrecision: decimal places prices and token
//     amounts are rounded to.
type MarketConfig struct {
	DefaultB        string `mapstructure:"default_b"`
	PricePrecision  int    `mapstructure:"price_precision"`
	AmountPrecision int    `mapstructure:"amount_precision"`
}

// StoreConfig sets where engine snapshots are persisted (JSON files) and
// whether every mutating call triggers an immediate save.
type StoreConfig struct {
	DataDir          string `mapstructure:"data_dir"`
	SaveOnEveryWrite bool   `mapstructure:"save_on_every_write"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LMSR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("market.default_b", "100")
	v.SetDefault("market.price_precision", 4)
	v.SetDefault("market.amount_precision", 4)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Market.DefaultB == "" {
		return fmt.Errorf("market.default_b is required")
	}
	b, err := decimal.NewFromString(c.Market.DefaultB)
	if err != nil {
		return fmt.Errorf("market.default_b %q is not a valid decimal: %w", c.Market.DefaultB, err)
	}
	if !b.IsPositive() {
		return fmt.Errorf("market.default_b must be > 0")
	}
	if c.Market.PricePrecision <= 0 {
		return fmt.Errorf("market.price_precision must be > 0")
	}
	if c.Market.AmountPrecision <= 0 {
		return fmt.Errorf("market.amount_precision must be > 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be one of: text, json")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}
