// Package config loads the service configuration from a YAML file with
// environment overrides for the deployment-specific values.
//
// Interest-curve parameters are written in the file as human-readable
// per-year decimal fractions ("0.02" is a 2% APR) and converted here to
// the per-millisecond 1e18 fixed-point values the engine runs on. The
// conversion is the only place rates exist as decimals.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/interest-protocol/silo/internal/fixedpoint"
	"github.com/interest-protocol/silo/internal/interest"
)

// MsPerYear is the divisor turning per-year rates into per-ms rates.
const MsPerYear = 365 * 24 * 60 * 60 * 1000

// DefaultConfig is the baseline configuration; the YAML file and
// environment override it field by field.
var DefaultConfig = Config{
	Port: "8080",
	Market: MarketConfig{
		BaseRatePerYear:       "0.02",
		MultiplierPerYear:     "0.15",
		JumpMultiplierPerYear: "3.0",
		Kink:                  "0.8",
		ReserveFactor:         "0.1",
		IPXPerMs:              10,
		DecimalsFactor:        1_000_000,
	},
}

// Config is the full service configuration.
type Config struct {
	Port        string       `yaml:"port"`
	DatabaseURL string       `yaml:"database_url"`
	RedisURL    string       `yaml:"redis_url"`
	Market      MarketConfig `yaml:"market"`
}

// MarketConfig holds the parameters applied to every newly created
// market side.
type MarketConfig struct {
	BaseRatePerYear       string `yaml:"base_rate_per_year"`
	MultiplierPerYear     string `yaml:"multiplier_per_year"`
	JumpMultiplierPerYear string `yaml:"jump_multiplier_per_year"`
	Kink                  string `yaml:"kink"`
	ReserveFactor         string `yaml:"reserve_factor"`
	IPXPerMs              uint64 `yaml:"ipx_per_ms"`
	DecimalsFactor        uint64 `yaml:"decimals_factor"`
}

// Load reads the YAML file at path over DefaultConfig, then applies
// environment overrides. A missing path loads defaults plus env.
func Load(path string) (Config, error) {
	cfg := DefaultConfig
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	if _, err := cfg.Market.Curve(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
}

// Curve converts the per-year decimal parameters into the engine's
// per-ms fixed-point curve.
func (m MarketConfig) Curve() (interest.Curve, error) {
	base, err := perYearToPerMs(m.BaseRatePerYear)
	if err != nil {
		return interest.Curve{}, fmt.Errorf("base_rate_per_year: %w", err)
	}
	multiplier, err := perYearToPerMs(m.MultiplierPerYear)
	if err != nil {
		return interest.Curve{}, fmt.Errorf("multiplier_per_year: %w", err)
	}
	jump, err := perYearToPerMs(m.JumpMultiplierPerYear)
	if err != nil {
		return interest.Curve{}, fmt.Errorf("jump_multiplier_per_year: %w", err)
	}
	kink, err := fractionToFixed(m.Kink)
	if err != nil {
		return interest.Curve{}, fmt.Errorf("kink: %w", err)
	}
	return interest.Curve{
		BaseRatePerMs:       base,
		MultiplierPerMs:     multiplier,
		JumpMultiplierPerMs: jump,
		Kink:                kink,
	}, nil
}

// ReserveFactorFixed converts the reserve factor fraction to the
// fixed-point scale.
func (m MarketConfig) ReserveFactorFixed() (uint64, error) {
	rf, err := fractionToFixed(m.ReserveFactor)
	if err != nil {
		return 0, fmt.Errorf("reserve_factor: %w", err)
	}
	if rf > fixedpoint.Scale {
		return 0, fmt.Errorf("reserve_factor: must not exceed 1")
	}
	return rf, nil
}

// perYearToPerMs converts a per-year decimal fraction to a per-ms
// fixed-point rate, truncating.
func perYearToPerMs(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("must not be negative")
	}
	perMs := d.Mul(decimal.New(1, 18)).Div(decimal.NewFromInt(MsPerYear)).Truncate(0)
	return uint64(perMs.IntPart()), nil
}

// fractionToFixed converts a decimal fraction to the fixed-point scale.
func fractionToFixed(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("must not be negative")
	}
	fixed := d.Mul(decimal.New(1, 18)).Truncate(0)
	return uint64(fixed.IntPart()), nil
}
