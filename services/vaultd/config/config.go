package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"cdpchain/crypto"
	"cdpchain/native/oracle"
	"cdpchain/native/vault"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DatabasePath  string          `yaml:"database"`
	StatePath     string          `yaml:"state_path"`
	Environment   string          `yaml:"environment"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Sources       []Source        `yaml:"sources"`
	Assets        AssetConfig     `yaml:"assets"`
	Risk          RiskConfig      `yaml:"risk"`
	Genesis       []Allocation    `yaml:"genesis"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig toggles the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// AuthConfig configures bearer token validation. The secret may be supplied
// inline or through the environment variable named by SecretEnv.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	SecretEnv  string   `yaml:"secret_env"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds per-client request throughput.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// OracleConfig tunes the aggregation loop.
type OracleConfig struct {
	Interval  Duration `yaml:"interval"`
	MaxAge    Duration `yaml:"max_age"`
	MaxFuture Duration `yaml:"max_future"`
	MinFeeds  int      `yaml:"min_feeds"`
	Retention Duration `yaml:"retention"`
	Base      string   `yaml:"base"`
	Quote     string   `yaml:"quote"`
}

// Source describes an upstream oracle feed.
type Source struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint"`
	Assets   map[string]string `yaml:"assets"`
	Price    string            `yaml:"price"`
}

// AssetConfig names the collateral asset and the debt token.
type AssetConfig struct {
	Collateral string `yaml:"collateral"`
	DebtToken  string `yaml:"debt_token"`
}

// RiskConfig optionally overrides the built-in risk parameters. Zero values
// keep the defaults.
type RiskConfig struct {
	CollateralRatio         uint64   `yaml:"collateral_ratio"`
	LiquidationThreshold    uint64   `yaml:"liquidation_threshold"`
	LiquidationBonus        uint64   `yaml:"liquidation_bonus"`
	ReleasePercent          uint64   `yaml:"release_percent"`
	MinDebt                 string   `yaml:"min_debt"`
	MaxPriceAge             Duration `yaml:"max_price_age"`
	StrictWithdrawFreshness bool     `yaml:"strict_withdraw_freshness"`
}

// Allocation seeds a collateral balance at start-up.
type Allocation struct {
	Account    string `yaml:"account"`
	Collateral string `yaml:"collateral"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/vaultd.sqlite"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "/var/data/vaultd-state"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 50
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 30 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.MaxFuture.Duration == 0 {
		cfg.Oracle.MaxFuture.Duration = 5 * time.Second
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	if cfg.Oracle.Retention.Duration == 0 {
		cfg.Oracle.Retention.Duration = 24 * time.Hour
	}
	if cfg.Oracle.Base == "" {
		cfg.Oracle.Base = "USD"
	}
	if cfg.Oracle.Quote == "" {
		cfg.Oracle.Quote = "ETH"
	}
	if cfg.Assets.Collateral == "" {
		cfg.Assets.Collateral = "ETH"
	}
	if cfg.Assets.DebtToken == "" {
		cfg.Assets.DebtToken = "CUSD"
	}
}

func validate(cfg Config) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one oracle source must be configured")
	}
	if cfg.Oracle.MinFeeds > len(cfg.Sources) {
		return fmt.Errorf("oracle.min_feeds (%d) exceeds configured sources (%d)", cfg.Oracle.MinFeeds, len(cfg.Sources))
	}
	for i, src := range cfg.Sources {
		switch strings.ToLower(strings.TrimSpace(src.Type)) {
		case "static":
			if _, err := oracle.ParseDecimal(src.Price); err != nil {
				return fmt.Errorf("sources[%d]: static price: %w", i, err)
			}
		case "coingecko":
		default:
			return fmt.Errorf("sources[%d]: unknown oracle type %q", i, src.Type)
		}
	}
	if _, err := cfg.Risk.Params(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	for i, alloc := range cfg.Genesis {
		if _, err := crypto.DecodeAddress(alloc.Account); err != nil {
			return fmt.Errorf("genesis[%d]: account: %w", i, err)
		}
		if _, err := oracle.ParseDecimal(alloc.Collateral); err != nil {
			return fmt.Errorf("genesis[%d]: collateral: %w", i, err)
		}
	}
	return nil
}

// Secret resolves the HMAC secret, preferring the environment override.
func (a AuthConfig) Secret() string {
	if name := strings.TrimSpace(a.SecretEnv); name != "" {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(a.HMACSecret)
}

// Params merges the overrides onto vault.DefaultParams and validates the result.
func (r RiskConfig) Params() (vault.Params, error) {
	params := vault.DefaultParams()
	if r.CollateralRatio != 0 {
		params.CollateralRatio = r.CollateralRatio
	}
	if r.LiquidationThreshold != 0 {
		params.LiquidationThreshold = r.LiquidationThreshold
	}
	if r.LiquidationBonus != 0 {
		params.LiquidationBonus = r.LiquidationBonus
	}
	if r.ReleasePercent != 0 {
		params.ReleasePercent = r.ReleasePercent
	}
	if raw := strings.TrimSpace(r.MinDebt); raw != "" {
		minDebt, err := oracle.ParseDecimal(raw)
		if err != nil {
			return vault.Params{}, fmt.Errorf("min_debt: %w", err)
		}
		params.MinDebt = minDebt
	}
	if r.MaxPriceAge.Duration != 0 {
		params.MaxPriceAge = r.MaxPriceAge.Duration
	}
	params.StrictWithdrawFreshness = r.StrictWithdrawFreshness
	if err := params.Validate(); err != nil {
		return vault.Params{}, err
	}
	return params, nil
}

// Amount parses the allocation's decimal collateral into base units.
func (a Allocation) Amount() (*uint256.Int, error) {
	return oracle.ParseDecimal(a.Collateral)
}
