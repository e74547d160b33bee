// Package config provides configuration management for the regression runner.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

// Chain providers.
const (
	ProviderStatic  = "static"
	ProviderTradier = "tradier"
)

const (
	defaultTimeout        = 2 * time.Minute
	defaultDashboardPort  = 8080
	defaultStoragePath    = "data/runs.json"
	defaultTradierLive    = "https://api.tradier.com/v1"
	defaultTradierSandbox = "https://sandbox.tradier.com/v1"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Chain       ChainConfig       `yaml:"chain"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BacktestConfig defines the replayed market and accounting.
type BacktestConfig struct {
	Scenario       string `yaml:"scenario"` // empty selects the embedded scenario
	Timeout        string `yaml:"timeout"`
	Cash           string `yaml:"cash"`
	FeePerContract string `yaml:"fee_per_contract"`
}

// ChainConfig selects where option chains come from.
type ChainConfig struct {
	Provider    string `yaml:"provider"` // static | tradier
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	Sandbox     bool   `yaml:"sandbox"`
}

// StorageConfig defines where run records are kept.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the optional results dashboard.
type DashboardConfig struct {
	AuthToken string `yaml:"auth_token"`
	Port      int    `yaml:"port"`
	Enabled   bool   `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{
		Environment: EnvironmentConfig{LogLevel: "info"},
		Backtest:    BacktestConfig{Cash: "100000", FeePerContract: "1"},
		Chain:       ChainConfig{Provider: ProviderStatic},
	}
	c.normalize()
	return c
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate fills defaults and checks that all values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	if _, err := logrus.ParseLevel(c.Environment.LogLevel); err != nil {
		return fmt.Errorf("environment.log_level invalid: %w", err)
	}

	// Backtest validation
	if d, err := time.ParseDuration(c.Backtest.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("backtest.timeout must be a positive duration, got %q", c.Backtest.Timeout)
	}
	cash, err := decimal.NewFromString(c.Backtest.Cash)
	if err != nil || !cash.IsPositive() {
		return fmt.Errorf("backtest.cash must be a positive amount, got %q", c.Backtest.Cash)
	}
	fee, err := decimal.NewFromString(c.Backtest.FeePerContract)
	if err != nil || fee.IsNegative() {
		return fmt.Errorf("backtest.fee_per_contract must be a non-negative amount, got %q", c.Backtest.FeePerContract)
	}

	// Chain validation
	switch c.Chain.Provider {
	case ProviderStatic:
	case ProviderTradier:
		if c.Chain.APIKey == "" {
			return fmt.Errorf("chain.api_key is required for the tradier provider")
		}
		if !strings.HasPrefix(c.Chain.APIEndpoint, "https://") {
			return fmt.Errorf("chain.api_endpoint must be an https URL")
		}
	default:
		return fmt.Errorf("chain.provider must be 'static' or 'tradier'")
	}

	// Dashboard validation
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Backtest.Timeout == "" {
		c.Backtest.Timeout = defaultTimeout.String()
	}
	if c.Backtest.Cash == "" {
		c.Backtest.Cash = "100000"
	}
	if c.Backtest.FeePerContract == "" {
		c.Backtest.FeePerContract = "1"
	}
	if c.Chain.Provider == "" {
		c.Chain.Provider = ProviderStatic
	}
	if c.Chain.Provider == ProviderTradier && c.Chain.APIEndpoint == "" {
		c.Chain.APIEndpoint = defaultTradierLive
		if c.Chain.Sandbox {
			c.Chain.APIEndpoint = defaultTradierSandbox
		}
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
}

// LogLevel returns the parsed log level, info if unparseable.
func (c *Config) LogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Environment.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// GetTimeout returns the run timeout, falling back to the default.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backtest.Timeout)
	if err != nil || d <= 0 {
		return defaultTimeout
	}
	return d
}

// GetCash returns the starting cash as a decimal.
func (c *Config) GetCash() decimal.Decimal {
	d, err := decimal.NewFromString(c.Backtest.Cash)
	if err != nil {
		return decimal.NewFromInt(100000)
	}
	return d
}

// GetFeePerContract returns the per-contract fee as a decimal.
func (c *Config) GetFeePerContract() decimal.Decimal {
	d, err := decimal.NewFromString(c.Backtest.FeePerContract)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}

// UsesLiveChain reports whether option chains come from a remote API.
func (c *Config) UsesLiveChain() bool {
	return c.Chain.Provider == ProviderTradier
}
