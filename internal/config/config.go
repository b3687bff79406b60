// Package config provides configuration management for the reconciliation
// daemon. All tunables (lookback window, timeouts, schedules) are explicit
// here and passed at construction; there is no ambient global state.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultLookbackDays is used when sync.lookback_days is unset
	defaultLookbackDays = 90
	// defaultFetchTimeout is used when sync.fetch_timeout is unset
	defaultFetchTimeout = 8 * time.Second
	// defaultSchedule runs a reconciliation cycle every 15 minutes
	defaultSchedule = "@every 15m"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Accounts    []AccountConfig   `yaml:"accounts"`
	Sync        SyncConfig        `yaml:"sync"`
	Status      StatusConfig      `yaml:"status"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings shared by all accounts.
type BrokerConfig struct {
	Provider    string `yaml:"provider"`
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
}

// AccountConfig defines one brokerage account whose book is reconciled.
// Reconciliation runs per account; accounts never net against each other.
type AccountConfig struct {
	Name        string `yaml:"name"`
	AccountID   string `yaml:"account_id"`
	StoragePath string `yaml:"storage_path"`
	// APIKey overrides broker.api_key for this account when set.
	APIKey string `yaml:"api_key"`
}

// SyncConfig defines reconciliation cycle parameters.
type SyncConfig struct {
	// Schedule is a cron expression (robfig/cron syntax, @every supported).
	Schedule string `yaml:"schedule"`
	// LookbackDays bounds the trusted order-history window.
	LookbackDays int `yaml:"lookback_days"`
	// FetchTimeout bounds the broker snapshot fetch per cycle.
	FetchTimeout string `yaml:"fetch_timeout"`
}

// StatusConfig defines the read-only status endpoint.
type StatusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
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

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = defaultSchedule
	}
	if c.Sync.LookbackDays == 0 {
		c.Sync.LookbackDays = defaultLookbackDays
	}
	if c.Sync.FetchTimeout == "" {
		c.Sync.FetchTimeout = defaultFetchTimeout.String()
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug|info|warn|error")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, account := range c.Accounts {
		if account.Name == "" {
			return fmt.Errorf("accounts[%d].name is required", i)
		}
		if seen[account.Name] {
			return fmt.Errorf("duplicate account name %q", account.Name)
		}
		seen[account.Name] = true
		if account.AccountID == "" {
			return fmt.Errorf("accounts[%d].account_id is required", i)
		}
		if account.StoragePath == "" {
			return fmt.Errorf("accounts[%d].storage_path is required", i)
		}
		if account.APIKey == "" && c.Broker.APIKey == "" {
			return fmt.Errorf("accounts[%d]: no api key (set broker.api_key or accounts[%d].api_key)", i, i)
		}
	}

	if c.Sync.LookbackDays <= 0 {
		return fmt.Errorf("sync.lookback_days must be > 0")
	}
	if _, err := time.ParseDuration(c.Sync.FetchTimeout); err != nil {
		return fmt.Errorf("sync.fetch_timeout invalid: %w", err)
	}

	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		return fmt.Errorf("status.port must be in (0,65535] when status is enabled")
	}

	return nil
}

// IsPaperTrading returns true if configured against the sandbox environment.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetFetchTimeout returns the configured snapshot fetch timeout.
func (c *Config) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sync.FetchTimeout)
	if err != nil {
		return defaultFetchTimeout
	}
	return d
}

// APIKeyFor returns the effective API key for an account.
func (c *Config) APIKeyFor(account AccountConfig) string {
	if account.APIKey != "" {
		return account.APIKey
	}
	return c.Broker.APIKey
}
