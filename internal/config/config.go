// Package config provides configuration management for the terminal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "kyoto-terminal/internal/errors"
	"kyoto-terminal/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Provider    ProviderConfig    `mapstructure:"provider"`
	Refresh     RefreshConfig     `mapstructure:"refresh"`
	Defaults    DefaultsConfig    `mapstructure:"defaults"`
	Underlyings map[string]string `mapstructure:"underlyings"`
	Paper       PaperConfig       `mapstructure:"paper"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	UI          UIConfig          `mapstructure:"ui"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Workspaces  []WorkspaceConfig `mapstructure:"workspaces"`
	Credentials Credentials       `mapstructure:"-" json:"-"` // Loaded separately
}

// ProviderConfig selects and tunes the quote provider.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Mode    string        `mapstructure:"mode"` // chain, quotes, paper
	Timeout time.Duration `mapstructure:"timeout"`
}

// RefreshConfig holds refresh loop settings.
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers"`
	// Consecutive failures before a group is skipped. 0 never skips.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// DefaultsConfig holds the values a new tile starts with.
type DefaultsConfig struct {
	Underlying string  `mapstructure:"underlying"`
	Strategy   string  `mapstructure:"strategy"`
	Strike     float64 `mapstructure:"strike"`
	StrikeStep float64 `mapstructure:"strike_step"`
}

// PaperConfig tunes the offline fetcher.
type PaperConfig struct {
	Spots      map[string]float64 `mapstructure:"spots"`
	Volatility float64            `mapstructure:"volatility"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// StoreConfig holds the valuation journal settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    bool   `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// UIConfig holds rendering settings.
type UIConfig struct {
	ColorEnabled bool `mapstructure:"color_enabled"`
}

// AlertsConfig holds net-cost alert rules and their delivery.
type AlertsConfig struct {
	Bell       bool        `mapstructure:"bell"`
	WebhookURL string      `mapstructure:"webhook_url"`
	Rules      []AlertRule `mapstructure:"rules"`
}

// AlertRule fires once when a tile's signed net cost meets the condition.
type AlertRule struct {
	Tile      int     `mapstructure:"tile"`
	Condition string  `mapstructure:"condition"`
	Level     float64 `mapstructure:"level"`
}

// WorkspaceConfig seeds one workspace tab.
type WorkspaceConfig struct {
	Name  string       `mapstructure:"name"`
	Tiles []TileConfig `mapstructure:"tiles"`
}

// TileConfig seeds one tile. Empty fields take the defaults.
type TileConfig struct {
	Underlying string               `mapstructure:"underlying"`
	Expiry     string               `mapstructure:"expiry"`
	Strategy   string               `mapstructure:"strategy"`
	Strike     float64              `mapstructure:"strike"`
	Legs       []models.LegOverride `mapstructure:"legs"`
}

// Credentials holds API credentials.
type Credentials struct {
	Upstox UpstoxCredentials `mapstructure:"upstox"`
}

// UpstoxCredentials holds the Upstox access token.
type UpstoxCredentials struct {
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/kyoto"
	}
	return filepath.Join(home, ".config", "kyoto")
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
// A missing config.toml is written from the template and defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.base_url", "https://api.upstox.com/v2")
	v.SetDefault("provider.mode", "chain")
	v.SetDefault("provider.timeout", "1500ms")
	v.SetDefault("refresh.interval", "1s")
	v.SetDefault("refresh.workers", 4)
	v.SetDefault("refresh.breaker_failures", 0)
	v.SetDefault("refresh.breaker_cooldown", "30s")
	v.SetDefault("defaults.underlying", "NIFTY")
	v.SetDefault("defaults.strategy", string(models.Vertical))
	v.SetDefault("defaults.strike", 21700.0)
	v.SetDefault("defaults.strike_step", 50.0)
	v.SetDefault("paper.volatility", 0.14)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "kyoto.db"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.console", true)
	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("alerts.bell", true)
}

func loadConfigFile(configDir, name string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, write the template and run on defaults
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(TokenEnv); v != "" {
		cfg.Credentials.Upstox.AccessToken = v
	}

	if v := os.Getenv("KYOTO_PROVIDER_MODE"); v != "" {
		cfg.Provider.Mode = strings.ToLower(v)
	}

	if v := os.Getenv("KYOTO_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Refresh.Interval = d
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Provider.Mode {
	case "chain", "quotes", "paper":
	default:
		return apperrors.NewValidationError("provider.mode", c.Provider.Mode, "must be 'chain', 'quotes' or 'paper'")
	}

	if c.Provider.Timeout <= 0 || c.Provider.Timeout > 10*time.Second {
		return apperrors.NewValidationError("provider.timeout", c.Provider.Timeout, "must be in (0, 10s]")
	}

	if c.Refresh.Interval < 100*time.Millisecond || c.Refresh.Interval > time.Minute {
		return apperrors.NewValidationError("refresh.interval", c.Refresh.Interval, "must be in [100ms, 60s]")
	}

	if c.Refresh.Workers < 1 {
		return apperrors.NewValidationError("refresh.workers", c.Refresh.Workers, "must be at least 1")
	}

	if c.Refresh.BreakerFailures < 0 {
		return apperrors.NewValidationError("refresh.breaker_failures", c.Refresh.BreakerFailures, "must not be negative")
	}

	if c.Refresh.BreakerFailures > 0 && c.Refresh.BreakerCooldown <= 0 {
		return apperrors.NewValidationError("refresh.breaker_cooldown", c.Refresh.BreakerCooldown, "must be positive")
	}

	for _, r := range c.Alerts.Rules {
		switch r.Condition {
		case "above", "below", "cross_above", "cross_below":
		default:
			return apperrors.NewValidationError("alerts.rules.condition", r.Condition, "must be above, below, cross_above or cross_below")
		}
		if r.Tile < 1 {
			return apperrors.NewValidationError("alerts.rules.tile", r.Tile, "must be a tile id")
		}
	}

	if c.Defaults.StrikeStep <= 0 {
		return apperrors.NewValidationError("defaults.strike_step", c.Defaults.StrikeStep, "must be positive")
	}

	if _, err := models.ParseStrategyKind(c.Defaults.Strategy); err != nil {
		return apperrors.NewValidationError("defaults.strategy", c.Defaults.Strategy, "unknown strategy")
	}

	seen := make(map[string]bool, len(c.Workspaces))
	for _, ws := range c.Workspaces {
		name := strings.TrimSpace(ws.Name)
		if name == "" {
			return apperrors.NewValidationError("workspaces.name", ws.Name, "must not be empty")
		}
		if seen[name] {
			return apperrors.NewValidationError("workspaces.name", ws.Name, "duplicate workspace")
		}
		seen[name] = true
	}

	return nil
}

// IsPaperMode returns true if the offline fetcher is selected.
func (c *Config) IsPaperMode() bool {
	return c.Provider.Mode == "paper"
}

// TokenEnv names the environment variable holding the Upstox access token.
const TokenEnv = "UPSTOX_ACCESS_TOKEN"

// AccessToken returns the provider token, possibly empty. The environment is
// read on every call and wins over credentials.toml, so a token exported after
// startup is used from the next request on.
func (c *Config) AccessToken() string {
	if v := strings.TrimSpace(os.Getenv(TokenEnv)); v != "" {
		return v
	}
	return strings.TrimSpace(c.Credentials.Upstox.AccessToken)
}
