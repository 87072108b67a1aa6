// Package config loads spice settings from viper and expands configured paths.
package config

import (
	"fmt"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/spf13/viper"
)

// DefaultDatabasePath is used when database.path is not configured.
const DefaultDatabasePath = "$XDG_DATA_HOME/spice/spice.db"

// Config is the fully resolved application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Model     ModelConfig     `mapstructure:"model"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Canary    CanaryConfig    `mapstructure:"canary"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
	Promotion PromotionConfig `mapstructure:"promotion"`
}

// LoggingConfig controls slog setup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ModelConfig configures the model-based suggestion engine.
// An empty Endpoint disables the engine.
type ModelConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	APIKey            string        `mapstructure:"api_key"`
	Version           string        `mapstructure:"version"`
	Timeout           time.Duration `mapstructure:"timeout"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// ScoringConfig holds the confidence gate.
type ScoringConfig struct {
	AskAgentThreshold float64 `mapstructure:"ask_agent_threshold"`
}

// CanaryConfig seeds the rollout state of a fresh database.
type CanaryConfig struct {
	Percentage int  `mapstructure:"percentage"`
	Shadow     bool `mapstructure:"shadow"`
}

// FeedbackConfig bounds fire-and-forget feedback writes.
type FeedbackConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// PromotionConfig controls hint promotion retries.
type PromotionConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("model.timeout", 10*time.Second)
	v.SetDefault("model.cache_ttl", 15*time.Minute)
	v.SetDefault("model.requests_per_minute", 120)
	v.SetDefault("model.version", "unversioned")
	v.SetDefault("scoring.ask_agent_threshold", 0.50)
	v.SetDefault("canary.percentage", 0)
	v.SetDefault("canary.shadow", false)
	v.SetDefault("feedback.timeout", 5*time.Second)
	v.SetDefault("promotion.max_attempts", 3)
}

// Load resolves the configuration from v, applying defaults and validation.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Scoring.AskAgentThreshold < 0 || c.Scoring.AskAgentThreshold > 1 {
		return fmt.Errorf("%w: scoring.ask_agent_threshold must be within [0,1], got %v",
			common.ErrInvalidConfig, c.Scoring.AskAgentThreshold)
	}
	if c.Canary.Percentage < 0 || c.Canary.Percentage > 100 {
		return fmt.Errorf("%w: canary.percentage must be within [0,100], got %d",
			common.ErrInvalidConfig, c.Canary.Percentage)
	}
	if c.Model.RequestsPerMinute < 0 {
		return fmt.Errorf("%w: model.requests_per_minute must not be negative", common.ErrInvalidConfig)
	}
	if c.Promotion.MaxAttempts <= 0 {
		return fmt.Errorf("%w: promotion.max_attempts must be positive", common.ErrInvalidConfig)
	}
	return nil
}
