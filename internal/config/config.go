// Package config loads memwarden configuration from file, environment,
// and defaults, in that order of increasing precedence for the
// environment and decreasing for defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/dverbeek/memwarden/internal/refine"
)

// Config holds every tunable of the server.
type Config struct {
	DataDir            string  `yaml:"data_dir" mapstructure:"data_dir"`
	RetentionThreshold float64 `yaml:"retention_threshold" mapstructure:"retention_threshold"`
	MaxMutations       int     `yaml:"max_mutations" mapstructure:"max_mutations"`
	MaxContentLength   int     `yaml:"max_content_length" mapstructure:"max_content_length"`
	MaxSearchResults   int     `yaml:"max_search_results" mapstructure:"max_search_results"`
	LogLevel           string  `yaml:"log_level" mapstructure:"log_level"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:            filepath.Join(home, ".memwarden"),
		RetentionThreshold: refine.DefaultThreshold,
		MaxMutations:       refine.DefaultMaxMutations,
		MaxContentLength:   refine.DefaultMaxContentLength,
		MaxSearchResults:   20,
		LogLevel:           "info",
	}
}

// Load reads config.yaml from the working directory or the user config
// dir, overlays MEMWARDEN_* environment variables, and validates the
// result. A missing config file is not an error.
func Load() (*Config, error) {
	defaults := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "memwarden"))
	}
	home, _ := os.UserHomeDir()
	viper.AddConfigPath(filepath.Join(home, ".config", "memwarden"))

	viper.SetEnvPrefix("MEMWARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Registering defaults makes env-only keys visible to Unmarshal.
	viper.SetDefault("data_dir", defaults.DataDir)
	viper.SetDefault("retention_threshold", defaults.RetentionThreshold)
	viper.SetDefault("max_mutations", defaults.MaxMutations)
	viper.SetDefault("max_content_length", defaults.MaxContentLength)
	viper.SetDefault("max_search_results", defaults.MaxSearchResults)
	viper.SetDefault("log_level", defaults.LogLevel)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.RetentionThreshold <= 0 || c.RetentionThreshold >= 1 {
		return fmt.Errorf("config: retention_threshold must be between 0 and 1 exclusive, got %g", c.RetentionThreshold)
	}
	if c.MaxMutations < 1 {
		return fmt.Errorf("config: max_mutations must be at least 1, got %d", c.MaxMutations)
	}
	if c.MaxContentLength < 1 {
		return fmt.Errorf("config: max_content_length must be at least 1, got %d", c.MaxContentLength)
	}
	if c.MaxSearchResults < 1 {
		c.MaxSearchResults = 20
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("config: log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}
