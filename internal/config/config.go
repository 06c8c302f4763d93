// internal/config/config.go
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	DBURL    string `mapstructure:"DB_URL"`
	CacheDir string `mapstructure:"CACHE_DIR"`

	// GithubToken is the fallback token for repositories linked without one.
	GithubToken string `mapstructure:"GITHUB_TOKEN"`

	GeminiAPIKey  string `mapstructure:"GEMINI_API_KEY"`
	GeminiBaseURL string `mapstructure:"GEMINI_BASE_URL"`
	GeminiModel   string `mapstructure:"GEMINI_MODEL"`

	MaxFiles    int `mapstructure:"MAX_FILES"`
	CommitLimit int `mapstructure:"COMMIT_LIMIT"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("CACHE_DIR", "./data/cache")
	viper.SetDefault("GEMINI_BASE_URL", "")
	viper.SetDefault("GEMINI_MODEL", "")
	viper.SetDefault("MAX_FILES", 30)
	viper.SetDefault("COMMIT_LIMIT", 100)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.MaxFiles <= 0 {
		return nil, errors.New("MAX_FILES must be positive")
	}
	if cfg.CommitLimit <= 0 {
		return nil, errors.New("COMMIT_LIMIT must be positive")
	}

	return &cfg, nil
}
