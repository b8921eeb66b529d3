package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.yaml"

type Config struct {
	App     AppConfig     `yaml:"app"`
	Kraken  KrakenConfig  `yaml:"kraken"`
	Engine  EngineConfig  `yaml:"engine"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type KrakenConfig struct {
	APIKey    string        `yaml:"api_key" env:"KRAKEN_API_KEY"`
	APISecret string        `yaml:"api_secret" env:"KRAKEN_API_SECRET"`
	Sandbox   bool          `yaml:"sandbox" env:"SANDBOX"`
	APIURL    string        `yaml:"api_url" env:"KRAKEN_API_URL"`
	StreamURL string        `yaml:"stream_url" env:"KRAKEN_STREAM_URL"`
	Timeout   time.Duration `yaml:"timeout"`
	Retry     RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type EngineConfig struct {
	TargetFiat string `yaml:"target_fiat" env:"TARGET_FIAT"`
	FeedBuffer int    `yaml:"feed_buffer"`
}

type ServerConfig struct {
	Port int `yaml:"port" env:"HTTP_PORT"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level" env:"LOG_LEVEL"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	Debug          bool          `yaml:"debug" env:"DEBUG"`
	SinkURL        string        `yaml:"sink_url" env:"LOG_SINK_URL"`
	SinkToken      string        `yaml:"sink_token" env:"LOG_SINK_TOKEN"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// LoadConfig assembles the effective configuration: defaults, then the
// yaml file when present, then environment overrides. The file is
// optional when the explicit path is empty; an explicit path that does
// not exist is an error.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	path = configPathFor(CurrentEnvironment(), path)

	config := Config{
		App: AppConfig{
			Name:    "autosell",
			Version: "dev",
		},
		Kraken: KrakenConfig{
			Timeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
			},
		},
		Engine: EngineConfig{
			TargetFiat: "USD",
			FeedBuffer: 64,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			MaxAge:         7,
			ReportInterval: 30 * time.Second,
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
		// No file is fine; environment variables carry the required
		// settings in container deployments.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.Kraken.APIKey = strings.TrimSpace(config.Kraken.APIKey)
	config.Kraken.APISecret = strings.TrimSpace(config.Kraken.APISecret)
	config.Engine.TargetFiat = strings.ToUpper(strings.TrimSpace(config.Engine.TargetFiat))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.Kraken.APIKey == "" {
		return fmt.Errorf("kraken.api_key is required (KRAKEN_API_KEY)")
	}
	if cfg.Kraken.APISecret == "" {
		return fmt.Errorf("kraken.api_secret is required (KRAKEN_API_SECRET)")
	}
	if cfg.Kraken.Timeout <= 0 {
		return fmt.Errorf("kraken.timeout must be greater than 0")
	}
	if cfg.Kraken.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("kraken.retry.max_attempts must be greater than 0")
	}
	if cfg.Kraken.Retry.BaseDelay <= 0 {
		return fmt.Errorf("kraken.retry.base_delay must be greater than 0")
	}

	if cfg.Engine.TargetFiat == "" {
		return fmt.Errorf("engine.target_fiat is required (TARGET_FIAT)")
	}
	if cfg.Engine.FeedBuffer <= 0 {
		return fmt.Errorf("engine.feed_buffer must be greater than 0")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}

	if env := CurrentEnvironment(); env.ProductionLike() && cfg.Kraken.Sandbox {
		return fmt.Errorf("kraken.sandbox must be false in %s", env)
	}

	return nil
}
