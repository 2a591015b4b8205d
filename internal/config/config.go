package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Validation ValidationConfig `yaml:"validation"`
	Notify     NotifyConfig     `yaml:"notify"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	APIKey     string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig points at the WhatsApp messaging gateway API
type GatewayConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// DirectoryConfig points at the business directory search API
type DirectoryConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxPages int           `yaml:"max_pages"`
	SeenDB   string        `yaml:"seen_db"` // bbolt file for imported-place dedupe
}

type DispatchConfig struct {
	DefaultMinIntervalMin int `yaml:"default_min_interval_minutes"`
	DefaultMaxIntervalMin int `yaml:"default_max_interval_minutes"`
}

type ValidationConfig struct {
	// Pace is the fixed delay between gateway number checks
	Pace               time.Duration `yaml:"pace"`
	DefaultCountryCode string        `yaml:"default_country_code"`
}

type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPAddr string `yaml:"smtp_addr"` // host:port of the submission endpoint
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, used when
// no config file is given.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/zapleads.db"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 30 * time.Second
	}
	if cfg.Directory.Timeout == 0 {
		cfg.Directory.Timeout = 30 * time.Second
	}
	if cfg.Directory.MaxPages == 0 {
		cfg.Directory.MaxPages = 3
	}
	if cfg.Directory.SeenDB == "" {
		cfg.Directory.SeenDB = "./data/seen.db"
	}
	if cfg.Dispatch.DefaultMinIntervalMin == 0 {
		cfg.Dispatch.DefaultMinIntervalMin = 1
	}
	if cfg.Dispatch.DefaultMaxIntervalMin == 0 {
		cfg.Dispatch.DefaultMaxIntervalMin = 5
	}
	if cfg.Validation.Pace == 0 {
		cfg.Validation.Pace = time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	if cfg.Dispatch.DefaultMinIntervalMin < 1 {
		return fmt.Errorf("dispatch.default_min_interval_minutes must be at least 1")
	}
	if cfg.Dispatch.DefaultMaxIntervalMin < cfg.Dispatch.DefaultMinIntervalMin {
		return fmt.Errorf("dispatch.default_max_interval_minutes must not be less than the minimum")
	}
	if cfg.Validation.Pace < 0 {
		return fmt.Errorf("validation.pace must not be negative")
	}
	if cfg.Notify.Enabled {
		if cfg.Notify.SMTPAddr == "" {
			return fmt.Errorf("notify.smtp_addr is required when notify is enabled")
		}
		if cfg.Notify.From == "" || cfg.Notify.To == "" {
			return fmt.Errorf("notify.from and notify.to are required when notify is enabled")
		}
	}
	return nil
}
