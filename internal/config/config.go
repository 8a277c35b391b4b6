package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server  ServerConfig
	Voice   VoiceConfig
	Poll    PollConfig
	Store   StoreConfig
	Logging LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8420" yaml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
}

// VoiceConfig holds remote telephony API configuration.
type VoiceConfig struct {
	APIBaseURL     string        `envconfig:"VOICE_API_URL" default:"https://www.google.com/voice" yaml:"api_base_url"`
	SiteBaseURL    string        `envconfig:"VOICE_SITE_URL" default:"https://voice.google.com" yaml:"site_base_url"`
	RequestTimeout time.Duration `envconfig:"VOICE_REQUEST_TIMEOUT" default:"5s" yaml:"request_timeout"`
}

// PollConfig holds unread poller configuration.
type PollConfig struct {
	MinInterval     time.Duration `envconfig:"POLL_INTERVAL_MIN" default:"60s" yaml:"min_interval"`
	MaxInterval     time.Duration `envconfig:"POLL_INTERVAL_MAX" default:"1h" yaml:"max_interval"`
	UserDataRefresh time.Duration `envconfig:"POLL_USERDATA_REFRESH" default:"30m" yaml:"user_data_refresh"`
}

// StoreConfig holds key-value store configuration.
type StoreConfig struct {
	Path string `envconfig:"STORE_PATH" default:"" yaml:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from environment variables, then applies
// overrides from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8420",
			Host: "0.0.0.0",
		},
		Voice: VoiceConfig{
			APIBaseURL:     "https://www.google.com/voice",
			SiteBaseURL:    "https://voice.google.com",
			RequestTimeout: 5 * time.Second,
		},
		Poll: PollConfig{
			MinInterval:     time.Minute,
			MaxInterval:     time.Hour,
			UserDataRefresh: 30 * time.Minute,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
