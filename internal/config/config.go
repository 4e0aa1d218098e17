package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel          string              `yaml:"log_level"`
	Database          DatabaseConfig      `yaml:"database"`
	Panel             PanelConfig         `yaml:"panel"`
	Subscription      SubscriptionConfig  `yaml:"subscription"`
	Sync              SyncConfig          `yaml:"sync"`
	Shop              ShopConfig          `yaml:"shop"`
	Telegram          TelegramConfig      `yaml:"telegram"`
	ObservabilityHTTP ObservabilityConfig `yaml:"observability"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PanelConfig holds the fleet-wide credentials used to authenticate
// against every remote panel.
type PanelConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
	Timeout  int    `yaml:"timeout"` // seconds, per request
}

type SubscriptionConfig struct {
	Listen      string `yaml:"listen"`
	RemotePort  int    `yaml:"remote_port"` // port panels serve subscriptions on; 0 keeps the host's port
	RemotePath  string `yaml:"remote_path"`
	Title       string `yaml:"title"`
	UpdateHours int    `yaml:"update_hours"`
	Timeout     int    `yaml:"timeout"` // seconds, per upstream fetch
}

type SyncConfig struct {
	Interval int `yaml:"interval"` // seconds between reconciliation passes
}

type ShopConfig struct {
	BonusDevices int `yaml:"bonus_devices"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type ObservabilityConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
	Pprof   bool   `yaml:"pprof"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "fleet.sqlite"
	}
	if cfg.Panel.Username == "" {
		return nil, fmt.Errorf("panel: username is required")
	}
	if cfg.Panel.Password == "" {
		return nil, fmt.Errorf("panel: password is required")
	}
	if cfg.Panel.Timeout == 0 {
		cfg.Panel.Timeout = 15
	}
	if cfg.Subscription.Listen == "" {
		cfg.Subscription.Listen = ":8080"
	}
	if cfg.Subscription.RemotePath == "" {
		cfg.Subscription.RemotePath = "/sub/"
	}
	if !strings.HasSuffix(cfg.Subscription.RemotePath, "/") {
		cfg.Subscription.RemotePath += "/"
	}
	if cfg.Subscription.Title == "" {
		cfg.Subscription.Title = "xui-fleet"
	}
	if cfg.Subscription.UpdateHours == 0 {
		cfg.Subscription.UpdateHours = 12
	}
	if cfg.Subscription.Timeout == 0 {
		cfg.Subscription.Timeout = 10
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 600
	}
	if cfg.Shop.BonusDevices == 0 {
		cfg.Shop.BonusDevices = 1
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}

	return &cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) ParseLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
