package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration shared by both binaries. The edge
// gateway reads server, ledger and sync; the cloud API reads server and
// database. Keeping one schema means one config file can drive a whole
// deployment.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Sync     SyncConfig     `koanf:"sync"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

// DatabaseConfig holds the cloud-side PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// LedgerConfig holds the edge-side SQLite ledger settings.
type LedgerConfig struct {
	Path        string `koanf:"path"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// SyncConfig drives the edge reconciliation loop. Interval and timeout are
// parsed as time.Duration strings on startup.
type SyncConfig struct {
	Enabled        bool   `koanf:"enabled"`
	APIBaseURL     string `koanf:"api_base_url"`
	APIKey         string `koanf:"api_key"`
	Tenant         string `koanf:"tenant"`
	Interval       string `koanf:"interval"`
	RequestTimeout string `koanf:"request_timeout"`
	BatchSize      int    `koanf:"batch_size"`
}

// EffectiveInterval parses the configured sync interval.
func (c SyncConfig) EffectiveInterval() (time.Duration, error) {
	return time.ParseDuration(c.Interval)
}

// EffectiveRequestTimeout parses the configured per-request timeout.
func (c SyncConfig) EffectiveRequestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.RequestTimeout)
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}
	return nil
}

// ValidateCloud checks the sections the cloud API depends on.
func (c *Config) ValidateCloud() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	return nil
}

// ValidateEdge checks the sections the edge gateway depends on.
func (c *Config) ValidateEdge() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path is required")
	}

	if !c.Sync.Enabled {
		return nil
	}

	if strings.TrimSpace(c.Sync.APIBaseURL) == "" {
		return fmt.Errorf("sync.api_base_url is required when sync is enabled")
	}
	if strings.TrimSpace(c.Sync.APIKey) == "" {
		return fmt.Errorf("sync.api_key is required when sync is enabled")
	}
	if strings.TrimSpace(c.Sync.Tenant) == "" {
		return fmt.Errorf("sync.tenant is required when sync is enabled")
	}
	interval, err := c.Sync.EffectiveInterval()
	if err != nil {
		return fmt.Errorf("invalid sync.interval %q: %w", c.Sync.Interval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("sync.interval must be > 0")
	}
	timeout, err := c.Sync.EffectiveRequestTimeout()
	if err != nil {
		return fmt.Errorf("invalid sync.request_timeout %q: %w", c.Sync.RequestTimeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("sync.request_timeout must be > 0")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be > 0")
	}
	return nil
}

// Load parses config from defaults, then the optional YAML file, then
// HERDLINX_-prefixed environment variables (HERDLINX_SYNC__INTERVAL=5s
// overrides sync.interval). Validation is per-binary and left to the caller.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 1,
		"server.mode":             "release",
		"database.dsn":            "",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"ledger.path":             "herdlinx.db",
		"ledger.auto_migrate":     true,
		"sync.enabled":            true,
		"sync.api_base_url":       "",
		"sync.api_key":            "",
		"sync.tenant":             "",
		"sync.interval":           "10s",
		"sync.request_timeout":    "30s",
		"sync.batch_size":         200,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("HERDLINX_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "HERDLINX_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
