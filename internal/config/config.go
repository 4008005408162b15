package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	KV          KVConfig                  `json:"kv" yaml:"kv"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Assistant   AssistantConfig           `json:"assistant" yaml:"assistant"`
	RateLimit   RateLimitConfig           `json:"rate_limit" yaml:"rate_limit"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address"`
	StorageKey        string `json:"storage_key" yaml:"storage_key"`
	MaxResponseLength int    `json:"max_response_length" yaml:"max_response_length"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // seconds
	ClientIdleTTL     int    `json:"client_idle_ttl" yaml:"client_idle_ttl"`         // minutes
	ClientSecret      string `json:"client_secret" yaml:"client_secret"`
}

// KVConfig selects the durable key-value backend holding session snapshots.
type KVConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // memory, sql, redis, badger, pebble
	Database string `json:"database" yaml:"database"`
	Path     string `json:"path" yaml:"path"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

// AssistantConfig describes how the remote assistant is reached.
type AssistantConfig struct {
	Mode      string                    `json:"mode" yaml:"mode"` // http or llm
	BaseURL   string                    `json:"base_url" yaml:"base_url"`
	Path      string                    `json:"path" yaml:"path"`
	Timeout   int                       `json:"timeout" yaml:"timeout"` // seconds
	Provider  string                    `json:"provider" yaml:"provider"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
}

type RateLimitConfig struct {
	PerSecond float64 `json:"per_second" yaml:"per_second"`
	Burst     int     `json:"burst" yaml:"burst"`
}

const (
	DefaultStorageKey        = "mindfulnessChatSessions"
	DefaultMaxResponseLength = 5000
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     ":8090",
			StorageKey:        DefaultStorageKey,
			MaxResponseLength: DefaultMaxResponseLength,
			MinWorkers:        2,
			MaxWorkers:        16,
			QueueSize:         64,
			WorkerIdleTimeout: 30,
			ClientIdleTTL:     30,
		},
		KV: KVConfig{Driver: "sql", Database: "sqlite3"},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "./data/mindfulchat.db"},
		},
		Assistant: AssistantConfig{
			Mode:    "http",
			BaseURL: "http://127.0.0.1:5000",
			Path:    "/chat",
			Timeout: 60,
		},
		RateLimit: RateLimitConfig{PerSecond: 1, Burst: 5},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)
	if err := cfg.normalize(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("MINDFULCHAT_ADDR")); v != "" {
		cfg.BasicConfig.ServerAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("MINDFULCHAT_KV_DRIVER")); v != "" {
		cfg.KV.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("MINDFULCHAT_ASSISTANT_URL")); v != "" {
		cfg.Assistant.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MINDFULCHAT_CLIENT_SECRET")); v != "" {
		cfg.BasicConfig.ClientSecret = v
	}
}

func (c *Config) normalize(baseDir string) error {
	if c.BasicConfig.StorageKey == "" {
		c.BasicConfig.StorageKey = DefaultStorageKey
	}
	if c.BasicConfig.MaxResponseLength <= 0 {
		c.BasicConfig.MaxResponseLength = DefaultMaxResponseLength
	}

	c.KV.Driver = strings.ToLower(strings.TrimSpace(c.KV.Driver))
	switch c.KV.Driver {
	case "memory", "redis":
	case "sql":
		if c.KV.Database == "" {
			c.KV.Database = "sqlite3"
		}
		dbCfg := c.Databases[c.KV.Database]
		if isSQLite(c.KV.Database) && dbCfg.DSN != "" && dbCfg.DSN != ":memory:" && !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(baseDir, dbCfg.DSN)
			c.Databases[c.KV.Database] = dbCfg
		}
	case "badger", "pebble":
		if c.KV.Path == "" {
			return fmt.Errorf("kv.path must be configured for %s", c.KV.Driver)
		}
		if !filepath.IsAbs(c.KV.Path) {
			c.KV.Path = filepath.Join(baseDir, c.KV.Path)
		}
	default:
		return fmt.Errorf("unsupported kv driver: %q", c.KV.Driver)
	}
	if c.KV.Driver == "redis" {
		c.Redis.Enabled = true
	}

	c.Assistant.Mode = strings.ToLower(strings.TrimSpace(c.Assistant.Mode))
	switch c.Assistant.Mode {
	case "", "http":
		c.Assistant.Mode = "http"
		if c.Assistant.BaseURL == "" {
			return fmt.Errorf("assistant.base_url must be configured")
		}
	case "llm":
		if _, ok := c.Assistant.Providers[c.Assistant.Provider]; !ok {
			return fmt.Errorf("assistant provider %q not configured", c.Assistant.Provider)
		}
	default:
		return fmt.Errorf("unsupported assistant mode: %q", c.Assistant.Mode)
	}
	return nil
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
