package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Driver     DriverConfig     `yaml:"driver"`
	Database   DatabaseConfig   `yaml:"database"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Remote     RemoteConfig     `yaml:"remote"`
	Network    NetworkConfig    `yaml:"network"`
	Sync       SyncConfig       `yaml:"sync"`
	Imaging    ImagingConfig    `yaml:"imaging"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DriverConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig selects the durable store backend. sqlite is the default;
// redis targets hosts that already run a persistent (AOF) instance;
// memory is for tests only.
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIToken       string `yaml:"api_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type NetworkConfig struct {
	ProbeURL             string `yaml:"probe_url"`
	ProbeIntervalSeconds int    `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int    `yaml:"probe_timeout_seconds"`
	FailureThreshold     int    `yaml:"failure_threshold"`
}

type SyncConfig struct {
	MaxRetries            int     `yaml:"max_retries"`
	InitialDelaySeconds   int     `yaml:"initial_delay_seconds"`
	MaxDelaySeconds       int     `yaml:"max_delay_seconds"`
	BackoffFactor         float64 `yaml:"backoff_factor"`
	HandlerTimeoutSeconds int     `yaml:"handler_timeout_seconds"`
	PaceRPS               float64 `yaml:"pace_rps"`
	PaceBurst             int     `yaml:"pace_burst"`
}

type ImagingConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxWidth    int  `yaml:"max_width"`
	JPEGQuality int  `yaml:"jpeg_quality"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; only a malformed file is an error
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Substitute environment variables before parsing
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Driver.ID == "" {
		return errors.New("driver id is required")
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path is required for the sqlite backend")
		}
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}

	if c.Imaging.JPEGQuality < 1 || c.Imaging.JPEGQuality > 100 {
		return fmt.Errorf("imaging jpeg_quality must be within 1..100, got %d", c.Imaging.JPEGQuality)
	}

	if c.Sync.BackoffFactor < 1 {
		return fmt.Errorf("sync backoff_factor must be >= 1, got %v", c.Sync.BackoffFactor)
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key for client '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}

	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = 15
	}

	// Network probe defaults
	if c.Network.ProbeURL == "" {
		c.Network.ProbeURL = c.Remote.BaseURL
	}
	if c.Network.ProbeIntervalSeconds == 0 {
		c.Network.ProbeIntervalSeconds = 15
	}
	if c.Network.ProbeTimeoutSeconds == 0 {
		c.Network.ProbeTimeoutSeconds = 5
	}
	if c.Network.FailureThreshold == 0 {
		c.Network.FailureThreshold = 1
	}

	// Sync defaults
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 5
	}
	if c.Sync.InitialDelaySeconds == 0 {
		c.Sync.InitialDelaySeconds = 2
	}
	if c.Sync.MaxDelaySeconds == 0 {
		c.Sync.MaxDelaySeconds = 60
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}
	if c.Sync.HandlerTimeoutSeconds == 0 {
		c.Sync.HandlerTimeoutSeconds = 30
	}

	// Imaging defaults
	if c.Imaging.MaxWidth == 0 {
		c.Imaging.MaxWidth = 1280
	}
	if c.Imaging.JPEGQuality == 0 {
		c.Imaging.JPEGQuality = 80
	}

	// API defaults
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
}
