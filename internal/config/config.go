package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfinance/datacenter/internal/errs"
)

// Config is the top-level datacenter configuration loaded at startup.
// A malformed file aborts the process; collection never runs against a
// half-validated config.
type Config struct {
	Version    string                  `yaml:"version"`
	Sources    map[string]SourceConfig `yaml:"sources"`
	Collection CollectionConfig        `yaml:"collection"`
	Storage    StorageConfig           `yaml:"storage"`
	Cache      CacheConfig             `yaml:"cache"`
	Logging    LoggingConfig           `yaml:"logging"`
}

// SourceConfig describes one third-party origin.
type SourceConfig struct {
	Enabled    bool              `yaml:"enabled"`
	BaseURL    string            `yaml:"base_url"`
	APIKey     string            `yaml:"api_key"`
	TimeoutSec int               `yaml:"timeout"`
	RetryCount int               `yaml:"retry_count"`
	RateLimit  float64           `yaml:"rate_limit"` // requests per second
	Headers    map[string]string `yaml:"headers"`
}

// Timeout returns the request timeout with a 30s default.
func (s SourceConfig) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

// CollectionConfig holds global collection behavior.
type CollectionConfig struct {
	BatchSize        int     `yaml:"batch_size"`
	MaxConcurrent    int     `yaml:"max_concurrent"`
	QualityThreshold float64 `yaml:"quality_threshold"`
}

// StorageConfig holds the relational store settings.
type StorageConfig struct {
	DatabaseURL     string `yaml:"database_url"`
	PoolSize        int    `yaml:"pool_size"`
	EchoSQL         bool   `yaml:"echo_sql"`
	BatchInsertSize int    `yaml:"batch_insert_size"`
	Timezone        string `yaml:"timezone"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"` // "redis" or "memory"
	TTLSecs  int    `yaml:"ttl"`
	MaxSize  int    `yaml:"max_size"`
	RedisURL string `yaml:"redis_url"`
}

// TTL returns the cache TTL with a 5 minute default.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TTLSecs) * time.Second
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
	File   string `yaml:"file"`
}

var envRef = regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)`)

// ExpandEnv resolves ${NAME} and $NAME references against the process
// environment. Unresolved references become empty strings.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		name := strings.TrimPrefix(m, "$")
		name = strings.TrimPrefix(name, "{")
		name = strings.TrimSuffix(name, "}")
		return os.Getenv(name)
	})
}

// Load reads, parses and validates a datacenter config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "load config",
			fmt.Errorf("failed to read config file: %w", err))
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes. Environment references in
// infrastructure fields expand now; api_key fields keep their raw
// reference so credentials resolve per request and key rotation takes
// effect without a restart.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "parse config",
			fmt.Errorf("failed to parse config: %w", err))
	}
	cfg.expandEnvRefs()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "validate config", err)
	}
	return &cfg, nil
}

// expandEnvRefs resolves startup-time environment references. APIKey is
// deliberately left alone.
func (c *Config) expandEnvRefs() {
	c.Storage.DatabaseURL = ExpandEnv(c.Storage.DatabaseURL)
	c.Cache.RedisURL = ExpandEnv(c.Cache.RedisURL)
	c.Logging.File = ExpandEnv(c.Logging.File)
	for id, src := range c.Sources {
		src.BaseURL = ExpandEnv(src.BaseURL)
		for k, v := range src.Headers {
			src.Headers[k] = ExpandEnv(v)
		}
		c.Sources[id] = src
	}
}

func (c *Config) applyDefaults() {
	if c.Collection.BatchSize <= 0 {
		c.Collection.BatchSize = 500
	}
	if c.Collection.MaxConcurrent <= 0 {
		c.Collection.MaxConcurrent = 4
	}
	if c.Storage.PoolSize <= 0 {
		c.Storage.PoolSize = 10
	}
	if c.Storage.BatchInsertSize <= 0 {
		c.Storage.BatchInsertSize = 500
	}
	if c.Storage.Timezone == "" {
		c.Storage.Timezone = "Asia/Shanghai"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	for id, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		if src.BaseURL == "" {
			return fmt.Errorf("source %s: base_url is required", id)
		}
		if src.RateLimit < 0 {
			return fmt.Errorf("source %s: rate_limit must be non-negative, got %f", id, src.RateLimit)
		}
	}
	if c.Cache.Enabled && c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache backend redis requires redis_url")
	}
	if c.Collection.QualityThreshold < 0 || c.Collection.QualityThreshold > 1 {
		return fmt.Errorf("collection quality_threshold must be in [0,1], got %f", c.Collection.QualityThreshold)
	}
	return nil
}
