// Package config loads service configuration from an optional config.yaml and
// MANDI_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/cache"
	"github.com/Sternrassler/mandi-prices/pkg/discovery"
	"github.com/Sternrassler/mandi-prices/pkg/estimator"
	"github.com/Sternrassler/mandi-prices/pkg/logging"
	"github.com/Sternrassler/mandi-prices/pkg/retry"
	"github.com/Sternrassler/mandi-prices/pkg/source"
	"github.com/Sternrassler/mandi-prices/pkg/warmer"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. MANDI_REDIS_ADDR.
const EnvPrefix = "MANDI"

// Config holds all configuration for the service.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Source SourceConfig `mapstructure:"source"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Engine EngineConfig `mapstructure:"engine"`
	AI     AIConfig     `mapstructure:"ai"`
	Warmer WarmerConfig `mapstructure:"warmer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release or test
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// RedisConfig holds the cache backend connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SourceConfig selects and tunes the market data provider.
type SourceConfig struct {
	Kind           string        `mapstructure:"kind"` // "http" or "mock"
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// CacheConfig holds TTLs per cache kind and how long expired entries are kept.
type CacheConfig struct {
	PricesTTL     time.Duration `mapstructure:"prices_ttl"`
	HistoricalTTL time.Duration `mapstructure:"historical_ttl"`
	CatalogTTL    time.Duration `mapstructure:"catalog_ttl"`
	HealthTTL     time.Duration `mapstructure:"health_ttl"`
	StaleGrace    time.Duration `mapstructure:"stale_grace"`
}

// EngineConfig holds the engine's in-process result cache settings.
type EngineConfig struct {
	LocalTTL        time.Duration `mapstructure:"local_ttl"`
	LocalMaxEntries int           `mapstructure:"local_max_entries"`
}

// AIConfig configures the optional model service.
type AIConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WarmerConfig configures scheduled cache warm-up.
type WarmerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RunOnStart     bool          `mapstructure:"run_on_start"`
	Schedule       string        `mapstructure:"schedule"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Locations      []string      `mapstructure:"locations"`
	Products       []string      `mapstructure:"products"`
	HistoryDays    int           `mapstructure:"history_days"`
}

// Load loads configuration from defaults, an optional config file and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/mandi-prices/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", string(logging.FormatJSON))

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	httpDefaults := source.DefaultHTTPConfig("")
	v.SetDefault("source.kind", string(source.KindMock))
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.user_agent", httpDefaults.UserAgent)
	v.SetDefault("source.timeout", httpDefaults.Timeout)
	v.SetDefault("source.health_timeout", httpDefaults.HealthTimeout)
	v.SetDefault("source.rate_limit", httpDefaults.RateLimit)
	v.SetDefault("source.burst", httpDefaults.Burst)
	v.SetDefault("source.max_attempts", httpDefaults.Retry.MaxAttempts)
	v.SetDefault("source.initial_backoff", httpDefaults.Retry.InitialBackoff)
	v.SetDefault("source.max_backoff", httpDefaults.Retry.MaxBackoff)

	cacheDefaults := cache.DefaultConfig()
	v.SetDefault("cache.prices_ttl", cacheDefaults.PricesTTL)
	v.SetDefault("cache.historical_ttl", cacheDefaults.HistoricalTTL)
	v.SetDefault("cache.catalog_ttl", cacheDefaults.CatalogTTL)
	v.SetDefault("cache.health_ttl", cacheDefaults.HealthTTL)
	v.SetDefault("cache.stale_grace", cacheDefaults.StaleGrace)

	engineDefaults := discovery.DefaultConfig()
	v.SetDefault("engine.local_ttl", engineDefaults.LocalTTL)
	v.SetDefault("engine.local_max_entries", engineDefaults.LocalMaxEntries)

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.timeout", "15s")

	warmerDefaults := warmer.DefaultConfig()
	v.SetDefault("warmer.enabled", false)
	v.SetDefault("warmer.run_on_start", true)
	v.SetDefault("warmer.schedule", warmerDefaults.Schedule)
	v.SetDefault("warmer.max_concurrency", warmerDefaults.MaxConcurrency)
	v.SetDefault("warmer.timeout", warmerDefaults.Timeout)
	v.SetDefault("warmer.locations", []string{})
	v.SetDefault("warmer.products", []string{})
	v.SetDefault("warmer.history_days", warmerDefaults.HistoryDays)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch source.Kind(c.Source.Kind) {
	case source.KindMock:
	case source.KindHTTP:
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source base url is required when source kind is 'http' (set %s_SOURCE_BASE_URL)", EnvPrefix)
		}
	default:
		return fmt.Errorf("source kind must be 'http' or 'mock', got: %s", c.Source.Kind)
	}

	if c.AI.Enabled && c.AI.BaseURL == "" {
		return fmt.Errorf("ai base url is required when ai is enabled (set %s_AI_BASE_URL)", EnvPrefix)
	}

	ttls := []struct {
		name string
		ttl  time.Duration
	}{
		{"cache.prices_ttl", c.Cache.PricesTTL},
		{"cache.historical_ttl", c.Cache.HistoricalTTL},
		{"cache.catalog_ttl", c.Cache.CatalogTTL},
		{"cache.health_ttl", c.Cache.HealthTTL},
		{"cache.stale_grace", c.Cache.StaleGrace},
		{"engine.local_ttl", c.Engine.LocalTTL},
	}
	for _, t := range ttls {
		if t.ttl <= 0 {
			return fmt.Errorf("%s must be positive, got: %s", t.name, t.ttl)
		}
	}

	if c.Source.MaxAttempts < 1 {
		return fmt.Errorf("source max attempts must be at least 1, got: %d", c.Source.MaxAttempts)
	}

	if c.Warmer.Enabled && c.Warmer.HistoryDays > 365 {
		return fmt.Errorf("warmer history days must be at most 365, got: %d", c.Warmer.HistoryDays)
	}

	return nil
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Format = logging.Format(c.Log.Format)
	return cfg
}

// RedisOptions returns the go-redis client options.
func (c *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// SourceConfig returns the provider selection and client settings.
func (c *Config) SourceConfig() source.Config {
	httpCfg := source.DefaultHTTPConfig(c.Source.BaseURL)
	httpCfg.APIKey = c.Source.APIKey
	httpCfg.UserAgent = c.Source.UserAgent
	httpCfg.Timeout = c.Source.Timeout
	httpCfg.HealthTimeout = c.Source.HealthTimeout
	httpCfg.RateLimit = c.Source.RateLimit
	httpCfg.Burst = c.Source.Burst
	httpCfg.Retry = retry.Policy{
		MaxAttempts:    c.Source.MaxAttempts,
		InitialBackoff: c.Source.InitialBackoff,
		MaxBackoff:     c.Source.MaxBackoff,
		Multiplier:     2.0,
		Jitter:         0.2,
	}

	return source.Config{
		Kind: source.Kind(c.Source.Kind),
		HTTP: httpCfg,
	}
}

// CacheConfig returns the store TTLs with the default reconnection policy.
func (c *Config) CacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.PricesTTL = c.Cache.PricesTTL
	cfg.HistoricalTTL = c.Cache.HistoricalTTL
	cfg.CatalogTTL = c.Cache.CatalogTTL
	cfg.HealthTTL = c.Cache.HealthTTL
	cfg.StaleGrace = c.Cache.StaleGrace
	return cfg
}

// EngineConfig returns the engine settings.
func (c *Config) EngineConfig() discovery.Config {
	return discovery.Config{
		LocalTTL:        c.Engine.LocalTTL,
		LocalMaxEntries: c.Engine.LocalMaxEntries,
	}
}

// AIConfig returns the model service settings.
func (c *Config) AIConfig() estimator.HTTPAIConfig {
	return estimator.HTTPAIConfig{
		BaseURL: c.AI.BaseURL,
		APIKey:  c.AI.APIKey,
		Timeout: c.AI.Timeout,
	}
}

// WarmerConfig returns the warm-up settings.
func (c *Config) WarmerConfig() warmer.Config {
	return warmer.Config{
		MaxConcurrency: c.Warmer.MaxConcurrency,
		Timeout:        c.Warmer.Timeout,
		Schedule:       c.Warmer.Schedule,
		Locations:      c.Warmer.Locations,
		Products:       c.Warmer.Products,
		HistoryDays:    c.Warmer.HistoryDays,
	}
}
