// Package config loads and validates Argus configuration from file,
// environment and defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Argus connector
type Config struct {
	Log struct {
		// Path is the monitored sensor alert log
		Path string `mapstructure:"path"`
		// PollInterval is the periodic poll backstop; correctness never
		// depends on filesystem notifications alone
		PollInterval time.Duration `mapstructure:"poll_interval"`
		// Watch enables fsnotify-driven immediate polls
		Watch bool `mapstructure:"watch"`
	} `mapstructure:"log"`

	Sink struct {
		URL       string        `mapstructure:"url"`
		BatchURL  string        `mapstructure:"batch_url"` // Empty = derive from URL
		Timeout   time.Duration `mapstructure:"timeout"`
		RateLimit int           `mapstructure:"rate_limit"` // submissions per second
	} `mapstructure:"sink"`

	Batch struct {
		Enabled bool `mapstructure:"enabled"`
		Size    int  `mapstructure:"size"`
	} `mapstructure:"batch"`

	Storage struct {
		Path          string `mapstructure:"path"`
		RetentionDays int    `mapstructure:"retention_days"`
	} `mapstructure:"storage"`

	Retry struct {
		Enabled bool `mapstructure:"enabled"`
		// Interval between sweeps
		Interval time.Duration `mapstructure:"interval"`
		// Limit is the maximum delivery attempts per record
		Limit int `mapstructure:"limit"`
		// Delay between successive attempts within one sweep
		Delay time.Duration `mapstructure:"delay"`
		// SweepSize caps how many unsent records one sweep fetches
		SweepSize int `mapstructure:"sweep_size"`
	} `mapstructure:"retry"`

	Oracle struct {
		Enabled   bool          `mapstructure:"enabled"`
		URL       string        `mapstructure:"url"`
		Timeout   time.Duration `mapstructure:"timeout"`
		CacheSize int           `mapstructure:"cache_size"`
	} `mapstructure:"oracle"`

	Jobs struct {
		// TTL is how long terminal job snapshots remain queryable
		TTL   time.Duration `mapstructure:"ttl"`
		Redis struct {
			Enabled  bool   `mapstructure:"enabled"`
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			PoolSize int    `mapstructure:"pool_size"`
		} `mapstructure:"redis"`
	} `mapstructure:"jobs"`

	Detect struct {
		// MappingFile optionally overrides the built-in behavior tables
		MappingFile string `mapstructure:"mapping_file"`
	} `mapstructure:"detect"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log.path", "/var/log/snort/alert")
	viper.SetDefault("log.poll_interval", 10*time.Second)
	viper.SetDefault("log.watch", true)

	viper.SetDefault("sink.url", "http://localhost:8000/api/v1/threats/analyze")
	viper.SetDefault("sink.batch_url", "") // Empty = derive from sink.url
	viper.SetDefault("sink.timeout", 15*time.Second)
	viper.SetDefault("sink.rate_limit", 50)

	viper.SetDefault("batch.enabled", false)
	viper.SetDefault("batch.size", 10)

	viper.SetDefault("storage.path", "./data/argus.db")
	viper.SetDefault("storage.retention_days", 30)

	viper.SetDefault("retry.enabled", false)
	viper.SetDefault("retry.interval", 60*time.Second)
	viper.SetDefault("retry.limit", 3)
	viper.SetDefault("retry.delay", 200*time.Millisecond)
	viper.SetDefault("retry.sweep_size", 50)

	viper.SetDefault("oracle.enabled", false)
	viper.SetDefault("oracle.url", "")
	viper.SetDefault("oracle.timeout", 10*time.Second)
	viper.SetDefault("oracle.cache_size", 1024)

	viper.SetDefault("jobs.ttl", 24*time.Hour)
	viper.SetDefault("jobs.redis.enabled", false)
	viper.SetDefault("jobs.redis.addr", "localhost:6379")
	viper.SetDefault("jobs.redis.password", "")
	viper.SetDefault("jobs.redis.db", 0)
	viper.SetDefault("jobs.redis.pool_size", 10)

	viper.SetDefault("detect.mapping_file", "")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.addr", "127.0.0.1:9107")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("ARGUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Short names kept from the legacy connector environment
	_ = viper.BindEnv("storage.path", "ARGUS_DB_PATH")
	_ = viper.BindEnv("retry.enabled", "ARGUS_RETRY_UNSENT")
	_ = viper.BindEnv("retry.interval", "ARGUS_RETRY_INTERVAL")
	_ = viper.BindEnv("retry.limit", "ARGUS_RETRY_LIMIT")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SinkBatchURL returns the batch submission endpoint, deriving it from the
// single-submission URL when no explicit batch URL is configured.
func (c *Config) SinkBatchURL() string {
	if c.Sink.BatchURL != "" {
		return c.Sink.BatchURL
	}
	if strings.Contains(c.Sink.URL, "/analyze") {
		return strings.Replace(c.Sink.URL, "/analyze", "/batch-analyze", 1)
	}
	return strings.TrimRight(c.Sink.URL, "/") + "/batch-analyze"
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	if config.Log.Path == "" {
		return fmt.Errorf("log.path cannot be empty")
	}
	if config.Log.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("log.poll_interval must be at least 100ms, got %v", config.Log.PollInterval)
	}

	if err := validateHTTPURL("sink.url", config.Sink.URL); err != nil {
		return err
	}
	if config.Sink.BatchURL != "" {
		if err := validateHTTPURL("sink.batch_url", config.Sink.BatchURL); err != nil {
			return err
		}
	}
	if config.Sink.RateLimit < 1 {
		return fmt.Errorf("sink.rate_limit must be positive, got %d", config.Sink.RateLimit)
	}

	if config.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be positive, got %d", config.Batch.Size)
	}

	if config.Storage.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}
	if config.Storage.RetentionDays <= 0 {
		return fmt.Errorf("storage.retention_days must be positive, got %d", config.Storage.RetentionDays)
	}

	if config.Retry.Limit < 1 {
		return fmt.Errorf("retry.limit must be positive, got %d", config.Retry.Limit)
	}
	if config.Retry.SweepSize < 1 {
		return fmt.Errorf("retry.sweep_size must be positive, got %d", config.Retry.SweepSize)
	}
	if config.Retry.Interval < time.Second {
		return fmt.Errorf("retry.interval must be at least 1s, got %v", config.Retry.Interval)
	}

	if config.Oracle.Enabled {
		if err := validateHTTPURL("oracle.url", config.Oracle.URL); err != nil {
			return err
		}
		if config.Oracle.CacheSize < 1 {
			return fmt.Errorf("oracle.cache_size must be positive, got %d", config.Oracle.CacheSize)
		}
	}

	if config.Jobs.TTL < time.Minute {
		return fmt.Errorf("jobs.ttl must be at least 1 minute, got %v", config.Jobs.TTL)
	}

	return nil
}

// validateHTTPURL checks that a configured endpoint is an absolute http(s) URL
func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https, got %q", field, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid %s: missing host", field)
	}
	return nil
}
