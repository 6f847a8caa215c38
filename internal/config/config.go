// Package config handles application configuration from a YAML file and
// environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port         string   `yaml:"port"`
	Env          string   `yaml:"env"` // "development", "staging", "production"
	LogLevel     string   `yaml:"log_level"`
	LogFormat    string   `yaml:"log_format"` // "text" or "json"
	CORSOrigins  []string `yaml:"cors_origins"`
	RateLimitRPM int      `yaml:"rate_limit_rpm"`

	// Storage (both optional: in-memory store, no statistics cache)
	DatabaseURL   string        `yaml:"database_url"`
	RedisURL      string        `yaml:"redis_url"`
	StatsCacheTTL time.Duration `yaml:"stats_cache_ttl"`

	// Remote model service
	MLServiceURL       string        `yaml:"ml_service_url"`
	MLServiceTimeout   time.Duration `yaml:"ml_service_timeout"`
	MLHealthTimeout    time.Duration `yaml:"ml_health_timeout"`
	MLBreakerThreshold int           `yaml:"ml_breaker_threshold"` // 0 disables the breaker
	MLBreakerCooldown  time.Duration `yaml:"ml_breaker_cooldown"`

	// Startup reachability probe
	StartupProbeAttempts int           `yaml:"startup_probe_attempts"`
	StartupProbeDelay    time.Duration `yaml:"startup_probe_delay"`

	// Tracing (disabled when empty)
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`
	OTLPSampleRatio float64 `yaml:"otlp_sample_ratio"`
}

const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultRateLimitRPM         = 120
	DefaultStatsCacheTTL        = 30 * time.Second
	DefaultMLServiceURL         = "http://localhost:5000"
	DefaultMLServiceTimeout     = 15 * time.Second
	DefaultMLHealthTimeout      = 5 * time.Second
	DefaultMLBreakerCooldown    = 30 * time.Second
	DefaultStartupProbeAttempts = 3
	DefaultStartupProbeDelay    = 2 * time.Second
	DefaultOTLPSampleRatio      = 1.0
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Port:                 DefaultPort,
		Env:                  DefaultEnv,
		LogLevel:             DefaultLogLevel,
		LogFormat:            DefaultLogFormat,
		CORSOrigins:          []string{"*"},
		RateLimitRPM:         DefaultRateLimitRPM,
		StatsCacheTTL:        DefaultStatsCacheTTL,
		MLServiceURL:         DefaultMLServiceURL,
		MLServiceTimeout:     DefaultMLServiceTimeout,
		MLHealthTimeout:      DefaultMLHealthTimeout,
		MLBreakerCooldown:    DefaultMLBreakerCooldown,
		StartupProbeAttempts: DefaultStartupProbeAttempts,
		StartupProbeDelay:    DefaultStartupProbeDelay,
		OTLPSampleRatio:      DefaultOTLPSampleRatio,
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables. A .env file is loaded
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Port)
	str("ENV", &c.Env)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("ML_SERVICE_URL", &c.MLServiceURL)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTLPEndpoint)
	num("RATE_LIMIT_RPM", &c.RateLimitRPM)
	num("ML_BREAKER_THRESHOLD", &c.MLBreakerThreshold)
	num("STARTUP_PROBE_ATTEMPTS", &c.StartupProbeAttempts)
	dur("STATS_CACHE_TTL", &c.StatsCacheTTL)
	dur("ML_SERVICE_TIMEOUT", &c.MLServiceTimeout)
	dur("ML_HEALTH_TIMEOUT", &c.MLHealthTimeout)
	dur("ML_BREAKER_COOLDOWN", &c.MLBreakerCooldown)
	dur("STARTUP_PROBE_DELAY", &c.StartupProbeDelay)

	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG: %w", err))
		} else {
			c.OTLPSampleRatio = r
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("15s") or a bare number of
// milliseconds ("15000").
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.MLServiceURL != "" && !strings.HasPrefix(c.MLServiceURL, "http://") && !strings.HasPrefix(c.MLServiceURL, "https://") {
		return fmt.Errorf("ML_SERVICE_URL must be an http(s) URL, got %q", c.MLServiceURL)
	}
	if c.MLServiceTimeout <= 0 {
		return fmt.Errorf("ML_SERVICE_TIMEOUT must be positive")
	}
	if c.MLHealthTimeout <= 0 {
		return fmt.Errorf("ML_HEALTH_TIMEOUT must be positive")
	}
	if c.MLBreakerThreshold < 0 {
		return fmt.Errorf("ML_BREAKER_THRESHOLD must not be negative")
	}
	if c.StartupProbeAttempts < 0 {
		return fmt.Errorf("STARTUP_PROBE_ATTEMPTS must not be negative")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	if c.OTLPSampleRatio < 0 || c.OTLPSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
