// Package config loads the module configuration from an optional YAML file
// overlaid by AEGIS_* environment variables. Environment always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegiskit/aegis/pkg/observability"
)

// Config holds all module configuration.
type Config struct {
	Identity      IdentityConfig      `yaml:"identity"`
	Authz         AuthzConfig         `yaml:"authz"`
	Audit         AuditConfig         `yaml:"audit"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
	Janitor       JanitorConfig       `yaml:"janitor"`
}

// IdentityConfig holds authentication and token settings.
type IdentityConfig struct {
	SigningSecret     string        `yaml:"signingSecret"`
	AccessTokenTTL    time.Duration `yaml:"accessTokenTTL"`
	RefreshTokenTTL   time.Duration `yaml:"refreshTokenTTL"`
	BcryptCost        int           `yaml:"bcryptCost"`
	MaxFailedAttempts int           `yaml:"maxFailedAttempts"`
	LockoutDuration   time.Duration `yaml:"lockoutDuration"`
	APIKeyDefaultTTL  time.Duration `yaml:"apiKeyDefaultTTL"`
}

// AuthzConfig holds permission-guard settings.
type AuthzConfig struct {
	CacheTTL  time.Duration `yaml:"cacheTTL"`
	CacheSize int           `yaml:"cacheSize"`
}

// AuditConfig holds audit pipeline settings.
type AuditConfig struct {
	Dir             string        `yaml:"dir"`
	MaxMemoryEvents int           `yaml:"maxMemoryEvents"`
	BufferSize      int           `yaml:"bufferSize"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
	RetentionWindow time.Duration `yaml:"retentionWindow"`
	MaxFileSize     int64         `yaml:"maxFileSize"`
	MaxFiles        int           `yaml:"maxFiles"`
}

// RedisConfig enables the distributed rate limiter when a URL is set; left
// empty, rate limiting stays in-process.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"logLevel"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
}

// JanitorConfig holds the background maintenance schedule.
type JanitorConfig struct {
	PruneInterval time.Duration `yaml:"pruneInterval"`
	PatternMaxAge time.Duration `yaml:"patternMaxAge"`
	AttemptMaxAge time.Duration `yaml:"attemptMaxAge"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{
			AccessTokenTTL:    15 * time.Minute,
			RefreshTokenTTL:   30 * 24 * time.Hour,
			BcryptCost:        12,
			MaxFailedAttempts: 5,
			LockoutDuration:   15 * time.Minute,
			APIKeyDefaultTTL:  90 * 24 * time.Hour,
		},
		Authz: AuthzConfig{
			CacheTTL:  5 * time.Minute,
			CacheSize: 4096,
		},
		Audit: AuditConfig{
			MaxMemoryEvents: 10000,
			BufferSize:      100,
			FlushInterval:   30 * time.Second,
			RetentionWindow: 90 * 24 * time.Hour,
			MaxFileSize:     10 * 1024 * 1024,
			MaxFiles:        10,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
		Janitor: JanitorConfig{
			PruneInterval: 5 * time.Minute,
			PatternMaxAge: 24 * time.Hour,
			AttemptMaxAge: 7 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// non-empty), then AEGIS_* environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Identity.SigningSecret = getEnv("AEGIS_SIGNING_SECRET", c.Identity.SigningSecret)
	c.Identity.AccessTokenTTL = getEnvDuration("AEGIS_ACCESS_TOKEN_TTL", c.Identity.AccessTokenTTL)
	c.Identity.RefreshTokenTTL = getEnvDuration("AEGIS_REFRESH_TOKEN_TTL", c.Identity.RefreshTokenTTL)
	c.Identity.BcryptCost = getEnvInt("AEGIS_BCRYPT_COST", c.Identity.BcryptCost)
	c.Identity.MaxFailedAttempts = getEnvInt("AEGIS_MAX_FAILED_ATTEMPTS", c.Identity.MaxFailedAttempts)
	c.Identity.LockoutDuration = getEnvDuration("AEGIS_LOCKOUT_DURATION", c.Identity.LockoutDuration)
	c.Identity.APIKeyDefaultTTL = getEnvDuration("AEGIS_API_KEY_DEFAULT_TTL", c.Identity.APIKeyDefaultTTL)

	c.Authz.CacheTTL = getEnvDuration("AEGIS_PERMISSION_CACHE_TTL", c.Authz.CacheTTL)
	c.Authz.CacheSize = getEnvInt("AEGIS_PERMISSION_CACHE_SIZE", c.Authz.CacheSize)

	c.Audit.Dir = getEnv("AEGIS_AUDIT_DIR", c.Audit.Dir)
	c.Audit.MaxMemoryEvents = getEnvInt("AEGIS_AUDIT_MAX_MEMORY_EVENTS", c.Audit.MaxMemoryEvents)
	c.Audit.BufferSize = getEnvInt("AEGIS_AUDIT_BUFFER_SIZE", c.Audit.BufferSize)
	c.Audit.FlushInterval = getEnvDuration("AEGIS_AUDIT_FLUSH_INTERVAL", c.Audit.FlushInterval)
	c.Audit.RetentionWindow = getEnvDuration("AEGIS_AUDIT_RETENTION_WINDOW", c.Audit.RetentionWindow)
	c.Audit.MaxFileSize = getEnvInt64("AEGIS_AUDIT_MAX_FILE_SIZE", c.Audit.MaxFileSize)
	c.Audit.MaxFiles = getEnvInt("AEGIS_AUDIT_MAX_FILES", c.Audit.MaxFiles)

	c.Redis.URL = getEnv("AEGIS_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("AEGIS_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("AEGIS_REDIS_DB", c.Redis.DB)

	c.Observability.LogLevel = getEnv("AEGIS_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("AEGIS_METRICS_ENABLED", c.Observability.MetricsEnabled)

	c.Janitor.PruneInterval = getEnvDuration("AEGIS_PRUNE_INTERVAL", c.Janitor.PruneInterval)
	c.Janitor.PatternMaxAge = getEnvDuration("AEGIS_PATTERN_MAX_AGE", c.Janitor.PatternMaxAge)
	c.Janitor.AttemptMaxAge = getEnvDuration("AEGIS_ATTEMPT_MAX_AGE", c.Janitor.AttemptMaxAge)
}

// Validate checks the configuration for values that would misbehave at
// runtime.
func (c *Config) Validate() error {
	if c.Identity.AccessTokenTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}
	if c.Identity.RefreshTokenTTL <= c.Identity.AccessTokenTTL {
		return fmt.Errorf("refresh token TTL must exceed access token TTL")
	}
	if c.Identity.MaxFailedAttempts < 1 {
		return fmt.Errorf("max failed attempts must be at least 1")
	}
	if c.Authz.CacheTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("audit buffer size must be at least 1")
	}
	if c.Audit.MaxFiles < 1 {
		return fmt.Errorf("audit max files must be at least 1")
	}
	if c.Janitor.PruneInterval <= 0 {
		return fmt.Errorf("prune interval must be positive")
	}
	return nil
}

// LogLevel converts the configured level string to the logger's type.
func (c *Config) LogLevel() observability.LogLevel {
	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
