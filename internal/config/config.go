package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the LinkForty application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Geo       GeoConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	// URL, when set, takes precedence over the discrete fields.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// RedisConfig configures the optional link cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a cache connection should be attempted.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// GeoConfig configures GeoIP lookup.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

type RateLimitConfig struct {
	Enabled       bool
	RedirectRPS   float64
	RedirectBurst int
	APIRPS        float64
	APIBurst      int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("LINKFORTY_HTTP_ADDR", ":8080"),
			Env:             getEnv("LINKFORTY_ENV", "development"),
			ShutdownTimeout: getDurationEnv("LINKFORTY_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnv("LINKFORTY_DATABASE_URL", ""),
			Host:     getEnv("LINKFORTY_DB_HOST", "localhost"),
			Port:     getIntEnv("LINKFORTY_DB_PORT", 5432),
			User:     getEnv("LINKFORTY_DB_USER", "linkforty"),
			Password: getEnv("LINKFORTY_DB_PASSWORD", "linkforty_secret"),
			DBName:   getEnv("LINKFORTY_DB_NAME", "linkforty"),
			SSLMode:  getEnv("LINKFORTY_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("LINKFORTY_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("LINKFORTY_DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:     getEnv("LINKFORTY_REDIS_ADDR", ""),
			Password: getEnv("LINKFORTY_REDIS_PASSWORD", ""),
			DB:       getIntEnv("LINKFORTY_REDIS_DB", 0),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("LINKFORTY_GEO_ENABLED", false),
			DatabasePath: getEnv("LINKFORTY_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getBoolEnv("LINKFORTY_RATE_LIMIT_ENABLED", false),
			RedirectRPS:   getFloatEnv("LINKFORTY_RATE_LIMIT_REDIRECT_RPS", 2000),
			RedirectBurst: getIntEnv("LINKFORTY_RATE_LIMIT_REDIRECT_BURST", 200),
			APIRPS:        getFloatEnv("LINKFORTY_RATE_LIMIT_API_RPS", 200),
			APIBurst:      getIntEnv("LINKFORTY_RATE_LIMIT_API_BURST", 50),
		},
		Log: LogConfig{
			Level:  getEnv("LINKFORTY_LOG_LEVEL", "info"),
			Format: getEnv("LINKFORTY_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("LINKFORTY_METRICS_ENABLED", true),
			Path:    getEnv("LINKFORTY_METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("LINKFORTY_DB_MIN_CONNS (%d) exceeds LINKFORTY_DB_MAX_CONNS (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Geo.Enabled && c.Geo.DatabasePath == "" {
		return fmt.Errorf("LINKFORTY_GEO_DB_PATH is required when geo lookup is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
