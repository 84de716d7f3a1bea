package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Redis    RedisConfig

	// FrontendURL is the origin allowed by CORS
	FrontendURL string

	// Environment is "development" or "production"; development includes
	// error detail in 500 responses
	Environment string

	// LogLevel is the logrus level name (debug, info, warn, error)
	LogLevel string

	// BcryptCost is the work factor for password hashing
	BcryptCost int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MetricsPort serves /metrics and /healthz separately from the API
	MetricsPort string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnTimeout  time.Duration
}

// JWTConfig holds the two token signing contexts
type JWTConfig struct {
	AccessSecret  string
	AccessExpiry  time.Duration
	RefreshSecret string
	RefreshExpiry time.Duration
}

// RedisConfig holds optional Redis configuration for rate limiting
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("HOST", "0.0.0.0"),
			Port:            getEnv("PORT", "3000"),
			ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			MetricsPort:     getEnv("METRICS_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", "postgres://localhost:5432/nyumbani?sslmode=disable"),
			MaxOpenConns: getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnTimeout:  getEnvDuration("DATABASE_CONN_TIMEOUT", 10*time.Second),
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessExpiry:  getEnvDuration("JWT_EXPIRES_IN", 7*24*time.Hour),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", "your-refresh-secret-key-change-in-production"),
			RefreshExpiry: getEnvDuration("JWT_REFRESH_EXPIRES_IN", 30*24*time.Hour),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		Environment: getEnv("NODE_ENV", getEnv("ENVIRONMENT", "development")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		BcryptCost:  getEnvInt("BCRYPT_COST", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MetricsPort == "" {
		return fmt.Errorf("metrics port is required")
	}
	if c.Server.Port == c.Server.MetricsPort {
		return fmt.Errorf("server port and metrics port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.JWT.AccessSecret == "" {
		return fmt.Errorf("access token secret is required")
	}
	if c.JWT.RefreshSecret == "" {
		return fmt.Errorf("refresh token secret is required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return fmt.Errorf("access and refresh token secrets must be different")
	}
	if c.JWT.AccessExpiry <= 0 || c.JWT.RefreshExpiry <= 0 {
		return fmt.Errorf("token expiries must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("invalid bcrypt cost: %d", c.BcryptCost)
	}
	return nil
}

// IsDevelopment reports whether error detail may be included in responses
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
