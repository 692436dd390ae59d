package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	// Server
	ServerAddr     string
	Env            string   // "development" or "production"
	AllowedOrigins []string // channel and CORS origins; empty allows any

	// Database (optional; presence is memory-only without it)
	DatabaseURL   string
	MigrationsDir string
	DBMaxConns    int

	// Service tokens for collaborator endpoints; empty disables the check
	JWTSigningKey string

	// Redis (for PubSub horizontal scaling)
	RedisURL   string // e.g., "redis://localhost:6379"
	PubSubType string // "memory" or "redis"

	// SMTP fallback; without a host emails are logged, not sent
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	SMTPFrom        string
	EmailMaxRetries int

	// Requests per minute per client on the public channel endpoint
	RateLimitPerMin int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:     getEnvOrDefault("SERVER_ADDR", "0.0.0.0:8080"),
		Env:            getEnvOrDefault("APP_ENV", "development"),
		AllowedOrigins: splitEnv("ALLOWED_ORIGINS", ""),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MigrationsDir:  getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		JWTSigningKey:  os.Getenv("JWT_SIGNING_KEY"),
		RedisURL:       os.Getenv("REDIS_URL"),
		PubSubType:     getEnvOrDefault("PUBSUB_TYPE", "memory"),
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPassword:   os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:       os.Getenv("SMTP_FROM"),
	}

	var err error
	if cfg.DBMaxConns, err = getEnvInt("DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = getEnvInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.EmailMaxRetries, err = getEnvInt("EMAIL_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMin, err = getEnvInt("RATE_LIMIT_PER_MIN", 120); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.PubSubType {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when PUBSUB_TYPE=redis")
		}
	default:
		return fmt.Errorf("PUBSUB_TYPE must be memory or redis, got %q", c.PubSubType)
	}

	if c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT out of range: %d", c.SMTPPort)
	}
	if c.EmailMaxRetries < 0 {
		return fmt.Errorf("EMAIL_MAX_RETRIES must not be negative")
	}
	if c.RateLimitPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must be positive")
	}
	if !c.IsDevelopment() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required outside development")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

// splitEnv splits a comma-separated env var into a slice
func splitEnv(key, defaultVal string) []string {
	val := os.Getenv(key)
	if val == "" {
		val = defaultVal
	}
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
