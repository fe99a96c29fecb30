// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-secret-change-in-production"

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"
	StaticDir   string // built front end, served for every non-API route

	// Upstream GraphQL server
	GraphQLURL   string
	GraphQLWSURL string
	WSKeepAlive  time.Duration

	// Ledger database; empty keeps the ledger in memory
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	// Sessions; empty RedisURL keeps sessions in memory
	RedisURL   string
	SessionTTL time.Duration
	CookieName string

	// Per-session stores unused for this long are evicted; zero keeps
	// them until their session ends
	StoreIdleTTL time.Duration

	// Security
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),
		StaticDir:   getEnv("STATIC_DIR", "./dist"),

		GraphQLURL:   getEnv("GRAPHQL_URL", getEnv("VITE_APP_SERVER_GRAPHQL_URL", "http://localhost:3000/graphql")),
		GraphQLWSURL: getEnv("GRAPHQL_WS_URL", getEnv("VITE_SERVER_GRAPHQL_WS_URL", "ws://localhost:3000/graphql/ws")),
		WSKeepAlive:  getEnvDuration("WS_KEEPALIVE", 30*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 2),

		RedisURL:   getEnv("REDIS_URL", ""),
		SessionTTL: getEnvDuration("SESSION_TTL", 12*time.Hour),
		CookieName: getEnv("SESSION_COOKIE", "pointid_session"),

		StoreIdleTTL: getEnvDuration("STORE_IDLE_TTL", 30*time.Minute),

		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.GraphQLURL, "http://") && !strings.HasPrefix(c.GraphQLURL, "https://") {
		return fmt.Errorf("GRAPHQL_URL must be an http(s) URL, got %q", c.GraphQLURL)
	}
	if !strings.HasPrefix(c.GraphQLWSURL, "ws://") && !strings.HasPrefix(c.GraphQLWSURL, "wss://") {
		return fmt.Errorf("GRAPHQL_WS_URL must be a ws(s) URL, got %q", c.GraphQLWSURL)
	}
	if c.WSKeepAlive < 0 {
		return fmt.Errorf("WS_KEEPALIVE must not be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.StoreIdleTTL < 0 {
		return fmt.Errorf("STORE_IDLE_TTL must not be negative")
	}

	// Validate required fields in production
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in production")
		}
		if c.JWTSecret == devJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	return nil
}

// IsProduction reports whether the gateway runs in production
func (c *Config) IsProduction() bool { return c.Environment == "production" }

// SecureCookies reports whether session cookies need the Secure flag
func (c *Config) SecureCookies() bool { return c.Environment != "development" }

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") and bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if i, err := strconv.Atoi(val); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
