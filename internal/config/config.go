package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL     string
	RedisURL        string
	Port            string
	JWTSecret       string
	OTPSalt         string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	WebhookTimeout  time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:            "8080", // default port
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		WebhookTimeout:  5 * time.Second,
	}

	// Load DATABASE_URL and log connection details (password masked)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	if u, err := url.Parse(databaseURL); err == nil {
		host := u.Hostname()
		if host == "" {
			host = "localhost"
		}
		port := u.Port()
		if port == "" {
			port = "5432"
		}
		dbName := strings.TrimPrefix(u.Path, "/")
		if idx := strings.Index(dbName, "?"); idx >= 0 {
			dbName = dbName[:idx]
		}
		user := u.User.Username()
		if user == "" {
			user = "(none)"
		}
		log.Printf("DB connect: host=%s port=%s db=%s user=%s", host, port, dbName, user)
	}

	// REDIS_URL is optional; without it the in-memory cooldown store is used
	cfg.RedisURL = os.Getenv("REDIS_URL")

	// Load PORT (optional, defaults to 8080)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Load JWT_SECRET (required)
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	// Load OTP_SALT (required)
	otpSalt := os.Getenv("OTP_SALT")
	if otpSalt == "" {
		return nil, fmt.Errorf("OTP_SALT environment variable is required")
	}
	cfg.OTPSalt = otpSalt

	// Optional TTL overrides (Go duration strings, e.g. "15m", "720h")
	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ACCESS_TOKEN_TTL: %w", err)
		}
		cfg.AccessTokenTTL = d
	}
	if v := os.Getenv("REFRESH_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REFRESH_TOKEN_TTL: %w", err)
		}
		cfg.RefreshTokenTTL = d
	}
	if v := os.Getenv("WEBHOOK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = d
	}

	return cfg, nil
}
