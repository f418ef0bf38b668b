package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devJWTSecret       = "gatekeeper-development-secret-do-not-use"
	minProdSecretBytes = 32
)

// Config holds the application configuration.
type Config struct {
	Env          string
	ServerPort   int
	DatabasePath string

	JWTSecret string
	JWTTTL    time.Duration
	JWTIssuer string

	BcryptCost    int
	SingleSession bool

	UsersPerMinute int
	AllowedOrigins []string

	LogLevel string

	PruneSchedule  string
	EventRetention time.Duration

	// RedisURL switches the token blacklist to Redis when set.
	RedisURL string
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Load loads configuration from environment variables or sets defaults.
// A .env file in the working directory is read first when present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var errs []error

	cfg := &Config{
		Env:            getEnv("APP_ENV", EnvDevelopment),
		DatabasePath:   getEnv("DATABASE_PATH", "./gatekeeper.db"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "gatekeeper"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PruneSchedule:  getEnv("PRUNE_SCHEDULE", "@every 10m"),
		RedisURL:       getEnv("REDIS_URL", ""),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
	}

	var err error
	if cfg.ServerPort, err = getEnvInt("PORT", 8080); err != nil {
		errs = append(errs, err)
	}
	if cfg.JWTTTL, err = getEnvDuration("JWT_TTL", time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.BcryptCost, err = getEnvInt("BCRYPT_COST", bcrypt.DefaultCost); err != nil {
		errs = append(errs, err)
	}
	if cfg.SingleSession, err = getEnvBool("LOGIN_SINGLE_SESSION", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.UsersPerMinute, err = getEnvInt("THROTTLE_USERS_PER_MINUTE", 3); err != nil {
		errs = append(errs, err)
	}
	if cfg.EventRetention, err = getEnvDuration("EVENT_RETENTION", 30*24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.ServerPort))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if c.IsProduction() && len(c.JWTSecret) < minProdSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minProdSecretBytes))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.UsersPerMinute < 1 {
		errs = append(errs, errors.New("THROTTLE_USERS_PER_MINUTE must be at least 1"))
	}
	return errors.Join(errs...)
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
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
