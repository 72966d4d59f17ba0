// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RoutingStrategy selects the scoring weight profile used by the engine.
type RoutingStrategy string

const (
	StrategyPerformance RoutingStrategy = "performance"
	StrategyCost        RoutingStrategy = "cost"
	StrategyQuality     RoutingStrategy = "quality"
	StrategyBalanced    RoutingStrategy = "balanced"
)

// Valid reports whether s is a recognized strategy.
func (s RoutingStrategy) Valid() bool {
	switch s {
	case StrategyPerformance, StrategyCost, StrategyQuality, StrategyBalanced:
		return true
	}
	return false
}

// Config holds all configuration for the Arbiter routing service.
type Config struct {
	// Server
	Port     string
	LogLevel string

	// Management API
	AdminAPIKey string // Required for /api/v1 endpoints; empty = fail-secure disabled

	// Routing
	RoutingStrategy  RoutingStrategy
	FallbackBehavior string // retry | alternative | queue | fail
	MaxRetries       int
	HealthCheckEvery time.Duration

	// Feature toggles
	EnableMonitoring      bool
	EnableCircuitBreakers bool
	EnableLoadBalancing   bool
	EnableCostOptimize    bool

	// Circuit breaker
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Redis (metrics time series + rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Provider API keys. A default model set is registered per key present.
	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("ARBITER_PORT", "8080"),
		LogLevel: getEnv("ARBITER_LOG_LEVEL", "info"),

		AdminAPIKey: os.Getenv("ARBITER_ADMIN_API_KEY"),

		RoutingStrategy:  RoutingStrategy(getEnv("ARBITER_ROUTING_STRATEGY", string(StrategyBalanced))),
		FallbackBehavior: getEnv("ARBITER_FALLBACK_BEHAVIOR", "alternative"),

		EnableMonitoring:      getEnv("ARBITER_ENABLE_MONITORING", "true") == "true",
		EnableCircuitBreakers: getEnv("ARBITER_ENABLE_CIRCUIT_BREAKERS", "true") == "true",
		EnableLoadBalancing:   getEnv("ARBITER_ENABLE_LOAD_BALANCING", "true") == "true",
		EnableCostOptimize:    getEnv("ARBITER_ENABLE_COST_OPTIMIZATION", "true") == "true",

		DBHost:     getEnv("POSTGRES_HOST", "localhost"),
		DBName:     getEnv("POSTGRES_DB", "opencloudops"),
		DBUser:     getEnv("POSTGRES_USER", "oco_user"),
		DBPassword: getEnv("POSTGRES_PASSWORD", ""),
		DBSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiKey:    os.Getenv("GOOGLE_API_KEY"),
	}

	if !cfg.RoutingStrategy.Valid() {
		return nil, fmt.Errorf("invalid ARBITER_ROUTING_STRATEGY %q", cfg.RoutingStrategy)
	}
	switch cfg.FallbackBehavior {
	case "retry", "alternative", "queue", "fail":
	default:
		return nil, fmt.Errorf("invalid ARBITER_FALLBACK_BEHAVIOR %q", cfg.FallbackBehavior)
	}

	maxRetries, err := strconv.Atoi(getEnv("ARBITER_MAX_RETRIES", "2"))
	if err != nil || maxRetries < 0 {
		return nil, fmt.Errorf("invalid ARBITER_MAX_RETRIES: %v", err)
	}
	cfg.MaxRetries = maxRetries

	healthMs, err := strconv.Atoi(getEnv("ARBITER_HEALTH_CHECK_INTERVAL_MS", "30000"))
	if err != nil || healthMs <= 0 {
		return nil, fmt.Errorf("invalid ARBITER_HEALTH_CHECK_INTERVAL_MS: %v", err)
	}
	cfg.HealthCheckEvery = time.Duration(healthMs) * time.Millisecond

	breakerThreshold, err := strconv.Atoi(getEnv("ARBITER_BREAKER_THRESHOLD", "5"))
	if err != nil || breakerThreshold <= 0 {
		return nil, fmt.Errorf("invalid ARBITER_BREAKER_THRESHOLD: %v", err)
	}
	cfg.BreakerThreshold = breakerThreshold

	cooldownMs, err := strconv.Atoi(getEnv("ARBITER_BREAKER_COOLDOWN_MS", "30000"))
	if err != nil || cooldownMs <= 0 {
		return nil, fmt.Errorf("invalid ARBITER_BREAKER_COOLDOWN_MS: %v", err)
	}
	cfg.BreakerCooldown = time.Duration(cooldownMs) * time.Millisecond

	dbPort, err := strconv.Atoi(getEnv("POSTGRES_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}
	cfg.DBPort = dbPort

	redisPort, err := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	cfg.RedisPort = redisPort

	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
