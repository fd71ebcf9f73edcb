package api

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the API configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// API configuration
	APIKey          string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int

	// DefaultRegion is used when a request names no region
	DefaultRegion string

	// Async audit writer configuration
	AuditQueueSize int
	AuditWorkers   int

	// Telemetry configuration
	MetricsPath string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	requestTimeout, err := time.ParseDuration(getEnvOrDefault("REQUEST_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := time.ParseDuration(getEnvOrDefault("SHUTDOWN_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	rateLimit, err := strconv.Atoi(getEnvOrDefault("RATE_LIMIT", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT: %w", err)
	}

	auditQueueSize, err := strconv.Atoi(getEnvOrDefault("AUDIT_QUEUE_SIZE", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUDIT_QUEUE_SIZE: %w", err)
	}

	auditWorkers, err := strconv.Atoi(getEnvOrDefault("AUDIT_WORKERS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUDIT_WORKERS: %w", err)
	}

	return &Config{
		Host:            getEnvOrDefault("HOST", "0.0.0.0"),
		Port:            port,
		APIKey:          os.Getenv("API_KEY"),
		RequestTimeout:  requestTimeout,
		ShutdownTimeout: shutdownTimeout,
		RateLimit:       rateLimit,
		DefaultRegion:   os.Getenv("QCLOUD_DEFAULT_REGION"),
		AuditQueueSize:  auditQueueSize,
		AuditWorkers:    auditWorkers,
		MetricsPath:     getEnvOrDefault("METRICS_PATH", "/metrics"),
	}, nil
}

// Address returns the listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
