package clients

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/birbparty/qcloud-nest/sdk"
)

// Config holds the settings shared by every pooled client
type Config struct {
	// Timeout bounds one HTTP exchange
	Timeout time.Duration

	// HTTPRetries enables transport level retries when positive
	HTTPRetries int

	// RetryPolicy is used for task-in-progress retries
	RetryPolicy sdk.RetryPolicy

	// RetryLimits bounds the retry overrides a request may carry
	RetryLimits sdk.RetryLimits

	// SecretID and SecretKey override the environment credentials
	SecretID  string
	SecretKey string
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() (*Config, error) {
	timeout, err := time.ParseDuration(getEnvOrDefault("QCLOUD_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid QCLOUD_TIMEOUT: %w", err)
	}

	httpRetries, err := strconv.Atoi(getEnvOrDefault("QCLOUD_HTTP_RETRIES", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid QCLOUD_HTTP_RETRIES: %w", err)
	}

	maxRetries, err := strconv.Atoi(getEnvOrDefault("QCLOUD_MAX_RETRIES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid QCLOUD_MAX_RETRIES: %w", err)
	}

	retryDelay, err := time.ParseDuration(getEnvOrDefault("QCLOUD_RETRY_DELAY", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid QCLOUD_RETRY_DELAY: %w", err)
	}

	limits := sdk.DefaultRetryLimits()
	if limits.MaxRetries, err = strconv.Atoi(getEnvOrDefault("QCLOUD_RETRY_LIMIT", strconv.Itoa(limits.MaxRetries))); err != nil {
		return nil, fmt.Errorf("invalid QCLOUD_RETRY_LIMIT: %w", err)
	}
	if limits.MinDelay, err = time.ParseDuration(getEnvOrDefault("QCLOUD_RETRY_MIN_DELAY", limits.MinDelay.String())); err != nil {
		return nil, fmt.Errorf("invalid QCLOUD_RETRY_MIN_DELAY: %w", err)
	}
	if limits.MaxDelay, err = time.ParseDuration(getEnvOrDefault("QCLOUD_RETRY_MAX_DELAY", limits.MaxDelay.String())); err != nil {
		return nil, fmt.Errorf("invalid QCLOUD_RETRY_MAX_DELAY: %w", err)
	}

	return &Config{
		Timeout:     timeout,
		HTTPRetries: httpRetries,
		RetryPolicy: sdk.RetryPolicy{MaxRetries: maxRetries, Delay: retryDelay},
		RetryLimits: limits,
		// Explicit credentials are optional; sdk falls back to TENCENTCLOUD_* itself
		SecretID:  os.Getenv("QCLOUD_SECRET_ID"),
		SecretKey: os.Getenv("QCLOUD_SECRET_KEY"),
	}, nil
}

// ClientConfig builds a fresh sdk.ClientConfig for one client
func (c *Config) ClientConfig() *sdk.ClientConfig {
	cfg := sdk.DefaultClientConfig().
		WithTimeout(c.Timeout).
		WithRetryPolicy(c.RetryPolicy).
		WithCredentials(c.SecretID, c.SecretKey)
	if c.HTTPRetries > 0 {
		cfg = cfg.WithHTTPRetry(sdk.HTTPRetryConfig{
			MaxRetries: c.HTTPRetries,
			WaitMin:    500 * time.Millisecond,
			WaitMax:    5 * time.Second,
		})
	}
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
