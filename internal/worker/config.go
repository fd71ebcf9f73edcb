package worker

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/birbparty/qcloud-nest/sdk"
)

// Config holds worker configuration
type Config struct {
	// Worker identification
	WorkerID   string
	WorkerName string

	// Processing settings
	Concurrency     int
	HandleTimeout   time.Duration
	MaxDeliver      int
	RedeliveryDelay time.Duration

	// RetryPolicy is the base policy for messages that ask for retries
	RetryPolicy sdk.RetryPolicy
	// RetryLimits bounds the overrides a message may carry
	RetryLimits sdk.RetryLimits

	// Monitoring
	MetricsInterval time.Duration
	HealthCheckPort int
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() (*Config, error) {
	concurrency, err := strconv.Atoi(getEnvOrDefault("WORKER_CONCURRENCY", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: must be at least 1")
	}

	handleTimeout, err := parseDuration(getEnvOrDefault("WORKER_HANDLE_TIMEOUT", "90s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_HANDLE_TIMEOUT: %w", err)
	}

	maxDeliver, err := strconv.Atoi(getEnvOrDefault("NATS_CONSUMER_MAX_DELIVER", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_CONSUMER_MAX_DELIVER: %w", err)
	}

	redeliveryDelay, err := parseDuration(getEnvOrDefault("WORKER_REDELIVERY_DELAY", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_REDELIVERY_DELAY: %w", err)
	}

	metricsInterval, err := parseDuration(getEnvOrDefault("WORKER_METRICS_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_METRICS_INTERVAL: %w", err)
	}

	healthCheckPort, err := strconv.Atoi(getEnvOrDefault("WORKER_HEALTH_PORT", "8081"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_HEALTH_PORT: %w", err)
	}

	// Generate worker ID if not provided
	workerID := getEnvOrDefault("WORKER_ID", generateWorkerID())

	return &Config{
		WorkerID:        workerID,
		WorkerName:      getEnvOrDefault("WORKER_NAME", "qcloud-worker-"+workerID),
		Concurrency:     concurrency,
		HandleTimeout:   handleTimeout,
		MaxDeliver:      maxDeliver,
		RedeliveryDelay: redeliveryDelay,
		RetryPolicy:     sdk.DefaultRetryPolicy(),
		RetryLimits:     sdk.DefaultRetryLimits(),
		MetricsInterval: metricsInterval,
		HealthCheckPort: healthCheckPort,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func generateWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}
