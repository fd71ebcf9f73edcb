package cleanup

import (
	"os"
	"strconv"
	"time"
)

// LoadConfig loads retention configuration from environment variables
func LoadConfig() Config {
	return Config{
		Retention: getEnvDuration("AUDIT_RETENTION", 30*24*time.Hour),
		Interval:  getEnvDuration("AUDIT_PRUNE_INTERVAL", time.Hour),
		DryRun:    getEnvBool("AUDIT_PRUNE_DRY_RUN", false),
	}
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
