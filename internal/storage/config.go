package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/birbparty/qcloud-nest/sdk"
)

// ConfigFromEnv reads the COS registry bucket settings. The second return
// value is false when REGISTRY_BUCKET is unset.
func ConfigFromEnv() (Config, bool) {
	cfg := Config{
		Endpoint:  os.Getenv("REGISTRY_ENDPOINT"),
		Region:    getEnvOrDefault("REGISTRY_REGION", "ap-guangzhou"),
		Bucket:    os.Getenv("REGISTRY_BUCKET"),
		Prefix:    getEnvOrDefault("REGISTRY_PREFIX", DefaultPrefix),
		SecretID:  os.Getenv(sdk.EnvSecretID),
		SecretKey: os.Getenv(sdk.EnvSecretKey),
	}
	return cfg, cfg.Bucket != ""
}

// LoadRegistry loads the newest snapshot from the configured bucket, or the
// snapshots bundled with the SDK when no bucket is configured
func LoadRegistry(ctx context.Context) (*sdk.Registry, error) {
	cfg, ok := ConfigFromEnv()
	if !ok {
		return sdk.DefaultRegistry()
	}

	client, err := NewCOSClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create COS client: %w", err)
	}
	return sdk.LoadRegistry(ctx, client)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
