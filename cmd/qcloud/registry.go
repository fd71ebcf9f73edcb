package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/birbparty/qcloud-nest/internal/storage"
	"github.com/birbparty/qcloud-nest/sdk"
)

// snapshotPublisher uploads registry snapshots. *storage.COSClient satisfies it.
type snapshotPublisher interface {
	sdk.SnapshotSource
	Publish(ctx context.Context, name string, data io.Reader) (string, error)
}

func newRegistryCommand(cli *qcloudCLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage registry snapshots in COS",
	}
	cmd.AddCommand(newRegistryPublishCommand(cli))
	return cmd
}

func newRegistryPublishCommand(cli *qcloudCLI) *cobra.Command {
	cfg, _ := storage.ConfigFromEnv()

	cmd := &cobra.Command{
		Use:   "publish FILE",
		Short: "Validate and upload an endpoints_*.json snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Bucket == "" {
				return sdk.NewError(sdk.ErrorTypeConfig, "--bucket or REGISTRY_BUCKET is required", nil)
			}
			client, err := storage.NewCOSClient(cfg)
			if err != nil {
				return err
			}
			return runPublish(cmd, cli, client, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Bucket, "bucket", cfg.Bucket, "COS bucket, <name>-<appid>")
	flags.StringVar(&cfg.Region, "region", cfg.Region, "Bucket region")
	flags.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "Object prefix of snapshots")
	return cmd
}

func runPublish(cmd *cobra.Command, cli *qcloudCLI, publisher snapshotPublisher, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return sdk.NewError(sdk.ErrorTypeConfig, "failed to open snapshot", err)
	}
	defer f.Close()

	key, err := publisher.Publish(cmd.Context(), path, f)
	if err != nil {
		return err
	}

	// Confirm the upload is what a fresh load now picks up
	reg, err := sdk.LoadRegistry(cmd.Context(), publisher)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Published %s (newest snapshot: %s, %d services)\n", key, reg.Snapshot(), reg.Len())
	return nil
}
