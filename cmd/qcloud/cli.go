package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/birbparty/qcloud-nest/internal/storage"
	"github.com/birbparty/qcloud-nest/internal/telemetry"
	"github.com/birbparty/qcloud-nest/sdk"
)

// qcloudCLI holds the streams and shared state of every command
type qcloudCLI struct {
	out io.Writer
	err io.Writer

	dataDir  string
	logLevel string

	// transport replaces the Tencent Cloud transport when set
	transport sdk.Transport
	registry  *sdk.Registry
}

func newCLI(out, err io.Writer) *qcloudCLI {
	return &qcloudCLI{out: out, err: err}
}

// Registry loads the registry once: from --data-dir when given, otherwise
// from the configured bucket or the bundled snapshots
func (c *qcloudCLI) Registry(ctx context.Context) (*sdk.Registry, error) {
	if c.registry != nil {
		return c.registry, nil
	}

	var reg *sdk.Registry
	var err error
	if c.dataDir != "" {
		reg, err = sdk.LoadRegistry(ctx, sdk.NewFSSource(os.DirFS(c.dataDir), "."))
	} else {
		reg, err = storage.LoadRegistry(ctx)
	}
	if err != nil {
		return nil, err
	}
	c.registry = reg
	return reg, nil
}

// Logger writes text logs to the error stream
func (c *qcloudCLI) Logger() *logrus.Logger {
	cfg := telemetry.NewConfigFromEnv().WithServiceName("qcloud-cli")
	cfg.LogFormat = "text"
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	log := telemetry.NewLogger(cfg)
	log.SetOutput(c.err)
	return log
}

func (c *qcloudCLI) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand(cli *qcloudCLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "qcloud",
		Short:         "Call Tencent Cloud API actions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cli.dataDir, "data-dir", "", "Directory holding endpoints_*.json snapshots")
	cmd.PersistentFlags().StringVar(&cli.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServicesCommand(cli),
		newCallCommand(cli),
		newRegistryCommand(cli),
	)

	cmd.SetOut(cli.out)
	cmd.SetErr(cli.err)
	wrapRunE(cmd, cli)
	return cmd
}

// wrapRunE prints command errors to the error stream with their type
func wrapRunE(cmd *cobra.Command, cli *qcloudCLI) {
	for _, child := range cmd.Commands() {
		wrapRunE(child, cli)
	}
	if cmd.RunE == nil {
		return
	}
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err != nil {
			fmt.Fprintf(cli.err, "Error (%s): %v\n", sdk.TypeOf(err), err)
		}
		return err
	}
}
