package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/birbparty/qcloud-nest/internal/audit"
	"github.com/birbparty/qcloud-nest/sdk"
)

type callOptions struct {
	region     string
	version    string
	params     string
	configFile string
	retry      bool
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	audit      bool
}

func newCallCommand(cli *qcloudCLI) *cobra.Command {
	var opts callOptions

	cmd := &cobra.Command{
		Use:   "call SERVICE ACTION",
		Short: "Call an API action and print its response",
		Example: `  qcloud call cvm DescribeInstances --region ap-guangzhou --params '{"Limit": 10}'
  qcloud call cvm StartInstances --config prod.yaml --params '{"InstanceIds": ["ins-1"]}' --retry`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), cli, &opts, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.region, "region", "r", "", "Region, e.g. ap-guangzhou")
	flags.StringVar(&opts.version, "version", "", "API version (default: newest)")
	flags.StringVarP(&opts.params, "params", "p", "", "Action parameters as a JSON object, or @file")
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML file with region, version and credentials")
	flags.BoolVar(&opts.retry, "retry", false, "Retry while the resource reports a task in progress")
	flags.IntVar(&opts.maxRetries, "max-retries", 5, "Retries after the first attempt")
	flags.DurationVar(&opts.retryDelay, "retry-delay", 5*time.Second, "Wait between retries")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "Timeout of one HTTP exchange")
	flags.BoolVar(&opts.audit, "audit", false, "Record the call in the audit log (needs POSTGRES_HOST)")
	return cmd
}

func runCall(ctx context.Context, cli *qcloudCLI, opts *callOptions, service, action string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := cli.Logger()

	reg, err := cli.Registry(ctx)
	if err != nil {
		return err
	}

	cfg := sdk.DefaultClientConfig().
		WithRegistry(reg).
		WithTimeout(opts.timeout).
		WithRetryPolicy(sdk.RetryPolicy{MaxRetries: opts.maxRetries, Delay: opts.retryDelay}).
		WithLogger(log)
	if cli.transport != nil {
		cfg.WithTransport(cli.transport)
	}

	region := opts.region
	if opts.configFile != "" {
		fileCfg, err := loadConfigFile(opts.configFile, cli)
		if err != nil {
			return err
		}
		if region == "" {
			region = fileCfg.Region
		}
		if opts.version == "" {
			opts.version = fileCfg.Version
		}
		cfg.WithCredentials(fileCfg.SecretID, fileCfg.SecretKey)
	}
	cfg.WithVersion(opts.version)

	params, err := parseParams(opts.params)
	if err != nil {
		return err
	}

	client, err := sdk.NewClient(service, region, cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	var resp *sdk.Response
	if opts.retry {
		resp, err = client.CallWithRetry(ctx, action, params)
	} else {
		resp, err = client.Call(ctx, action, params, nil)
	}

	if opts.audit {
		recordCall(ctx, cli, audit.NewCallRecord(client, action, audit.SourceCLI, resp, err, time.Since(start)))
	}
	if err != nil {
		return err
	}
	return cli.printJSON(resp.Body)
}

// loadConfigFile reads a YAML document into an sdk.Config. Unknown keys are
// reported as warnings.
func loadConfigFile(path string, cli *qcloudCLI) (*sdk.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sdk.NewError(sdk.ErrorTypeConfig, "failed to read config file", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, sdk.NewError(sdk.ErrorTypeConfig, "failed to parse config file "+path, err)
	}

	cfg, _, err := sdk.DecodeConfig(doc, cli.Logger())
	return cfg, err
}

// parseParams accepts a JSON object, "@path" to read one from a file, or nothing
func parseParams(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	data := []byte(raw)
	if raw[0] == '@' {
		var err error
		if data, err = os.ReadFile(raw[1:]); err != nil {
			return nil, sdk.NewClientError("", "failed to read params file", err)
		}
	}

	var params map[string]interface{}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, sdk.NewClientError("", "params must be a JSON object", err)
	}
	return params, nil
}

func recordCall(ctx context.Context, cli *qcloudCLI, rec *audit.CallRecord) {
	if !audit.Enabled() {
		fmt.Fprintln(cli.err, "Warning: POSTGRES_HOST not set, call not audited")
		return
	}
	auditConfig, err := audit.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(cli.err, "Warning: %v\n", err)
		return
	}
	db, err := audit.NewDB(ctx, auditConfig)
	if err != nil {
		fmt.Fprintf(cli.err, "Warning: %v\n", err)
		return
	}
	defer db.Close()

	store := audit.NewStore(db)
	if err := store.EnsureSchema(ctx); err == nil {
		err = store.Record(ctx, rec)
	}
	if err != nil {
		fmt.Fprintf(cli.err, "Warning: failed to audit call: %v\n", err)
	}
}
