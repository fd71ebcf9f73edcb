package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/birbparty/qcloud-nest/sdk"
)

func newServicesCommand(cli *qcloudCLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Inspect the service registry",
	}
	cmd.AddCommand(
		newServicesListCommand(cli),
		newServicesDescribeCommand(cli),
	)
	return cmd
}

func newServicesListCommand(cli *qcloudCLI) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List known services",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := cli.Registry(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODULE\tENDPOINT\tVERSIONS")
			for _, name := range reg.Names() {
				d, _ := reg.Lookup(name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", d.Name, d.Service, d.Endpoint, len(d.APIVersions))
			}
			return w.Flush()
		},
	}
}

func newServicesDescribeCommand(cli *qcloudCLI) *cobra.Command {
	return &cobra.Command{
		Use:   "describe NAME",
		Short: "Show a service's endpoint and API versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := cli.Registry(cmd.Context())
			if err != nil {
				return err
			}

			d, ok := reg.Lookup(args[0])
			if !ok {
				return sdk.NewError(sdk.ErrorTypeServiceNotFound, "service "+args[0]+" not found", nil)
			}
			return cli.printJSON(d)
		},
	}
}
