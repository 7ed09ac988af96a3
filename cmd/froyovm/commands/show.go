package commands

import (
	"github.com/spf13/cobra"
)

func newShowCommand() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "show [machine]",
		Short: "Print a machine's resolved configuration",
		Long: `Resolve a machine and print its final configuration: the settings that
ended up set, networks, synced folders, disks, cloud-init payloads,
provisioners in run order and the active provider's options.

Without a machine name the primary machine is shown.`,
		Example: `  # Show the primary machine as YAML
  froyovm show

  # Show the db machine resolved for libvirt as JSON
  froyovm show db --provider libvirt --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			machine := ""
			if len(args) > 0 {
				machine = args[0]
			}

			loader, err := newLoader(ctx)
			if err != nil {
				return err
			}
			scopes, err := loadScopes(ctx, loader)
			if err != nil {
				return err
			}
			res, err := loader.Resolve(ctx, scopes, machine, provider)
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), res.View())
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider to resolve against")

	return cmd
}
