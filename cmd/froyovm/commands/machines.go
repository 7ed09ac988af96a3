package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyovm/pkg/config"
)

type machineInfo struct {
	Name      string `json:"name" yaml:"name"`
	Primary   bool   `json:"primary" yaml:"primary"`
	Autostart bool   `json:"autostart" yaml:"autostart"`
}

func newMachinesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machines",
		Short: "List the machines defined by the merged scopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			loader, err := newLoader(ctx)
			if err != nil {
				return err
			}
			scopes, err := loadScopes(ctx, loader)
			if err != nil {
				return err
			}
			root := loader.Merge(ctx, scopes)
			primary := config.PrimaryMachine(root)

			var infos []machineInfo
			for _, name := range config.Machines(root) {
				info := machineInfo{Name: name, Primary: name == primary, Autostart: true}
				if sub, ok := root.DefinedVM(name); ok {
					if v, ok := sub.Option("autostart"); ok {
						info.Autostart = cast.ToBool(v)
					}
				}
				infos = append(infos, info)
			}

			if jsonOutput {
				return writeOutput(cmd.OutOrStdout(), infos)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPRIMARY\tAUTOSTART")
			for _, info := range infos {
				primary := ""
				if info.Primary {
					primary = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\n", info.Name, primary, info.Autostart)
			}
			return w.Flush()
		},
	}

	return cmd
}
