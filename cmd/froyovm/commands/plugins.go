package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyovm/pkg/plugins"
)

type pluginInfo struct {
	Kind   string `json:"kind" yaml:"kind"`
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source" yaml:"source"`
}

func newPluginsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List providers, provisioners and synced folder backends",
		Long: `List the plugins configurations are checked against: the built-in ones
and those described by manifests under --plugin-dir.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newRegistry(cmd.Context())
			if err != nil {
				return err
			}

			sources := map[string]string{}
			for _, m := range reg.Manifests() {
				sources[m.Kind+"/"+m.Name] = m.Path
			}
			var infos []pluginInfo
			add := func(kind string, names []string) {
				for _, name := range names {
					source := sources[kind+"/"+name]
					if source == "" {
						source = "built-in"
					}
					infos = append(infos, pluginInfo{Kind: kind, Name: name, Source: source})
				}
			}
			add(plugins.KindProvider, reg.ProviderNames())
			add(plugins.KindProvisioner, reg.ProvisionerNames())
			add(plugins.KindSyncedFolder, reg.SyncedFolderTypes())

			if jsonOutput {
				return writeOutput(cmd.OutOrStdout(), infos)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tSOURCE")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\n", info.Kind, info.Name, info.Source)
			}
			return w.Flush()
		},
	}

	return cmd
}
