package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyovm/pkg/config"
)

// scopeTemplates are starter scopes per format. %[1]s is the box, %[2]s the
// provider.
var scopeTemplates = map[config.Format]string{
	config.FormatYAML: `# froyovm project scope
box: %[1]s
hostname: dev

networks:
  - kind: forwarded_port
    id: http
    guest: 80
    host: 8080

synced_folders:
  - host: .
    guest: /srv/app

provisioners:
  - name: shell
    inline: echo provisioned

providers:
  - name: %[2]s
`,
	config.FormatHCL: `# froyovm project scope
box      = "%[1]s"
hostname = "dev"

network "forwarded_port" {
  id    = "http"
  guest = 80
  host  = 8080
}

synced_folder "." {
  guest = "/srv/app"
}

provision "shell" {
  inline = "echo provisioned"
}

provider "%[2]s" {}
`,
	config.FormatStarlark: `# froyovm project scope
vm.box = "%[1]s"
vm.hostname = "dev"
vm.network("forwarded_port", id = "http", guest = 80, host = 8080)
vm.synced_folder(".", "/srv/app")
vm.provision("shell", inline = "echo provisioned")
vm.provider("%[2]s")
`,
	config.FormatCUE: `// froyovm project scope
box:      "%[1]s"
hostname: "dev"
networks: [{kind: "forwarded_port", id: "http", guest: 80, host: 8080}]
synced_folders: [{host: ".", guest: "/srv/app"}]
provisioners: [{name: "shell", inline: "echo provisioned"}]
providers: [{name: "%[2]s"}]
`,
}

var formatExtensions = map[config.Format]string{
	config.FormatYAML:     ".yaml",
	config.FormatHCL:      ".hcl",
	config.FormatStarlark: ".star",
	config.FormatCUE:      ".cue",
}

func newInitCommand() *cobra.Command {
	var (
		format   string
		box      string
		provider string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter Froyofile",
		Long: `Write a starter project scope to the project directory.

The scope declares a box, a forwarded port, a synced folder, a shell
provisioner and the chosen provider, in the requested format.`,
		Example: `  # YAML scope for libvirt
  froyovm init --box generic/ubuntu2204 --provider libvirt

  # Starlark scope in another directory
  froyovm init -C ./dev --format starlark`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := config.Format(format)
			tmpl, ok := scopeTemplates[f]
			if !ok {
				return fmt.Errorf("unsupported scope format %q", format)
			}

			path := filepath.Join(projectDir, config.ScopeBaseName+formatExtensions[f])
			if !force {
				for _, p := range config.DiscoverScopes(projectDir) {
					if filepath.Dir(p) == filepath.Clean(projectDir) {
						return fmt.Errorf("%s already exists (use --force to overwrite)", p)
					}
				}
			}

			if err := os.MkdirAll(projectDir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", projectDir, err)
			}
			if err := os.WriteFile(path, []byte(fmt.Sprintf(tmpl, box, provider)), 0644); err != nil {
				return fmt.Errorf("failed to write scope file: %w", err)
			}

			log.Info().Str("path", path).Str("format", format).Msg("Scope written")
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n\nNext steps:\n  froyovm validate\n  froyovm show\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(config.FormatYAML), "scope format (yaml, hcl, starlark, cue)")
	cmd.Flags().StringVar(&box, "box", "generic/ubuntu2204", "box to use")
	cmd.Flags().StringVar(&provider, "provider", "libvirt", "provider to configure")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing scope")

	return cmd
}
