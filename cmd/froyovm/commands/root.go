package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyovm/pkg/config"
	"github.com/openfroyo/froyovm/pkg/telemetry"
	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// ErrFindings is returned when validation reported findings. The findings
// have been printed already.
var ErrFindings = errors.New("validation reported findings")

var (
	// Global flags
	projectDir      string
	scopeFiles      []string
	vars            map[string]string
	pluginDirs      []string
	jsonOutput      bool
	verbose         bool
	traceExporter   string
	traceEndpoint   string
	metricsFile     string
	metricsAddr     string
	starlarkTimeout time.Duration

	tel *telemetry.Telemetry
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)

	if tel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := tel.Shutdown(shutdownCtx); serr != nil {
			log.Warn().Err(serr).Msg("Telemetry shutdown failed")
		}
	}
	return err
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyovm",
		Short: "froyovm - layered machine configuration resolver",
		Long: `froyovm resolves layered machine configurations and validates them.

Configuration is read from Froyofile scopes: the user's global scope
($FROYOVM_HOME or ~/.froyovm) and the project scope. Each scope may be
written in YAML, JSON, CUE, HCL or Starlark. Scopes are merged in order,
the machine's own blocks and provider overrides are applied, and the
result is finalized once and validated.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupTelemetry(cmd, version)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "project directory to discover scopes in")
	rootCmd.PersistentFlags().StringSliceVarP(&scopeFiles, "file", "f", nil, "scope files to load in order (disables discovery)")
	rootCmd.PersistentFlags().StringToStringVar(&vars, "var", nil, "variables exposed to Starlark scopes as vars")
	rootCmd.PersistentFlags().StringSliceVar(&pluginDirs, "plugin-dir", nil, "directories holding plugin manifests")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	rootCmd.PersistentFlags().DurationVar(&starlarkTimeout, "starlark-timeout", config.DefaultStarlarkTimeout, "maximum run time of a Starlark scope")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newMachinesCommand())
	rootCmd.AddCommand(newPoliciesCommand())
	rootCmd.AddCommand(newPluginsCommand())

	return rootCmd
}

func setupTelemetry(cmd *cobra.Command, version string) error {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
	}
	cfg.Metrics.TextfilePath = metricsFile
	cfg.Metrics.ListenAddress = metricsAddr

	t, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	tel = t
	vmconfig.SetLogger(componentLogger("vmconfig"))
	cmd.SetContext(tel.WithContext(cmd.Context()))
	return nil
}
