package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyovm/pkg/config"
	"github.com/openfroyo/froyovm/pkg/policy"
	"github.com/openfroyo/froyovm/pkg/telemetry"
	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// machineReport is the validation outcome of one machine.
type machineReport struct {
	Machine  string          `json:"machine" yaml:"machine"`
	Provider string          `json:"provider" yaml:"provider"`
	Errors   vmconfig.Errors `json:"errors" yaml:"errors"`
	Warnings []string        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

type validateOptions struct {
	machines       []string
	provider       string
	ignoreProvider bool
	policyPaths    []string
	watch          bool
}

func newValidateCommand() *cobra.Command {
	var opts validateOptions

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate resolved machine configurations",
		Long: `Resolve every machine (or the ones named with --machine) and validate it.

This command checks:
  - scope syntax and schema conformance
  - settings, networks, synced folders, disks and cloud-init
  - the active provider's configuration
  - provisioners and their ordering
  - Rego policies (built-in and --policy)

It exits non-zero when any finding is reported. With --watch the scopes and
policy files are watched and validation re-runs on change.`,
		Example: `  # Validate all machines of the project in the current directory
  froyovm validate

  # Validate one machine against the docker provider
  froyovm validate --machine web --provider docker

  # Add team policies and keep re-validating on change
  froyovm validate --policy ./policies --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			loader, err := newLoader(ctx)
			if err != nil {
				return err
			}
			engine, err := newPolicyEngine(ctx, opts.policyPaths)
			if err != nil {
				return err
			}

			if opts.watch {
				return watchAndValidate(ctx, cmd.OutOrStdout(), loader, engine, opts)
			}

			ok, err := runValidation(ctx, cmd.OutOrStdout(), loader, engine, opts)
			if err != nil {
				return err
			}
			if !ok {
				return ErrFindings
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&opts.machines, "machine", "m", nil, "machines to validate (default: all)")
	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "provider to validate against")
	cmd.Flags().BoolVar(&opts.ignoreProvider, "ignore-provider", false, "skip provider config validation")
	cmd.Flags().StringSliceVar(&opts.policyPaths, "policy", nil, "policy files or directories")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-validate when scopes or policies change")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while watching")

	return cmd
}

// runValidation loads the scopes once and validates each selected machine.
// It reports whether no machine had findings.
func runValidation(ctx context.Context, out io.Writer, loader *config.Loader, engine *policy.Engine, opts validateOptions) (bool, error) {
	scopes, err := loadScopes(ctx, loader)
	if err != nil {
		return false, err
	}

	names := opts.machines
	if len(names) == 0 {
		names = config.Machines(loader.Merge(ctx, scopes))
	}

	reports := make([]machineReport, 0, len(names))
	for _, name := range names {
		report, err := validateMachine(ctx, loader, engine, scopes, name, opts)
		if err != nil {
			return false, err
		}
		reports = append(reports, report)
	}

	if err := printReports(out, reports); err != nil {
		return false, err
	}

	for _, r := range reports {
		if !r.Errors.Empty() {
			return false, nil
		}
	}
	return true, nil
}

func validateMachine(ctx context.Context, loader *config.Loader, engine *policy.Engine, scopes []*config.Scope, name string, opts validateOptions) (machineReport, error) {
	res, err := loader.Resolve(ctx, scopes, name, opts.provider)
	if err != nil {
		return machineReport{}, err
	}

	errs := res.Validate(ctx, opts.ignoreProvider)
	warnings := res.Handle.Warnings()

	input, err := policy.NewInput(res.Machine, res.Provider, res.Config)
	if err != nil {
		return machineReport{}, err
	}
	op := telemetry.StartOperation(ctx, "policy.evaluate", telemetry.AttrMachine.String(res.Machine))
	result, err := engine.Evaluate(op.Ctx, input)
	if err == nil && op.Span != nil {
		op.Span.SetAttributes(telemetry.AttrFindings.Int(len(result.Violations)))
	}
	op.End(err)
	if err != nil {
		return machineReport{}, err
	}
	errs.Merge(result.Errors())
	telemetry.MetricsFromContext(ctx).RecordFindings(policy.Category, len(result.Violations))
	for _, w := range result.Warnings {
		warnings = append(warnings, w.String())
	}

	telemetry.FromContext(ctx).
		WithMachine(res.Machine).
		WithProvider(res.Provider).
		Debugf("machine validated with %d finding(s)", errs.Len())

	return machineReport{
		Machine:  res.Machine,
		Provider: res.Provider,
		Errors:   errs,
		Warnings: warnings,
	}, nil
}

func printReports(out io.Writer, reports []machineReport) error {
	if jsonOutput {
		return writeOutput(out, reports)
	}

	for _, r := range reports {
		for _, w := range r.Warnings {
			fmt.Fprintf(out, "warning: %s: %s\n", r.Machine, w)
		}
		if r.Errors.Empty() {
			fmt.Fprintf(out, "%s (%s): valid\n", r.Machine, r.Provider)
			continue
		}
		fmt.Fprintf(out, "%s (%s): %d finding(s)\n%s", r.Machine, r.Provider, r.Errors.Len(), r.Errors.String())
	}
	return nil
}
