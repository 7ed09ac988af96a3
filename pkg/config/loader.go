package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/froyovm/pkg/machine"
	"github.com/openfroyo/froyovm/pkg/plugins"
	"github.com/openfroyo/froyovm/pkg/telemetry"
	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// ScopeBaseName is the base name of discovered scope files.
const ScopeBaseName = "Froyofile"

// HomeDirEnv overrides the directory holding the user's global scope.
const HomeDirEnv = "FROYOVM_HOME"

var scopeExtensions = []string{".yaml", ".yml", ".json", ".cue", ".hcl", ".star"}

// Scope is one loaded configuration scope.
type Scope struct {
	Path   string
	Format Format
	// Files lists the member files when Path is a CUE package directory.
	Files  []string
	Config *vmconfig.VMConfig
}

// Loader turns scope files into configurations and resolves machines from
// them.
type Loader struct {
	registry  *plugins.Registry
	schemas   *SchemaRegistry
	cue       *cueParser
	starlark  *starlarkEvaluator
	validator *validator.Validate
	host      vmconfig.HostPlatform
	logger    zerolog.Logger

	timeout time.Duration
	vars    map[string]interface{}
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// WithStarlarkTimeout bounds Starlark evaluation.
func WithStarlarkTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.timeout = d }
}

// WithVars exposes values to Starlark scopes as the vars dict.
func WithVars(vars map[string]interface{}) LoaderOption {
	return func(l *Loader) { l.vars = vars }
}

// WithHost sets the host platform machine handles report.
func WithHost(host vmconfig.HostPlatform) LoaderOption {
	return func(l *Loader) { l.host = host }
}

// WithSchemas replaces the CUE schema registry.
func WithSchemas(sr *SchemaRegistry) LoaderOption {
	return func(l *Loader) { l.schemas = sr }
}

// NewLoader creates a loader resolving plugins through reg. A nil reg uses
// the built-in plugins.
func NewLoader(reg *plugins.Registry, opts ...LoaderOption) *Loader {
	if reg == nil {
		reg = plugins.NewDefaultRegistry()
	}
	l := &Loader{
		registry:  reg,
		validator: newDocumentValidator(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.schemas == nil {
		l.schemas = NewSchemaRegistry()
	}
	l.cue = &cueParser{schemas: l.schemas}
	l.starlark = newStarlarkEvaluator(l.timeout, l.vars, l.logger.With().Str("component", "starlark").Logger())
	return l
}

func newDocumentValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Registry returns the plugin registry the loader finalizes against.
func (l *Loader) Registry() *plugins.Registry {
	return l.registry
}

// DiscoverScopes returns the scope files that apply to a project directory,
// outermost first: the user's global Froyofile, then the project's.
func DiscoverScopes(projectDir string) []string {
	var dirs []string
	if home := os.Getenv(HomeDirEnv); home != "" {
		dirs = append(dirs, home)
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".froyovm"))
	}
	dirs = append(dirs, projectDir)

	var paths []string
	for _, dir := range dirs {
		if p := findScope(dir); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func findScope(dir string) string {
	for _, ext := range scopeExtensions {
		p := filepath.Join(dir, ScopeBaseName+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	if p := filepath.Join(dir, ScopeBaseName+".d"); isCUEDirectory(p) {
		return p
	}
	return ""
}

// LoadFile loads one scope file, or a directory holding a CUE package.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Scope, error) {
	if isCUEDirectory(path) {
		op := telemetry.StartOperation(ctx, "config.load", telemetry.AttrScopePath.String(path), telemetry.AttrScopeFormat.String(string(FormatCUE)))
		raw, files, err := l.cue.parseDirectory(path)
		if err == nil {
			var cfg *vmconfig.VMConfig
			if cfg, err = l.fromRaw(path, raw); err == nil {
				op.End(nil)
				l.loaded(ctx, path, FormatCUE)
				return &Scope{Path: path, Format: FormatCUE, Files: files, Config: cfg}, nil
			}
		}
		op.End(err)
		return nil, err
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scope file %s: %w", path, err)
	}
	return l.LoadBytes(ctx, path, format, data)
}

// LoadBytes loads a scope from memory. name is used in error positions.
func (l *Loader) LoadBytes(ctx context.Context, name string, format Format, data []byte) (*Scope, error) {
	op := telemetry.StartOperation(ctx, "config.load", telemetry.AttrScopePath.String(name), telemetry.AttrScopeFormat.String(string(format)))

	cfg, err := l.load(op.Ctx, name, format, data)
	op.End(err)
	if err != nil {
		return nil, err
	}
	l.loaded(ctx, name, format)
	return &Scope{Path: name, Format: format, Config: cfg}, nil
}

func (l *Loader) load(ctx context.Context, name string, format Format, data []byte) (*vmconfig.VMConfig, error) {
	var (
		raw map[string]interface{}
		err error
	)
	switch format {
	case FormatStarlark:
		cfg := vmconfig.New()
		if err := l.starlark.evaluate(ctx, name, data, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case FormatYAML:
		raw, err = parseYAML(name, data)
	case FormatCUE:
		raw, err = l.cue.parse(name, data)
	case FormatHCL:
		raw, err = parseHCL(name, data)
	default:
		return nil, fmt.Errorf("unsupported scope format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return l.fromRaw(name, raw)
}

func (l *Loader) fromRaw(name string, raw map[string]interface{}) (*vmconfig.VMConfig, error) {
	cfg := vmconfig.New()
	if err := l.applyRaw(cfg, name, raw); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loaded(ctx context.Context, path string, format Format) {
	telemetry.MetricsFromContext(ctx).RecordScopeLoaded(string(format))
	l.logger.Debug().Str("path", path).Str("format", string(format)).Msg("loaded scope")
}

// LoadScopes loads paths in order, outermost scope first.
func (l *Loader) LoadScopes(ctx context.Context, paths []string) ([]*Scope, error) {
	scopes := make([]*Scope, 0, len(paths))
	for _, p := range paths {
		scope, err := l.LoadFile(ctx, p)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// Merge folds scopes into one configuration, each overriding the ones before
// it.
func (l *Loader) Merge(ctx context.Context, scopes []*Scope) *vmconfig.VMConfig {
	op := telemetry.StartOperation(ctx, "config.merge", attribute.Int("scopes", len(scopes)))
	defer op.End(nil)

	metrics := telemetry.MetricsFromContext(ctx)
	result := vmconfig.New()
	for _, s := range scopes {
		result = vmconfig.Merge(result, s.Config)
		metrics.RecordMerge()
	}
	return result
}

// Machines returns the machine names a merged configuration defines, or the
// default machine when it defines none.
func Machines(root *vmconfig.VMConfig) []string {
	if names := root.DefinedVMKeys(); len(names) > 0 {
		return names
	}
	return []string{vmconfig.DefaultMachineName}
}

// PrimaryMachine returns the machine marked primary, else the first one.
func PrimaryMachine(root *vmconfig.VMConfig) string {
	names := Machines(root)
	for _, name := range names {
		if sub, ok := root.DefinedVM(name); ok {
			if v, ok := sub.Option("primary"); ok && cast.ToBool(v) {
				return name
			}
		}
	}
	return names[0]
}

// Resolution is a finalized machine configuration and the handle it
// validates against.
type Resolution struct {
	Machine  string
	Provider string
	Config   *vmconfig.VMConfig
	Handle   *machine.Handle
	Scopes   []*Scope
}

// Resolve merges scopes and builds the configuration of one machine: the
// machine's own blocks and the chosen provider's override blocks are layered
// over the merged root, and the result is finalized once. An empty
// machineName selects the primary machine; an empty provider lets
// machine.ResolveProvider choose.
func (l *Loader) Resolve(ctx context.Context, scopes []*Scope, machineName, provider string) (*Resolution, error) {
	op := telemetry.StartOperation(ctx, "config.resolve", telemetry.AttrMachine.String(machineName))
	res, err := l.resolve(op.Ctx, scopes, machineName, provider)
	op.End(err)

	status := "ok"
	if err != nil {
		status = "error"
	} else {
		provider = res.Provider
	}
	telemetry.MetricsFromContext(ctx).RecordResolution(provider, status)
	return res, err
}

func (l *Loader) resolve(ctx context.Context, scopes []*Scope, machineName, provider string) (*Resolution, error) {
	root := l.Merge(ctx, scopes)

	if machineName == "" {
		machineName = PrimaryMachine(root)
	}
	cfg := root
	if sub, ok := root.DefinedVM(machineName); ok {
		own := vmconfig.New()
		if err := sub.Apply(own); err != nil {
			return nil, fmt.Errorf("failed to configure machine %s: %w", machineName, err)
		}
		cfg = vmconfig.Merge(root, own)
	} else if len(root.DefinedVMKeys()) > 0 || machineName != vmconfig.DefaultMachineName {
		return nil, fmt.Errorf("machine %q is not defined", machineName)
	}

	provider = machine.ResolveProvider(cfg, provider, l.registry)
	for _, b := range cfg.ProviderOverrides(provider) {
		override := vmconfig.New()
		if err := b.Block(override); err != nil {
			return nil, err
		}
		cfg = vmconfig.Merge(cfg, override)
	}

	start := time.Now()
	fop := telemetry.StartOperation(ctx, "config.finalize", telemetry.AttrProvider.String(provider))
	err := cfg.Finalize(l.registry)
	fop.End(err)
	if err != nil {
		return nil, err
	}
	telemetry.MetricsFromContext(ctx).ObserveFinalize(time.Since(start))

	handle, err := machine.New(cfg, machine.Options{
		Name:     machineName,
		RootPath: rootPath(scopes),
		Provider: provider,
		Registry: l.registry,
		Host:     l.host,
		Logger:   l.logger,
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug().Str("machine", machineName).Str("provider", provider).Msg("resolved machine configuration")
	return &Resolution{
		Machine:  machineName,
		Provider: provider,
		Config:   cfg,
		Handle:   handle,
		Scopes:   scopes,
	}, nil
}

// rootPath is the directory of the innermost scope.
func rootPath(scopes []*Scope) string {
	if len(scopes) > 0 {
		p := scopes[len(scopes)-1].Path
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		return filepath.Dir(p)
	}
	wd, _ := os.Getwd()
	return wd
}

// Validate checks the resolved configuration against its machine.
func (r *Resolution) Validate(ctx context.Context, ignoreProvider bool) vmconfig.Errors {
	op := telemetry.StartOperation(ctx, "config.validate", telemetry.AttrMachine.String(r.Machine))
	defer op.End(nil)

	errs := r.Config.Validate(r.Handle, ignoreProvider)
	metrics := telemetry.MetricsFromContext(ctx)
	for _, category := range errs.Categories() {
		metrics.RecordFindings(category, len(errs.Get(category)))
	}
	return errs
}
