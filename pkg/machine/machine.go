// Package machine provides the machine handle a resolved configuration is
// validated against.
package machine

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyovm/pkg/plugins"
	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// DefaultProviderEnv selects the provider when none is requested.
const DefaultProviderEnv = "FROYOVM_DEFAULT_PROVIDER"

// Handle implements vmconfig.Machine.
type Handle struct {
	name     string
	root     string
	provider string
	config   vmconfig.PluginConfig
	options  vmconfig.ProviderOptions
	ui       *UI
	registry *plugins.Registry
	host     vmconfig.HostPlatform
}

// Options configures a Handle.
type Options struct {
	Name     string
	RootPath string
	Provider string
	Registry *plugins.Registry
	Host     vmconfig.HostPlatform
	Logger   zerolog.Logger
}

// New creates a handle for a machine whose configuration has been
// finalized. The provider config is read from cfg.
func New(cfg *vmconfig.VMConfig, opts Options) (*Handle, error) {
	if opts.Registry == nil {
		opts.Registry = plugins.NewDefaultRegistry()
	}
	if opts.Host == nil {
		opts.Host = DetectPlatform()
	}
	if opts.Name == "" {
		opts.Name = vmconfig.DefaultMachineName
	}

	provider := ResolveProvider(cfg, opts.Provider, opts.Registry)
	providerOpts, ok := opts.Registry.ProviderOptions(provider)
	if !ok {
		return nil, fmt.Errorf("provider %s is not registered", provider)
	}

	pc, err := cfg.ProviderConfig(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s provider config: %w", provider, err)
	}

	logger := opts.Logger.With().Str("machine", opts.Name).Str("provider", provider).Logger()
	return &Handle{
		name:     opts.Name,
		root:     opts.RootPath,
		provider: provider,
		config:   pc,
		options:  providerOpts,
		ui:       NewUI(logger),
		registry: opts.Registry,
		host:     opts.Host,
	}, nil
}

// ResolveProvider picks the provider for a machine: the requested one, then
// $FROYOVM_DEFAULT_PROVIDER, then the first registered provider the
// configuration declares, then the first registered provider by name.
func ResolveProvider(cfg *vmconfig.VMConfig, requested string, reg *plugins.Registry) string {
	if requested != "" {
		return requested
	}
	if env := os.Getenv(DefaultProviderEnv); env != "" {
		return env
	}
	for _, name := range cfg.ProviderOrder() {
		if _, ok := reg.ProviderConfig(name); ok {
			return name
		}
	}
	if names := reg.ProviderNames(); len(names) > 0 {
		return names[0]
	}
	return ""
}

func (h *Handle) Name() string                          { return h.name }
func (h *Handle) RootPath() string                      { return h.root }
func (h *Handle) ProviderName() string                  { return h.provider }
func (h *Handle) ProviderConfig() vmconfig.PluginConfig { return h.config }

func (h *Handle) ProviderOptions() vmconfig.ProviderOptions { return h.options }

// UI implements vmconfig.Machine.
func (h *Handle) UI() vmconfig.UI { return h.ui }

// Warnings returns the warnings issued to the machine's UI.
func (h *Handle) Warnings() []string { return h.ui.Warnings() }

func (h *Handle) SyncedFolderBackends() vmconfig.SyncedFolderRegistry { return h.registry }

func (h *Handle) Host() vmconfig.HostPlatform { return h.host }
