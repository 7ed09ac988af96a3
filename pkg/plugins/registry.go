package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// Registry holds the provider, provisioner and synced folder plugins
// available to a resolution. It implements vmconfig.Registry and
// vmconfig.SyncedFolderRegistry.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// providers maps provider name to its config factory.
	providers map[string]vmconfig.ConfigFactory

	// providerOptions maps provider name to its static features.
	providerOptions map[string]vmconfig.ProviderOptions

	// provisioners maps provisioner type to its config factory.
	provisioners map[string]vmconfig.ConfigFactory

	// folders maps synced folder type to its backend.
	folders map[string]vmconfig.SyncedFolderBackend

	// manifests maps "kind/name" to the manifest a plugin was loaded from.
	manifests map[string]*Manifest

	// allowedCapabilities restricts what manifest backends may declare.
	allowedCapabilities map[string]bool

	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers:           make(map[string]vmconfig.ConfigFactory),
		providerOptions:     make(map[string]vmconfig.ProviderOptions),
		provisioners:        make(map[string]vmconfig.ConfigFactory),
		folders:             make(map[string]vmconfig.SyncedFolderBackend),
		manifests:           make(map[string]*Manifest),
		allowedCapabilities: make(map[string]bool),
		logger:              zerolog.Nop(),
	}
}

// NewDefaultRegistry creates a registry with the built-in plugins.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	// Built-in names are distinct, so registration cannot fail.
	_ = r.RegisterProvider("docker", NewDockerConfig, vmconfig.ProviderOptions{BoxOptional: true})
	_ = r.RegisterProvider("libvirt", NewLibvirtConfig, vmconfig.ProviderOptions{})
	_ = r.RegisterProvisioner("shell", NewShellConfig)
	_ = r.RegisterProvisioner("file", NewFileConfig)
	for _, b := range builtinFolderBackends() {
		_ = r.RegisterSyncedFolder(b)
	}
	return r
}

// SetLogger sets the logger used for plugin discovery.
func (r *Registry) SetLogger(l zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
}

// SetAllowedCapabilities limits the capabilities manifest backends may
// declare. An empty list allows every known capability.
func (r *Registry) SetAllowedCapabilities(capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.allowedCapabilities = make(map[string]bool)
	for _, c := range capabilities {
		r.allowedCapabilities[c] = true
	}
}

// RegisterProvider registers a provider config factory.
func (r *Registry) RegisterProvider(name string, factory vmconfig.ConfigFactory, opts vmconfig.ProviderOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	r.providers[name] = factory
	r.providerOptions[name] = opts
	return nil
}

// RegisterProvisioner registers a provisioner config factory.
func (r *Registry) RegisterProvisioner(name string, factory vmconfig.ConfigFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.provisioners[name]; exists {
		return fmt.Errorf("provisioner %s already registered", name)
	}
	r.provisioners[name] = factory
	return nil
}

// RegisterSyncedFolder registers a synced folder backend.
func (r *Registry) RegisterSyncedFolder(b vmconfig.SyncedFolderBackend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.folders[b.Type()]; exists {
		return fmt.Errorf("synced folder type %s already registered", b.Type())
	}
	r.folders[b.Type()] = b
	return nil
}

// RegisterManifest registers the plugin a manifest describes.
func (r *Registry) RegisterManifest(m *Manifest) error {
	switch m.Kind {
	case KindProvider:
		if err := r.RegisterProvider(m.Name, m.factory(), vmconfig.ProviderOptions{BoxOptional: m.BoxOptional}); err != nil {
			return err
		}
	case KindProvisioner:
		if err := r.RegisterProvisioner(m.Name, m.factory()); err != nil {
			return err
		}
	case KindSyncedFolder:
		if err := r.validateCapabilities(m.Capabilities); err != nil {
			return fmt.Errorf("capability validation failed: %w", err)
		}
		if err := r.RegisterSyncedFolder(m.backend()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown plugin kind %q", m.Kind)
	}

	r.mu.Lock()
	r.manifests[m.Kind+"/"+m.Name] = m
	r.mu.Unlock()
	return nil
}

// RegisterFromPath loads a manifest file and registers its plugin.
func (r *Registry) RegisterFromPath(path string) error {
	m, err := LoadManifest(path)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	return r.RegisterManifest(m)
}

// ScanDirectory registers every <dir>/<plugin>/manifest.yaml. Broken
// manifests are logged and skipped.
func (r *Registry) ScanDirectory(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), ManifestFile)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		if err := r.RegisterFromPath(manifestPath); err != nil {
			r.mu.RLock()
			r.logger.Warn().Err(err).Str("manifest", manifestPath).Msg("failed to register plugin")
			r.mu.RUnlock()
		}
	}
	return nil
}

// Unregister removes a plugin of the given kind.
func (r *Registry) Unregister(kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch kind {
	case KindProvider:
		delete(r.providers, name)
		delete(r.providerOptions, name)
	case KindProvisioner:
		delete(r.provisioners, name)
	case KindSyncedFolder:
		delete(r.folders, name)
	}
	delete(r.manifests, kind+"/"+name)
}

// ProviderConfig implements vmconfig.Registry.
func (r *Registry) ProviderConfig(name string) (vmconfig.ConfigFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.providers[name]
	return f, ok
}

// Provisioner implements vmconfig.Registry.
func (r *Registry) Provisioner(name string) (vmconfig.ConfigFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.provisioners[name]
	return f, ok
}

// ProviderOptions returns the static features of a provider.
func (r *Registry) ProviderOptions(name string) (vmconfig.ProviderOptions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.providerOptions[name]
	return o, ok
}

// ProviderNames returns the registered provider names, sorted.
func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.providers)
}

// ProvisionerNames returns the registered provisioner types, sorted.
func (r *Registry) ProvisionerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.provisioners)
}

// SyncedFolderTypes implements vmconfig.SyncedFolderRegistry.
func (r *Registry) SyncedFolderTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.folders)
}

// SyncedFolderBackend implements vmconfig.SyncedFolderRegistry.
func (r *Registry) SyncedFolderBackend(typ string) (vmconfig.SyncedFolderBackend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.folders[typ]
	return b, ok
}

// Manifests returns the manifests of the plugins loaded from disk.
func (r *Registry) Manifests() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Manifest, 0, len(r.manifests))
	for _, key := range sortedKeys(r.manifests) {
		out = append(out, r.manifests[key])
	}
	return out
}

func (r *Registry) validateCapabilities(caps Capabilities) error {
	if err := ValidateCapabilities(caps); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.allowedCapabilities) == 0 {
		return nil
	}

	var denied []string
	for _, name := range caps.Names() {
		if !r.allowedCapabilities[name] {
			denied = append(denied, name)
		}
	}
	if len(denied) > 0 {
		return fmt.Errorf("capabilities not allowed: %v", denied)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
