package vmconfig

import (
	"fmt"
	"sort"
	"strings"
	"testing"
)

type fakeConfig struct {
	Values map[string]interface{}
	done   bool
}

func newFakeConfig() PluginConfig {
	return &fakeConfig{Values: map[string]interface{}{}}
}

func (f *fakeConfig) Merge(other PluginConfig) PluginConfig {
	out := &fakeConfig{Values: map[string]interface{}{}}
	for k, v := range f.Values {
		out.Values[k] = v
	}
	if o, ok := other.(*fakeConfig); ok {
		for k, v := range o.Values {
			out.Values[k] = v
		}
	}
	return out
}

func (f *fakeConfig) Finalize() { f.done = true }

func (f *fakeConfig) SetOption(key string, value interface{}) error {
	if key == "bogus" {
		return fmt.Errorf("unknown option %q", key)
	}
	f.Values[key] = value
	return nil
}

func (f *fakeConfig) Validate(Machine) Errors {
	var errs Errors
	if v, ok := f.Values["invalid"]; ok {
		errs.Add("fake", fmt.Sprint(v))
	}
	return errs
}

type fakeRegistry struct {
	providers    map[string]ConfigFactory
	provisioners map[string]ConfigFactory
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		providers:    map[string]ConfigFactory{"docker": newFakeConfig, "libvirt": newFakeConfig},
		provisioners: map[string]ConfigFactory{"shell": newFakeConfig, "file": newFakeConfig},
	}
}

func (r *fakeRegistry) ProviderConfig(name string) (ConfigFactory, bool) {
	f, ok := r.providers[name]
	return f, ok
}

func (r *fakeRegistry) Provisioner(name string) (ConfigFactory, bool) {
	f, ok := r.provisioners[name]
	return f, ok
}

type fakeUI struct {
	warnings []string
}

func (u *fakeUI) Warn(msg string) { u.warnings = append(u.warnings, msg) }

type fakeBackend struct {
	typ      string
	priority int
	usable   bool
	caps     map[string]interface{}
	nonDrvFs bool
}

func (b *fakeBackend) Type() string         { return b.typ }
func (b *fakeBackend) Priority() int        { return b.priority }
func (b *fakeBackend) Usable(Machine) bool  { return b.usable }
func (b *fakeBackend) AllowsNonDrvFs() bool { return b.nonDrvFs }
func (b *fakeBackend) HasCapability(n string) bool {
	_, ok := b.caps[n]
	return ok
}
func (b *fakeBackend) Capability(n string) (interface{}, error) {
	v, ok := b.caps[n]
	if !ok {
		return nil, fmt.Errorf("no capability %s", n)
	}
	return v, nil
}

type fakeBackends []*fakeBackend

func (fb fakeBackends) SyncedFolderTypes() []string {
	var out []string
	for _, b := range fb {
		out = append(out, b.typ)
	}
	sort.Strings(out)
	return out
}

func (fb fakeBackends) SyncedFolderBackend(t string) (SyncedFolderBackend, bool) {
	for _, b := range fb {
		if b.typ == t {
			return b, true
		}
	}
	return nil, false
}

type fakeHost struct {
	wsl bool
}

func (h fakeHost) IsWSL() bool               { return h.wsl }
func (h fakeHost) IsDrvFsPath(p string) bool { return strings.HasPrefix(p, "/mnt/c") }

type fakeMachine struct {
	name     string
	root     string
	provider PluginConfig
	options  ProviderOptions
	ui       *fakeUI
	backends SyncedFolderRegistry
	host     HostPlatform
}

func newFakeMachine(t *testing.T) *fakeMachine {
	t.Helper()
	return &fakeMachine{
		name: "default",
		root: t.TempDir(),
		ui:   &fakeUI{},
		backends: fakeBackends{
			{typ: "native", priority: 10, usable: true},
			{typ: "nfs", priority: 5, usable: true},
		},
	}
}

func (m *fakeMachine) Name() string                               { return m.name }
func (m *fakeMachine) RootPath() string                           { return m.root }
func (m *fakeMachine) ProviderName() string                       { return "docker" }
func (m *fakeMachine) ProviderConfig() PluginConfig               { return m.provider }
func (m *fakeMachine) ProviderOptions() ProviderOptions           { return m.options }
func (m *fakeMachine) UI() UI                                     { return m.ui }
func (m *fakeMachine) SyncedFolderBackends() SyncedFolderRegistry { return m.backends }
func (m *fakeMachine) Host() HostPlatform                         { return m.host }

// finalize finalizes cfg with the fake registry and fails the test on error.
func finalize(t *testing.T, cfg *VMConfig) *VMConfig {
	t.Helper()
	if err := cfg.Finalize(newFakeRegistry()); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	return cfg
}

// countContaining counts messages that contain substr.
func countContaining(msgs []string, substr string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func forwardedPorts(cfg *VMConfig) []NetworkEntry {
	var out []NetworkEntry
	for _, n := range cfg.Networks() {
		if n.Kind == NetworkForwardedPort {
			out = append(out, n)
		}
	}
	return out
}
