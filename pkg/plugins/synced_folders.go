package plugins

import (
	"runtime"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// FolderBackend is a synced folder implementation known to the registry.
type FolderBackend struct {
	Name         string
	Prio         int
	Caps         Capabilities
	NonDrvFs     bool
	Requirements func(m vmconfig.Machine) bool
}

// Type implements vmconfig.SyncedFolderBackend.
func (b *FolderBackend) Type() string { return b.Name }

// Priority implements vmconfig.SyncedFolderBackend.
func (b *FolderBackend) Priority() int { return b.Prio }

// Usable implements vmconfig.SyncedFolderBackend.
func (b *FolderBackend) Usable(m vmconfig.Machine) bool {
	if b.Requirements == nil {
		return true
	}
	return b.Requirements(m)
}

// HasCapability implements vmconfig.SyncedFolderBackend.
func (b *FolderBackend) HasCapability(name string) bool { return b.Caps.Has(name) }

// Capability implements vmconfig.SyncedFolderBackend.
func (b *FolderBackend) Capability(name string) (interface{}, error) { return b.Caps.Get(name) }

// AllowsNonDrvFs implements vmconfig.DrvFsAware.
func (b *FolderBackend) AllowsNonDrvFs() bool { return b.NonDrvFs }

// hostOS is replaced in tests.
var hostOS = runtime.GOOS

func providerIs(name string) func(vmconfig.Machine) bool {
	return func(m vmconfig.Machine) bool { return m.ProviderName() == name }
}

func builtinFolderBackends() []*FolderBackend {
	return []*FolderBackend{
		{
			Name:         "docker",
			Prio:         10,
			Caps:         Capabilities{CapMountName: "bind"},
			Requirements: providerIs("docker"),
		},
		{
			Name:         "virtiofs",
			Prio:         8,
			Caps:         Capabilities{CapMountOptions: []string{"rw"}, CapMountName: "virtiofs"},
			Requirements: providerIs("libvirt"),
		},
		{
			Name: "smb",
			Prio: 7,
			Caps: Capabilities{CapMountOptions: []string{"vers=3.0"}, CapPrepare: true},
			Requirements: func(vmconfig.Machine) bool {
				return hostOS == "windows" || hostOS == "darwin"
			},
		},
		{
			Name: "nfs",
			Prio: 5,
			Caps: Capabilities{CapMountOptions: []string{"vers=3", "udp"}, CapPrepare: true},
			Requirements: func(vmconfig.Machine) bool {
				return hostOS == "linux" || hostOS == "darwin"
			},
		},
		{
			Name:     "rsync",
			Prio:     5,
			Caps:     Capabilities{CapDefaultFstabModification: false},
			NonDrvFs: true,
		},
	}
}
