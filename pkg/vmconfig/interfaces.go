package vmconfig

// PluginConfig is a provider or provisioner configuration object compiled
// from deferred blocks during Finalize.
type PluginConfig interface {
	// Merge returns the combination of the receiver and other, other winning.
	Merge(other PluginConfig) PluginConfig

	// Finalize replaces unset fields with defaults.
	Finalize()
}

// ConfigValidator is implemented by plugin configs that can validate
// themselves against a machine.
type ConfigValidator interface {
	Validate(m Machine) Errors
}

// OptionSetter is implemented by plugin configs that accept raw options, as
// declared by `provision "shell", inline: "..."`.
type OptionSetter interface {
	SetOption(key string, value interface{}) error
}

// ConfigFactory creates a fresh, empty plugin config.
type ConfigFactory func() PluginConfig

// Registry resolves plugin config classes by name.
type Registry interface {
	ProviderConfig(name string) (ConfigFactory, bool)
	Provisioner(name string) (ConfigFactory, bool)
}

// SyncedFolderBackend implements one synced folder type.
type SyncedFolderBackend interface {
	// Type is the key used in the `type` option of a synced folder.
	Type() string

	// Priority orders backends when a folder does not choose one. Higher wins.
	Priority() int

	// Usable reports whether the backend works for the machine.
	Usable(m Machine) bool

	HasCapability(name string) bool
	Capability(name string) (interface{}, error)
}

// DrvFsAware is implemented by backends that work from paths outside the
// Windows filesystem when running under WSL.
type DrvFsAware interface {
	AllowsNonDrvFs() bool
}

// SyncedFolderRegistry enumerates the synced folder backends.
type SyncedFolderRegistry interface {
	SyncedFolderTypes() []string
	SyncedFolderBackend(typ string) (SyncedFolderBackend, bool)
}

// HostPlatform exposes facts about the host the tool runs on.
type HostPlatform interface {
	// IsWSL reports whether the host is Windows Subsystem for Linux.
	IsWSL() bool

	// IsDrvFsPath reports whether path lives on the Windows filesystem mount.
	IsDrvFsPath(path string) bool
}

// UI receives user facing warnings.
type UI interface {
	Warn(message string)
}

// ProviderOptions are the static features a provider advertises.
type ProviderOptions struct {
	// BoxOptional means machines of this provider do not need a box.
	BoxOptional bool
}

// Machine is the read-only view of a machine that validation needs.
type Machine interface {
	Name() string
	RootPath() string
	ProviderName() string
	ProviderConfig() PluginConfig
	ProviderOptions() ProviderOptions
	UI() UI
	SyncedFolderBackends() SyncedFolderRegistry
	Host() HostPlatform
}
