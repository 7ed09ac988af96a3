// Package vmconfig resolves layered machine configurations.
//
// # Overview
//
// A machine definition is assembled from several configuration scopes: the
// project file, environment overrides, sub-machine blocks and provider
// override blocks. Each scope is recorded in its own *VMConfig, scopes are
// combined with Merge, and the merged result is finalized once and then
// validated against a Machine.
//
//	base := vmconfig.New()
//	base.Box = vmconfig.Set("ubuntu/jammy64")
//	base.Network(vmconfig.NetworkForwardedPort, vmconfig.Options{"guest": 80, "host": 8080})
//
//	override := vmconfig.New()
//	override.Communicator = vmconfig.Set("winrm")
//
//	cfg := vmconfig.Merge(base, override)
//	if err := cfg.Finalize(registry); err != nil {
//	    return err // *vmconfig.LoadError
//	}
//	report := cfg.Validate(machine, false)
//
// # Lifecycle
//
// Declarations (SyncedFolder, Network, Provider, Provision, Define, Disk,
// CloudInit and the exported Value fields) only record data. They never look
// at plugin registries and never fail.
//
// Finalize fills in defaults, synthesizes the "default" sub-machine when none
// was defined, injects the ssh (and for winrm, the winrm) forwarded ports
// unless entries with those identities already exist, compiles provider and
// provisioner configs from their deferred blocks, and shares the project
// directory at /vagrant when nothing else shares it. Readers such as
// ProviderConfig return ErrNotFinalized until Finalize has run.
//
// Validate never stops early. It returns an Errors report whose "vm"
// category comes first, followed by categories contributed by the provider
// and provisioner configs.
//
// # Identity
//
// Collections merge by identity rather than by position:
//
//   - networks by kind and id, where forwarded ports without an id are
//     identified by host IP, protocol and host port
//   - synced folders by name, else guest path
//   - disks and cloud-init payloads by id, else a random id fixed at declaration
//   - provisioners by name; anonymous provisioners never match
//   - sub-machines by name
//
// # Deferred blocks
//
// Provider blocks declare their arity through their constructor.
// NewProviderBlock receives only the provider config. NewProviderOverrideBlock
// also receives a machine configuration and is additionally returned by
// ProviderOverrides, bound to a PlaceholderConfig, so the caller can layer it
// over the machine once the provider is known.
package vmconfig
