// Package plugins provides the plugin registry consulted while resolving
// machine configuration.
//
// A Registry maps provider names and provisioner types to config factories
// and synced folder types to backends. NewDefaultRegistry installs the
// built-in plugins:
//
//   - providers: docker, libvirt
//   - provisioners: shell, file
//   - synced folders: docker, virtiofs, smb, nfs, rsync
//
// Built-in configs are OptionConfig values. They collect raw options during
// the deferred block phase, decode them into a typed settings struct with
// mapstructure when finalized, and validate that struct with validator tags.
//
// Additional plugins can be described with a manifest.yaml file and loaded
// with ScanDirectory:
//
//	kind: provider
//	name: hyperv
//	options:
//	  memory: {type: int, default: 1024}
//	  switch: {type: string, required: true}
package plugins
