package vmconfig

import (
	"os"
	"strings"
	"time"
)

// Finalize defaults and box update check settings.
const (
	DefaultBootTimeout         = 300 * time.Second
	DefaultGracefulHaltTimeout = 60 * time.Second

	// BoxUpdateCheckDisableEnv disables box update checks by default when set
	// to a non-blank value.
	BoxUpdateCheckDisableEnv = "FROYOVM_BOX_UPDATE_CHECK_DISABLE"
)

// DefaultUsablePortRange is the range auto-corrected forwarded ports may use.
var DefaultUsablePortRange = PortRange{Min: 2200, Max: 2250}

var lookupEnv = os.Getenv

type emptyRegistry struct{}

func (emptyRegistry) ProviderConfig(string) (ConfigFactory, bool) { return nil, false }
func (emptyRegistry) Provisioner(string) (ConfigFactory, bool)    { return nil, false }

// Finalize resolves defaults, injects the implicit machine, ports and synced
// folder, and compiles provider and provisioner configs using reg. A nil reg
// treats every plugin as unknown.
//
// A provider or provisioner block that fails aborts Finalize with a
// *LoadError.
func (c *VMConfig) Finalize(reg Registry) error {
	if reg == nil {
		reg = emptyRegistry{}
	}
	c.registry = reg

	c.finalizeDefaults()

	if c.subVMs.Len() == 0 {
		c.Define(DefaultMachineName, nil)
	}

	if c.Communicator.Or("") == "winrm" {
		if !c.networks.Has(networkKey(NetworkForwardedPort, "winrm")) {
			c.Network(NetworkForwardedPort, Options{
				"guest": 5985, "host": 55985, "host_ip": "127.0.0.1", "id": "winrm", "auto_correct": true,
			})
		}
		if !c.networks.Has(networkKey(NetworkForwardedPort, "winrm-ssl")) {
			c.Network(NetworkForwardedPort, Options{
				"guest": 5986, "host": 55986, "host_ip": "127.0.0.1", "id": "winrm-ssl", "auto_correct": true,
			})
		}
	}
	if !c.networks.Has(networkKey(NetworkForwardedPort, "ssh")) {
		c.Network(NetworkForwardedPort, Options{
			"guest": 22, "host": 2222, "host_ip": "127.0.0.1", "id": "ssh", "auto_correct": true,
		})
	}

	c.networks.Each(func(_ string, n NetworkEntry) {
		if n.Kind != NetworkForwardedPort {
			return
		}
		for _, k := range []string{"guest", "host"} {
			if truthy(n.Options[k]) {
				n.Options[k] = toInt(n.Options[k])
			}
		}
	})

	compiled := make(map[string]PluginConfig)
	for _, name := range c.ProviderOrder() {
		blocks := c.providers[name]
		if len(blocks) == 0 {
			continue
		}
		cfg, err := c.compileProvider(name, blocks, reg)
		if err != nil {
			return err
		}
		compiled[name] = cfg
	}
	c.compiled = compiled

	for _, p := range c.provisioners {
		if err := p.finalize(reg); err != nil {
			return err
		}
	}

	currentDirShared := false
	for _, opts := range c.syncedFolders.Values() {
		if opts.String("hostpath") == "." {
			currentDirShared = true
		}
	}

	for _, d := range c.disks {
		d.Finalize()
	}
	for _, ci := range c.cloudInits {
		ci.Finalize()
	}

	if !currentDirShared && !c.syncedFolders.Has(DefaultGuestPath) {
		c.SyncedFolder(".", DefaultGuestPath, nil)
	}

	c.finalized = true
	return nil
}

func (c *VMConfig) finalizeDefaults() {
	c.BootTimeout = c.BootTimeout.orDefault(DefaultBootTimeout)
	c.GracefulHaltTimeout = c.GracefulHaltTimeout.orDefault(DefaultGracefulHaltTimeout)
	c.UsablePortRange = c.UsablePortRange.orDefault(DefaultUsablePortRange)
	c.PostUpMessage = c.PostUpMessage.orDefault("")

	c.IgnoreBoxVagrantfile = c.IgnoreBoxVagrantfile.orDefault(false)
	c.BoxCheckUpdate = c.BoxCheckUpdate.orDefault(strings.TrimSpace(lookupEnv(BoxUpdateCheckDisableEnv)) == "")
	c.BoxDownloadDisableSSLRevokeBestEffort = c.BoxDownloadDisableSSLRevokeBestEffort.orDefault(false)
	c.BoxDownloadInsecure = c.BoxDownloadInsecure.orDefault(false)
	c.BoxDownloadLocationTrusted = c.BoxDownloadLocationTrusted.orDefault(false)
	c.BoxDownloadChecksum = c.BoxDownloadChecksum.orDefault("")
	if t, ok := c.BoxDownloadChecksumType.Get(); ok {
		c.BoxDownloadChecksumType = Set(strings.ToLower(t))
	}
	c.BoxDownloadOptions = c.BoxDownloadOptions.orDefault(map[string]interface{}{})
	c.BoxExtraDownloadOptions = MapToCommandOptions(c.BoxDownloadOptions.Or(nil))

	c.AllowHostsModification = c.AllowHostsModification.orDefault(true)
	c.CloudInitFirstBootOnly = c.CloudInitFirstBootOnly.orDefault(true)

	if arch, ok := c.BoxArchitecture.Get(); !ok {
		c.BoxArchitecture = Set[interface{}](ArchitectureAuto)
	} else if s := stringify(arch); arch != nil && s != ArchitectureAuto {
		c.BoxArchitecture = Set[interface{}](s)
	}
}
