package vmconfig

import (
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.Nop()

// SetLogger sets the logger used for provider config compilation and lookups.
func SetLogger(l zerolog.Logger) {
	logger = l
}

// PortRange is an inclusive range of ports.
type PortRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Contains reports whether port lies within the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Min && port <= r.Max
}

// ArchitectureAuto is the resolved box architecture when none is set.
const ArchitectureAuto = "auto"

// VMConfig is the machine configuration of one scope, and after merging and
// Finalize, the resolved configuration of a machine.
//
// Scalar settings are exported Value fields and start unset. Collections are
// populated with the declaration methods and read back through accessors.
type VMConfig struct {
	AllowedSyncedFolderTypes Value[[]string]
	AllowFstabModification   Value[interface{}]
	AllowHostsModification   Value[interface{}]
	BaseMAC                  Value[string]
	BaseAddress              Value[string]
	BootTimeout              Value[time.Duration]
	Box                      Value[string]
	BoxArchitecture          Value[interface{}]
	IgnoreBoxVagrantfile     Value[bool]
	BoxCheckUpdate           Value[bool]

	BoxDownloadCACert                     Value[string]
	BoxDownloadCAPath                     Value[string]
	BoxDownloadChecksum                   Value[string]
	BoxDownloadChecksumType               Value[string]
	BoxDownloadClientCert                 Value[string]
	BoxDownloadDisableSSLRevokeBestEffort Value[bool]
	BoxDownloadInsecure                   Value[bool]
	BoxDownloadLocationTrusted            Value[bool]
	BoxDownloadOptions                    Value[interface{}]
	BoxURL                                Value[[]string]
	BoxVersion                            Value[string]

	Clone                  Value[string]
	CloudInitFirstBootOnly Value[bool]
	Communicator           Value[string]
	GracefulHaltTimeout    Value[time.Duration]
	Guest                  Value[string]
	Hostname               Value[string]
	PostUpMessage          Value[string]
	UsablePortRange        Value[PortRange]

	// BoxExtraDownloadOptions is BoxDownloadOptions in command line form.
	// It is computed by Finalize.
	BoxExtraDownloadOptions []string

	subVMs            *OrderedMap[string, *SubVM]
	disks             []*DiskSpec
	cloudInits        []*CloudInitSpec
	provisioners      []*ProvisionerSpec
	networks          *OrderedMap[string, NetworkEntry]
	syncedFolders     *OrderedMap[string, Options]
	providers         map[string][]ProviderBlock
	providerOverrides map[string][]ProviderBlock
	providerOrder     []string

	compiled  map[string]PluginConfig
	registry  Registry
	finalized bool
}

// New returns an empty configuration with every setting unset.
func New() *VMConfig {
	return &VMConfig{
		subVMs:            NewOrderedMap[string, *SubVM](),
		networks:          NewOrderedMap[string, NetworkEntry](),
		syncedFolders:     NewOrderedMap[string, Options](),
		providers:         make(map[string][]ProviderBlock),
		providerOverrides: make(map[string][]ProviderBlock),
		compiled:          make(map[string]PluginConfig),
	}
}

// Finalized reports whether Finalize has completed.
func (c *VMConfig) Finalized() bool {
	return c.finalized
}

// SetHostName is an alias for setting Hostname.
func (c *VMConfig) SetHostName(name string) {
	c.Hostname = Set(name)
}
