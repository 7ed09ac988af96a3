package plugins

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// ManifestFile is the file name ScanDirectory looks for in each plugin
// directory.
const ManifestFile = "manifest.yaml"

// Plugin kinds a manifest may declare.
const (
	KindProvider     = "provider"
	KindProvisioner  = "provisioner"
	KindSyncedFolder = "synced_folder"
)

// Manifest describes a plugin that is configured declaratively rather than
// compiled in.
type Manifest struct {
	Kind        string                  `yaml:"kind" validate:"required,oneof=provider provisioner synced_folder"`
	Name        string                  `yaml:"name" validate:"required"`
	Description string                  `yaml:"description"`
	BoxOptional bool                    `yaml:"box_optional"`
	Options     map[string]OptionSchema `yaml:"options" validate:"dive"`

	// Synced folder backends only.
	Priority       int          `yaml:"priority" validate:"gte=0"`
	AllowsNonDrvFs bool         `yaml:"allows_non_drvfs"`
	Capabilities   Capabilities `yaml:"capabilities"`

	// Path is the file the manifest was loaded from.
	Path string `yaml:"-"`
}

// OptionSchema describes one option accepted by a manifest plugin.
type OptionSchema struct {
	Type        string      `yaml:"type" validate:"required,oneof=string int float bool list map"`
	Required    bool        `yaml:"required"`
	Default     interface{} `yaml:"default"`
	Description string      `yaml:"description"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// ParseManifest parses and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if msgs := structErrors(m); len(msgs) > 0 {
		return fmt.Errorf("%s", msgs[0])
	}
	if m.Kind == KindSyncedFolder && len(m.Options) > 0 {
		return fmt.Errorf("synced folder plugin %s cannot declare options", m.Name)
	}
	if m.Kind != KindSyncedFolder && (len(m.Capabilities) > 0 || m.Priority != 0) {
		return fmt.Errorf("%s plugin %s cannot declare synced folder settings", m.Kind, m.Name)
	}
	for key, schema := range m.Options {
		if schema.Default != nil && !matchesType(schema.Type, schema.Default) {
			return fmt.Errorf("default for option %s is not a %s", key, schema.Type)
		}
	}
	return nil
}

// factory returns a config factory for provider and provisioner manifests.
func (m *Manifest) factory() vmconfig.ConfigFactory {
	category := m.Name + " " + m.Kind
	return func() vmconfig.PluginConfig {
		return &ManifestConfig{category: category, schema: m.Options, options: vmconfig.Options{}}
	}
}

// backend returns the synced folder backend for a synced_folder manifest.
func (m *Manifest) backend() *FolderBackend {
	caps := Capabilities{}
	for k, v := range m.Capabilities {
		caps[k] = v
	}
	return &FolderBackend{
		Name:     m.Name,
		Prio:     m.Priority,
		Caps:     caps,
		NonDrvFs: m.AllowsNonDrvFs,
	}
}

// ManifestConfig is the plugin config for manifest plugins. Options are
// checked against the manifest's option schema.
type ManifestConfig struct {
	category string
	schema   map[string]OptionSchema
	options  vmconfig.Options
}

// Options returns a copy of the configured options.
func (c *ManifestConfig) Options() vmconfig.Options {
	return c.options.Clone()
}

// SetOption implements vmconfig.OptionSetter.
func (c *ManifestConfig) SetOption(key string, value interface{}) error {
	if _, ok := c.schema[key]; !ok {
		return fmt.Errorf("unknown option %q for %s", key, c.category)
	}
	c.options[key] = value
	return nil
}

// Merge implements vmconfig.PluginConfig.
func (c *ManifestConfig) Merge(other vmconfig.PluginConfig) vmconfig.PluginConfig {
	out := &ManifestConfig{category: c.category, schema: c.schema, options: c.options.Clone()}
	if o, ok := other.(*ManifestConfig); ok {
		out.options = vmconfig.MergeOptions(c.options, o.options)
	}
	return out
}

// Finalize implements vmconfig.PluginConfig.
func (c *ManifestConfig) Finalize() {
	for key, schema := range c.schema {
		if _, ok := c.options[key]; !ok && schema.Default != nil {
			c.options[key] = schema.Default
		}
	}
}

// Validate implements vmconfig.ConfigValidator.
func (c *ManifestConfig) Validate(vmconfig.Machine) vmconfig.Errors {
	keys := make([]string, 0, len(c.schema))
	for key := range c.schema {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var msgs []string
	for _, key := range keys {
		schema := c.schema[key]
		value, ok := c.options[key]
		if !ok || value == nil {
			if schema.Required {
				msgs = append(msgs, fmt.Sprintf("%s is required", key))
			}
			continue
		}
		if !matchesType(schema.Type, value) {
			msgs = append(msgs, fmt.Sprintf("%s must be a %s", key, schema.Type))
		}
	}

	var errs vmconfig.Errors
	errs.Add(c.category, msgs...)
	return errs
}

func matchesType(typ string, v interface{}) bool {
	var err error
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "int":
		_, err = cast.ToIntE(v)
	case "float":
		_, err = cast.ToFloat64E(v)
	case "bool":
		_, err = cast.ToBoolE(v)
	case "list":
		_, err = cast.ToSliceE(v)
	case "map":
		_, err = cast.ToStringMapE(v)
	default:
		return false
	}
	return err == nil
}
