package plugins

import (
	"fmt"
	"sort"
)

// Capabilities maps capability names to their values for a synced folder
// backend.
type Capabilities map[string]interface{}

// Has reports whether the capability is present.
func (c Capabilities) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Get returns the capability value.
func (c Capabilities) Get(name string) (interface{}, error) {
	v, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("capability not supported: %s", name)
	}
	return v, nil
}

// Names returns the capability names in sorted order.
func (c Capabilities) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known synced folder capabilities.
const (
	CapDefaultFstabModification = "default_fstab_modification"
	CapMountOptions             = "mount_options"
	CapMountName                = "mount_name"
	CapPrepare                  = "prepare"
)

// knownCapabilities are the capabilities a manifest may declare.
var knownCapabilities = map[string]bool{
	CapDefaultFstabModification: true,
	CapMountOptions:             true,
	CapMountName:                true,
	CapPrepare:                  true,
}

// ValidateCapabilities checks that every requested capability is known.
func ValidateCapabilities(caps Capabilities) error {
	for _, name := range caps.Names() {
		if !knownCapabilities[name] {
			return fmt.Errorf("unknown capability: %s", name)
		}
	}
	return nil
}
