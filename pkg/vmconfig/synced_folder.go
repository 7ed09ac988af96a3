package vmconfig

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// DefaultGuestPath is where the machine root is shared unless told otherwise.
const DefaultGuestPath = "/vagrant"

// SyncedFolder is one synced folder entry with its identity.
type SyncedFolder struct {
	ID      string  `json:"id" yaml:"id"`
	Options Options `json:"options" yaml:"options"`
}

// HostPath returns the hostpath option.
func (f SyncedFolder) HostPath() string {
	return f.Options.String("hostpath")
}

// GuestPath returns the guestpath option.
func (f SyncedFolder) GuestPath() string {
	return f.Options.String("guestpath")
}

// Disabled reports whether the folder is switched off.
func (f SyncedFolder) Disabled() bool {
	return f.Options.Bool("disabled")
}

// SyncedFolder shares hostpath at guestpath. The entry is identified by the
// name option, else by the guest path. Options already recorded for the same
// guest path act as defaults.
func (c *VMConfig) SyncedFolder(hostpath, guestpath string, opts Options) {
	if runtime.GOOS == "windows" {
		hostpath = strings.ReplaceAll(hostpath, `\`, "/")
	}

	opts = opts.Clone()
	if opts.Bool("nfs") {
		opts["type"] = "nfs"
		delete(opts, "nfs")
	}
	if guestpath != "" {
		opts["guestpath"] = strings.TrimSuffix(guestpath, "/")
	}
	opts["hostpath"] = hostpath
	if _, ok := opts["disabled"]; !ok {
		opts["disabled"] = false
	}

	id := opts.String("guestpath")
	if name, ok := opts["name"]; ok {
		delete(opts, "name")
		if s := stringify(name); s != "" {
			id = s
		}
	}

	if prev, ok := c.syncedFolders.Get(opts.String("guestpath")); ok {
		opts = shallowMerge(prev, opts)
	}
	c.syncedFolders.Set(id, opts)
}

// SyncedFolders returns the synced folders in declaration order.
func (c *VMConfig) SyncedFolders() []SyncedFolder {
	out := make([]SyncedFolder, 0, c.syncedFolders.Len())
	c.syncedFolders.Each(func(id string, opts Options) {
		out = append(out, SyncedFolder{ID: id, Options: opts})
	})
	return out
}

// FolderGroup is the set of enabled folders handled by one backend type.
type FolderGroup struct {
	Type    string
	Folders []SyncedFolder
}

// ResolveSyncedFolders assigns every enabled folder to a backend. Folders with
// an explicit type use it; the rest go to the highest priority usable backend
// that AllowedSyncedFolderTypes permits. Groups are ordered by first use.
func (c *VMConfig) ResolveSyncedFolders(m Machine) ([]FolderGroup, error) {
	var groups []FolderGroup
	index := make(map[string]int)
	add := func(typ string, f SyncedFolder) {
		i, ok := index[typ]
		if !ok {
			i = len(groups)
			index[typ] = i
			groups = append(groups, FolderGroup{Type: typ})
		}
		groups[i].Folders = append(groups[i].Folders, f)
	}

	var defaultType string
	for _, f := range c.SyncedFolders() {
		if f.Disabled() {
			continue
		}
		typ := f.Options.String("type")
		if typ == "" {
			if defaultType == "" {
				t, err := c.defaultSyncedFolderType(m)
				if err != nil {
					return nil, err
				}
				defaultType = t
			}
			typ = defaultType
		}
		add(typ, f)
	}
	return groups, nil
}

func (c *VMConfig) defaultSyncedFolderType(m Machine) (string, error) {
	reg := m.SyncedFolderBackends()
	if reg == nil {
		return "", fmt.Errorf("no synced folder backends available")
	}

	var backends []SyncedFolderBackend
	for _, t := range reg.SyncedFolderTypes() {
		if b, ok := reg.SyncedFolderBackend(t); ok {
			backends = append(backends, b)
		}
	}
	sort.SliceStable(backends, func(i, j int) bool {
		return backends[i].Priority() > backends[j].Priority()
	})

	allowed, restricted := c.AllowedSyncedFolderTypes.Get()
	permitted := func(t string) bool {
		if !restricted || allowed == nil {
			return true
		}
		for _, a := range allowed {
			if a == t {
				return true
			}
		}
		return false
	}

	for _, b := range backends {
		if permitted(b.Type()) && b.Usable(m) {
			return b.Type(), nil
		}
	}
	return "", fmt.Errorf("no usable synced folder backend found")
}
