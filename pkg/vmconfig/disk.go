package vmconfig

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Disk kinds.
const (
	DiskKindDisk   = "disk"
	DiskKindDVD    = "dvd"
	DiskKindFloppy = "floppy"
)

// PrimaryDiskName names a primary disk declared without a name.
const PrimaryDiskName = "vagrant_primary"

var diskKinds = []string{DiskKindDisk, DiskKindDVD, DiskKindFloppy}

// DiskSpec is a declared disk. Settings and ProviderOptions hold the raw
// declaration; the typed fields are filled in by Finalize.
type DiskSpec struct {
	ID              string             `json:"id" yaml:"id"`
	Kind            string             `json:"kind" yaml:"kind"`
	Settings        Options            `json:"settings" yaml:"settings"`
	ProviderOptions map[string]Options `json:"provider_options,omitempty" yaml:"provider_options,omitempty"`

	Name    string `json:"name" yaml:"name"`
	Size    int64  `json:"size" yaml:"size"`
	Primary bool   `json:"primary" yaml:"primary"`
	File    string `json:"file,omitempty" yaml:"file,omitempty"`
	DiskExt string `json:"disk_ext" yaml:"disk_ext"`

	sizeErr string
}

var diskSettings = map[string]bool{
	"name": true, "size": true, "primary": true, "file": true, "disk_ext": true,
}

// Set records a disk setting.
func (d *DiskSpec) Set(key string, value interface{}) {
	if d.Settings == nil {
		d.Settings = Options{}
	}
	d.Settings[key] = value
}

// SetProviderOption records a provider specific disk option.
func (d *DiskSpec) SetProviderOption(provider, key string, value interface{}) {
	if d.ProviderOptions == nil {
		d.ProviderOptions = make(map[string]Options)
	}
	if d.ProviderOptions[provider] == nil {
		d.ProviderOptions[provider] = Options{}
	}
	d.ProviderOptions[provider][key] = value
}

func (d *DiskSpec) clone() *DiskSpec {
	out := *d
	out.Settings = d.Settings.Clone()
	out.ProviderOptions = make(map[string]Options, len(d.ProviderOptions))
	for k, v := range d.ProviderOptions {
		out.ProviderOptions[k] = v.Clone()
	}
	return &out
}

// mergeDisk layers over on top of base. The result carries over's identity.
func mergeDisk(base, over *DiskSpec) *DiskSpec {
	out := over.clone()
	if out.Kind == "" {
		out.Kind = base.Kind
	}
	out.Settings = MergeOptions(base.Settings, over.Settings)
	for provider, opts := range base.ProviderOptions {
		if cur, ok := out.ProviderOptions[provider]; ok {
			out.ProviderOptions[provider] = MergeOptions(opts, cur)
		} else {
			out.ProviderOptions[provider] = opts.Clone()
		}
	}
	return out
}

// Disk declares a disk. Options whose key contains "__" (provider__key) or
// whose value is a mapping are provider specific; the rest are settings.
// block, when given, runs immediately against the new spec.
func (c *VMConfig) Disk(kind string, opts Options, block func(*DiskSpec)) {
	d := &DiskSpec{
		Kind:            kind,
		Settings:        Options{},
		ProviderOptions: make(map[string]Options),
	}
	for _, k := range opts.Keys() {
		v := opts[k]
		if m, ok := toOptions(v); ok {
			d.addProviderMapping(k, m)
			continue
		}
		if provider, key, ok := strings.Cut(k, "__"); ok {
			d.SetProviderOption(provider, key, cloneValue(v))
			continue
		}
		d.Settings[k] = cloneValue(v)
	}

	if id := d.Settings.String("id"); id != "" {
		d.ID = id
	} else {
		d.ID = newID()
	}
	delete(d.Settings, "id")

	if block != nil {
		block(d)
	}
	c.disks = append(c.disks, d)
}

func (d *DiskSpec) addProviderMapping(provider string, m Options) {
	for _, k := range m.Keys() {
		d.SetProviderOption(provider, k, cloneValue(m[k]))
	}
}

// Disks returns the declared disks in order.
func (c *VMConfig) Disks() []*DiskSpec {
	return c.disks
}

var sizePattern = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*([KMGT]B)?$`)

var sizeUnits = map[string]float64{
	"":   1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// ParseSize converts a size such as "10GB", "1.5 GB" or "512" to bytes.
func ParseSize(s string) (int64, error) {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(math.Floor(n * sizeUnits[strings.ToUpper(m[2])])), nil
}

// Finalize resolves the typed fields from the settings.
func (d *DiskSpec) Finalize() {
	if d.Kind == "" {
		d.Kind = DiskKindDisk
	}
	d.Primary = d.Settings.Bool("primary")
	d.Name = d.Settings.String("name")
	if d.Name == "" && d.Primary {
		d.Name = PrimaryDiskName
	}
	d.File = d.Settings.String("file")
	d.DiskExt = d.Settings.String("disk_ext")
	if d.DiskExt == "" {
		d.DiskExt = "vdi"
	}

	d.Size, d.sizeErr = 0, ""
	switch v := d.Settings["size"].(type) {
	case nil:
	case string:
		n, err := ParseSize(v)
		if err != nil {
			d.sizeErr = err.Error()
		}
		d.Size = n
	default:
		if n, ok := isInt(v); ok {
			d.Size = int64(n)
		} else {
			d.Size = int64(toInt(v))
		}
	}
}

// Validate checks the disk against the machine.
func (d *DiskSpec) Validate(m Machine) []string {
	var errs []string

	valid := false
	for _, k := range diskKinds {
		if d.Kind == k {
			valid = true
		}
	}
	if !valid {
		errs = append(errs, fmt.Sprintf("Disk type %q is not valid. Please use one of: %s",
			d.Kind, strings.Join(diskKinds, ", ")))
	}

	if d.Name == "" {
		errs = append(errs, fmt.Sprintf("Disk %s must have a name", d.ID))
	}
	if d.Primary && d.Kind != DiskKindDisk {
		errs = append(errs, fmt.Sprintf("Disk %q is marked primary but is not of type %q", d.Name, DiskKindDisk))
	}
	if d.sizeErr != "" {
		errs = append(errs, fmt.Sprintf("Disk %q: %s", d.Name, d.sizeErr))
	}
	if d.Kind == DiskKindDisk && d.File == "" && d.Size <= 0 {
		errs = append(errs, fmt.Sprintf("Disk %q requires a size when no file is given", d.Name))
	}
	if d.File != "" {
		if p := expandPath(d.File, m.RootPath()); !isFile(p) {
			errs = append(errs, fmt.Sprintf("Disk file %q for disk %q does not exist", d.File, d.Name))
		}
	}
	for _, k := range d.Settings.Keys() {
		if !diskSettings[k] {
			errs = append(errs, fmt.Sprintf("Disk %q has unknown option %q", d.Name, k))
		}
	}
	return errs
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
