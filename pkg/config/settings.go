package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// setting assigns one scalar setting on a configuration.
type setting func(c *vmconfig.VMConfig, v interface{}) error

// settings maps setting names, as written in scope files, to their setters.
var settings = map[string]setting{
	"allowed_synced_folder_types": stringListSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[[]string] { return &c.AllowedSyncedFolderTypes }),
	"allow_fstab_modification":    anySetting(func(c *vmconfig.VMConfig) *vmconfig.Value[interface{}] { return &c.AllowFstabModification }),
	"allow_hosts_modification":    anySetting(func(c *vmconfig.VMConfig) *vmconfig.Value[interface{}] { return &c.AllowHostsModification }),
	"base_mac":                    stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.BaseMAC }),
	"base_address":                stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.BaseAddress }),
	"boot_timeout":                durationSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[time.Duration] { return &c.BootTimeout }),
	"box":                         stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.Box }),
	"box_architecture":            anySetting(func(c *vmconfig.VMConfig) *vmconfig.Value[interface{}] { return &c.BoxArchitecture }),
	"ignore_box_vagrantfile":      boolSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[bool] { return &c.IgnoreBoxVagrantfile }),
	"box_check_update":            boolSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[bool] { return &c.BoxCheckUpdate }),
	"box_download_ca_cert":        stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.BoxDownloadCACert }),
	"box_download_ca_path":        stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.BoxDownloadCAPath }),
	"box_download_checksum":       stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.BoxDownloadChecksum }),
	"box_download_checksum_type":  stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.BoxDownloadChecksumType }),
	"box_download_client_cert":    stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.BoxDownloadClientCert }),
	"box_download_disable_ssl_revoke_best_effort": boolSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[bool] {
		return &c.BoxDownloadDisableSSLRevokeBestEffort
	}),
	"box_download_insecure":         boolSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[bool] { return &c.BoxDownloadInsecure }),
	"box_download_location_trusted": boolSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[bool] { return &c.BoxDownloadLocationTrusted }),
	"box_download_options":          anySetting(func(c *vmconfig.VMConfig) *vmconfig.Value[interface{}] { return &c.BoxDownloadOptions }),
	"box_url":                       stringListSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[[]string] { return &c.BoxURL }),
	"box_version":                   stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.BoxVersion }),
	"clone":                         stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.Clone }),
	"cloud_init_first_boot_only":    boolSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[bool] { return &c.CloudInitFirstBootOnly }),
	"communicator":                  stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.Communicator }),
	"graceful_halt_timeout":         durationSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[time.Duration] { return &c.GracefulHaltTimeout }),
	"guest":                         stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.Guest }),
	"hostname":                      stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.Hostname }),
	"host_name":                     stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.Hostname }),
	"post_up_message":               stringSetting(func(c *vmconfig.VMConfig) *vmconfig.Value[string] { return &c.PostUpMessage }),
	"usable_port_range":             portRangeSetting,
}

// SettingNames returns the names of all scalar settings, sorted.
func SettingNames() []string {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applySetting assigns a scalar setting by name.
func applySetting(c *vmconfig.VMConfig, name string, v interface{}) error {
	set, ok := settings[name]
	if !ok {
		return fmt.Errorf("unknown setting %q", name)
	}
	if err := set(c, v); err != nil {
		return fmt.Errorf("setting %q: %w", name, err)
	}
	return nil
}

func stringSetting(field func(*vmconfig.VMConfig) *vmconfig.Value[string]) setting {
	return func(c *vmconfig.VMConfig, v interface{}) error {
		s, err := cast.ToStringE(v)
		if err != nil {
			return err
		}
		*field(c) = vmconfig.Set(s)
		return nil
	}
}

func boolSetting(field func(*vmconfig.VMConfig) *vmconfig.Value[bool]) setting {
	return func(c *vmconfig.VMConfig, v interface{}) error {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return err
		}
		*field(c) = vmconfig.Set(b)
		return nil
	}
}

// anySetting keeps the value as written. Validation decides whether it has
// an acceptable type.
func anySetting(field func(*vmconfig.VMConfig) *vmconfig.Value[interface{}]) setting {
	return func(c *vmconfig.VMConfig, v interface{}) error {
		*field(c) = vmconfig.Set(v)
		return nil
	}
}

// stringListSetting accepts a list or a single string.
func stringListSetting(field func(*vmconfig.VMConfig) *vmconfig.Value[[]string]) setting {
	return func(c *vmconfig.VMConfig, v interface{}) error {
		if s, ok := v.(string); ok {
			*field(c) = vmconfig.Set([]string{s})
			return nil
		}
		list, err := cast.ToStringSliceE(v)
		if err != nil {
			return err
		}
		*field(c) = vmconfig.Set(list)
		return nil
	}
}

// durationSetting accepts seconds as a number or a Go duration string.
func durationSetting(field func(*vmconfig.VMConfig) *vmconfig.Value[time.Duration]) setting {
	return func(c *vmconfig.VMConfig, v interface{}) error {
		d, err := toDuration(v)
		if err != nil {
			return err
		}
		*field(c) = vmconfig.Set(d)
		return nil
	}
}

func toDuration(v interface{}) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return d, nil
		}
	}
	secs, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("expected seconds or a duration, got %v", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// portRangeSetting accepts "2200..2250", [2200, 2250] or {min: 2200, max: 2250}.
func portRangeSetting(c *vmconfig.VMConfig, v interface{}) error {
	var lo, hi interface{}
	switch t := v.(type) {
	case string:
		parts := strings.SplitN(t, "..", 2)
		if len(parts) != 2 {
			return fmt.Errorf("expected a range like 2200..2250, got %q", t)
		}
		lo, hi = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	case []interface{}:
		if len(t) != 2 {
			return fmt.Errorf("expected two ports, got %d", len(t))
		}
		lo, hi = t[0], t[1]
	case map[string]interface{}:
		lo, hi = t["min"], t["max"]
	default:
		return fmt.Errorf("unsupported port range %v", v)
	}

	min, err := cast.ToIntE(lo)
	if err != nil {
		return err
	}
	max, err := cast.ToIntE(hi)
	if err != nil {
		return err
	}
	if min > max {
		return fmt.Errorf("port range %d..%d is empty", min, max)
	}
	c.UsablePortRange = vmconfig.Set(vmconfig.PortRange{Min: min, Max: max})
	return nil
}
