package vmconfig

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	hostnamePattern    = regexp.MustCompile(`(?i)^[a-z0-9][-.a-z0-9]*$`)
	driveLetterPattern = regexp.MustCompile(`^\w+:`)
	subVMNamePattern   = regexp.MustCompile(`[\[\]\{\}/]`)
)

// Validate checks the finalized configuration for machine m and returns
// every finding. Findings about the configuration itself are reported under
// "vm"; provider and provisioner configs add their own categories. When
// ignoreProvider is set the provider config is not validated and a warning
// is sent to the machine UI instead.
func (c *VMConfig) Validate(m Machine, ignoreProvider bool) Errors {
	c.resolveFstabDefault(m)

	var vm []string
	vm = append(vm, c.validateBox(m)...)
	vm = append(vm, c.validateSyncedFolders(m)...)
	vm = append(vm, c.validateNetworks(m)...)
	vm = append(vm, c.validateDisks(m)...)
	for _, ci := range c.cloudInits {
		vm = append(vm, ci.Validate(m)...)
	}

	var errs Errors
	errs.Add("vm", vm...)

	if pc := m.ProviderConfig(); pc != nil {
		if !ignoreProvider {
			if v, ok := pc.(ConfigValidator); ok {
				errs.Merge(v.Validate(m))
			}
		} else {
			m.UI().Warn(fmt.Sprintf("Ignoring provider config for validation of machine %q", m.Name()))
		}
	}

	for _, p := range c.provisioners {
		if p.Invalid() {
			errs.Add("vm", fmt.Sprintf("The '%s' provisioner could not be found.", p.DisplayName()))
			continue
		}
		errs.Merge(p.Validate(m, c.provisioners))
		if v, ok := p.Config.(ConfigValidator); ok {
			errs.Merge(v.Validate(m))
		}
	}

	errs.Add("vm", c.validateWSLFolders(m)...)

	for _, name := range c.subVMs.Keys() {
		if subVMNamePattern.MatchString(name) {
			errs.Add("vm", fmt.Sprintf("The sub-VM name %q is invalid. Please don't use special characters.", name))
		}
	}

	if v, _ := c.AllowFstabModification.Get(); !isBool(v) {
		errs.Add("vm", fmt.Sprintf("Found %T for allow_fstab_modification, a boolean is required", v))
	}
	if v, _ := c.AllowHostsModification.Get(); !isBool(v) {
		errs.Add("vm", fmt.Sprintf("Found %T for allow_hosts_modification, a boolean is required", v))
	}

	return errs
}

// resolveFstabDefault settles AllowFstabModification the first time the
// configuration is validated: false when a backend serving one of the
// machine's synced folders says so, true otherwise.
func (c *VMConfig) resolveFstabDefault(m Machine) {
	if c.AllowFstabModification.IsSet() {
		return
	}
	allow := true
	reg := m.SyncedFolderBackends()
	groups, err := c.ResolveSyncedFolders(m)
	if reg != nil && err == nil {
		for _, g := range groups {
			b, ok := reg.SyncedFolderBackend(g.Type)
			if !ok || !b.HasCapability("default_fstab_modification") {
				continue
			}
			if v, err := b.Capability("default_fstab_modification"); err == nil && v == false {
				allow = false
				break
			}
		}
	}
	c.AllowFstabModification = Set[interface{}](allow)
}

func (c *VMConfig) validateBox(m Machine) []string {
	var errs []string
	box, hasBox := c.Box.Get()
	hasClone := c.Clone.IsSet()

	if !hasBox && !hasClone && !m.ProviderOptions().BoxOptional {
		errs = append(errs, "A box must be specified.")
	}
	if hasBox && hasClone {
		errs = append(errs, "Only one of clone or box can be specified.")
	}
	if hasBox && box == "" {
		errs = append(errs, fmt.Sprintf("Box value for guest %q is an empty string.", m.Name()))
	}
	if h, ok := c.Hostname.Get(); ok && !hostnamePattern.MatchString(h) {
		errs = append(errs, fmt.Sprintf("The hostname set for the VM %q should only contain letters, numbers, hyphens or dots.", m.Name()))
	}

	if v, ok := c.BoxVersion.Get(); ok {
		for _, part := range strings.Split(v, ",") {
			if _, err := semver.NewConstraint(strings.TrimSpace(part)); err != nil {
				errs = append(errs, fmt.Sprintf("Invalid box version constraints: %s", part))
			}
		}
	}

	if p, ok := c.BoxDownloadCACert.Get(); ok && !isFile(expandPath(p, m.RootPath())) {
		errs = append(errs, fmt.Sprintf("The specified box_download_ca_cert could not be found: %s", p))
	}
	if p, ok := c.BoxDownloadCAPath.Get(); ok && !isDir(expandPath(p, m.RootPath())) {
		errs = append(errs, fmt.Sprintf("The specified box_download_ca_path could not be found: %s", p))
	}

	checksum := c.BoxDownloadChecksum.Or("")
	if _, ok := c.BoxDownloadChecksumType.Get(); ok {
		if checksum == "" {
			errs = append(errs, "Checksum type specified but box_download_checksum is blank")
		}
	} else if checksum != "" {
		errs = append(errs, "Checksum specified but must also specify box_download_checksum_type")
	}

	raw, _ := c.BoxDownloadOptions.Get()
	opts, isMap := toOptions(raw)
	if !isMap {
		errs = append(errs, fmt.Sprintf("Found %T for box_download_options, a mapping is required", raw))
	}
	extra := make(map[string]bool, len(c.BoxExtraDownloadOptions))
	for _, o := range c.BoxExtraDownloadOptions {
		extra[o] = true
	}
	for _, k := range opts.Keys() {
		if truthy(opts[k]) && !extra["--"+k] {
			errs = append(errs, fmt.Sprintf("Unable to convert box_download_options key %q into a command line option", k))
		}
	}
	return errs
}

func (c *VMConfig) validateSyncedFolders(m Machine) []string {
	var errs []string
	used := make(map[string]bool)
	backends := m.SyncedFolderBackends()

	for _, f := range c.SyncedFolders() {
		if f.Disabled() {
			continue
		}
		guest := f.GuestPath()
		host := f.HostPath()

		if guest == "" && f.ID == "" {
			errs = append(errs, "Shared folders must have a guest path or a name.")
		} else if guest != "" {
			if !path.IsAbs(guest) && !driveLetterPattern.MatchString(guest) {
				errs = append(errs, fmt.Sprintf("The guest path of the shared folder must be absolute: %s", guest))
			} else {
				if used[guest] {
					errs = append(errs, fmt.Sprintf("A synced folder uses the guest path %s more than once (duplicate guestpath).", guest))
				}
				used[guest] = true
			}
		}

		if !isDir(expandPath(host, m.RootPath())) && !f.Options.Bool("create") {
			errs = append(errs, fmt.Sprintf("The host path of the shared folder is missing: %s", host))
		}

		typ := f.Options.String("type")
		if typ == "nfs" && !f.Options.Bool("nfs__quiet") {
			if f.Options.Bool("owner") || f.Options.Bool("group") {
				errs = append(errs, fmt.Sprintf("Shared folders using NFS can't set owner or group: %s", host))
			}
		}

		if mo, ok := f.Options["mount_options"]; ok && mo != nil {
			if k := reflect.TypeOf(mo).Kind(); k != reflect.Slice && k != reflect.Array {
				errs = append(errs, "Shared folder mount options specified by 'mount_options' must be an array of options.")
			}
		}

		if typ != "" {
			registered := false
			var types []string
			if backends != nil {
				_, registered = backends.SyncedFolderBackend(typ)
				types = backends.SyncedFolderTypes()
			}
			if !registered {
				errs = append(errs, fmt.Sprintf("The shared folder type %q is not valid. Valid types are: %s", typ, strings.Join(types, ", ")))
			}
		}
	}
	return errs
}

func (c *VMConfig) validateNetworks(m Machine) []string {
	var errs []string
	fpPortError := false
	hostnameSeen := false
	warned := false
	used := make(map[string]bool)
	ports := PortRange{Min: 1, Max: 65535}

	for _, n := range c.Networks() {
		opts := n.Options
		if opts.Bool("hostname") {
			if hostnameSeen {
				errs = append(errs, "Only one network may set the hostname.")
			}
			if opts["ip"] == nil {
				errs = append(errs, "A network that sets the hostname must also set an ip.")
			}
			hostnameSeen = true
		}
		if !validNetworkKinds[n.Kind] {
			errs = append(errs, fmt.Sprintf("Network type %q is invalid. Please use a valid network type.", n.Kind))
		}

		switch n.Kind {
		case NetworkForwardedPort:
			if !fpPortError && (!truthy(opts["guest"]) || !truthy(opts["host"])) {
				errs = append(errs, "Forwarded port definitions require a 'host' and 'guest' value")
				fpPortError = true
			}
			if truthy(opts["host"]) {
				key := opts.String("host_ip") + opts.String("protocol") + opts.String("host")
				if used[key] {
					errs = append(errs, fmt.Sprintf("Forwarded port '%s' (host port) is declared multiple times with the protocol '%s' (not unique).",
						opts.String("host"), opts.String("protocol")))
				}
				used[key] = true
			}
			host, hostOK := isInt(opts["host"])
			guest, guestOK := isInt(opts["guest"])
			if !hostOK || !guestOK || !ports.Contains(host) || !ports.Contains(guest) {
				errs = append(errs, "Forwarded port definitions require 'host' and 'guest' values between 1 and 65535.")
			}
		case NetworkPrivate:
			typ := opts.String("type")
			if typ != "" && typ != "dhcp" && !truthy(opts["ip"]) {
				errs = append(errs, "An IP is required for a private network.")
			}
			ip := opts.String("ip")
			if !warned && ip != "" && (strings.HasSuffix(ip, ".1") || strings.HasSuffix(ip, ":1")) && typ != "dhcp" {
				m.UI().Warn("You assigned a static IP ending in \".1\" or \":1\" to this machine. This is very often used by the router and can cause the network to not work properly. If the network doesn't work properly, try changing this IP.")
				warned = true
			}
		}
	}
	return errs
}

func (c *VMConfig) validateDisks(m Machine) []string {
	var errs []string

	primary := 0
	names := make(map[string]int)
	files := make(map[string]int)
	var dupNames, dupFiles []string
	for _, d := range c.disks {
		if d.Primary && d.Kind == DiskKindDisk {
			primary++
		}
		if d.Name != "" {
			names[d.Name]++
			if names[d.Name] == 2 {
				dupNames = append(dupNames, d.Name)
			}
		}
		if d.File != "" {
			files[d.File]++
			if files[d.File] == 2 {
				dupFiles = append(dupFiles, d.File)
			}
		}
	}
	if primary > 1 {
		errs = append(errs, fmt.Sprintf("The machine %q has more than one primary disk defined.", m.Name()))
	}
	if len(dupNames) > 0 {
		errs = append(errs, fmt.Sprintf("The machine %q has duplicate disk names:\n%s", m.Name(), strings.Join(dupNames, "\n")))
	}
	if len(dupFiles) > 0 {
		errs = append(errs, fmt.Sprintf("The machine %q has duplicate disk files:\n%s", m.Name(), strings.Join(dupFiles, "\n")))
	}

	for _, d := range c.disks {
		errs = append(errs, d.Validate(m)...)
	}
	return errs
}

// validateWSLFolders requires host paths on the Windows filesystem when
// running under WSL, unless the folder's backend works without it.
func (c *VMConfig) validateWSLFolders(m Machine) []string {
	host := m.Host()
	if host == nil || !host.IsWSL() {
		return nil
	}
	groups, err := c.ResolveSyncedFolders(m)
	if err != nil {
		logger.Debug().Err(err).Msg("skipping WSL synced folder check")
		return nil
	}

	var errs []string
	for _, g := range groups {
		var backend SyncedFolderBackend
		if reg := m.SyncedFolderBackends(); reg != nil {
			backend, _ = reg.SyncedFolderBackend(g.Type)
		}
		if a, ok := backend.(DrvFsAware); ok && a.AllowsNonDrvFs() {
			continue
		}
		for _, f := range g.Folders {
			if !host.IsDrvFsPath(expandPath(f.HostPath(), m.RootPath())) {
				errs = append(errs, fmt.Sprintf("The host path of the shared folder is not supported from WSL: %s", f.HostPath()))
			}
		}
	}
	return errs
}

// expandPath resolves p against root, expanding a leading "~".
func expandPath(p, root string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
