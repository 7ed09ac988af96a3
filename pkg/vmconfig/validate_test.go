package vmconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// validConfig returns a configuration that validates cleanly on newFakeMachine.
func validConfig() *VMConfig {
	cfg := New()
	cfg.Box = Set("froyo/base")
	return cfg
}

func TestValidate_Clean(t *testing.T) {
	m := newFakeMachine(t)
	cfg := finalize(t, validConfig())

	errs := cfg.Validate(m, false)
	if !errs.Empty() {
		t.Fatalf("Validate() = %s", errs)
	}
	if got := errs.Categories(); !reflect.DeepEqual(got, []string{"vm"}) {
		t.Errorf("Categories() = %v, want [vm]", got)
	}
}

func TestValidate_ForwardedPortNotUnique(t *testing.T) {
	m := newFakeMachine(t)
	cfg := validConfig()
	cfg.Network(NetworkForwardedPort, Options{"id": "web", "guest": 80, "host": 2222, "host_ip": "127.0.0.1"})
	finalize(t, cfg)

	errs := cfg.Validate(m, false)
	if n := countContaining(errs.Get("vm"), "not unique"); n != 1 {
		t.Errorf("not unique findings = %d, want 1: %v", n, errs.Get("vm"))
	}
}

func TestValidate_PortRange(t *testing.T) {
	tests := []struct {
		name    string
		guest   interface{}
		host    interface{}
		wantErr bool
	}{
		{name: "upper bound", guest: 65535, host: 8080, wantErr: false},
		{name: "lower bound", guest: 1, host: 1, wantErr: false},
		{name: "guest too high", guest: 70000, host: 8080, wantErr: true},
		{name: "host zero", guest: 80, host: 0, wantErr: true},
		{name: "string coerced", guest: "443", host: "8443", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMachine(t)
			cfg := validConfig()
			cfg.Network(NetworkForwardedPort, Options{"id": "x", "guest": tt.guest, "host": tt.host})
			finalize(t, cfg)

			n := countContaining(cfg.Validate(m, false).Get("vm"), "between 1 and 65535")
			if (n > 0) != tt.wantErr {
				t.Errorf("range findings = %d, wantErr %v", n, tt.wantErr)
			}
		})
	}
}

func TestValidate_ForwardedPortRequiresPortsOnce(t *testing.T) {
	m := newFakeMachine(t)
	cfg := validConfig()
	cfg.Network(NetworkForwardedPort, Options{"id": "a", "guest": 80})
	cfg.Network(NetworkForwardedPort, Options{"id": "b", "host": 8081})
	finalize(t, cfg)

	if n := countContaining(cfg.Validate(m, false).Get("vm"), "require a 'host' and 'guest'"); n != 1 {
		t.Errorf("requires ports findings = %d, want 1", n)
	}
}

func TestValidate_Networks(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		opts     Options
		wantMsg  string
		wantWarn bool
	}{
		{name: "unknown kind", kind: "bridged", opts: Options{}, wantMsg: "Network type \"bridged\" is invalid"},
		{name: "static without ip", kind: NetworkPrivate, opts: Options{"type": "static"}, wantMsg: "An IP is required"},
		{name: "dhcp without ip", kind: NetworkPrivate, opts: Options{"type": "dhcp"}},
		{name: "hostname without ip", kind: NetworkPublic, opts: Options{"hostname": true}, wantMsg: "must also set an ip"},
		{name: "ip ends in one", kind: NetworkPrivate, opts: Options{"ip": "192.168.50.1"}, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMachine(t)
			cfg := validConfig()
			cfg.Network(tt.kind, tt.opts)
			finalize(t, cfg)

			vm := cfg.Validate(m, false).Get("vm")
			if tt.wantMsg == "" && len(vm) != 0 {
				t.Errorf("unexpected findings: %v", vm)
			}
			if tt.wantMsg != "" && countContaining(vm, tt.wantMsg) != 1 {
				t.Errorf("findings = %v, want one containing %q", vm, tt.wantMsg)
			}
			if got := len(m.ui.warnings) == 1; got != tt.wantWarn {
				t.Errorf("warnings = %v, wantWarn %v", m.ui.warnings, tt.wantWarn)
			}
		})
	}
}

func TestValidate_SingleIPWarning(t *testing.T) {
	m := newFakeMachine(t)
	cfg := validConfig()
	cfg.Network(NetworkPrivate, Options{"ip": "10.0.0.1"})
	cfg.Network(NetworkPrivate, Options{"ip": "fd00::1"})
	finalize(t, cfg)
	cfg.Validate(m, false)

	if len(m.ui.warnings) != 1 {
		t.Errorf("warnings = %d, want 1", len(m.ui.warnings))
	}
}

func TestValidate_MultipleHostnames(t *testing.T) {
	m := newFakeMachine(t)
	cfg := validConfig()
	cfg.Network(NetworkPrivate, Options{"hostname": true, "ip": "10.0.0.5"})
	cfg.Network(NetworkPrivate, Options{"hostname": true, "ip": "10.0.0.6"})
	finalize(t, cfg)

	if n := countContaining(cfg.Validate(m, false).Get("vm"), "Only one network may set the hostname"); n != 1 {
		t.Errorf("hostname findings = %d, want 1", n)
	}
}

func TestValidate_SyncedFolders(t *testing.T) {
	tests := []struct {
		name    string
		declare func(c *VMConfig, root string)
		wantMsg string
	}{
		{
			name: "duplicate guest path",
			declare: func(c *VMConfig, root string) {
				c.SyncedFolder(".", "/data", Options{"name": "one"})
				c.SyncedFolder(".", "/data", Options{"name": "two"})
			},
			wantMsg: "duplicate guestpath",
		},
		{
			name: "relative guest path",
			declare: func(c *VMConfig, root string) {
				c.SyncedFolder(".", "data", nil)
			},
			wantMsg: "must be absolute",
		},
		{
			name: "missing host path",
			declare: func(c *VMConfig, root string) {
				c.SyncedFolder("nope", "/nope", nil)
			},
			wantMsg: "host path of the shared folder is missing",
		},
		{
			name: "nfs owner",
			declare: func(c *VMConfig, root string) {
				c.SyncedFolder(".", "/nfs", Options{"nfs": true, "owner": "app"})
			},
			wantMsg: "can't set owner or group",
		},
		{
			name: "mount options scalar",
			declare: func(c *VMConfig, root string) {
				c.SyncedFolder(".", "/mo", Options{"mount_options": "ro"})
			},
			wantMsg: "must be an array",
		},
		{
			name: "unknown type",
			declare: func(c *VMConfig, root string) {
				c.SyncedFolder(".", "/x", Options{"type": "9p"})
			},
			wantMsg: "type \"9p\" is not valid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMachine(t)
			cfg := validConfig()
			tt.declare(cfg, m.root)
			finalize(t, cfg)

			vm := cfg.Validate(m, false).Get("vm")
			if countContaining(vm, tt.wantMsg) != 1 {
				t.Errorf("findings = %v, want one containing %q", vm, tt.wantMsg)
			}
		})
	}
}

func TestValidate_SyncedFolderExemptions(t *testing.T) {
	m := newFakeMachine(t)
	cfg := validConfig()
	cfg.SyncedFolder("missing", "/a", Options{"create": true})
	cfg.SyncedFolder("missing", "/b", Options{"disabled": true})
	cfg.SyncedFolder(".", "/c", Options{"nfs": true, "owner": "app", "nfs__quiet": true})
	cfg.SyncedFolder(".", "C:/data", nil)
	cfg.SyncedFolder(".", "/d", Options{"mount_options": []string{"ro"}})
	finalize(t, cfg)

	if errs := cfg.Validate(m, false); !errs.Empty() {
		t.Errorf("Validate() = %s", errs)
	}
}

func TestValidate_Box(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *VMConfig, m *fakeMachine)
		wantMsg string
	}{
		{name: "missing", setup: func(c *VMConfig, _ *fakeMachine) { c.Box = Unset[string]() }, wantMsg: "A box must be specified"},
		{name: "optional for provider", setup: func(c *VMConfig, m *fakeMachine) {
			c.Box = Unset[string]()
			m.options.BoxOptional = true
		}},
		{name: "clone instead of box", setup: func(c *VMConfig, _ *fakeMachine) {
			c.Box = Unset[string]()
			c.Clone = Set("other")
		}},
		{name: "box and clone", setup: func(c *VMConfig, _ *fakeMachine) { c.Clone = Set("other") }, wantMsg: "Only one of clone or box"},
		{name: "empty clone instead of box", setup: func(c *VMConfig, _ *fakeMachine) {
			c.Box = Unset[string]()
			c.Clone = Set("")
		}},
		{name: "box and empty clone", setup: func(c *VMConfig, _ *fakeMachine) { c.Clone = Set("") }, wantMsg: "Only one of clone or box"},
		{name: "empty box", setup: func(c *VMConfig, _ *fakeMachine) { c.Box = Set("") }, wantMsg: "is an empty string"},
		{name: "bad hostname", setup: func(c *VMConfig, _ *fakeMachine) { c.Hostname = Set("web_01!") }, wantMsg: "hostname set for the VM"},
		{name: "good hostname", setup: func(c *VMConfig, _ *fakeMachine) { c.Hostname = Set("Web-01.local") }},
		{name: "good versions", setup: func(c *VMConfig, _ *fakeMachine) { c.BoxVersion = Set(">= 1.0, < 2.0") }},
		{name: "bad version", setup: func(c *VMConfig, _ *fakeMachine) { c.BoxVersion = Set(">= 1.0, banana") }, wantMsg: "Invalid box version constraints"},
		{name: "missing ca cert", setup: func(c *VMConfig, _ *fakeMachine) { c.BoxDownloadCACert = Set("ca.pem") }, wantMsg: "box_download_ca_cert could not be found"},
		{name: "ca cert present", setup: func(c *VMConfig, m *fakeMachine) {
			_ = os.WriteFile(filepath.Join(m.root, "ca.pem"), []byte("x"), 0o600)
			c.BoxDownloadCACert = Set("ca.pem")
		}},
		{name: "missing ca path", setup: func(c *VMConfig, _ *fakeMachine) { c.BoxDownloadCAPath = Set("certs") }, wantMsg: "box_download_ca_path could not be found"},
		{name: "checksum without type", setup: func(c *VMConfig, _ *fakeMachine) { c.BoxDownloadChecksum = Set("abc") }, wantMsg: "must also specify box_download_checksum_type"},
		{name: "type without checksum", setup: func(c *VMConfig, _ *fakeMachine) { c.BoxDownloadChecksumType = Set("sha256") }, wantMsg: "box_download_checksum is blank"},
		{name: "download options not a mapping", setup: func(c *VMConfig, _ *fakeMachine) {
			c.BoxDownloadOptions = Set[interface{}]([]string{"insecure"})
		}, wantMsg: "a mapping is required"},
		{name: "download option not converted", setup: func(c *VMConfig, _ *fakeMachine) {
			c.BoxDownloadOptions = Set[interface{}](map[string]interface{}{"retries": 3, "insecure": true, "quiet": false})
		}, wantMsg: "key \"retries\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMachine(t)
			cfg := validConfig()
			tt.setup(cfg, m)
			finalize(t, cfg)

			vm := cfg.Validate(m, false).Get("vm")
			if tt.wantMsg == "" {
				if len(vm) != 0 {
					t.Errorf("unexpected findings: %v", vm)
				}
				return
			}
			if countContaining(vm, tt.wantMsg) != 1 || len(vm) != 1 {
				t.Errorf("findings = %v, want exactly one containing %q", vm, tt.wantMsg)
			}
		})
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestValidate_Disks(t *testing.T) {
	m := newFakeMachine(t)
	writeFile(t, filepath.Join(m.root, "shared.vdi"))

	cfg := validConfig()
	cfg.Disk(DiskKindDisk, Options{"name": "root", "size": "40GB", "primary": true}, nil)
	cfg.Disk(DiskKindDisk, Options{"name": "root2", "size": "40GB", "primary": true}, nil)
	cfg.Disk(DiskKindDisk, Options{"name": "data", "size": "1GB"}, nil)
	cfg.Disk(DiskKindDisk, Options{"name": "data", "file": "shared.vdi"}, nil)
	cfg.Disk(DiskKindDVD, Options{"name": "iso", "file": "shared.vdi"}, nil)
	cfg.Disk(DiskKindDisk, Options{"name": "nosize"}, nil)
	cfg.Disk("tape", Options{"name": "tape", "size": 10}, nil)
	finalize(t, cfg)

	vm := cfg.Validate(m, false).Get("vm")
	for _, want := range []string{
		"more than one primary disk",
		"duplicate disk names",
		"duplicate disk files",
		"\"nosize\" requires a size",
		"Disk type \"tape\" is not valid",
	} {
		if countContaining(vm, want) != 1 {
			t.Errorf("findings = %v, want one containing %q", vm, want)
		}
	}
}

func TestValidate_PrimaryDiskName(t *testing.T) {
	cfg := validConfig()
	cfg.Disk(DiskKindDisk, Options{"primary": true, "size": "1.5GB"}, nil)
	finalize(t, cfg)

	d := cfg.Disks()[0]
	if d.Name != PrimaryDiskName || d.Size != 1610612736 || d.DiskExt != "vdi" {
		t.Errorf("disk = %+v", d)
	}
}

func TestValidate_CloudInit(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantMsg string
	}{
		{name: "valid inline", opts: Options{"content_type": "text/cloud-config", "inline": "#cloud-config"}},
		{name: "no content type", opts: Options{"inline": "x"}, wantMsg: "requires a content_type"},
		{name: "bad content type", opts: Options{"content_type": "text/plain", "inline": "x"}, wantMsg: "is not supported"},
		{name: "both path and inline", opts: Options{"content_type": "text/cloud-config", "inline": "x", "path": "a"}, wantMsg: "mutually exclusive"},
		{name: "missing path", opts: Options{"content_type": "text/cloud-config", "path": "user-data"}, wantMsg: "does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMachine(t)
			cfg := validConfig()
			cfg.CloudInit("", tt.opts, nil)
			finalize(t, cfg)

			vm := cfg.Validate(m, false).Get("vm")
			if tt.wantMsg == "" && len(vm) != 0 {
				t.Errorf("unexpected findings: %v", vm)
			}
			if tt.wantMsg != "" && countContaining(vm, tt.wantMsg) != 1 {
				t.Errorf("findings = %v, want one containing %q", vm, tt.wantMsg)
			}
		})
	}
}

func TestValidate_Provider(t *testing.T) {
	pc := newFakeConfig().(*fakeConfig)
	pc.Values["invalid"] = "memory must be positive"

	t.Run("merged", func(t *testing.T) {
		m := newFakeMachine(t)
		m.provider = pc
		cfg := finalize(t, validConfig())

		errs := cfg.Validate(m, false)
		if got := errs.Categories(); !reflect.DeepEqual(got, []string{"vm", "fake"}) {
			t.Errorf("Categories() = %v", got)
		}
		if got := errs.Get("fake"); !reflect.DeepEqual(got, []string{"memory must be positive"}) {
			t.Errorf("fake = %v", got)
		}
	})

	t.Run("ignored", func(t *testing.T) {
		m := newFakeMachine(t)
		m.provider = pc
		cfg := finalize(t, validConfig())

		errs := cfg.Validate(m, true)
		if len(errs.Get("fake")) != 0 {
			t.Errorf("provider findings reported although ignored: %v", errs.Get("fake"))
		}
		if len(m.ui.warnings) != 1 {
			t.Errorf("warnings = %v, want one", m.ui.warnings)
		}
	})
}

func TestValidate_Provisioners(t *testing.T) {
	m := newFakeMachine(t)
	cfg := validConfig()
	cfg.Provision("ansible", nil)
	cfg.Provision("one", Options{"type": "shell"})
	cfg.Provision("two", Options{"type": "shell", "before": "ghost"})
	cfg.Provision("three", Options{"type": "shell", "after": "two"})
	cfg.Provision("four", Options{"type": "shell", "before": "one", "after": "one"})
	cfg.Provision("five", Options{"type": "shell", "communicator_required": "yes", "bogus": 1})
	cfg.Provision("six", Options{"type": "shell", "before": OrderAll})
	finalize(t, cfg)

	errs := cfg.Validate(m, false)
	if countContaining(errs.Get("vm"), "'ansible' provisioner could not be found") != 1 {
		t.Errorf("vm = %v", errs.Get("vm"))
	}

	prov := errs.Get("provisioner")
	for _, want := range []string{
		"\"ghost\", which does not exist",
		"because \"two\" itself has a before or after option",
		"may not set both",
		"'communicator_required' option for this provisioner must be a boolean",
		"unknown option \"bogus\"",
	} {
		if countContaining(prov, want) != 1 {
			t.Errorf("provisioner findings = %v, want one containing %q", prov, want)
		}
	}
	if len(prov) != 5 {
		t.Errorf("provisioner findings = %d, want 5: %v", len(prov), prov)
	}
}

func TestValidate_SubVMNames(t *testing.T) {
	m := newFakeMachine(t)
	cfg := validConfig()
	cfg.Define("web", nil)
	cfg.Define("db/primary", nil)
	cfg.Define("cache[0]", nil)
	finalize(t, cfg)

	if n := countContaining(cfg.Validate(m, false).Get("vm"), "sub-VM name"); n != 2 {
		t.Errorf("name findings = %d, want 2", n)
	}
}

func TestValidate_BooleanFlags(t *testing.T) {
	m := newFakeMachine(t)
	cfg := validConfig()
	cfg.AllowFstabModification = Set[interface{}]("yes")
	cfg.AllowHostsModification = Set[interface{}](1)
	finalize(t, cfg)

	vm := cfg.Validate(m, false).Get("vm")
	if countContaining(vm, "allow_fstab_modification") != 1 || countContaining(vm, "allow_hosts_modification") != 1 {
		t.Errorf("findings = %v", vm)
	}
}

func TestValidate_FstabDefault(t *testing.T) {
	tests := []struct {
		name       string
		caps       map[string]interface{}
		rsyncInUse bool
		want       bool
	}{
		{name: "no capability", rsyncInUse: true, want: true},
		{name: "capability true", caps: map[string]interface{}{"default_fstab_modification": true}, rsyncInUse: true, want: true},
		{name: "capability false", caps: map[string]interface{}{"default_fstab_modification": false}, rsyncInUse: true, want: false},
		{name: "capability false on unused backend", caps: map[string]interface{}{"default_fstab_modification": false}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMachine(t)
			m.backends = fakeBackends{
				{typ: "native", priority: 10, usable: true},
				{typ: "rsync", priority: 5, usable: true, caps: tt.caps},
			}
			cfg := validConfig()
			if tt.rsyncInUse {
				cfg.SyncedFolder("src", "/src", Options{"type": "rsync"})
			}
			finalize(t, cfg)
			cfg.Validate(m, false)

			if got := cfg.AllowFstabModification.Or(nil); got != tt.want {
				t.Errorf("AllowFstabModification = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate_WSL(t *testing.T) {
	tests := []struct {
		name     string
		nonDrvFs bool
		wantErr  bool
	}{
		{name: "linux path rejected", wantErr: true},
		{name: "backend allows non drvfs", nonDrvFs: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMachine(t)
			m.host = fakeHost{wsl: true}
			m.backends = fakeBackends{{typ: "native", priority: 10, usable: true, nonDrvFs: tt.nonDrvFs}}
			cfg := finalize(t, validConfig())

			n := countContaining(cfg.Validate(m, false).Get("vm"), "not supported from WSL")
			if (n == 1) != tt.wantErr {
				t.Errorf("WSL findings = %d, wantErr %v", n, tt.wantErr)
			}
		})
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	m := newFakeMachine(t)
	cfg := New()
	cfg.Network(NetworkForwardedPort, Options{"id": "web", "guest": 70000, "host": 2222, "host_ip": "127.0.0.1"})
	cfg.SyncedFolder(".", "/data", Options{"name": "a"})
	cfg.SyncedFolder(".", "/data", Options{"name": "b"})
	cfg.Provision("ghost", nil)
	finalize(t, cfg)

	first := cfg.Validate(m, false)
	second := cfg.Validate(m, false)
	if first.Empty() {
		t.Fatal("expected findings")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reports differ:\n%s\n---\n%s", first, second)
	}
}

func TestResolveSyncedFolders(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *VMConfig, m *fakeMachine)
		want    map[string][]string
		wantErr bool
	}{
		{
			name: "highest priority usable backend",
			setup: func(c *VMConfig, m *fakeMachine) {
				c.SyncedFolder("src", "/src", nil)
			},
			want: map[string][]string{"native": {"/src", DefaultGuestPath}},
		},
		{
			name: "explicit type and allowed list",
			setup: func(c *VMConfig, m *fakeMachine) {
				c.AllowedSyncedFolderTypes = Set([]string{"nfs"})
				c.SyncedFolder("src", "/src", Options{"type": "native"})
			},
			want: map[string][]string{"native": {"/src"}, "nfs": {DefaultGuestPath}},
		},
		{
			name: "disabled folders are skipped",
			setup: func(c *VMConfig, m *fakeMachine) {
				c.SyncedFolder(".", DefaultGuestPath, Options{"disabled": true})
			},
			want: map[string][]string{},
		},
		{
			name: "no usable backend",
			setup: func(c *VMConfig, m *fakeMachine) {
				m.backends = fakeBackends{{typ: "nfs", priority: 5, usable: false}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			m := newFakeMachine(t)
			tt.setup(cfg, m)
			finalize(t, cfg)

			groups, err := cfg.ResolveSyncedFolders(m)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveSyncedFolders() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got := map[string][]string{}
			for _, g := range groups {
				for _, f := range g.Folders {
					got[g.Type] = append(got[g.Type], f.GuestPath())
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("groups = %v, want %v", got, tt.want)
			}
			for typ, paths := range tt.want {
				if strings.Join(got[typ], ",") != strings.Join(paths, ",") {
					t.Errorf("%s folders = %v, want %v", typ, got[typ], paths)
				}
			}
		})
	}
}
