package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.starlark.net/starlark"

	"github.com/openfroyo/froyovm/pkg/plugins"
	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

func loadStarlark(t *testing.T, l *Loader, script string) *Scope {
	t.Helper()
	scope, err := l.LoadBytes(context.Background(), "Froyofile.star", FormatStarlark, []byte(script))
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	return scope
}

func TestStarlarkDeclarations(t *testing.T) {
	scope := loadStarlark(t, newTestLoader(), `
vm.box = "ubuntu/jammy"
vm.boot_timeout = 120
vm.box_url = "https://boxes.example.com/jammy.box"
vm.network("forwarded_port", id = "web", guest = 80, host = 8080)
vm.synced_folder(".", "/srv", disabled = True)
vm.disk("disk", name = "data", size = "10GB")
vm.cloud_init(content_type = "text/cloud-config", inline = "packages: [git]")
vm.provision("shell", inline = "echo hi")
vm.provision("bootstrap", type = "shell", path = "bootstrap.sh")

def define_all(names):
    for name in names:
        vm.define(name)

define_all(["db", "web"])
`)
	c := scope.Config

	if got := c.Box.Or(""); got != "ubuntu/jammy" {
		t.Errorf("Box = %q", got)
	}
	if got := c.BootTimeout.Or(0); got != 120*time.Second {
		t.Errorf("BootTimeout = %v, want 2m0s", got)
	}
	if got := c.BoxURL.Or(nil); len(got) != 1 {
		t.Errorf("BoxURL = %v, want one entry", got)
	}
	if _, ok := c.NetworkByKey("forwarded_port-web"); !ok {
		t.Error("forwarded_port-web not declared")
	}
	if folders := c.SyncedFolders(); len(folders) != 1 || !folders[0].Disabled() {
		t.Errorf("SyncedFolders() = %+v", folders)
	}
	if len(c.Disks()) != 1 || len(c.CloudInitConfigs()) != 1 {
		t.Errorf("disks = %d, cloud_init = %d", len(c.Disks()), len(c.CloudInitConfigs()))
	}

	provs := c.Provisioners()
	if len(provs) != 2 {
		t.Fatalf("len(Provisioners()) = %d, want 2", len(provs))
	}
	if provs[0].Name != "" || provs[0].Type != "shell" {
		t.Errorf("first provisioner = %q/%q, want anonymous shell", provs[0].Name, provs[0].Type)
	}
	if provs[1].Name != "bootstrap" || provs[1].Type != "shell" {
		t.Errorf("second provisioner = %q/%q, want bootstrap/shell", provs[1].Name, provs[1].Type)
	}
	if got := Machines(c); len(got) != 2 || got[0] != "db" {
		t.Errorf("Machines() = %v", got)
	}
}

func TestStarlarkDeferredBlocks(t *testing.T) {
	l := NewLoader(plugins.NewDefaultRegistry(), WithHost(staticHost{}), WithVars(map[string]interface{}{"tag": "1.27"}))
	scope := loadStarlark(t, l, `
def docker(cfg, override):
    cfg.image = "nginx:" + vars["tag"]
    override.hostname = "in-docker"

def web(m):
    m.box = "web-box"

vm.provider("docker", docker)
vm.define("web", web, primary = True)
`)

	res, err := l.Resolve(context.Background(), []*Scope{scope}, "", "docker")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Machine != "web" {
		t.Errorf("Machine = %s, want web", res.Machine)
	}
	if got := res.Config.Box.Or(""); got != "web-box" {
		t.Errorf("Box = %q, want web-box", got)
	}
	if got := res.Config.Hostname.Or(""); got != "in-docker" {
		t.Errorf("Hostname = %q, want in-docker", got)
	}
	docker := res.Handle.ProviderConfig().(*plugins.OptionConfig[plugins.DockerSettings])
	if docker.Settings.Image != "nginx:1.27" {
		t.Errorf("image = %q, want nginx:1.27", docker.Settings.Image)
	}
}

func TestStarlarkProvisionerBlock(t *testing.T) {
	l := newTestLoader()
	scope := loadStarlark(t, l, `
def configure(p):
    p.inline = "echo hi"
    p.privileged = False

vm.provision("setup", configure, type = "shell")
`)

	res, err := l.Resolve(context.Background(), []*Scope{scope}, "", "docker")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	provs := res.Config.Provisioners()
	if len(provs) != 1 {
		t.Fatalf("len(Provisioners()) = %d, want 1", len(provs))
	}
	shell, ok := provs[0].Config.(*plugins.OptionConfig[plugins.ShellSettings])
	if !ok {
		t.Fatalf("provisioner config is %T", provs[0].Config)
	}
	if shell.Settings.Inline != "echo hi" || shell.Settings.Privileged {
		t.Errorf("shell settings = %+v", shell.Settings)
	}
}

func TestStarlarkLoadErrorLine(t *testing.T) {
	l := newTestLoader()
	scope := loadStarlark(t, l, `
vm.box = "base"

def docker(cfg):
    cfg.image = "nginx"
    fail("no registry configured")

vm.provider("docker", docker)
`)

	_, err := l.Resolve(context.Background(), []*Scope{scope}, "", "docker")
	if err == nil {
		t.Fatal("expected a load error")
	}
	var le *vmconfig.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("error %T is not a *vmconfig.LoadError: %v", err, err)
	}
	if le.Provider != "docker" {
		t.Errorf("Provider = %s, want docker", le.Provider)
	}
	if le.Line != 6 {
		t.Errorf("Line = %d, want 6", le.Line)
	}
	if le.File != "Froyofile.star" {
		t.Errorf("File = %s, want Froyofile.star", le.File)
	}
	var se *StarlarkError
	if !errors.As(err, &se) {
		t.Error("expected the cause to be a *StarlarkError")
	}
}

func TestStarlarkProviderArity(t *testing.T) {
	_, err := newTestLoader().LoadBytes(context.Background(), "Froyofile.star", FormatStarlark, []byte(`
def docker(a, b, c):
    pass

vm.provider("docker", docker)
`))
	if err == nil {
		t.Fatal("expected an error for a three parameter provider block")
	}
}

func TestStarlarkTimeout(t *testing.T) {
	l := NewLoader(plugins.NewDefaultRegistry(), WithStarlarkTimeout(100*time.Millisecond))

	script := `
def slow_function():
    result = 0
    for i in range(100000000):
        result = result + i
    return result

vm.hostname = str(slow_function())
`

	_, err := l.LoadBytes(context.Background(), "slow.star", FormatStarlark, []byte(script))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want a deadline error", err)
	}
}

func TestStarlarkEnv(t *testing.T) {
	t.Setenv("FROYOVM_TEST_BOX", "from-env")
	scope := loadStarlark(t, newTestLoader(), `
vm.box = env("FROYOVM_TEST_BOX")
vm.hostname = env("FROYOVM_TEST_UNSET", default = "fallback")
`)
	if got := scope.Config.Box.Or(""); got != "from-env" {
		t.Errorf("Box = %q, want from-env", got)
	}
	if got := scope.Config.Hostname.Or(""); got != "fallback" {
		t.Errorf("Hostname = %q, want fallback", got)
	}
}

func TestStarlarkTypeConversion(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		check func(t *testing.T, got interface{})
	}{
		{
			name:  "bool",
			input: true,
			check: func(t *testing.T, got interface{}) {
				if got != true {
					t.Errorf("got %v, want true", got)
				}
			},
		},
		{
			name:  "int",
			input: 42,
			check: func(t *testing.T, got interface{}) {
				if got != int64(42) {
					t.Errorf("got %v (%T), want int64 42", got, got)
				}
			},
		},
		{
			name:  "list",
			input: []interface{}{"a", 1},
			check: func(t *testing.T, got interface{}) {
				list, ok := got.([]interface{})
				if !ok || len(list) != 2 || list[0] != "a" {
					t.Errorf("got %v", got)
				}
			},
		},
		{
			name:  "dict",
			input: map[string]interface{}{"min": 1, "max": 2},
			check: func(t *testing.T, got interface{}) {
				m, ok := got.(map[string]interface{})
				if !ok || m["max"] != int64(2) {
					t.Errorf("got %v", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sv, err := toStarlarkValue(tt.input)
			if err != nil {
				t.Fatalf("toStarlarkValue() error = %v", err)
			}
			got, err := fromStarlarkValue(sv)
			if err != nil {
				t.Fatalf("fromStarlarkValue() error = %v", err)
			}
			tt.check(t, got)
		})
	}

	if _, err := fromStarlarkValue(starlark.NewSet(0)); err == nil {
		t.Error("expected an error for a set")
	}
}
