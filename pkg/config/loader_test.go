package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/openfroyo/froyovm/pkg/plugins"
	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

type staticHost struct{}

func (staticHost) IsWSL() bool             { return false }
func (staticHost) IsDrvFsPath(string) bool { return false }

func newTestLoader() *Loader {
	return NewLoader(plugins.NewDefaultRegistry(), WithHost(staticHost{}))
}

func writeScope(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func resolveFiles(t *testing.T, l *Loader, paths []string, machine, provider string) *Resolution {
	t.Helper()
	ctx := context.Background()
	scopes, err := l.LoadScopes(ctx, paths)
	if err != nil {
		t.Fatalf("LoadScopes() error = %v", err)
	}
	res, err := l.Resolve(ctx, scopes, machine, provider)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	return res
}

func networkKeys(c *vmconfig.VMConfig) []string {
	var keys []string
	for _, n := range c.Networks() {
		keys = append(keys, n.Key())
	}
	sort.Strings(keys)
	return keys
}

func folderIDs(c *vmconfig.VMConfig) []string {
	var ids []string
	for _, f := range c.SyncedFolders() {
		ids = append(ids, f.ID)
	}
	sort.Strings(ids)
	return ids
}

const (
	yamlScope = `
box: ubuntu/jammy
hostname: web
usable_port_range: "3000..3010"
networks:
  - kind: forwarded_port
    id: web
    guest: 80
    host: 8080
  - kind: private_network
    ip: 192.168.50.4
synced_folders:
  - host: ./src
    guest: /srv/src/
providers:
  - name: docker
    image: nginx:latest
`

	cueScope = `
box:               "ubuntu/jammy"
hostname:          "web"
usable_port_range: "3000..3010"
networks: [{
	kind:  "forwarded_port"
	id:    "web"
	guest: 80
	host:  8080
}, {
	kind: "private_network"
	ip:   "192.168.50.4"
}]
synced_folders: [{host: "./src", guest: "/srv/src/"}]
providers: [{name: "docker", image: "nginx:latest"}]
`

	hclScope = `
box               = "ubuntu/jammy"
hostname          = "web"
usable_port_range = "3000..3010"

network "forwarded_port" {
  id    = "web"
  guest = 80
  host  = 8080
}

network "private_network" {
  ip = "192.168.50.4"
}

synced_folder "./src" {
  guest = "/srv/src/"
}

provider "docker" {
  image = "nginx:latest"
}
`

	starlarkScope = `
vm.box = "ubuntu/jammy"
vm.hostname = "web"
vm.usable_port_range = "3000..3010"
vm.network("forwarded_port", id = "web", guest = 80, host = 8080)
vm.network("private_network", ip = "192.168.50.4")
vm.synced_folder("./src", "/srv/src/")
vm.provider("docker", image = "nginx:latest")
`
)

func TestLoadFormatsParity(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"Froyofile.yaml": yamlScope,
		"Froyofile.cue":  cueScope,
		"Froyofile.hcl":  hclScope,
		"Froyofile.star": starlarkScope,
	}

	var want *Resolution
	var wantFrom string
	for _, name := range []string{"Froyofile.yaml", "Froyofile.cue", "Froyofile.hcl", "Froyofile.star"} {
		t.Run(name, func(t *testing.T) {
			path := writeScope(t, dir, name, files[name])
			res := resolveFiles(t, newTestLoader(), []string{path}, "", "docker")

			if box := res.Config.Box.Or(""); box != "ubuntu/jammy" {
				t.Errorf("Box = %q, want ubuntu/jammy", box)
			}
			if pr := res.Config.UsablePortRange.Or(vmconfig.PortRange{}); pr != (vmconfig.PortRange{Min: 3000, Max: 3010}) {
				t.Errorf("UsablePortRange = %+v", pr)
			}
			web, ok := res.Config.NetworkByKey("forwarded_port-web")
			if !ok {
				t.Fatalf("forwarded_port-web not declared, have %v", networkKeys(res.Config))
			}
			if got := fmt.Sprint(web.Options["host"]); got != "8080" {
				t.Errorf("web host = %s, want 8080", got)
			}

			docker, ok := res.Handle.ProviderConfig().(*plugins.OptionConfig[plugins.DockerSettings])
			if !ok {
				t.Fatalf("provider config is %T", res.Handle.ProviderConfig())
			}
			if docker.Settings.Image != "nginx:latest" {
				t.Errorf("docker image = %q, want nginx:latest", docker.Settings.Image)
			}

			if want == nil {
				want, wantFrom = res, name
				return
			}
			if got, exp := strings.Join(folderIDs(res.Config), ","), strings.Join(folderIDs(want.Config), ","); got != exp {
				t.Errorf("synced folders = %s, %s had %s", got, wantFrom, exp)
			}
			if got, exp := len(res.Config.Networks()), len(want.Config.Networks()); got != exp {
				t.Errorf("%d networks, %s had %d", got, wantFrom, exp)
			}
		})
	}
}

func TestResolveMachines(t *testing.T) {
	dir := t.TempDir()
	path := writeScope(t, dir, "Froyofile.yaml", `
box: base
machines:
  - name: db
    hostname: db.local
  - name: web
    primary: true
    hostname: web.local
    box: web-box
`)

	tests := []struct {
		name         string
		machine      string
		wantMachine  string
		wantHostname string
		wantBox      string
	}{
		{"primary by default", "", "web", "web.local", "web-box"},
		{"explicit machine", "db", "db", "db.local", "base"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resolveFiles(t, newTestLoader(), []string{path}, tt.machine, "docker")
			if res.Machine != tt.wantMachine {
				t.Errorf("Machine = %s, want %s", res.Machine, tt.wantMachine)
			}
			if got := res.Config.Hostname.Or(""); got != tt.wantHostname {
				t.Errorf("Hostname = %q, want %q", got, tt.wantHostname)
			}
			if got := res.Config.Box.Or(""); got != tt.wantBox {
				t.Errorf("Box = %q, want %q", got, tt.wantBox)
			}
			if res.Handle.Name() != tt.wantMachine {
				t.Errorf("Handle.Name() = %s", res.Handle.Name())
			}
		})
	}

	t.Run("undefined machine", func(t *testing.T) {
		l := newTestLoader()
		scopes, err := l.LoadScopes(context.Background(), []string{path})
		if err != nil {
			t.Fatalf("LoadScopes() error = %v", err)
		}
		if _, err := l.Resolve(context.Background(), scopes, "cache", "docker"); err == nil {
			t.Error("expected an error for an undefined machine")
		}
	})
}

func TestResolveLayeredScopes(t *testing.T) {
	dir := t.TempDir()
	global := writeScope(t, dir, "global.yaml", `
box: base
hostname: global
synced_folders:
  - host: ./shared
    guest: /shared
`)
	project := writeScope(t, dir, "project.hcl", `
hostname = "project"

synced_folder "./other" {
  guest = "/shared"
}
`)

	res := resolveFiles(t, newTestLoader(), []string{global, project}, "", "docker")
	if got := res.Config.Hostname.Or(""); got != "project" {
		t.Errorf("Hostname = %q, want project", got)
	}
	if got := res.Config.Box.Or(""); got != "base" {
		t.Errorf("Box = %q, want base", got)
	}
	for _, f := range res.Config.SyncedFolders() {
		if f.ID == "/shared" && f.HostPath() != "./other" {
			t.Errorf("/shared hostpath = %s, want ./other", f.HostPath())
		}
	}
	if len(res.Scopes) != 2 {
		t.Errorf("len(Scopes) = %d, want 2", len(res.Scopes))
	}
	if res.Handle.RootPath() != dir {
		t.Errorf("RootPath() = %s, want %s", res.Handle.RootPath(), dir)
	}
}

func TestResolveProviderOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeScope(t, dir, "Froyofile.yaml", `
box: base
providers:
  - name: docker
    image: nginx:latest
    override:
      box: ""
      hostname: in-docker
  - name: libvirt
    memory: 2048
`)

	res := resolveFiles(t, newTestLoader(), []string{path}, "", "docker")
	if got := res.Config.Hostname.Or(""); got != "in-docker" {
		t.Errorf("docker Hostname = %q, want in-docker", got)
	}
	if got := res.Config.Box.Or("unset"); got != "" {
		t.Errorf("docker Box = %q, want empty", got)
	}

	res = resolveFiles(t, newTestLoader(), []string{path}, "", "libvirt")
	if res.Config.Hostname.IsSet() {
		t.Errorf("libvirt Hostname = %q, want unset", res.Config.Hostname.Or(""))
	}
	lv, ok := res.Handle.ProviderConfig().(*plugins.OptionConfig[plugins.LibvirtSettings])
	if !ok {
		t.Fatalf("provider config is %T", res.Handle.ProviderConfig())
	}
	if lv.Settings.Memory != 2048 {
		t.Errorf("libvirt memory = %d, want 2048", lv.Settings.Memory)
	}
}

func TestResolveValidate(t *testing.T) {
	dir := t.TempDir()
	path := writeScope(t, dir, "Froyofile.yaml", `
providers:
  - name: docker
    build_dir: ./missing
networks:
  - kind: bridged_network
`)

	res := resolveFiles(t, newTestLoader(), []string{path}, "", "docker")
	errs := res.Validate(context.Background(), false)
	if len(errs.Get("docker provider")) == 0 {
		t.Errorf("expected docker provider findings, got %s", errs.String())
	}
	if len(errs.Get("vm")) == 0 {
		t.Errorf("expected vm findings for the unknown network kind, got %s", errs.String())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		content  string
		wantLine int
		wantPath string
		wantMsg  string
	}{
		{
			name:     "unknown setting",
			format:   FormatYAML,
			content:  "bogus: 1\n",
			wantPath: "bogus",
			wantMsg:  "unknown setting",
		},
		{
			name:     "network without kind",
			format:   FormatYAML,
			content:  "networks:\n  - guest: 80\n",
			wantPath: "networks[0].kind",
			wantMsg:  "required",
		},
		{
			name:     "bad duration",
			format:   FormatYAML,
			content:  "boot_timeout: soon\n",
			wantPath: "boot_timeout",
		},
		{
			name:     "hcl syntax",
			format:   FormatHCL,
			content:  "box = \"base\"\nhostname = \n",
			wantLine: 2,
		},
		{
			name:    "hcl unknown block",
			format:  FormatHCL,
			content: "widget \"x\" {\n}\n",
			wantMsg: "widget",
		},
		{
			name:     "starlark syntax",
			format:   FormatStarlark,
			content:  "vm.box = \"base\"\nvm.hostname = )\n",
			wantLine: 2,
		},
		{
			name:     "starlark unknown setting",
			format:   FormatStarlark,
			content:  "vm.box = \"base\"\nvm.colour = \"red\"\n",
			wantLine: 2,
			wantMsg:  "unknown setting",
		},
		{
			name:    "cue schema violation",
			format:  FormatCUE,
			content: "communicator: \"telnet\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader().LoadBytes(context.Background(), "scope", tt.format, []byte(tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			var se *ScopeError
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not a *ScopeError: %v", err, err)
			}
			if se.File != "scope" {
				t.Errorf("File = %q, want scope", se.File)
			}
			if tt.wantLine > 0 && se.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d (%v)", se.Line, tt.wantLine, err)
			}
			if tt.wantPath != "" && se.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", se.Path, tt.wantPath)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadFileUnsupported(t *testing.T) {
	path := writeScope(t, t.TempDir(), "Froyofile.toml", "box = 'base'\n")
	if _, err := newTestLoader().LoadFile(context.Background(), path); err == nil {
		t.Error("expected an error for an unsupported extension")
	}
}

func TestLoadCUEDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Froyofile.d")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeScope(t, dir, "base.cue", "package froyo\n\nbox: \"base\"\n")
	writeScope(t, dir, "net.cue", "package froyo\n\nnetworks: [{kind: \"private_network\", ip: \"10.0.0.5\"}]\n")

	scope, err := newTestLoader().LoadFile(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if scope.Format != FormatCUE {
		t.Errorf("Format = %s, want cue", scope.Format)
	}
	if len(scope.Files) != 2 {
		t.Errorf("Files = %v, want 2 files", scope.Files)
	}
	if got := scope.Config.Box.Or(""); got != "base" {
		t.Errorf("Box = %q, want base", got)
	}
	if len(scope.Config.Networks()) != 1 {
		t.Errorf("expected one network, got %d", len(scope.Config.Networks()))
	}
}

func TestDiscoverScopes(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv(HomeDirEnv, home)

	if got := DiscoverScopes(project); len(got) != 0 {
		t.Errorf("DiscoverScopes() = %v, want none", got)
	}

	global := writeScope(t, home, "Froyofile.hcl", "box = \"base\"\n")
	local := writeScope(t, project, "Froyofile.yaml", "hostname: web\n")
	writeScope(t, project, "Froyofile.star", "vm.hostname = \"ignored\"\n")

	got := DiscoverScopes(project)
	want := []string{global, local}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("DiscoverScopes() = %v, want %v", got, want)
	}
}

func TestPrimaryMachine(t *testing.T) {
	c := vmconfig.New()
	if got := PrimaryMachine(c); got != vmconfig.DefaultMachineName {
		t.Errorf("PrimaryMachine() = %s, want default", got)
	}
	c.Define("a", nil)
	c.Define("b", vmconfig.Options{"primary": "true"})
	if got := PrimaryMachine(c); got != "b" {
		t.Errorf("PrimaryMachine() = %s, want b", got)
	}
	if got := Machines(c); strings.Join(got, ",") != "a,b" {
		t.Errorf("Machines() = %v", got)
	}
}
