package policy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/froyovm/pkg/plugins"
	"github.com/openfroyo/froyovm/pkg/vmconfig"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func baseInput() *Input {
	return &Input{
		Machine:         "web",
		Provider:        "libvirt",
		VM:              map[string]interface{}{"box": "generic/ubuntu2204", "box_version": "4.3.12"},
		Networks:        []map[string]interface{}{},
		SyncedFolders:   []map[string]interface{}{},
		Provisioners:    []map[string]interface{}{},
		ProviderOptions: map[string]interface{}{},
	}
}

func policyNames(vs []Violation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.Policy)
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	expected := []string{
		"box-version",
		"docker-privileged",
		"insecure-download",
		"privileged-port",
		"public-network",
	}

	policies := eng.ListPolicies()
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("Policy %d: expected %s, got %s", i, expected[i], p.Name)
		}
		if p.Rego == "" || !p.Enabled {
			t.Errorf("Policy %s should be enabled with Rego code", p.Name)
		}
	}
}

func TestEvaluateBuiltinPolicies(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name           string
		mutate         func(in *Input)
		wantViolations []string
		wantWarnings   []string
	}{
		{
			name:   "clean machine",
			mutate: func(in *Input) {},
		},
		{
			name:         "unpinned box",
			mutate:       func(in *Input) { delete(in.VM, "box_version") },
			wantWarnings: []string{"box-version"},
		},
		{
			name: "unpinned box on docker",
			mutate: func(in *Input) {
				in.Provider = "docker"
				delete(in.VM, "box_version")
			},
		},
		{
			name:           "insecure download",
			mutate:         func(in *Input) { in.VM["box_download_insecure"] = true },
			wantViolations: []string{"insecure-download"},
		},
		{
			name: "plain http box url without checksum",
			mutate: func(in *Input) {
				in.VM["box_url"] = []string{"http://boxes.example.com/ubuntu.box"}
			},
			wantViolations: []string{"insecure-download"},
		},
		{
			name: "plain http box url with checksum",
			mutate: func(in *Input) {
				in.VM["box_url"] = []string{"http://boxes.example.com/ubuntu.box"}
				in.VM["box_download_checksum"] = "abc123"
			},
		},
		{
			name: "public network",
			mutate: func(in *Input) {
				in.Networks = append(in.Networks, map[string]interface{}{
					"key": "public_network-lan", "kind": "public_network", "id": "lan",
					"options": map[string]interface{}{"bridge": "eth0"},
				})
			},
			wantViolations: []string{"public-network"},
		},
		{
			name: "privileged forwarded port",
			mutate: func(in *Input) {
				in.Networks = append(in.Networks, map[string]interface{}{
					"key": "forwarded_port-http", "kind": "forwarded_port", "id": "http",
					"options": map[string]interface{}{"guest": 80, "host": 80},
				})
			},
			wantWarnings: []string{"privileged-port"},
		},
		{
			name: "high forwarded port",
			mutate: func(in *Input) {
				in.Networks = append(in.Networks, map[string]interface{}{
					"key": "forwarded_port-http", "kind": "forwarded_port", "id": "http",
					"options": map[string]interface{}{"guest": 80, "host": 8080},
				})
			},
		},
		{
			name: "privileged docker",
			mutate: func(in *Input) {
				in.Provider = "docker"
				in.ProviderOptions["privileged"] = true
			},
			wantViolations: []string{"docker-privileged"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(in)

			result, err := eng.Evaluate(context.Background(), in)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if got := strings.Join(policyNames(result.Violations), ","); got != strings.Join(tt.wantViolations, ",") {
				t.Errorf("violations = %q, want %q", got, tt.wantViolations)
			}
			if got := strings.Join(policyNames(result.Warnings), ","); got != strings.Join(tt.wantWarnings, ",") {
				t.Errorf("warnings = %q, want %q", got, tt.wantWarnings)
			}
			if result.Allowed() != (len(tt.wantViolations) == 0) {
				t.Errorf("Allowed() = %v", result.Allowed())
			}
			if len(result.EvaluatedPolicies) != 5 {
				t.Errorf("Expected 5 evaluated policies, got %d", len(result.EvaluatedPolicies))
			}
		})
	}
}

func TestResultErrors(t *testing.T) {
	eng := newTestEngine(t)

	in := baseInput()
	in.Networks = append(in.Networks, map[string]interface{}{
		"key": "public_network-lan", "kind": "public_network", "id": "lan",
		"options": map[string]interface{}{},
	})

	result, err := eng.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	errs := result.Errors()
	got := errs.Get(Category)
	if len(got) != 1 {
		t.Fatalf("Expected one policy finding, got %v", got)
	}
	want := "[public-network] public_network-lan: public networks are not allowed"
	if got[0] != want {
		t.Errorf("finding = %q, want %q", got[0], want)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	in := baseInput()
	in.VM["box_download_insecure"] = true

	if err := eng.DisablePolicy("insecure-download"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	result, err := eng.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed() {
		t.Errorf("Expected no violations with policy disabled, got %v", result.Violations)
	}

	if err := eng.EnablePolicy("insecure-download"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	result, err = eng.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed() {
		t.Error("Expected a violation with policy enabled")
	}

	if err := eng.DisablePolicy("non-existent"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

const memoryPolicy = `# Libvirt machines need at least 1 GiB
package team.memory

deny contains violation if {
	input.provider == "libvirt"
	input.provider_options.memory < 1024
	violation := {
		"message": sprintf("memory %d is below 1024", [input.provider_options.memory]),
		"severity": "error",
		"subject": "libvirt",
	}
}
`

func TestLoadPoliciesAndReplace(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "memory.rego"), memoryPolicy)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}
	p, err := eng.GetPolicy("memory")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", p.Severity)
	}

	in := baseInput()
	in.ProviderOptions["memory"] = 512
	result, err := eng.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if got := policyNames(result.Violations); len(got) != 1 || got[0] != "memory" {
		t.Errorf("Expected the memory rule's own severity to block, got %v", got)
	}

	if err := eng.Replace(context.Background(), nil); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if _, err := eng.GetPolicy("memory"); err == nil {
		t.Error("Expected memory policy to be gone after Replace")
	}
	if len(eng.ListPolicies()) != 5 {
		t.Errorf("Expected built-ins to survive Replace, got %d", len(eng.ListPolicies()))
	}

	broken := []Policy{{Name: "broken", Rego: "package broken\n\ndeny contains x if {", Enabled: true}}
	if err := eng.Replace(context.Background(), broken); err == nil {
		t.Error("Expected compile error")
	}
	if len(eng.ListPolicies()) != 5 {
		t.Error("A failed Replace must leave the loaded policies alone")
	}
}

func TestNewInput(t *testing.T) {
	cfg := vmconfig.New()
	cfg.Box = vmconfig.Set("generic/alpine")
	cfg.Network(vmconfig.NetworkForwardedPort, vmconfig.Options{"id": "web", "guest": 80, "host": 443})
	cfg.SyncedFolder(".", "/srv/app", vmconfig.Options{"type": "rsync"})
	cfg.Provision("shell", vmconfig.Options{"inline": "true"})
	cfg.Provider("docker", vmconfig.NewProviderBlock(func(pc vmconfig.PluginConfig) error {
		return pc.(vmconfig.OptionSetter).SetOption("privileged", true)
	}))

	if _, err := NewInput("default", "docker", cfg); !errors.Is(err, vmconfig.ErrNotFinalized) {
		t.Fatalf("Expected ErrNotFinalized before Finalize, got %v", err)
	}

	if err := cfg.Finalize(plugins.NewDefaultRegistry()); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	in, err := NewInput("default", "docker", cfg)
	if err != nil {
		t.Fatalf("NewInput failed: %v", err)
	}

	if in.VM["box"] != "generic/alpine" {
		t.Errorf("box = %v", in.VM["box"])
	}
	if _, ok := in.VM["box_version"]; ok {
		t.Error("unset box_version should be absent")
	}
	if len(in.Networks) != 1 || in.Networks[0]["key"] != "forwarded_port-web" {
		t.Errorf("networks = %v", in.Networks)
	}
	var folder map[string]interface{}
	for _, f := range in.SyncedFolders {
		if f["guestpath"] == "/srv/app" {
			folder = f
		}
	}
	if folder == nil || folder["type"] != "rsync" {
		t.Errorf("synced folders = %v", in.SyncedFolders)
	}
	if len(in.Provisioners) != 1 || in.Provisioners[0]["type"] != "shell" {
		t.Errorf("provisioners = %v", in.Provisioners)
	}
	if in.ProviderOptions["privileged"] != true {
		t.Errorf("provider options = %v", in.ProviderOptions)
	}

	eng := newTestEngine(t)
	result, err := eng.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	errs := result.Errors()
	if len(errs.Get(Category)) != 1 {
		t.Errorf("Expected the privileged docker finding, got %s", errs.String())
	}
}
