package plugins

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// DockerSettings configures the docker provider.
type DockerSettings struct {
	Name           string            `mapstructure:"name"`
	Image          string            `mapstructure:"image" validate:"required_without=BuildDir"`
	BuildDir       string            `mapstructure:"build_dir"`
	Cmd            []string          `mapstructure:"cmd"`
	Env            map[string]string `mapstructure:"env"`
	Ports          []string          `mapstructure:"ports"`
	Privileged     bool              `mapstructure:"privileged"`
	HasSSH         bool              `mapstructure:"has_ssh"`
	RemainsRunning bool              `mapstructure:"remains_running"`
}

// LibvirtSettings configures the libvirt provider.
type LibvirtSettings struct {
	URI         string `mapstructure:"uri" validate:"required"`
	Driver      string `mapstructure:"driver" validate:"oneof=kvm qemu"`
	Memory      int    `mapstructure:"memory" validate:"gte=128"`
	CPUs        int    `mapstructure:"cpus" validate:"gte=1"`
	StoragePool string `mapstructure:"storage_pool_name" validate:"required"`
	MachineType string `mapstructure:"machine_type"`
	Nested      bool   `mapstructure:"nested"`
}

// NewDockerConfig creates an empty docker provider config.
func NewDockerConfig() vmconfig.PluginConfig {
	return NewOptionConfig("docker provider", DockerSettings{RemainsRunning: true}, checkDocker)
}

// NewLibvirtConfig creates an empty libvirt provider config.
func NewLibvirtConfig() vmconfig.PluginConfig {
	defaults := LibvirtSettings{
		URI:         "qemu:///system",
		Driver:      "kvm",
		Memory:      512,
		CPUs:        1,
		StoragePool: "default",
	}
	return NewOptionConfig("libvirt provider", defaults, nil)
}

func checkDocker(s *DockerSettings, m vmconfig.Machine) []string {
	var errs []string
	if s.Image != "" && s.BuildDir != "" {
		errs = append(errs, "Only one of image or build_dir can be specified")
	}
	if s.BuildDir != "" {
		dir := s.BuildDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(m.RootPath(), dir)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Sprintf("build_dir %q must exist", s.BuildDir))
		}
	}
	return errs
}
