package plugins

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// ShellSettings configures the shell provisioner.
type ShellSettings struct {
	Inline     string            `mapstructure:"inline"`
	Path       string            `mapstructure:"path"`
	Args       []string          `mapstructure:"args"`
	Env        map[string]string `mapstructure:"env"`
	Privileged bool              `mapstructure:"privileged"`
	UploadPath string            `mapstructure:"upload_path" validate:"required"`
	Reset      bool              `mapstructure:"reset"`
	Name       string            `mapstructure:"name"`
}

// FileSettings configures the file provisioner.
type FileSettings struct {
	Source      string `mapstructure:"source" validate:"required"`
	Destination string `mapstructure:"destination" validate:"required"`
}

// NewShellConfig creates an empty shell provisioner config.
func NewShellConfig() vmconfig.PluginConfig {
	defaults := ShellSettings{
		Privileged: true,
		UploadPath: "/tmp/froyovm-shell",
	}
	return NewOptionConfig("shell provisioner", defaults, checkShell)
}

// NewFileConfig creates an empty file provisioner config.
func NewFileConfig() vmconfig.PluginConfig {
	return NewOptionConfig("file provisioner", FileSettings{}, checkFile)
}

func checkShell(s *ShellSettings, m vmconfig.Machine) []string {
	switch {
	case s.Inline == "" && s.Path == "":
		return []string{"One of path or inline must be set"}
	case s.Inline != "" && s.Path != "":
		return []string{"Only one of path or inline may be set"}
	}
	if s.Path != "" && !exists(resolve(m, s.Path)) {
		return []string{fmt.Sprintf("Path for shell provisioner does not exist: %s", s.Path)}
	}
	return nil
}

func checkFile(s *FileSettings, m vmconfig.Machine) []string {
	if s.Source != "" && !exists(resolve(m, s.Source)) {
		return []string{fmt.Sprintf("File upload source file %s must exist", s.Source)}
	}
	return nil
}

func resolve(m vmconfig.Machine, path string) string {
	if filepath.IsAbs(path) || m == nil {
		return path
	}
	return filepath.Join(m.RootPath(), path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
