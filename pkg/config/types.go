package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the language a scope file is written in.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatCUE      Format = "cue"
	FormatHCL      Format = "hcl"
	FormatStarlark Format = "starlark"
)

// DetectFormat infers a scope file's format from its extension. JSON files
// are read as YAML.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	case ".hcl":
		return FormatHCL, nil
	case ".star", ".starlark", ".bzl":
		return FormatStarlark, nil
	default:
		return "", fmt.Errorf("unsupported scope file extension: %s", path)
	}
}

// ScopeDocument is a declarative scope after it has been parsed. Every
// format except Starlark is reduced to this shape before it is applied to a
// configuration.
type ScopeDocument struct {
	Networks      []NetworkDecl      `mapstructure:"networks" validate:"dive"`
	SyncedFolders []SyncedFolderDecl `mapstructure:"synced_folders" validate:"dive"`
	Disks         []DiskDecl         `mapstructure:"disks" validate:"dive"`
	CloudInit     []CloudInitDecl    `mapstructure:"cloud_init" validate:"dive"`
	Provisioners  []ProvisionerDecl  `mapstructure:"provisioners" validate:"dive"`
	Providers     []ProviderDecl     `mapstructure:"providers" validate:"dive"`
	Machines      []MachineDecl      `mapstructure:"machines" validate:"dive"`

	// Settings holds the scalar settings, keyed by setting name.
	Settings map[string]interface{} `mapstructure:",remain"`
}

// NetworkDecl declares a network.
type NetworkDecl struct {
	Kind    string                 `mapstructure:"kind" validate:"required"`
	Options map[string]interface{} `mapstructure:",remain"`
}

// SyncedFolderDecl declares a synced folder.
type SyncedFolderDecl struct {
	Host    string                 `mapstructure:"host" validate:"required"`
	Guest   string                 `mapstructure:"guest"`
	Options map[string]interface{} `mapstructure:",remain"`
}

// DiskDecl declares a disk. Kind defaults to disk when finalized.
type DiskDecl struct {
	Kind    string                 `mapstructure:"kind"`
	Options map[string]interface{} `mapstructure:",remain"`
}

// CloudInitDecl declares a cloud-init config.
type CloudInitDecl struct {
	Kind    string                 `mapstructure:"kind"`
	Options map[string]interface{} `mapstructure:",remain"`
}

// ProvisionerDecl declares a provisioner. A declaration with only a name
// uses the name as the provisioner type.
type ProvisionerDecl struct {
	Name    string                 `mapstructure:"name" validate:"required_without=Type"`
	Type    string                 `mapstructure:"type"`
	Options map[string]interface{} `mapstructure:",remain"`
}

// ProviderDecl configures a provider. Override is a nested scope applied to
// the machine when this provider is used.
type ProviderDecl struct {
	Name     string                 `mapstructure:"name" validate:"required"`
	Override map[string]interface{} `mapstructure:"override"`
	Options  map[string]interface{} `mapstructure:",remain"`
}

// MachineDecl defines a sub-machine. Scope is a nested scope applied to
// the machine's own configuration.
type MachineDecl struct {
	Name      string                 `mapstructure:"name" validate:"required"`
	Primary   *bool                  `mapstructure:"primary"`
	Autostart *bool                  `mapstructure:"autostart"`
	Scope     map[string]interface{} `mapstructure:",remain"`
}

// ScopeError reports a problem in a scope file with its location.
type ScopeError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "networks[0].kind").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ScopeError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
			if e.Column > 0 {
				fmt.Fprintf(&b, ":%d", e.Column)
			}
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ScopeError) Unwrap() error {
	return e.Err
}

// Position returns the file and line of the error.
func (e *ScopeError) Position() (string, int) {
	return e.File, e.Line
}
