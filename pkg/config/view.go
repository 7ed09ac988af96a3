package config

import (
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// View is the printable form of a resolution.
type View struct {
	Machine         string                    `json:"machine" yaml:"machine"`
	Provider        string                    `json:"provider" yaml:"provider"`
	Scopes          []string                  `json:"scopes" yaml:"scopes"`
	Settings        map[string]interface{}    `json:"settings" yaml:"settings"`
	Networks        []vmconfig.NetworkEntry   `json:"networks" yaml:"networks"`
	SyncedFolders   []vmconfig.SyncedFolder   `json:"synced_folders" yaml:"synced_folders"`
	Disks           []*vmconfig.DiskSpec      `json:"disks,omitempty" yaml:"disks,omitempty"`
	CloudInit       []*vmconfig.CloudInitSpec `json:"cloud_init,omitempty" yaml:"cloud_init,omitempty"`
	Provisioners    []ProvisionerView         `json:"provisioners,omitempty" yaml:"provisioners,omitempty"`
	ProviderOptions vmconfig.Options          `json:"provider_options,omitempty" yaml:"provider_options,omitempty"`
}

// ProvisionerView is a provisioner in run order.
type ProvisionerView struct {
	Name    string           `json:"name" yaml:"name"`
	Type    string           `json:"type" yaml:"type"`
	Run     string           `json:"run,omitempty" yaml:"run,omitempty"`
	Before  string           `json:"before,omitempty" yaml:"before,omitempty"`
	After   string           `json:"after,omitempty" yaml:"after,omitempty"`
	Options vmconfig.Options `json:"options,omitempty" yaml:"options,omitempty"`
}

type optionsProvider interface {
	Options() vmconfig.Options
}

// View renders the resolved configuration. Only settings that ended up set
// are listed; durations are printed in Go duration syntax.
func (r *Resolution) View() *View {
	cfg := r.Config
	v := &View{
		Machine:       r.Machine,
		Provider:      r.Provider,
		Settings:      setSettings(cfg),
		Networks:      cfg.Networks(),
		SyncedFolders: cfg.SyncedFolders(),
		Disks:         cfg.Disks(),
		CloudInit:     cfg.CloudInitConfigs(),
	}
	for _, s := range r.Scopes {
		v.Scopes = append(v.Scopes, s.Path)
	}
	if len(cfg.BoxExtraDownloadOptions) > 0 {
		v.Settings["box_extra_download_options"] = cfg.BoxExtraDownloadOptions
	}
	for _, p := range vmconfig.RunOrder(cfg.Provisioners()) {
		v.Provisioners = append(v.Provisioners, ProvisionerView{
			Name:    p.DisplayName(),
			Type:    p.Type,
			Run:     p.Run.Or(""),
			Before:  p.Before,
			After:   p.After,
			Options: p.Options(),
		})
	}
	if r.Handle != nil {
		if op, ok := r.Handle.ProviderConfig().(optionsProvider); ok {
			v.ProviderOptions = op.Options()
		}
	}
	return v
}

// setSettings reads every set Value field of cfg keyed by its setting name.
func setSettings(cfg *vmconfig.VMConfig) map[string]interface{} {
	out := map[string]interface{}{}
	rv := reflect.ValueOf(cfg).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name := snakeCase(f.Name)
		if _, known := settings[name]; !known {
			continue
		}
		get := rv.Field(i).MethodByName("Get")
		if !get.IsValid() {
			continue
		}
		res := get.Call(nil)
		if !res[1].Bool() {
			continue
		}
		val := res[0].Interface()
		switch t := val.(type) {
		case time.Duration:
			val = t.String()
		case vmconfig.PortRange:
			val = map[string]int{"min": t.Min, "max": t.Max}
		}
		out[name] = val
	}
	return out
}

// snakeCase turns a Go field name into a setting name, keeping runs of
// capitals together: BoxDownloadCACert becomes box_download_ca_cert.
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
