package policy

import (
	"fmt"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

type optionsProvider interface {
	Options() vmconfig.Options
}

// NewInput builds the policy input for a finalized machine configuration.
// Unset scalar settings are left out of input.vm so rules can test for their
// absence.
func NewInput(machine, provider string, cfg *vmconfig.VMConfig) (*Input, error) {
	if !cfg.Finalized() {
		return nil, vmconfig.ErrNotFinalized
	}

	in := &Input{
		Machine:         machine,
		Provider:        provider,
		VM:              map[string]interface{}{},
		Networks:        []map[string]interface{}{},
		SyncedFolders:   []map[string]interface{}{},
		Provisioners:    []map[string]interface{}{},
		ProviderOptions: map[string]interface{}{},
	}

	setString := func(key string, v vmconfig.Value[string]) {
		if s, ok := v.Get(); ok {
			in.VM[key] = s
		}
	}
	setString("box", cfg.Box)
	setString("box_version", cfg.BoxVersion)
	setString("box_download_checksum", cfg.BoxDownloadChecksum)
	setString("box_download_checksum_type", cfg.BoxDownloadChecksumType)
	setString("communicator", cfg.Communicator)
	setString("guest", cfg.Guest)
	setString("hostname", cfg.Hostname)
	if v, ok := cfg.BoxDownloadInsecure.Get(); ok {
		in.VM["box_download_insecure"] = v
	}
	if v, ok := cfg.BoxCheckUpdate.Get(); ok {
		in.VM["box_check_update"] = v
	}
	if v, ok := cfg.BootTimeout.Get(); ok {
		in.VM["boot_timeout"] = v.Seconds()
	}
	if urls, ok := cfg.BoxURL.Get(); ok {
		in.VM["box_url"] = urls
	}

	for _, n := range cfg.Networks() {
		in.Networks = append(in.Networks, map[string]interface{}{
			"key":     n.Key(),
			"kind":    n.Kind,
			"id":      n.ID(),
			"options": plain(n.Options),
		})
	}
	for _, f := range cfg.SyncedFolders() {
		in.SyncedFolders = append(in.SyncedFolders, map[string]interface{}{
			"id":        f.ID,
			"hostpath":  f.HostPath(),
			"guestpath": f.GuestPath(),
			"type":      f.Options.String("type"),
			"disabled":  f.Disabled(),
		})
	}
	for _, p := range vmconfig.RunOrder(cfg.Provisioners()) {
		in.Provisioners = append(in.Provisioners, map[string]interface{}{
			"name":    p.DisplayName(),
			"type":    p.Type,
			"run":     p.Run.Or(vmconfig.RunOnce),
			"invalid": p.Invalid(),
		})
	}

	if provider != "" {
		pc, err := cfg.ProviderConfig(provider)
		if err != nil {
			return nil, fmt.Errorf("provider %s config: %w", provider, err)
		}
		if op, ok := pc.(optionsProvider); ok {
			in.ProviderOptions = plain(op.Options())
		}
	}
	return in, nil
}

// plain strips the named map types from option trees so the evaluator sees
// ordinary JSON-like values.
func plain(opts vmconfig.Options) map[string]interface{} {
	out := make(map[string]interface{}, len(opts))
	for k, v := range opts {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v interface{}) interface{} {
	switch t := v.(type) {
	case vmconfig.Options:
		return plain(t)
	case map[string]interface{}:
		return plain(vmconfig.Options(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}
