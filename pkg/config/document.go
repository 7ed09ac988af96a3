package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// decodeDocument decodes a normalized scope mapping and checks it with the
// struct validator.
func (l *Loader) decodeDocument(file string, raw map[string]interface{}) (*ScopeDocument, error) {
	var doc ScopeDocument
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, &ScopeError{File: file, Message: err.Error(), Err: err}
	}

	if err := l.validator.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &ScopeError{
				File:    file,
				Path:    fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
				Err:     err,
			}
		}
		return nil, &ScopeError{File: file, Message: err.Error(), Err: err}
	}
	return &doc, nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// applyRaw decodes a nested scope mapping and applies it to c.
func (l *Loader) applyRaw(c *vmconfig.VMConfig, file string, raw map[string]interface{}) error {
	doc, err := l.decodeDocument(file, raw)
	if err != nil {
		return err
	}
	return l.applyDocument(c, file, doc)
}

// applyDocument declares everything in doc on c, in document order.
func (l *Loader) applyDocument(c *vmconfig.VMConfig, file string, doc *ScopeDocument) error {
	names := make([]string, 0, len(doc.Settings))
	for name := range doc.Settings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := applySetting(c, name, doc.Settings[name]); err != nil {
			return &ScopeError{File: file, Path: name, Message: err.Error(), Err: err}
		}
	}

	for _, n := range doc.Networks {
		c.Network(n.Kind, vmconfig.Options(n.Options))
	}
	for _, f := range doc.SyncedFolders {
		c.SyncedFolder(f.Host, f.Guest, vmconfig.Options(f.Options))
	}
	for _, d := range doc.Disks {
		c.Disk(d.Kind, vmconfig.Options(d.Options), nil)
	}
	for _, ci := range doc.CloudInit {
		c.CloudInit(ci.Kind, vmconfig.Options(ci.Options), nil)
	}

	for _, p := range doc.Provisioners {
		opts := vmconfig.Options(p.Options).Clone()
		nameOrType := p.Type
		if p.Name != "" {
			nameOrType = p.Name
			if p.Type != "" {
				opts["type"] = p.Type
			}
		}
		c.Provision(nameOrType, opts)
	}

	for _, p := range doc.Providers {
		var blocks []vmconfig.ProviderBlock
		if len(p.Options) > 0 {
			opts := vmconfig.Options(p.Options).Clone()
			name := p.Name
			blocks = append(blocks, vmconfig.NewProviderBlock(func(cfg vmconfig.PluginConfig) error {
				return setOptions(name, cfg, opts)
			}).WithSource(file, 0))
		}
		if p.Override != nil {
			override := p.Override
			blocks = append(blocks, vmconfig.NewProviderOverrideBlock(func(_ vmconfig.PluginConfig, vm *vmconfig.VMConfig) error {
				return l.applyRaw(vm, file, override)
			}).WithSource(file, 0))
		}
		c.Provider(p.Name, blocks...)
	}

	for _, m := range doc.Machines {
		opts := vmconfig.Options{}
		if m.Primary != nil {
			opts["primary"] = *m.Primary
		}
		if m.Autostart != nil {
			opts["autostart"] = *m.Autostart
		}
		var blocks []vmconfig.SubVMBlock
		if len(m.Scope) > 0 {
			scope := m.Scope
			blocks = append(blocks, func(vm *vmconfig.VMConfig) error {
				return l.applyRaw(vm, file, scope)
			})
		}
		c.Define(m.Name, opts, blocks...)
	}
	return nil
}

// setOptions passes options to a plugin config, in key order.
func setOptions(owner string, cfg vmconfig.PluginConfig, opts vmconfig.Options) error {
	setter, ok := cfg.(vmconfig.OptionSetter)
	if !ok {
		return fmt.Errorf("%s does not accept options", owner)
	}
	for _, key := range opts.Keys() {
		if err := setter.SetOption(key, opts[key]); err != nil {
			return err
		}
	}
	return nil
}
