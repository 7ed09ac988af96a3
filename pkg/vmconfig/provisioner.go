package vmconfig

import (
	"fmt"
	"strings"
)

// Provisioner ordering aliases usable in before/after.
const (
	OrderEach = "each"
	OrderAll  = "all"
)

// Provisioner run modes.
const (
	RunOnce   = "once"
	RunAlways = "always"
	RunNever  = "never"
)

// ConfigBlock is a deferred block that configures a provisioner config.
type ConfigBlock func(cfg PluginConfig) error

type provisionerStep struct {
	options Options
	block   ConfigBlock
}

// ProvisionerSpec is a declared provisioner.
type ProvisionerSpec struct {
	// ID is the name when one was given, else a random identity.
	ID   string
	Name string
	Type string

	Run    Value[string]
	Before string
	After  string

	PreserveOrder        bool
	CommunicatorRequired Value[interface{}]

	// Config is the compiled provisioner config. It is nil until Finalize
	// and for invalid provisioners.
	Config PluginConfig

	steps    []provisionerStep
	invalid  bool
	detected []string
}

// Invalid reports whether the provisioner type is unknown to the registry.
func (p *ProvisionerSpec) Invalid() bool {
	return p.invalid
}

// DisplayName is the name, or the type for anonymous provisioners.
func (p *ProvisionerSpec) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Type
}

// Options returns the option steps merged in declaration order.
func (p *ProvisionerSpec) Options() Options {
	out := Options{}
	for _, s := range p.steps {
		if s.options != nil {
			out = MergeOptions(out, s.options)
		}
	}
	return out
}

func (p *ProvisionerSpec) clone() *ProvisionerSpec {
	out := *p
	out.steps = make([]provisionerStep, len(p.steps))
	for i, s := range p.steps {
		out.steps[i] = provisionerStep{options: s.options.Clone(), block: s.block}
	}
	out.detected = append([]string(nil), p.detected...)
	return &out
}

// Provision declares a provisioner. When opts carries "type", nameOrType is
// the provisioner's name and the declaration may extend an earlier one with
// the same name; otherwise nameOrType is the type and the provisioner is
// anonymous.
func (c *VMConfig) Provision(nameOrType string, opts Options, blocks ...ConfigBlock) {
	opts = opts.Clone()
	name, typ := nameOrType, nameOrType
	if t, ok := opts["type"]; ok {
		typ = stringify(t)
		delete(opts, "type")
	} else {
		name = ""
	}

	var prov *ProvisionerSpec
	if name != "" {
		for _, p := range c.provisioners {
			if p.Name == name {
				prov = p
				break
			}
		}
	}

	// before and after only apply to a new provisioner. On a redeclaration
	// they stay in the options and the plugin config reports them.
	if prov == nil {
		before, after := stringify(opts["before"]), stringify(opts["after"])
		delete(opts, "before")
		delete(opts, "after")
		id := name
		if id == "" {
			id = newID()
		}
		prov = &ProvisionerSpec{ID: id, Name: name, Type: typ, Before: before, After: after}
		c.provisioners = append(c.provisioners, prov)
	}

	if v, ok := opts["preserve_order"]; ok {
		prov.PreserveOrder = truthy(v)
		delete(opts, "preserve_order")
	}
	if v, ok := opts["run"]; ok {
		prov.Run = Set(stringify(v))
		delete(opts, "run")
	}
	if v, ok := opts["communicator_required"]; ok {
		prov.CommunicatorRequired = Set(v)
		delete(opts, "communicator_required")
	}

	if len(opts) > 0 {
		prov.steps = append(prov.steps, provisionerStep{options: opts})
	}
	for _, b := range blocks {
		if b != nil {
			prov.steps = append(prov.steps, provisionerStep{block: b})
		}
	}
}

// Provisioners returns the declared provisioners in declaration order.
func (c *VMConfig) Provisioners() []*ProvisionerSpec {
	return c.provisioners
}

// mergeProvisioners combines provisioner lists. A matching override takes
// the base's steps first and the base's run mode when it has none. It keeps
// the base position only when it asks to preserve order.
func mergeProvisioners(base, over []*ProvisionerSpec) []*ProvisionerSpec {
	remaining := make([]*ProvisionerSpec, len(over))
	for i, p := range over {
		remaining[i] = p.clone()
	}

	out := make([]*ProvisionerSpec, 0, len(base)+len(over))
	for _, p := range base {
		idx := -1
		for i, o := range remaining {
			if o.ID == p.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, p.clone())
			continue
		}

		merged := remaining[idx]
		steps := make([]provisionerStep, 0, len(p.steps)+len(merged.steps))
		for _, s := range p.steps {
			steps = append(steps, provisionerStep{options: s.options.Clone(), block: s.block})
		}
		merged.steps = append(steps, merged.steps...)
		if !merged.Run.IsSet() {
			merged.Run = p.Run
		}
		if !merged.PreserveOrder {
			continue
		}
		out = append(out, merged)
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return append(out, remaining...)
}

// finalize compiles the provisioner config. Unknown types mark the
// provisioner invalid.
func (p *ProvisionerSpec) finalize(reg Registry) error {
	if p.Run.IsSet() {
		p.Run = Set(strings.ToLower(p.Run.Or("")))
	}
	p.CommunicatorRequired = p.CommunicatorRequired.orDefault(true)

	factory, ok := reg.Provisioner(p.Type)
	if !ok {
		p.invalid = true
		p.Config = nil
		return nil
	}
	p.invalid = false
	p.detected = nil

	cfg := factory()
	setter, canSet := cfg.(OptionSetter)
	for _, s := range p.steps {
		for _, k := range s.options.Keys() {
			if !canSet {
				p.detected = append(p.detected, fmt.Sprintf("The '%s' provisioner does not accept option %q", p.Type, k))
				continue
			}
			if err := setter.SetOption(k, s.options[k]); err != nil {
				p.detected = append(p.detected, fmt.Sprintf("The '%s' provisioner: %v", p.Type, err))
			}
		}
		if s.block != nil {
			if err := runConfigBlock(p.DisplayName(), s.block, cfg); err != nil {
				return err
			}
		}
	}
	cfg.Finalize()
	p.Config = cfg
	return nil
}

func runConfigBlock(name string, block ConfigBlock, cfg PluginConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newLoadError(ownerProvisioner, name, Source{}, r)
		}
	}()
	if callErr := block(cfg); callErr != nil {
		return newLoadError(ownerProvisioner, name, Source{}, callErr)
	}
	return nil
}

// Validate checks the provisioner's own fields and its ordering hints
// against all provisioners of the machine.
func (p *ProvisionerSpec) Validate(m Machine, all []*ProvisionerSpec) Errors {
	var errs Errors
	msgs := append([]string{}, p.detected...)

	if v, _ := p.CommunicatorRequired.Get(); !isBool(v) {
		msgs = append(msgs, "The 'communicator_required' option for this provisioner must be a boolean")
	}
	if p.Before != "" && p.After != "" {
		msgs = append(msgs, "Provisioners may not set both 'before' and 'after'")
	}

	hints := []struct{ action, target string }{{"before", p.Before}, {"after", p.After}}
	for _, h := range hints {
		if h.target == "" || h.target == OrderEach || h.target == OrderAll {
			continue
		}
		found := false
		for _, o := range all {
			if o.Name == "" || o.Name == p.Name {
				continue
			}
			if o.Name == h.target {
				found = true
				if o.Before != "" || o.After != "" {
					msgs = append(msgs, fmt.Sprintf(
						"Provisioner %q cannot run %s %q because %q itself has a before or after option",
						p.DisplayName(), h.action, h.target, h.target))
				}
			}
		}
		if !found {
			msgs = append(msgs, fmt.Sprintf(
				"Provisioner %q on machine %q is configured to run %s %q, which does not exist",
				p.DisplayName(), m.Name(), h.action, h.target))
		}
	}

	errs.Add("provisioner", msgs...)
	return errs
}

// RunOrder returns provisioners in execution order. Provisioners with a
// before/after name are placed next to that provisioner; "each" hints are
// repeated around every other provisioner; "all" hints go first or last.
func RunOrder(provs []*ProvisionerSpec) []*ProvisionerSpec {
	var root, dep, each, all []*ProvisionerSpec
	for _, p := range provs {
		switch {
		case p.Before == "" && p.After == "":
			root = append(root, p)
		case p.Before == OrderEach || p.After == OrderEach:
			each = append(each, p)
		case p.Before == OrderAll || p.After == OrderAll:
			all = append(all, p)
		default:
			dep = append(dep, p)
		}
	}
	if len(root) == len(provs) {
		return append([]*ProvisionerSpec(nil), provs...)
	}

	sorted := append([]*ProvisionerSpec(nil), root...)
	indexOf := func(name string) int {
		for i, p := range sorted {
			if p.Name == name {
				return i
			}
		}
		return -1
	}
	for _, p := range dep {
		if p.Before != "" {
			idx := indexOf(p.Before)
			if idx < 0 {
				idx = 0
			}
			sorted = insertAt(sorted, idx, p)
		} else {
			idx := indexOf(p.After)
			if idx < 0 {
				idx = len(sorted) - 1
			}
			sorted = insertAt(sorted, idx+1, p)
		}
	}

	if len(each) > 0 {
		withEach := make([]*ProvisionerSpec, 0, len(sorted)*(1+len(each)))
		for _, p := range sorted {
			for _, e := range each {
				if e.Before == OrderEach {
					withEach = append(withEach, e)
				}
			}
			withEach = append(withEach, p)
			for _, e := range each {
				if e.After == OrderEach {
					withEach = append(withEach, e)
				}
			}
		}
		sorted = withEach
	}

	var first []*ProvisionerSpec
	for _, p := range all {
		if p.Before == OrderAll {
			first = append(first, p)
		} else {
			sorted = append(sorted, p)
		}
	}
	return append(first, sorted...)
}

func insertAt(s []*ProvisionerSpec, idx int, p *ProvisionerSpec) []*ProvisionerSpec {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = p
	return s
}

func isBool(v interface{}) bool {
	_, ok := v.(bool)
	return ok
}
