package vmconfig

import (
	"fmt"
	"sort"
)

// DefaultMachineName is the sub-machine synthesized when none is defined.
const DefaultMachineName = "default"

// SubVMBlock is a deferred configuration block for a sub-machine. It runs
// against the sub-machine's own configuration when that machine is loaded.
type SubVMBlock func(vm *VMConfig) error

// VersionedBlock pairs a deferred block with the config version it was
// written for.
type VersionedBlock struct {
	Version string
	Block   SubVMBlock
}

// SubVM is a named machine definition nested in a root configuration.
type SubVM struct {
	Name    string
	Options *OrderedMap[string, interface{}]
	Blocks  []VersionedBlock
}

func newSubVM(name string) *SubVM {
	return &SubVM{Name: name, Options: NewOrderedMap[string, interface{}]()}
}

// ConfigVersion returns the config_version option.
func (s *SubVM) ConfigVersion() string {
	v, _ := s.Options.Get("config_version")
	return stringify(v)
}

// Option returns a declaration option.
func (s *SubVM) Option(key string) (interface{}, bool) {
	return s.Options.Get(key)
}

// Apply evaluates the sub-machine's blocks in order against target.
func (s *SubVM) Apply(target *VMConfig) error {
	for i, b := range s.Blocks {
		if b.Block == nil {
			continue
		}
		if err := callSubVMBlock(b.Block, target); err != nil {
			return fmt.Errorf("sub-machine %q block %d: %w", s.Name, i, err)
		}
	}
	return nil
}

func callSubVMBlock(fn SubVMBlock, target *VMConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(target)
}

func (s *SubVM) clone() *SubVM {
	out := &SubVM{
		Name:    s.Name,
		Options: s.Options.Clone(cloneValue),
		Blocks:  make([]VersionedBlock, len(s.Blocks)),
	}
	copy(out.Blocks, s.Blocks)
	return out
}

// Define declares a sub-machine. Redefinition merges options and appends
// the blocks after those already recorded.
func (c *VMConfig) Define(name string, opts Options, blocks ...SubVMBlock) {
	opts = opts.Clone()
	if stringify(opts["config_version"]) == "" {
		opts["config_version"] = "2"
	}
	version := stringify(opts["config_version"])

	sub, ok := c.subVMs.Get(name)
	if !ok {
		sub = newSubVM(name)
		c.subVMs.Set(name, sub)
	}

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sub.Options.Set(k, opts[k])
	}
	for _, b := range blocks {
		if b != nil {
			sub.Blocks = append(sub.Blocks, VersionedBlock{Version: version, Block: b})
		}
	}
}

// DefinedVMKeys returns sub-machine names in definition order.
func (c *VMConfig) DefinedVMKeys() []string {
	return c.subVMs.Keys()
}

// DefinedVM returns the named sub-machine.
func (c *VMConfig) DefinedVM(name string) (*SubVM, bool) {
	return c.subVMs.Get(name)
}
