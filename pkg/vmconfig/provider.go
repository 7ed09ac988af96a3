package vmconfig

import (
	"runtime"
)

// Source locates a deferred block in configuration source, best effort.
type Source struct {
	File string
	Line int
}

// ProviderBlock is a deferred provider configuration block. Blocks are built
// with NewProviderBlock or NewProviderOverrideBlock, which fixes their arity.
type ProviderBlock struct {
	configure func(cfg PluginConfig) error
	override  func(cfg PluginConfig, vm *VMConfig) error
	source    Source
}

// NewProviderBlock wraps a block that configures the provider only.
func NewProviderBlock(fn func(cfg PluginConfig) error) ProviderBlock {
	return ProviderBlock{configure: fn, source: callerSource()}
}

// NewProviderOverrideBlock wraps a block that configures the provider and
// also overrides machine settings for that provider.
func NewProviderOverrideBlock(fn func(cfg PluginConfig, vm *VMConfig) error) ProviderBlock {
	return ProviderBlock{override: fn, source: callerSource()}
}

// WithSource records where the block was declared. Loaders that evaluate
// their own source language use it instead of the Go call site.
func (b ProviderBlock) WithSource(file string, line int) ProviderBlock {
	b.source = Source{File: file, Line: line}
	return b
}

// Source returns where the block was declared.
func (b ProviderBlock) Source() Source {
	return b.source
}

// Arity is 1 for configure blocks and 2 for override blocks.
func (b ProviderBlock) Arity() int {
	if b.override != nil {
		return 2
	}
	return 1
}

func (b ProviderBlock) call(cfg PluginConfig, vm *VMConfig) error {
	if b.override != nil {
		return b.override(cfg, vm)
	}
	if b.configure != nil {
		return b.configure(cfg)
	}
	return nil
}

func callerSource() Source {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return Source{}
	}
	return Source{File: file, Line: line}
}

// PlaceholderConfig stands in for a provider config that is unknown or not
// needed. It accepts any option and merges to itself.
type PlaceholderConfig struct{}

// Merge implements PluginConfig.
func (PlaceholderConfig) Merge(PluginConfig) PluginConfig { return PlaceholderConfig{} }

// Finalize implements PluginConfig.
func (PlaceholderConfig) Finalize() {}

// SetOption implements OptionSetter and ignores the option.
func (PlaceholderConfig) SetOption(string, interface{}) error { return nil }

func placeholderFactory() PluginConfig { return PlaceholderConfig{} }

// Provider declares configuration for a provider. Override blocks are also
// recorded, curried against a placeholder config, for ProviderOverrides.
func (c *VMConfig) Provider(name string, blocks ...ProviderBlock) {
	if _, ok := c.providers[name]; !ok {
		c.providers[name] = nil
	}
	if _, ok := c.providerOverrides[name]; !ok {
		c.providerOverrides[name] = nil
	}
	c.providerOrder = append(c.providerOrder, name)

	for _, b := range blocks {
		c.providers[name] = append(c.providers[name], b)
		if b.Arity() == 2 {
			c.providerOverrides[name] = append(c.providerOverrides[name], b)
		}
	}
}

// ProviderOrder returns provider names in the order they were first declared.
func (c *VMConfig) ProviderOrder() []string {
	return uniqueStrings(c.providerOrder)
}

// ProviderOverrides returns the machine override blocks declared for a
// provider, each bound to a placeholder provider config.
func (c *VMConfig) ProviderOverrides(name string) []VersionedBlock {
	blocks := c.providerOverrides[name]
	out := make([]VersionedBlock, 0, len(blocks))
	for _, b := range blocks {
		b := b
		out = append(out, VersionedBlock{
			Version: "2",
			Block: func(vm *VMConfig) (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = newLoadError(ownerProvider, name, b.source, r)
					}
				}()
				if err := b.override(PlaceholderConfig{}, vm); err != nil {
					return newLoadError(ownerProvider, name, b.source, err)
				}
				return nil
			},
		})
	}
	return out
}

// ProviderConfig returns the compiled configuration for a provider. Providers
// without blocks get a finalized default instance from the registry; names the
// registry does not know return nil.
func (c *VMConfig) ProviderConfig(name string) (PluginConfig, error) {
	if !c.finalized {
		return nil, ErrNotFinalized
	}

	logger.Debug().Str("provider", name).Msg("looking up provider config")
	if cfg, ok := c.compiled[name]; ok {
		return cfg, nil
	}
	if c.registry == nil {
		return nil, nil
	}
	factory, ok := c.registry.ProviderConfig(name)
	if !ok {
		logger.Debug().Str("provider", name).Msg("no provider config class registered")
		return nil, nil
	}
	cfg := factory()
	cfg.Finalize()
	return cfg, nil
}

// compileProvider folds every block of a provider over fresh config instances.
func (c *VMConfig) compileProvider(name string, blocks []ProviderBlock, reg Registry) (PluginConfig, error) {
	factory, ok := reg.ProviderConfig(name)
	if !ok {
		factory = placeholderFactory
	}
	logger.Debug().Str("provider", name).Bool("registered", ok).Msg("compiling provider config")

	cfg := factory()
	for _, b := range blocks {
		fresh := factory()
		if err := runProviderBlock(name, b, fresh); err != nil {
			logger.Error().Err(err).Str("provider", name).Msg("provider configuration block failed")
			return nil, err
		}
		cfg = cfg.Merge(fresh)
	}
	cfg.Finalize()
	return cfg, nil
}

func runProviderBlock(name string, b ProviderBlock, cfg PluginConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newLoadError(ownerProvider, name, b.source, r)
		}
	}()
	if callErr := b.call(cfg, New()); callErr != nil {
		return newLoadError(ownerProvider, name, b.source, callErr)
	}
	return nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
