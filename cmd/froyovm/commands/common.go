package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyovm/pkg/config"
	"github.com/openfroyo/froyovm/pkg/plugins"
	"github.com/openfroyo/froyovm/pkg/policy"
)

func componentLogger(name string) zerolog.Logger {
	if tel == nil {
		return zerolog.Nop()
	}
	return tel.Logger.NewComponentLogger(name).Zerolog()
}

// newRegistry returns the built-in plugins plus those found in --plugin-dir.
func newRegistry(ctx context.Context) (*plugins.Registry, error) {
	reg := plugins.NewDefaultRegistry()
	reg.SetLogger(componentLogger("plugins"))
	for _, dir := range pluginDirs {
		if err := reg.ScanDirectory(ctx, dir); err != nil {
			return nil, fmt.Errorf("failed to scan plugin directory %s: %w", dir, err)
		}
	}
	return reg, nil
}

func newLoader(ctx context.Context) (*config.Loader, error) {
	reg, err := newRegistry(ctx)
	if err != nil {
		return nil, err
	}

	opts := []config.LoaderOption{
		config.WithLogger(componentLogger("config")),
		config.WithStarlarkTimeout(starlarkTimeout),
	}
	if len(vars) > 0 {
		v := make(map[string]interface{}, len(vars))
		for key, value := range vars {
			v[key] = value
		}
		opts = append(opts, config.WithVars(v))
	}
	return config.NewLoader(reg, opts...), nil
}

// newPolicyEngine returns the built-in policies plus those under paths.
func newPolicyEngine(ctx context.Context, paths []string) (*policy.Engine, error) {
	engine, err := policy.NewEngine(componentLogger("policy"))
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// scopePaths returns the --file arguments, or the discovered scopes.
func scopePaths() ([]string, error) {
	if len(scopeFiles) > 0 {
		return scopeFiles, nil
	}
	paths := config.DiscoverScopes(projectDir)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s found in %s", config.ScopeBaseName, projectDir)
	}
	return paths, nil
}

func loadScopes(ctx context.Context, loader *config.Loader) ([]*config.Scope, error) {
	paths, err := scopePaths()
	if err != nil {
		return nil, err
	}
	return loader.LoadScopes(ctx, paths)
}

// writeOutput prints v as indented JSON with --json, else as YAML.
func writeOutput(w io.Writer, v interface{}) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
