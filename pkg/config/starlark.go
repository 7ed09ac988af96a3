package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/froyovm/pkg/vmconfig"
)

// DefaultStarlarkTimeout bounds a scope script and each deferred function.
const DefaultStarlarkTimeout = 30 * time.Second

// starlarkEvaluator executes Starlark scope files. Scripts declare
// configuration through the predeclared vm value:
//
//	vm.box = "ubuntu/jammy"
//	vm.network("forwarded_port", guest = 80, host = 8080)
//
//	def docker(cfg):
//	    cfg.image = "ubuntu:24.04"
//
//	vm.provider("docker", docker)
//
// Functions passed to provider, provision and define run later, when the
// configuration is finalized or a machine is resolved.
type starlarkEvaluator struct {
	timeout time.Duration
	vars    map[string]interface{}
	logger  zerolog.Logger
}

func newStarlarkEvaluator(timeout time.Duration, vars map[string]interface{}, logger zerolog.Logger) *starlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &starlarkEvaluator{timeout: timeout, vars: vars, logger: logger}
}

// evaluate executes a scope script against c.
func (se *starlarkEvaluator) evaluate(ctx context.Context, file string, src []byte, c *vmconfig.VMConfig) error {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	predeclared, err := se.predeclared(file, c)
	if err != nil {
		return &ScopeError{File: file, Message: err.Error(), Err: err}
	}

	thread := se.newThread(file)
	errCh := make(chan error, 1)
	go func() {
		_, err := starlark.ExecFile(thread, file, src, predeclared)
		errCh <- err
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("execution timeout")
		<-errCh
		return &ScopeError{File: file, Message: fmt.Sprintf("execution timeout after %v", se.timeout), Err: evalCtx.Err()}
	case err := <-errCh:
		if err != nil {
			return starlarkScopeError(file, err)
		}
		return nil
	}
}

func (se *starlarkEvaluator) predeclared(file string, c *vmconfig.VMConfig) (starlark.StringDict, error) {
	vars, err := toStarlarkValue(se.vars)
	if err != nil {
		return nil, fmt.Errorf("failed to convert vars: %w", err)
	}
	return starlark.StringDict{
		"struct": starlarkstruct.Default,
		"vm":     &vmValue{cfg: c, ev: se, file: file},
		"vars":   vars,
		"env":    starlark.NewBuiltin("env", builtinEnv),
	}, nil
}

func (se *starlarkEvaluator) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			se.logger.Info().Str("thread", name).Msg(msg)
		},
	}
}

// callDeferred calls a function registered by a scope script.
func (se *starlarkEvaluator) callDeferred(fn starlark.Callable, args ...starlark.Value) error {
	thread := se.newThread(fn.Name())
	timer := time.AfterFunc(se.timeout, func() { thread.Cancel("execution timeout") })
	defer timer.Stop()

	if _, err := starlark.Call(thread, fn, starlark.Tuple(args), nil); err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return &StarlarkError{Err: evalErr}
		}
		return err
	}
	return nil
}

// StarlarkError is a failure inside a deferred Starlark function. It
// carries the position of the innermost frame in the script.
type StarlarkError struct {
	Err *starlark.EvalError
}

func (e *StarlarkError) Error() string { return e.Err.Msg }

func (e *StarlarkError) Unwrap() error { return e.Err }

// Position returns the script file and line where the failure happened.
func (e *StarlarkError) Position() (string, int) {
	for i := 0; i < len(e.Err.CallStack); i++ {
		pos := e.Err.CallStack.At(i).Pos
		if pos.Filename() != "<builtin>" && pos.Line > 0 {
			return pos.Filename(), int(pos.Line)
		}
	}
	return "", 0
}

// Backtrace returns the Starlark stack at the failure.
func (e *StarlarkError) Backtrace() string { return e.Err.Backtrace() }

func starlarkScopeError(file string, err error) error {
	var synErr syntax.Error
	if errors.As(err, &synErr) {
		return &ScopeError{File: file, Line: int(synErr.Pos.Line), Column: int(synErr.Pos.Col), Message: synErr.Msg, Err: err}
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		se := &StarlarkError{Err: evalErr}
		_, line := se.Position()
		return &ScopeError{File: file, Line: line, Message: evalErr.Msg, Err: se}
	}
	return &ScopeError{File: file, Message: err.Error(), Err: err}
}

// vmValue exposes a configuration to Starlark. Assigning a field sets a
// scalar setting; methods declare collection entries.
type vmValue struct {
	cfg  *vmconfig.VMConfig
	ev   *starlarkEvaluator
	file string
}

var (
	_ starlark.HasSetField = (*vmValue)(nil)
	_ starlark.HasSetField = (*pluginValue)(nil)
)

var vmMethods = map[string]func(v *vmValue, thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error){
	"network":       (*vmValue).network,
	"synced_folder": (*vmValue).syncedFolder,
	"provision":     (*vmValue).provision,
	"disk":          (*vmValue).disk,
	"cloud_init":    (*vmValue).cloudInit,
	"provider":      (*vmValue).provider,
	"define":        (*vmValue).define,
}

func (v *vmValue) String() string        { return "<vm>" }
func (v *vmValue) Type() string          { return "vm" }
func (v *vmValue) Freeze()               {}
func (v *vmValue) Truth() starlark.Bool  { return starlark.True }
func (v *vmValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: vm") }

func (v *vmValue) Attr(name string) (starlark.Value, error) {
	method, ok := vmMethods[name]
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return method(v, thread, b, args, kwargs)
	}), nil
}

func (v *vmValue) AttrNames() []string {
	names := make([]string, 0, len(vmMethods))
	for name := range vmMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *vmValue) SetField(name string, val starlark.Value) error {
	goVal, err := fromStarlarkValue(val)
	if err != nil {
		return err
	}
	goVal, err = normalize(goVal)
	if err != nil {
		return err
	}
	return applySetting(v.cfg, name, goVal)
}

func (v *vmValue) network(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var kind string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &kind); err != nil {
		return nil, err
	}
	opts, err := kwargsToOptions(kwargs)
	if err != nil {
		return nil, err
	}
	v.cfg.Network(kind, opts)
	return starlark.None, nil
}

func (v *vmValue) syncedFolder(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var host, guest string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &host, &guest); err != nil {
		return nil, err
	}
	opts, err := kwargsToOptions(kwargs)
	if err != nil {
		return nil, err
	}
	v.cfg.SyncedFolder(host, guest, opts)
	return starlark.None, nil
}

func (v *vmValue) disk(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kind := vmconfig.DiskKindDisk
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 0, &kind); err != nil {
		return nil, err
	}
	opts, err := kwargsToOptions(kwargs)
	if err != nil {
		return nil, err
	}
	v.cfg.Disk(kind, opts, nil)
	return starlark.None, nil
}

func (v *vmValue) cloudInit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	kind := vmconfig.CloudInitUserData
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 0, &kind); err != nil {
		return nil, err
	}
	opts, err := kwargsToOptions(kwargs)
	if err != nil {
		return nil, err
	}
	v.cfg.CloudInit(kind, opts, nil)
	return starlark.None, nil
}

// provision(name_or_type, fn=None, **options)
func (v *vmValue) provision(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var nameOrType string
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &nameOrType, &fn); err != nil {
		return nil, err
	}
	opts, err := kwargsToOptions(kwargs)
	if err != nil {
		return nil, err
	}

	var blocks []vmconfig.ConfigBlock
	if fn != nil {
		blocks = append(blocks, func(cfg vmconfig.PluginConfig) error {
			return v.ev.callDeferred(fn, &pluginValue{owner: nameOrType, cfg: cfg})
		})
	}
	v.cfg.Provision(nameOrType, opts, blocks...)
	return starlark.None, nil
}

// provider(name, fn=None, **options). fn takes (cfg) or (cfg, override).
func (v *vmValue) provider(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name, &fn); err != nil {
		return nil, err
	}
	opts, err := kwargsToOptions(kwargs)
	if err != nil {
		return nil, err
	}

	line := 0
	if thread.CallStackDepth() > 1 {
		line = int(thread.CallFrame(1).Pos.Line)
	}

	var blocks []vmconfig.ProviderBlock
	if len(opts) > 0 {
		blocks = append(blocks, vmconfig.NewProviderBlock(func(cfg vmconfig.PluginConfig) error {
			return setOptions(name, cfg, opts)
		}).WithSource(v.file, line))
	}
	if fn != nil {
		arity := 1
		if f, ok := fn.(*starlark.Function); ok {
			arity = f.NumParams()
		}
		switch arity {
		case 1:
			blocks = append(blocks, vmconfig.NewProviderBlock(func(cfg vmconfig.PluginConfig) error {
				return v.ev.callDeferred(fn, &pluginValue{owner: name, cfg: cfg})
			}).WithSource(v.file, line))
		case 2:
			blocks = append(blocks, vmconfig.NewProviderOverrideBlock(func(cfg vmconfig.PluginConfig, vm *vmconfig.VMConfig) error {
				return v.ev.callDeferred(fn, &pluginValue{owner: name, cfg: cfg}, &vmValue{cfg: vm, ev: v.ev, file: v.file})
			}).WithSource(v.file, line))
		default:
			return nil, fmt.Errorf("%s: function must take 1 or 2 parameters, got %d", b.Name(), arity)
		}
	}
	v.cfg.Provider(name, blocks...)
	return starlark.None, nil
}

// define(name, fn=None, primary=False, autostart=True)
func (v *vmValue) define(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name, &fn); err != nil {
		return nil, err
	}
	opts, err := kwargsToOptions(kwargs)
	if err != nil {
		return nil, err
	}

	var blocks []vmconfig.SubVMBlock
	if fn != nil {
		blocks = append(blocks, func(vm *vmconfig.VMConfig) error {
			return v.ev.callDeferred(fn, &vmValue{cfg: vm, ev: v.ev, file: v.file})
		})
	}
	v.cfg.Define(name, opts, blocks...)
	return starlark.None, nil
}

// pluginValue exposes a provider or provisioner config to Starlark.
// Assigning a field sets an option.
type pluginValue struct {
	owner string
	cfg   vmconfig.PluginConfig
}

func (p *pluginValue) String() string        { return fmt.Sprintf("<%s config>", p.owner) }
func (p *pluginValue) Type() string          { return "config" }
func (p *pluginValue) Freeze()               {}
func (p *pluginValue) Truth() starlark.Bool  { return starlark.True }
func (p *pluginValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: config") }

func (p *pluginValue) Attr(string) (starlark.Value, error) { return nil, nil }
func (p *pluginValue) AttrNames() []string                 { return nil }

func (p *pluginValue) SetField(name string, val starlark.Value) error {
	goVal, err := fromStarlarkValue(val)
	if err != nil {
		return err
	}
	goVal, err = normalize(goVal)
	if err != nil {
		return err
	}
	return setOptions(p.owner, p.cfg, vmconfig.Options{name: goVal})
}

func kwargsToOptions(kwargs []starlark.Tuple) (vmconfig.Options, error) {
	opts := make(vmconfig.Options, len(kwargs))
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		val, err := fromStarlarkValue(kv[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if val, err = normalize(val); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		opts[key] = val
	}
	return opts, nil
}

// builtinEnv implements env(name, default="").
func builtinEnv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, def string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return starlark.String(v), nil
	}
	return starlark.String(def), nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
