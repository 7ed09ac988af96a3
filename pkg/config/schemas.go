package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/build"
	"cuelang.org/go/cue/cuecontext"
)

// ScopeSchema is the name of the built-in schema every scope is checked
// against.
const ScopeSchema = "scope"

// SchemaRegistry manages CUE schemas for validation. All values it compiles
// share one CUE context so they can be unified with each other.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// The built-in schema is a constant and always compiles.
	_ = sr.RegisterSchema(ScopeSchema, "#Scope", builtinScopeSchema)

	return sr
}

// RegisterSchema compiles source and registers the definition it declares
// (e.g. "#Scope") under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Compile compiles CUE source in the registry's context.
func (sr *SchemaRegistry) Compile(filename string, src []byte) cue.Value {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.ctx.CompileBytes(src, cue.Filename(filename))
}

// Build builds a loaded CUE instance in the registry's context.
func (sr *SchemaRegistry) Build(inst *build.Instance) cue.Value {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.ctx.BuildInstance(inst)
}

// ValidateValue unifies val with a named schema and requires the result to
// be concrete. The unified value is returned so callers can decode defaults.
func (sr *SchemaRegistry) ValidateValue(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	sr.mu.Lock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.ValidateValue(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions. Entries stay open (...) because option keys
// belong to providers, provisioners and backends, which check them later.
const builtinScopeSchema = `
#Scope: {
	allowed_synced_folder_types?: [...string]
	allow_fstab_modification?:    _
	allow_hosts_modification?:    _
	base_mac?:                    string
	base_address?:                string
	boot_timeout?:                number | string
	box?:                         string
	box_architecture?:            _
	ignore_box_vagrantfile?:      bool
	box_check_update?:            bool
	box_download_ca_cert?:        string
	box_download_ca_path?:        string
	box_download_checksum?:       string
	box_download_checksum_type?:  string
	box_download_client_cert?:    string
	box_download_disable_ssl_revoke_best_effort?: bool
	box_download_insecure?:         bool
	box_download_location_trusted?: bool
	box_download_options?:          _
	box_url?:                       string | [...string]
	box_version?:                   string
	clone?:                         string
	cloud_init_first_boot_only?:    bool
	communicator?:                  "ssh" | "winrm" | "winssh"
	graceful_halt_timeout?:         number | string
	guest?:                         string
	hostname?:                      string
	host_name?:                     string
	post_up_message?:               string
	usable_port_range?:             string | [int, int] | {min: int, max: int}

	networks?:       [...#Network]
	synced_folders?: [...#SyncedFolder]
	disks?:          [...#Disk]
	cloud_init?:     [...#CloudInit]
	provisioners?:   [...#Provisioner]
	providers?:      [...#Provider]
	machines?:       [...#Machine]
}

#Network: {
	kind: string
	...
}

#SyncedFolder: {
	host:   string
	guest?: string
	...
}

#Disk: {
	kind?: string
	...
}

#CloudInit: {
	kind?: string
	...
}

#Provisioner: {
	name?: string
	type?: string
	run?:  string
	...
}

#Provider: {
	name:      string
	override?: #Scope
	...
}

#Machine: {
	name:       string
	primary?:   bool
	autostart?: bool
	#Scope
}
`
