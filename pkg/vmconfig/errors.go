package vmconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFinalized is returned by readers that require a finalized configuration.
var ErrNotFinalized = errors.New("vmconfig: configuration is not finalized")

// LoadError reports a failure raised while evaluating a deferred provider or
// provisioner configuration block during Finalize.
type LoadError struct {
	// Kind is "provider" or "provisioner", naming what Provider refers to.
	Kind string `json:"kind"`

	// Provider is the name of the provider or provisioner whose block failed.
	Provider string `json:"provider"`

	// File and Line locate the block, best effort. Line is 0 when unknown.
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`

	// Class is the Go type of the original failure.
	Class string `json:"class"`

	// Message is the original failure's message.
	Message string `json:"message"`

	// Err is the original failure, when it was an error value.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	loc := "unknown"
	if e.Line > 0 {
		loc = fmt.Sprintf("%d", e.Line)
		if e.File != "" {
			loc = fmt.Sprintf("%s:%d", e.File, e.Line)
		}
	}
	kind := e.Kind
	if kind == "" {
		kind = ownerProvider
	}
	return fmt.Sprintf("error loading configuration for %s %q (line %s): %s: %s",
		kind, e.Provider, loc, e.Class, e.Message)
}

// Unwrap returns the original failure.
func (e *LoadError) Unwrap() error {
	return e.Err
}

const (
	ownerProvider    = "provider"
	ownerProvisioner = "provisioner"
)

// newLoadError converts a recovered panic value or returned error into a LoadError.
func newLoadError(kind, name string, src Source, failure interface{}) *LoadError {
	le := &LoadError{
		Kind:     kind,
		Provider: name,
		File:     src.File,
		Line:     src.Line,
		Class:    fmt.Sprintf("%T", failure),
	}
	switch f := failure.(type) {
	case error:
		le.Err = f
		le.Message = f.Error()
		var located interface{ Position() (string, int) }
		if errors.As(f, &located) {
			if file, line := located.Position(); line > 0 {
				le.File, le.Line = file, line
			}
		}
	default:
		le.Message = fmt.Sprint(f)
	}
	return le
}

// Errors is a validation report: an ordered mapping from category ("vm",
// provider and provisioner names, "policy") to human readable messages.
// Categories keep the order in which they were first added.
type Errors struct {
	order []string
	msgs  map[string][]string
}

// Add appends messages to category, creating the category even when no
// message is given.
func (e *Errors) Add(category string, messages ...string) {
	if e.msgs == nil {
		e.msgs = make(map[string][]string)
	}
	existing, ok := e.msgs[category]
	if !ok {
		e.order = append(e.order, category)
		existing = []string{}
	}
	e.msgs[category] = append(existing, messages...)
}

// Merge appends every category of other to e.
func (e *Errors) Merge(other Errors) {
	for _, cat := range other.order {
		e.Add(cat, other.msgs[cat]...)
	}
}

// Categories returns category names in order.
func (e Errors) Categories() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Get returns the messages of category.
func (e Errors) Get(category string) []string {
	return e.msgs[category]
}

// Len returns the total number of messages across all categories.
func (e Errors) Len() int {
	n := 0
	for _, m := range e.msgs {
		n += len(m)
	}
	return n
}

// Empty reports whether the report has no messages.
func (e Errors) Empty() bool {
	return e.Len() == 0
}

// String renders non-empty categories, one message per line.
func (e Errors) String() string {
	var b strings.Builder
	for _, cat := range e.order {
		msgs := e.msgs[cat]
		if len(msgs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", cat)
		for _, m := range msgs {
			fmt.Fprintf(&b, "* %s\n", m)
		}
	}
	return b.String()
}

// MarshalJSON renders the report as an object with categories in order.
func (e Errors) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, cat := range e.order {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(cat)
		if err != nil {
			return nil, err
		}
		msgs := e.msgs[cat]
		if msgs == nil {
			msgs = []string{}
		}
		v, err := json.Marshal(msgs)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// MarshalYAML renders the report as a mapping with categories in order.
func (e Errors) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, cat := range e.order {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, m := range e.msgs[cat] {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: m})
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: cat}, seq)
	}
	return node, nil
}
