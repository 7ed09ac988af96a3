package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"
)

// hclBlocks maps HCL block types to the scope collection they populate and
// the key their label fills.
var hclBlocks = map[string]struct {
	collection string
	labelKey   string
}{
	"network":       {"networks", "kind"},
	"synced_folder": {"synced_folders", "host"},
	"disk":          {"disks", "kind"},
	"cloud_init":    {"cloud_init", "kind"},
	"provision":     {"provisioners", "name"},
	"provider":      {"providers", "name"},
	"machine":       {"machines", "name"},
}

// hclEvalContext offers a small function library and the environment to
// scope expressions.
func hclEvalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	envVal := cty.EmptyObjectVal
	if len(env) > 0 {
		envVal = cty.ObjectVal(env)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": envVal},
		Functions: map[string]function.Function{
			"lower":    stdlib.LowerFunc,
			"upper":    stdlib.UpperFunc,
			"format":   stdlib.FormatFunc,
			"join":     stdlib.JoinFunc,
			"concat":   stdlib.ConcatFunc,
			"merge":    stdlib.MergeFunc,
			"max":      stdlib.MaxFunc,
			"min":      stdlib.MinFunc,
			"coalesce": stdlib.CoalesceFunc,
		},
	}
}

// parseHCL parses an HCL scope into a normalized mapping. Attributes become
// settings or options; labelled blocks become collection entries:
//
//	network "forwarded_port" { guest = 80, host = 8080 }
//	provider "docker" { image = "ubuntu" }
func parseHCL(file string, data []byte) (map[string]interface{}, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(data, file)
	if diags.HasErrors() {
		return nil, hclError(file, diags)
	}

	body, ok := f.Body.(*hclsyntax.Body)
	if !ok {
		return nil, &ScopeError{File: file, Message: "unexpected HCL body type"}
	}

	raw, err := hclBody(file, body, hclEvalContext())
	if err != nil {
		return nil, err
	}
	doc, err := normalizeDocument(raw)
	if err != nil {
		return nil, &ScopeError{File: file, Message: err.Error(), Err: err}
	}
	return doc, nil
}

func hclBody(file string, body *hclsyntax.Body, ctx *hcl.EvalContext) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(body.Attributes))

	names := make([]string, 0, len(body.Attributes))
	for name := range body.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		attr := body.Attributes[name]
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, hclError(file, diags)
		}
		native, err := ctyToNative(val)
		if err != nil {
			return nil, &ScopeError{
				File:    file,
				Line:    attr.SrcRange.Start.Line,
				Column:  attr.SrcRange.Start.Column,
				Path:    name,
				Message: err.Error(),
				Err:     err,
			}
		}
		out[name] = native
	}

	for _, block := range body.Blocks {
		inner, err := hclBody(file, block.Body, ctx)
		if err != nil {
			return nil, err
		}

		spec, known := hclBlocks[block.Type]
		switch {
		case known && len(block.Labels) <= 1:
			if len(block.Labels) == 1 {
				inner[spec.labelKey] = block.Labels[0]
			}
			list, _ := out[spec.collection].([]interface{})
			out[spec.collection] = append(list, inner)
		case len(block.Labels) == 0:
			// Unlabelled blocks nest as mappings, e.g. override { ... }.
			out[block.Type] = inner
		default:
			return nil, &ScopeError{
				File:    file,
				Line:    block.TypeRange.Start.Line,
				Column:  block.TypeRange.Start.Column,
				Path:    block.Type,
				Message: fmt.Sprintf("unexpected block %q with %d labels", block.Type, len(block.Labels)),
			}
		}
	}
	return out, nil
}

func hclError(file string, diags hcl.Diagnostics) error {
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		se := &ScopeError{File: file, Message: d.Summary, Err: diags}
		if d.Detail != "" {
			se.Message = d.Summary + ": " + d.Detail
		}
		if d.Subject != nil {
			se.Line = d.Subject.Start.Line
			se.Column = d.Subject.Start.Column
		}
		return se
	}
	return &ScopeError{File: file, Message: diags.Error(), Err: diags}
}

// ctyToNative recursively converts a cty.Value to its most natural Go
// counterpart.
func ctyToNative(v cty.Value) (interface{}, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		list := make([]interface{}, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			list = append(list, native)
		}
		return list, nil

	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]interface{}, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute '%s': %w", key.AsString(), err)
			}
			m[key.AsString()] = native
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported value type: %s", ty.FriendlyName())
	}
}
