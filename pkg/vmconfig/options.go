package vmconfig

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/cast"
)

// Options is a raw option mapping as produced by a scope loader.
type Options map[string]interface{}

// Clone returns a deep copy of the mapping. Nested maps and slices are copied;
// other values are shared.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

// Has reports whether key is present, even with a nil value.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the value under key rendered as a string. Missing and nil
// values render as "".
func (o Options) String(key string) string {
	return stringify(o[key])
}

// Bool reports whether the value under key is truthy: present, non-nil and not false.
func (o Options) Bool(key string) bool {
	return truthy(o[key])
}

// Keys returns the keys sorted lexically.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MergeOptions layers over on top of base and returns a new mapping. Neither
// input is modified. Nested mappings are merged key by key with over winning.
func MergeOptions(base, over Options) Options {
	dst := base.Clone()
	if len(over) == 0 {
		return dst
	}
	if err := mergo.Merge(&dst, over.Clone(), mergo.WithOverride); err != nil {
		// mergo only fails on mismatched kinds, which two Options never are.
		logger.Warn().Err(err).Msg("option merge failed, falling back to shallow merge")
		for k, v := range over {
			dst[k] = cloneValue(v)
		}
	}
	return dst
}

// shallowMerge returns a copy of base with every key of over replacing it.
func shallowMerge(base, over Options) Options {
	out := base.Clone()
	for k, v := range over {
		out[k] = cloneValue(v)
	}
	return out
}

// toOptions converts nested map values into Options.
func toOptions(v interface{}) (Options, bool) {
	switch m := v.(type) {
	case Options:
		return m, true
	case map[string]interface{}:
		return Options(m), true
	case map[interface{}]interface{}:
		out := make(Options, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Options:
		return t.Clone()
	case map[string]interface{}:
		return map[string]interface{}(Options(t).Clone())
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	}
	return v
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func truthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// toInt coerces a port-like value to an integer. Strings are read as base 10
// so "010" is 10. Unparseable values become 0.
func toInt(v interface{}) int {
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0
		}
		return n
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0
	}
	return n
}

// isInt reports whether v already holds an integer.
func isInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	}
	return 0, false
}
