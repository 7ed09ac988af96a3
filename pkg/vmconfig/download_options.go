package vmconfig

import (
	"fmt"
	"sort"
)

// MapToCommandOptions converts a download options mapping to command line
// arguments. A true value becomes "--key"; a string value becomes
// "--key", "value". Other values are skipped. Keys are emitted in sorted order.
func MapToCommandOptions(opts interface{}) []string {
	m, ok := toOptions(opts)
	if !ok {
		return []string{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []string{}
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			if v {
				out = append(out, fmt.Sprintf("--%s", k))
			}
		case string:
			out = append(out, fmt.Sprintf("--%s", k), v)
		}
	}
	return out
}
