package config

import (
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

// parseYAML parses a YAML (or JSON) scope into a normalized mapping.
func parseYAML(file string, data []byte) (map[string]interface{}, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		se := &ScopeError{File: file, Message: err.Error(), Err: err}
		if m := yamlLinePattern.FindStringSubmatch(err.Error()); m != nil {
			se.Line, _ = strconv.Atoi(m[1])
		}
		return nil, se
	}

	doc, err := normalizeDocument(raw)
	if err != nil {
		return nil, &ScopeError{File: file, Message: err.Error(), Err: err}
	}
	return doc, nil
}
