package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// cueParser compiles CUE scope files and checks them against the scope
// schema before they are decoded.
type cueParser struct {
	schemas *SchemaRegistry
}

// parse compiles a single CUE file.
func (cp *cueParser) parse(file string, data []byte) (map[string]interface{}, error) {
	val := cp.schemas.Compile(file, data)
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(file, err)
	}
	return cp.extract(file, val)
}

// parseDirectory loads a directory as a CUE package.
func (cp *cueParser) parseDirectory(dir string) (map[string]interface{}, []string, error) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return nil, nil, &ScopeError{File: dir, Message: "no CUE files found"}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return nil, nil, convertCUEErrors(dir, inst.Err)
	}

	val := cp.schemas.Build(inst)
	if err := val.Err(); err != nil {
		return nil, nil, convertCUEErrors(dir, err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	doc, err := cp.extract(dir, val)
	return doc, files, err
}

// extract validates val against the scope schema and decodes it.
func (cp *cueParser) extract(file string, val cue.Value) (map[string]interface{}, error) {
	unified, err := cp.schemas.ValidateValue(ScopeSchema, val)
	if err != nil {
		return nil, convertCUEErrors(file, err)
	}

	var raw interface{}
	if err := unified.Decode(&raw); err != nil {
		return nil, &ScopeError{File: file, Message: fmt.Sprintf("failed to decode scope: %v", err), Err: err}
	}

	doc, err := normalizeDocument(raw)
	if err != nil {
		return nil, &ScopeError{File: file, Message: err.Error(), Err: err}
	}
	return doc, nil
}

// convertCUEErrors converts CUE errors into a ScopeError located at the
// first position inside file, if any.
func convertCUEErrors(file string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ScopeError{File: file, Message: err.Error(), Err: err}
	}

	first := errs[0]
	se := &ScopeError{
		File:    file,
		Path:    strings.Join(errors.Path(first), "."),
		Message: strings.TrimSpace(errors.Details(first, nil)),
		Err:     err,
	}
	if len(errs) > 1 {
		se.Message = fmt.Sprintf("%s (and %d more errors)", se.Message, len(errs)-1)
	}

	positions := errors.Positions(first)
	for _, pos := range positions {
		if pos.Filename() == file || filepath.Dir(pos.Filename()) == file {
			se.File, se.Line, se.Column = pos.Filename(), pos.Line(), pos.Column()
			return se
		}
	}
	if len(positions) > 0 && positions[0].Filename() != "" {
		se.Line, se.Column = positions[0].Line(), positions[0].Column()
	}
	return se
}

// isCUEDirectory reports whether path is a directory holding CUE files.
func isCUEDirectory(path string) bool {
	matches, err := filepath.Glob(filepath.Join(path, "*.cue"))
	if err != nil || len(matches) == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
