package steps

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads every .yaml/.yml file in dir, in lexical filename order, and
// returns the validated step definitions. Each file holds one step document.
// Filename ordering is the execution ordering, so step files are usually
// prefixed with a number (01_prepare.yaml, 02_deploy.yaml).
func LoadDir(dir string) ([]StepDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading steps directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		ext := filepath.Ext(name)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no step definitions found in %s", dir)
	}

	defs := make([]StepDefinition, 0, len(files))
	for _, path := range files {
		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}

	if err := ValidateAll(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// LoadFile reads and validates a single step definition file.
func LoadFile(path string) (*StepDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading step file %s: %w", path, err)
	}

	var def StepDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing step file %s: %w", path, err)
	}
	def.Source = path

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &def, nil
}
