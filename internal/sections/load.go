package sections

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_sections.yaml
var defaultSectionsYAML []byte

type registryFile struct {
	Sections []Spec `yaml:"sections"`
}

// Parse decodes a YAML registry document and builds a Registry from it.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding sections: %w", err)
	}
	return NewRegistry(f.Sections...)
}

// LoadFile reads a YAML registry from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sections file: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Default returns the built-in SDS sections: identification,
// material_composition and toxicological_information.
func Default() *Registry {
	r, err := Parse(defaultSectionsYAML)
	if err != nil {
		panic(fmt.Sprintf("sections: built-in registry is invalid: %v", err))
	}
	return r
}

// Load returns the registry at path, or the built-in one when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
