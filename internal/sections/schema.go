package sections

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a declarative description of the structure an extractor must
// return for a section. It maps one-to-one onto a JSON Schema subset.
type Schema struct {
	Type        string             `yaml:"type" json:"type"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Enum        []string           `yaml:"enum,omitempty" json:"enum,omitempty"`
	Properties  map[string]*Schema `yaml:"properties,omitempty" json:"properties,omitempty"`
	Items       *Schema            `yaml:"items,omitempty" json:"items,omitempty"`
	Required    []string           `yaml:"required,omitempty" json:"required,omitempty"`

	compiled *jsonschema.Schema
}

var validTypes = map[string]bool{
	"object": true, "array": true, "string": true,
	"number": true, "integer": true, "boolean": true,
}

// check walks the tree and reports the first structural problem found.
func (s *Schema) check(path string) error {
	if s == nil {
		return fmt.Errorf("%s: missing schema", path)
	}
	if !validTypes[s.Type] {
		return fmt.Errorf("%s: unsupported type %q", path, s.Type)
	}
	switch s.Type {
	case "object":
		if len(s.Properties) == 0 {
			return fmt.Errorf("%s: object without properties", path)
		}
		for _, r := range s.Required {
			if _, ok := s.Properties[r]; !ok {
				return fmt.Errorf("%s: required field %q is not declared", path, r)
			}
		}
		for name, p := range s.Properties {
			if err := p.check(path + "." + name); err != nil {
				return err
			}
		}
	case "array":
		if err := s.Items.check(path + "[]"); err != nil {
			return err
		}
	}
	return nil
}

// JSONSchema renders the schema as a JSON Schema document. The result is
// suitable both for schema compilation and for an LLM "format" parameter.
func (s *Schema) JSONSchema() map[string]any {
	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// Compile checks the schema and compiles it for validation. Compile is
// called once per schema when a Registry is built.
func (s *Schema) Compile() error {
	if err := s.check("$"); err != nil {
		return err
	}
	b, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return fmt.Errorf("marshalling schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	s.compiled = compiled
	return nil
}

// Validate checks a raw JSON document against the compiled schema.
func (s *Schema) Validate(raw []byte) error {
	if s.compiled == nil {
		return fmt.Errorf("schema is not compiled")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
