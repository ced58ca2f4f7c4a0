package sections

import (
	"fmt"
)

// Spec is one extractable section: the record key its value is stored
// under, the retrieval query, and the output schema.
type Spec struct {
	Key    string  `yaml:"key"`
	Query  string  `yaml:"query"`
	Schema *Schema `yaml:"schema"`
}

// Keys the assembled document record reserves for itself.
var reservedKeys = map[string]bool{
	"document_name": true,
	"total_tokens":  true,
	"total_cost":    true,
}

// Registry is an ordered, read-only set of section specs. It is safe for
// concurrent use once built.
type Registry struct {
	specs []Spec
	index map[string]int
}

// NewRegistry validates the specs and compiles their schemas. Keys must be
// non-empty, unique, and must not collide with the record's metadata keys.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{
		specs: make([]Spec, 0, len(specs)),
		index: make(map[string]int, len(specs)),
	}
	for i, s := range specs {
		if s.Key == "" {
			return nil, fmt.Errorf("section %d: empty key", i)
		}
		if reservedKeys[s.Key] {
			return nil, fmt.Errorf("section %q: key is reserved", s.Key)
		}
		if _, dup := r.index[s.Key]; dup {
			return nil, fmt.Errorf("section %q: duplicate key", s.Key)
		}
		if s.Query == "" {
			return nil, fmt.Errorf("section %q: empty query", s.Key)
		}
		if s.Schema == nil {
			return nil, fmt.Errorf("section %q: missing schema", s.Key)
		}
		if err := s.Schema.Compile(); err != nil {
			return nil, fmt.Errorf("section %q: %w", s.Key, err)
		}
		r.index[s.Key] = len(r.specs)
		r.specs = append(r.specs, s)
	}
	return r, nil
}

// Specs returns the sections in registry order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Keys returns the section keys in registry order.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.specs))
	for i, s := range r.specs {
		keys[i] = s.Key
	}
	return keys
}

func (r *Registry) Len() int { return len(r.specs) }

// Lookup returns the spec registered under key.
func (r *Registry) Lookup(key string) (Spec, bool) {
	i, ok := r.index[key]
	if !ok {
		return Spec{}, false
	}
	return r.specs[i], true
}

// Position returns the registry index of key, or -1.
func (r *Registry) Position(key string) int {
	if i, ok := r.index[key]; ok {
		return i
	}
	return -1
}
