// Package category holds named sets of search terms and their matching
// rules. Registries load from JSON or YAML and are validated once, up
// front, so malformed definitions are rejected before any probing or
// analysis begins.
package category

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is one named term set with its matching rules. Immutable once
// loaded for a given analysis run.
type Definition struct {
	Name          string   `json:"name" yaml:"name"`
	Terms         []string `json:"terms" yaml:"terms"`
	CaseSensitive bool     `json:"case_sensitive" yaml:"case_sensitive"`
	// Substring switches presence testing from exact token-text equality
	// to containment within any resolved token text.
	Substring bool `json:"substring" yaml:"substring"`
}

// ValidationError reports a malformed category definition by name.
type ValidationError struct {
	Category string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid category %q: %s", e.Category, e.Reason)
}

// Registry is a validated, name-unique set of definitions.
type Registry struct {
	categories []Definition
}

// registryFile accepts either a bare list of definitions or a wrapper
// object with a "categories" key.
type registryFile struct {
	Categories []Definition `json:"categories" yaml:"categories"`
}

// Load reads a registry from a JSON (.json) or YAML (.yaml/.yml) file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read category file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported category file extension %q (want .json, .yaml or .yml)", ext)
	}
}

// ParseJSON parses a registry from JSON bytes.
func ParseJSON(data []byte) (*Registry, error) {
	var defs []Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		var file registryFile
		if err2 := json.Unmarshal(data, &file); err2 != nil {
			return nil, fmt.Errorf("failed to parse category JSON: %w", err)
		}
		defs = file.Categories
	}
	return NewRegistry(defs)
}

// ParseYAML parses a registry from YAML bytes.
func ParseYAML(data []byte) (*Registry, error) {
	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		var file registryFile
		if err2 := yaml.Unmarshal(data, &file); err2 != nil {
			return nil, fmt.Errorf("failed to parse category YAML: %w", err)
		}
		defs = file.Categories
	}
	return NewRegistry(defs)
}

// NewRegistry validates definitions: names must be present and unique, term
// sets non-empty, terms non-blank. Duplicate terms within a category are
// dropped.
func NewRegistry(defs []Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, &ValidationError{Category: "", Reason: "registry contains no categories"}
	}

	seen := make(map[string]bool, len(defs))
	out := make([]Definition, 0, len(defs))
	for _, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			return nil, &ValidationError{Category: def.Name, Reason: "category name is empty"}
		}
		if seen[def.Name] {
			return nil, &ValidationError{Category: def.Name, Reason: "duplicate category name"}
		}
		seen[def.Name] = true

		if len(def.Terms) == 0 {
			return nil, &ValidationError{Category: def.Name, Reason: "term set is empty"}
		}

		terms := make([]string, 0, len(def.Terms))
		dup := make(map[string]bool, len(def.Terms))
		for _, term := range def.Terms {
			if strings.TrimSpace(term) == "" {
				return nil, &ValidationError{Category: def.Name, Reason: "term set contains a blank term"}
			}
			if dup[term] {
				continue
			}
			dup[term] = true
			terms = append(terms, term)
		}
		sort.Strings(terms)

		out = append(out, Definition{
			Name:          def.Name,
			Terms:         terms,
			CaseSensitive: def.CaseSensitive,
			Substring:     def.Substring,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return &Registry{categories: out}, nil
}

// Categories returns the definitions sorted by name.
func (r *Registry) Categories() []Definition {
	return r.categories
}

// Len reports the number of categories.
func (r *Registry) Len() int {
	return len(r.categories)
}

// Default returns the built-in philosophical demo registry used when no
// category file is supplied.
func Default() *Registry {
	reg, err := NewRegistry([]Definition{
		{
			Name: "Consciousness",
			Terms: []string{
				"aware", "awareness", "conscious", "consciousness",
				"experience", "mind", "perception", "qualia", "sentience",
			},
		},
		{
			Name: "Epistemology",
			Terms: []string{
				"belief", "certainty", "doubt", "evidence", "knowledge",
				"reason", "truth", "wisdom",
			},
		},
		{
			Name: "Ethics",
			Terms: []string{
				"duty", "evil", "good", "justice", "moral", "right",
				"virtue", "wrong",
			},
		},
		{
			Name: "Metaphysics",
			Terms: []string{
				"being", "essence", "existence", "reality", "soul",
				"spirit", "substance",
			},
		},
	})
	if err != nil {
		panic(err) // static data
	}
	return reg
}
