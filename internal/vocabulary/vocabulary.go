// Package vocabulary holds the term store snapshot used to validate
// term-driven fields. A snapshot is loaded once and never reloaded.
package vocabulary

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Lllllllleong/drawingmigration/internal/models"
	"gopkg.in/yaml.v3"
)

// Vocabulary is an immutable set of allowed values per term-driven field.
type Vocabulary struct {
	terms map[models.FieldKey]map[string]string
}

type file struct {
	Terms map[string][]string `yaml:"terms"`
}

// Empty returns a vocabulary with no term-driven fields.
func Empty() *Vocabulary {
	return &Vocabulary{terms: map[models.FieldKey]map[string]string{}}
}

// Load reads a YAML snapshot from path. An empty path yields Empty().
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	return Parse(data)
}

// Parse builds a vocabulary from YAML of the form
//
//	terms:
//	  businessUnit: [B1, B2]
//	  department: [Civil, Structural]
//
// Keys may be canonical field keys or their labels.
func Parse(data []byte) (*Vocabulary, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	v := Empty()
	for name, values := range f.Terms {
		key, ok := models.FieldKeyForLabel(name)
		if !ok {
			return nil, fmt.Errorf("vocabulary: unknown field %q", name)
		}
		set := make(map[string]string, len(values))
		for _, val := range values {
			val = strings.TrimSpace(val)
			if val == "" {
				continue
			}
			set[strings.ToLower(val)] = val
		}
		v.terms[key] = set
	}
	return v, nil
}

// TermDriven reports whether field takes its values from the term store.
func (v *Vocabulary) TermDriven(field models.FieldKey) bool {
	_, ok := v.terms[field]
	return ok
}

// Terms returns the allowed values of field in sorted order.
func (v *Vocabulary) Terms(field models.FieldKey) []string {
	set := v.terms[field]
	out := make([]string, 0, len(set))
	for _, val := range set {
		out = append(out, val)
	}
	sort.Strings(out)
	return out
}

// Validate returns the term-driven fields whose non-empty value is not a
// known term. Matching ignores case.
func (v *Vocabulary) Validate(fields models.Fields) []models.FieldKey {
	var invalid []models.FieldKey
	for key, set := range v.terms {
		val := fields.Get(key)
		if val == "" {
			continue
		}
		if _, ok := set[strings.ToLower(val)]; !ok {
			invalid = append(invalid, key)
		}
	}
	sort.Slice(invalid, func(i, j int) bool { return invalid[i] < invalid[j] })
	return invalid
}
