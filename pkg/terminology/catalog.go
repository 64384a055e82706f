package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Concept is a lab or observation concept and the LOINC codes that report it.
type Concept struct {
	Display string   `yaml:"display" json:"display"`
	SNOMED  string   `yaml:"snomed,omitempty" json:"snomed,omitempty"`
	LOINC   []string `yaml:"loinc" json:"loinc"`
	Unit    string   `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// ElementMapping binds a bundle element to the evidence that satisfies it.
type ElementMapping struct {
	Concepts           []string `yaml:"concepts,omitempty" json:"concepts,omitempty"`
	MedicationKeywords []string `yaml:"medication_keywords,omitempty" json:"medication_keywords,omitempty"`
	NoteKeywords       []string `yaml:"note_keywords,omitempty" json:"note_keywords,omitempty"`
	NoteTypes          []string `yaml:"note_types,omitempty" json:"note_types,omitempty"`
}

func (m ElementMapping) Empty() bool {
	return len(m.Concepts) == 0 && len(m.MedicationKeywords) == 0 && len(m.NoteKeywords) == 0
}

type Catalog struct {
	Concepts map[string]Concept        `yaml:"concepts" json:"concepts"`
	Elements map[string]ElementMapping `yaml:"elements" json:"elements"`
	Keywords map[string][]string       `yaml:"keywords" json:"keywords"`
	CodeSets map[string][]string       `yaml:"code_sets" json:"code_sets"`
}

// Load reads a YAML catalog and overlays it on the built-in one. An empty
// path yields the built-in catalog unchanged.
func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var overlay Catalog
	if err := yaml.Unmarshal(content, &overlay); err != nil {
		return Catalog{}, err
	}
	if len(overlay.Concepts) == 0 && len(overlay.Elements) == 0 && len(overlay.Keywords) == 0 && len(overlay.CodeSets) == 0 {
		return Catalog{}, fmt.Errorf("terminology catalog empty")
	}
	cat := DefaultCatalog()
	for k, v := range overlay.Concepts {
		cat.Concepts[strings.ToLower(k)] = v
	}
	for k, v := range overlay.Elements {
		cat.Elements[k] = v
	}
	for k, v := range overlay.Keywords {
		cat.Keywords[strings.ToLower(k)] = v
	}
	for k, v := range overlay.CodeSets {
		cat.CodeSets[strings.ToLower(k)] = v
	}
	return cat, nil
}

func (c Catalog) Lookup(key string) (Concept, bool) {
	if c.Concepts == nil {
		return Concept{}, false
	}
	concept, ok := c.Concepts[strings.ToLower(key)]
	if ok {
		return concept, true
	}
	for k, v := range c.Concepts {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return Concept{}, false
}

// LabCodes flattens the LOINC codes of the named concepts. Unknown concepts
// are reported so callers can surface the misconfiguration.
func (c Catalog) LabCodes(concepts ...string) ([]string, error) {
	var codes []string
	for _, name := range concepts {
		concept, ok := c.Lookup(name)
		if !ok || len(concept.LOINC) == 0 {
			return nil, fmt.Errorf("no codes mapped for concept %q", name)
		}
		codes = append(codes, concept.LOINC...)
	}
	return codes, nil
}

func (c Catalog) Element(id string) (ElementMapping, bool) {
	m, ok := c.Elements[id]
	return m, ok
}

func (c Catalog) KeywordSet(name string) []string {
	return c.Keywords[strings.ToLower(name)]
}

func (c Catalog) CodeSet(name string) []string {
	return c.CodeSets[strings.ToLower(name)]
}

// ContainsAny returns the first keyword found in text, case-insensitively.
func ContainsAny(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// HasPrefixAny reports whether code starts with any prefix in the set.
func HasPrefixAny(code string, prefixes []string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(code, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
