package terminology

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLabCodes(t *testing.T) {
	cat := DefaultCatalog()
	codes, err := cat.LabCodes(ConceptProcalcitonin, ConceptCRP)
	if err != nil {
		t.Fatalf("lab codes: %v", err)
	}
	if len(codes) != 4 || codes[0] != "33959-8" {
		t.Fatalf("unexpected codes %v", codes)
	}
	if _, err := cat.LabCodes("unknown"); err == nil {
		t.Fatalf("expected error for unmapped concept")
	}
}

func TestContainsAny(t *testing.T) {
	kw, ok := ContainsAny("Infant appears LETHARGIC with mottled skin", DefaultCatalog().KeywordSet(SetIllAppearing))
	if !ok || kw != "lethargic" {
		t.Fatalf("expected lethargic match, got %q %v", kw, ok)
	}
	if _, ok := ContainsAny("", []string{"x"}); ok {
		t.Fatalf("empty text must not match")
	}
}

func TestHasPrefixAny(t *testing.T) {
	if !HasPrefixAny("k92.1", DefaultCatalog().CodeSet(CodeSetGIBleed)) {
		t.Fatalf("expected melena code to match gi bleed set")
	}
	if HasPrefixAny("R50.9", DefaultCatalog().CodeSet(CodeSetGIBleed)) {
		t.Fatalf("fever must not match gi bleed set")
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.yaml")
	content := `concepts:
  lactate:
    display: Lactate (local)
    loinc: ["LOCAL-LAC"]
elements:
  custom_element:
    note_keywords: ["custom"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	codes, _ := cat.LabCodes(ConceptLactate)
	if len(codes) != 1 || codes[0] != "LOCAL-LAC" {
		t.Fatalf("overlay did not replace lactate codes: %v", codes)
	}
	if _, ok := cat.Element("sepsis_blood_culture"); !ok {
		t.Fatalf("default mappings must survive overlay")
	}
	if _, ok := cat.Element("custom_element"); !ok {
		t.Fatalf("overlay element missing")
	}
}
