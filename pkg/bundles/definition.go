package bundles

import (
	"strings"
	"time"
)

// CheckerKind names the checker implementation that evaluates an element.
// The set is closed; anything else fails validation at startup.
type CheckerKind string

const (
	KindLab           CheckerKind = "lab"
	KindMedication    CheckerKind = "medication"
	KindNote          CheckerKind = "note"
	KindFebrileInfant CheckerKind = "febrile_infant"
	KindNeonatalHSV   CheckerKind = "neonatal_hsv"
	KindCDiffTesting  CheckerKind = "cdiff_testing"
)

func Kinds() []CheckerKind {
	return []CheckerKind{KindLab, KindMedication, KindNote, KindFebrileInfant, KindNeonatalHSV, KindCDiffTesting}
}

func (k CheckerKind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

type TriggerKind string

const (
	TriggerDiagnosis TriggerKind = "diagnosis"
	TriggerOrder     TriggerKind = "order"
	TriggerLab       TriggerKind = "lab"
)

func (k TriggerKind) Valid() bool {
	return k == TriggerDiagnosis || k == TriggerOrder || k == TriggerLab
}

type Element struct {
	ID             string      `yaml:"id" json:"id"`
	Name           string      `yaml:"name" json:"name"`
	Description    string      `yaml:"description" json:"description"`
	Required       bool        `yaml:"required" json:"required"`
	WindowHours    *float64    `yaml:"window_hours,omitempty" json:"window_hours,omitempty"`
	EvidenceSource string      `yaml:"evidence_source" json:"evidence_source"`
	Checker        CheckerKind `yaml:"checker" json:"checker"`
}

// Deadline returns trigger + window, or nil when the element has no window.
func (e Element) Deadline(trigger time.Time) *time.Time {
	if e.WindowHours == nil {
		return nil
	}
	deadline := trigger.Add(time.Duration(*e.WindowHours * float64(time.Hour)))
	return &deadline
}

type TriggerCriteria struct {
	Kind         TriggerKind `yaml:"kind" json:"kind"`
	CodePrefixes []string    `yaml:"code_prefixes" json:"code_prefixes"`
	Description  string      `yaml:"description,omitempty" json:"description,omitempty"`
	MinAgeDays   *int        `yaml:"min_age_days,omitempty" json:"min_age_days,omitempty"`
	MaxAgeDays   *int        `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty"`
}

// MatchesCode reports whether code starts with one of the criteria prefixes.
func (t TriggerCriteria) MatchesCode(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	for _, prefix := range t.CodePrefixes {
		if strings.HasPrefix(code, strings.ToUpper(strings.TrimSpace(prefix))) {
			return true
		}
	}
	return false
}

// MatchesAge checks the optional age bounds. An unknown age never satisfies
// a bounded criterion.
func (t TriggerCriteria) MatchesAge(ageDays *int) bool {
	if t.MinAgeDays == nil && t.MaxAgeDays == nil {
		return true
	}
	if ageDays == nil {
		return false
	}
	if t.MinAgeDays != nil && *ageDays < *t.MinAgeDays {
		return false
	}
	if t.MaxAgeDays != nil && *ageDays > *t.MaxAgeDays {
		return false
	}
	return true
}

type Definition struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Version     string            `yaml:"version" json:"version"`
	Description string            `yaml:"description" json:"description"`
	Elements    []Element         `yaml:"elements" json:"elements"`
	Triggers    []TriggerCriteria `yaml:"triggers" json:"triggers"`
	References  []string          `yaml:"references,omitempty" json:"references,omitempty"`
	Enabled     *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

func (d Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

func (d Definition) Element(id string) (Element, bool) {
	for _, el := range d.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return Element{}, false
}

// PatientSignals are the current clinical signals a bundle trigger is matched against.
type PatientSignals struct {
	AgeDays        *int
	DiagnosisCodes []string
	OrderCodes     []string
	LabCodes       []string
}

func (s PatientSignals) codes(kind TriggerKind) []string {
	switch kind {
	case TriggerDiagnosis:
		return s.DiagnosisCodes
	case TriggerOrder:
		return s.OrderCodes
	case TriggerLab:
		return s.LabCodes
	default:
		return nil
	}
}

func hours(h float64) *float64 {
	return &h
}

func days(d int) *int {
	return &d
}
