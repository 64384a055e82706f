package datasource

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnavailable marks transport or backend failures. Callers leave the
	// element pending and retry on the next pass.
	ErrUnavailable = errors.New("clinical data source unavailable")
	ErrNotFound    = errors.New("record not found")
)

// Source supplies clinical evidence. Every method is a blocking call.
type Source interface {
	GetPatient(ctx context.Context, patientID string) (*Patient, error)
	GetPatientConditions(ctx context.Context, patientID string) ([]Condition, error)
	FindPatientsByCondition(ctx context.Context, codePrefixes []string, minAgeDays, maxAgeDays *int) ([]TriggerCandidate, error)
	FindPatientsByOrder(ctx context.Context, codePrefixes []string, minAgeDays, maxAgeDays *int) ([]TriggerCandidate, error)
	FindPatientsByLabResult(ctx context.Context, codePrefixes []string, minAgeDays, maxAgeDays *int) ([]TriggerCandidate, error)
	GetLabResults(ctx context.Context, patientID string, codes []string, since time.Time) ([]LabResult, error)
	GetVitalSigns(ctx context.Context, patientID string, since time.Time) ([]VitalSign, error)
	GetMedicationAdministrations(ctx context.Context, patientID string, since time.Time) ([]MedicationAdministration, error)
	GetRecentNotes(ctx context.Context, patientID string, since time.Time, types []string) ([]Note, error)
}

type Patient struct {
	ID        string     `yaml:"id" json:"id"`
	MRN       string     `yaml:"mrn" json:"mrn"`
	Name      string     `yaml:"name" json:"name"`
	BirthDate *time.Time `yaml:"birth_date" json:"birth_date,omitempty"`
	Gender    string     `yaml:"gender" json:"gender,omitempty"`
}

type Condition struct {
	Code           string    `yaml:"code" json:"code"`
	Display        string    `yaml:"display" json:"display"`
	ClinicalStatus string    `yaml:"clinical_status" json:"clinical_status"`
	EncounterID    string    `yaml:"encounter_id" json:"encounter_id,omitempty"`
	RecordedTime   time.Time `yaml:"recorded_time" json:"recorded_time"`
}

// Order is a service request such as a lab test order.
type Order struct {
	Code        string    `yaml:"code" json:"code"`
	Display     string    `yaml:"display" json:"display"`
	EncounterID string    `yaml:"encounter_id" json:"encounter_id,omitempty"`
	Time        time.Time `yaml:"time" json:"time"`
}

type LabResult struct {
	Code           string    `yaml:"code" json:"code"`
	Display        string    `yaml:"display" json:"display"`
	Value          *float64  `yaml:"value" json:"value,omitempty"`
	ValueText      string    `yaml:"value_text" json:"value_text,omitempty"`
	Unit           string    `yaml:"unit" json:"unit,omitempty"`
	Interpretation string    `yaml:"interpretation" json:"interpretation,omitempty"`
	EncounterID    string    `yaml:"encounter_id" json:"encounter_id,omitempty"`
	Time           time.Time `yaml:"time" json:"time"`
}

// Positive reports whether a qualitative result indicates detection.
func (l LabResult) Positive() bool {
	text := strings.ToLower(strings.TrimSpace(l.ValueText + " " + l.Interpretation))
	if text == "" {
		return false
	}
	for _, neg := range []string{"not detected", "negative", "none detected", "no growth"} {
		if strings.Contains(text, neg) {
			return false
		}
	}
	for _, pos := range []string{"positive", "detected", "growth"} {
		if strings.Contains(text, pos) {
			return true
		}
	}
	return false
}

// Display value used in element results.
func (l LabResult) DisplayValue() string {
	if l.ValueText != "" {
		return l.ValueText
	}
	if l.Value != nil {
		v := strconv.FormatFloat(*l.Value, 'f', -1, 64)
		if l.Unit != "" {
			return v + " " + l.Unit
		}
		return v
	}
	return "resulted"
}

type VitalSign struct {
	Type  string    `yaml:"type" json:"type"`
	Value float64   `yaml:"value" json:"value"`
	Unit  string    `yaml:"unit" json:"unit,omitempty"`
	Time  time.Time `yaml:"time" json:"time"`
}

type MedicationAdministration struct {
	Name   string    `yaml:"name" json:"name"`
	Route  string    `yaml:"route" json:"route,omitempty"`
	Dose   string    `yaml:"dose" json:"dose,omitempty"`
	Status string    `yaml:"status" json:"status,omitempty"`
	Time   time.Time `yaml:"time" json:"time"`
}

// Given reports whether the administration actually happened.
func (m MedicationAdministration) Given() bool {
	switch strings.ToLower(m.Status) {
	case "", "completed", "in-progress", "given":
		return true
	default:
		return false
	}
}

type Note struct {
	ID     string    `yaml:"id" json:"id"`
	Type   string    `yaml:"type" json:"type"`
	Text   string    `yaml:"text" json:"text"`
	Author string    `yaml:"author" json:"author,omitempty"`
	Time   time.Time `yaml:"time" json:"time"`
}

// TriggerCandidate is a patient whose clinical signal matched a trigger.
type TriggerCandidate struct {
	PatientID   string    `json:"patient_id"`
	EncounterID string    `json:"encounter_id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
	AgeDays     *int      `json:"age_days,omitempty"`
}

// AgeDays is whole days from birth to at, or nil without a birth date.
func AgeDays(birth *time.Time, at time.Time) *int {
	if birth == nil {
		return nil
	}
	d := int(at.Sub(*birth).Hours() / 24)
	return &d
}

// WithinAge applies optional inclusive age bounds; unknown age fails bounded checks.
func WithinAge(ageDays, minAgeDays, maxAgeDays *int) bool {
	if minAgeDays == nil && maxAgeDays == nil {
		return true
	}
	if ageDays == nil {
		return false
	}
	if minAgeDays != nil && *ageDays < *minAgeDays {
		return false
	}
	if maxAgeDays != nil && *ageDays > *maxAgeDays {
		return false
	}
	return true
}

func MatchesPrefix(code string, prefixes []string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(code, strings.ToUpper(strings.TrimSpace(p))) {
			return true
		}
	}
	return false
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(code)) {
			return true
		}
	}
	return false
}

func typeAllowed(types []string, noteType string) bool {
	if len(types) == 0 {
		return true
	}
	lower := strings.ToLower(noteType)
	for _, t := range types {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
