package datasource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// PatientRecord is everything the in-memory source knows about one patient.
type PatientRecord struct {
	Patient     `yaml:",inline"`
	Conditions  []Condition                `yaml:"conditions"`
	Orders      []Order                    `yaml:"orders"`
	Labs        []LabResult                `yaml:"labs"`
	Vitals      []VitalSign                `yaml:"vitals"`
	Medications []MedicationAdministration `yaml:"medications"`
	Notes       []Note                     `yaml:"notes"`
}

type fixture struct {
	Patients []PatientRecord `yaml:"patients"`
}

// MemorySource serves clinical data from memory. It backs tests, local runs
// and fixture replays.
type MemorySource struct {
	mu          sync.RWMutex
	patients    map[string]*PatientRecord
	order       []string
	unavailable bool
	calls       map[string]int
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		patients: make(map[string]*PatientRecord),
		calls:    make(map[string]int),
	}
}

// LoadFixture builds a MemorySource from a YAML fixture file.
func LoadFixture(path string) (*MemorySource, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(content, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	src := NewMemorySource()
	for i := range fx.Patients {
		rec := fx.Patients[i]
		if rec.ID == "" {
			return nil, fmt.Errorf("fixture patient %d has no id", i)
		}
		src.patients[rec.ID] = &rec
		src.order = append(src.order, rec.ID)
	}
	return src, nil
}

func (m *MemorySource) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(p.ID).Patient = p
}

func (m *MemorySource) AddCondition(patientID string, c Condition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(patientID)
	rec.Conditions = append(rec.Conditions, c)
}

func (m *MemorySource) AddOrder(patientID string, o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(patientID)
	rec.Orders = append(rec.Orders, o)
}

func (m *MemorySource) AddLab(patientID string, l LabResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(patientID)
	rec.Labs = append(rec.Labs, l)
}

func (m *MemorySource) AddVital(patientID string, v VitalSign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(patientID)
	rec.Vitals = append(rec.Vitals, v)
}

func (m *MemorySource) AddMedication(patientID string, med MedicationAdministration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(patientID)
	rec.Medications = append(rec.Medications, med)
}

func (m *MemorySource) AddNote(patientID string, n Note) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(patientID)
	rec.Notes = append(rec.Notes, n)
}

// SetUnavailable makes every call fail with ErrUnavailable until reset.
func (m *MemorySource) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// Calls returns how many times the named method was invoked.
func (m *MemorySource) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

func (m *MemorySource) record(patientID string) *PatientRecord {
	rec, ok := m.patients[patientID]
	if !ok {
		rec = &PatientRecord{Patient: Patient{ID: patientID}}
		m.patients[patientID] = rec
		m.order = append(m.order, patientID)
	}
	return rec
}

// enter counts the call and reports unavailability. Caller must not hold mu.
func (m *MemorySource) enter(ctx context.Context, method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", method, ErrUnavailable, err)
	}
	if m.unavailable {
		return fmt.Errorf("%s: %w", method, ErrUnavailable)
	}
	return nil
}

func (m *MemorySource) GetPatient(ctx context.Context, patientID string) (*Patient, error) {
	if err := m.enter(ctx, "GetPatient"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.patients[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}
	p := rec.Patient
	return &p, nil
}

func (m *MemorySource) GetPatientConditions(ctx context.Context, patientID string) ([]Condition, error) {
	if err := m.enter(ctx, "GetPatientConditions"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.patients[patientID]
	if !ok {
		return nil, nil
	}
	out := append([]Condition(nil), rec.Conditions...)
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedTime.Before(out[j].RecordedTime) })
	return out, nil
}

func (m *MemorySource) FindPatientsByCondition(ctx context.Context, codePrefixes []string, minAgeDays, maxAgeDays *int) ([]TriggerCandidate, error) {
	if err := m.enter(ctx, "FindPatientsByCondition"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TriggerCandidate
	for _, id := range m.order {
		rec := m.patients[id]
		for _, c := range rec.Conditions {
			status := strings.ToLower(c.ClinicalStatus)
			if status != "" && status != "active" {
				continue
			}
			if !MatchesPrefix(c.Code, codePrefixes) {
				continue
			}
			age := AgeDays(rec.BirthDate, c.RecordedTime)
			if !WithinAge(age, minAgeDays, maxAgeDays) {
				continue
			}
			out = append(out, TriggerCandidate{
				PatientID:   id,
				EncounterID: c.EncounterID,
				Code:        c.Code,
				Description: c.Display,
				Time:        c.RecordedTime,
				AgeDays:     age,
			})
		}
	}
	return out, nil
}

func (m *MemorySource) FindPatientsByOrder(ctx context.Context, codePrefixes []string, minAgeDays, maxAgeDays *int) ([]TriggerCandidate, error) {
	if err := m.enter(ctx, "FindPatientsByOrder"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TriggerCandidate
	for _, id := range m.order {
		rec := m.patients[id]
		for _, o := range rec.Orders {
			if !MatchesPrefix(o.Code, codePrefixes) {
				continue
			}
			age := AgeDays(rec.BirthDate, o.Time)
			if !WithinAge(age, minAgeDays, maxAgeDays) {
				continue
			}
			out = append(out, TriggerCandidate{
				PatientID:   id,
				EncounterID: o.EncounterID,
				Code:        o.Code,
				Description: o.Display,
				Time:        o.Time,
				AgeDays:     age,
			})
		}
	}
	return out, nil
}

func (m *MemorySource) FindPatientsByLabResult(ctx context.Context, codePrefixes []string, minAgeDays, maxAgeDays *int) ([]TriggerCandidate, error) {
	if err := m.enter(ctx, "FindPatientsByLabResult"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TriggerCandidate
	for _, id := range m.order {
		rec := m.patients[id]
		for _, l := range rec.Labs {
			if !MatchesPrefix(l.Code, codePrefixes) {
				continue
			}
			age := AgeDays(rec.BirthDate, l.Time)
			if !WithinAge(age, minAgeDays, maxAgeDays) {
				continue
			}
			out = append(out, TriggerCandidate{
				PatientID:   id,
				EncounterID: l.EncounterID,
				Code:        l.Code,
				Description: l.Display,
				Time:        l.Time,
				AgeDays:     age,
			})
		}
	}
	return out, nil
}

func (m *MemorySource) GetLabResults(ctx context.Context, patientID string, codes []string, since time.Time) ([]LabResult, error) {
	if err := m.enter(ctx, "GetLabResults"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.patients[patientID]
	if !ok {
		return nil, nil
	}
	var out []LabResult
	for _, l := range rec.Labs {
		if l.Time.Before(since) {
			continue
		}
		if len(codes) > 0 && !containsCode(codes, l.Code) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *MemorySource) GetVitalSigns(ctx context.Context, patientID string, since time.Time) ([]VitalSign, error) {
	if err := m.enter(ctx, "GetVitalSigns"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.patients[patientID]
	if !ok {
		return nil, nil
	}
	var out []VitalSign
	for _, v := range rec.Vitals {
		if !v.Time.Before(since) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *MemorySource) GetMedicationAdministrations(ctx context.Context, patientID string, since time.Time) ([]MedicationAdministration, error) {
	if err := m.enter(ctx, "GetMedicationAdministrations"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.patients[patientID]
	if !ok {
		return nil, nil
	}
	var out []MedicationAdministration
	for _, med := range rec.Medications {
		if !med.Time.Before(since) {
			out = append(out, med)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *MemorySource) GetRecentNotes(ctx context.Context, patientID string, since time.Time, types []string) ([]Note, error) {
	if err := m.enter(ctx, "GetRecentNotes"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.patients[patientID]
	if !ok {
		return nil, nil
	}
	var out []Note
	for _, n := range rec.Notes {
		if n.Time.Before(since) || !typeAllowed(types, n.Type) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
